// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package surface keeps the authoritative record of every client surface
// the compositor currently knows about. The registry is owned by the main
// event loop and must only be touched from there, which is what lets it
// get away with no locking at all.
package surface

import (
	"errors"

	"gitlab.com/mstarongitlab/goutils/sliceutils"

	"github.com/ezemtsov/ewm-sub001/geom"
)

type State int

const (
	// StateAdded covers the window between a surface attaching and its
	// first commit. The surface has an id but no content yet.
	StateAdded = State(iota)
	// StateMapped means the surface has content and takes part in layout.
	StateMapped
	// StateClosed is terminal. The record stays behind as a tombstone so
	// commands naming the id can be told apart from commands naming an id
	// that never existed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAdded:
		return "added"
	case StateMapped:
		return "mapped"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Surface is one registry record. Rect is the last geometry assigned to
// it, zero until the first assignment.
type Surface struct {
	ID    uint32
	State State
	Rect  geom.Rect

	dirty bool
}

var (
	ErrUnknownSurface = errors.New("unknown surface")
	ErrClosedSurface  = errors.New("surface already closed")
)

// Registry hands out surface ids and tracks state and geometry. Ids start
// at 1 and are never reused within a session.
type Registry struct {
	surfaces map[uint32]*Surface
	// Insertion order doubles as ascending id order since ids only grow.
	order  []uint32
	nextID uint32
}

func NewRegistry() *Registry {
	return &Registry{
		surfaces: map[uint32]*Surface{},
		nextID:   1,
	}
}

// Register creates a record in StateAdded and returns its id.
func (r *Registry) Register() uint32 {
	id := r.nextID
	r.nextID++
	r.surfaces[id] = &Surface{ID: id}
	r.order = append(r.order, id)
	return id
}

// MarkMapped moves a surface to StateMapped. The returned bool is true
// only on the first transition, so callers can announce the surface
// exactly once no matter how often the client remaps.
func (r *Registry) MarkMapped(id uint32) (bool, error) {
	s, ok := r.surfaces[id]
	if !ok {
		return false, ErrUnknownSurface
	}
	switch s.State {
	case StateClosed:
		return false, ErrClosedSurface
	case StateMapped:
		return false, nil
	}
	s.State = StateMapped
	return true, nil
}

// ApplyGeometry stores rect as the surface's geometry and marks it dirty
// for the next tick. Later calls within the same tick simply overwrite
// the rect, which is how several layout commands collapse into a single
// configure.
func (r *Registry) ApplyGeometry(id uint32, rect geom.Rect) error {
	s, ok := r.surfaces[id]
	if !ok {
		return ErrUnknownSurface
	}
	if s.State == StateClosed {
		return ErrClosedSurface
	}
	s.Rect = rect
	s.dirty = true
	return nil
}

// Close moves a surface to its terminal state. The returned bool is true
// only on the first transition. Closing clears the dirty flag so a
// pending geometry change cannot resurface as a configure for a dead
// surface.
func (r *Registry) Close(id uint32) (bool, error) {
	s, ok := r.surfaces[id]
	if !ok {
		return false, ErrUnknownSurface
	}
	if s.State == StateClosed {
		return false, nil
	}
	s.State = StateClosed
	s.dirty = false
	return true, nil
}

// Get returns a copy of one record.
func (r *Registry) Get(id uint32) (Surface, bool) {
	s, ok := r.surfaces[id]
	if !ok {
		return Surface{}, false
	}
	return *s, true
}

// View returns copies of all live records in ascending id order.
// Tombstones are skipped.
func (r *Registry) View() []Surface {
	out := make([]Surface, 0, len(r.order))
	for _, id := range r.order {
		s := r.surfaces[id]
		if s.State == StateClosed {
			continue
		}
		out = append(out, *s)
	}
	return out
}

// Mapped returns copies of all mapped records in ascending id order.
func (r *Registry) Mapped() []Surface {
	return sliceutils.Filter(r.View(), func(s Surface) bool {
		return s.State == StateMapped
	})
}

// DrawOrder returns the ids of mapped surfaces that should take part in
// presentation, ascending. Surfaces whose assigned rect has no area are
// left out while remaining alive and addressable.
func (r *Registry) DrawOrder() []uint32 {
	visible := sliceutils.Filter(r.View(), func(s Surface) bool {
		return s.State == StateMapped && !s.Rect.Zero()
	})
	ids := make([]uint32, len(visible))
	for i, s := range visible {
		ids[i] = s.ID
	}
	return ids
}

// TakeDirty returns copies of all mapped records with pending geometry,
// ascending by id, and clears their dirty flags. Each tick calls this once
// and issues one configure per returned record. Geometry assigned before
// the first map stays pending and comes out on the tick after the surface
// maps.
func (r *Registry) TakeDirty() []Surface {
	var out []Surface
	for _, id := range r.order {
		s := r.surfaces[id]
		if !s.dirty || s.State != StateMapped {
			continue
		}
		s.dirty = false
		out = append(out, *s)
	}
	return out
}
