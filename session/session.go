// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package session runs the compositor's coordination loop. One goroutine
// owns the surface registry, the frontend attachment and the snapshot
// state; everything else talks to it through channels. The loop applies
// geometry as commands arrive, flushes the render pipeline once per tick
// and drains lifecycle events to the attached frontend in order.
package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ezemtsov/ewm-sub001/frontend"
	"github.com/ezemtsov/ewm-sub001/snapshot"
	"github.com/ezemtsov/ewm-sub001/surface"
)

// Gap between cells when the session arranges surfaces itself.
const fallbackGap = 8

const defaultTickRate = 60

type input struct {
	from   Endpoint
	line   string
	hangup bool
}

type addReq struct {
	reply chan uint32
}

type snapResult struct {
	path string
	err  error
}

type statusReq struct {
	reply chan Status
}

// Status is a point-in-time view of the session for inspection.
type Status struct {
	Attached     bool
	Conn         uint64
	Started      time.Time
	Surfaces     []surface.Surface
	QueuedEvents int
	SnapshotBusy bool
}

// Session coordinates surfaces, frontend and render pipeline. All fields
// below the channel block belong to the loop goroutine.
type Session struct {
	pipeline RenderPipeline
	server   *frontend.Server
	shots    *snapshot.Writer
	tickSpan time.Duration
	started  time.Time

	adds       chan addReq
	mappedCh   chan uint32
	closedCh   chan uint32
	inputs     chan input
	snapRes    chan snapResult
	statusReqs chan statusReq
	done       chan struct{}

	registry     *surface.Registry
	attached     Endpoint
	announced    map[uint32]bool
	events       []string
	orderChanged bool
	snapArmed    bool
	snapInFlight bool
}

// New assembles a session. srv may be nil for a compositor running
// without a socket. tickRate is in ticks per second, values below 1 fall
// back to the default.
func New(pipeline RenderPipeline, srv *frontend.Server, shots *snapshot.Writer, tickRate int) *Session {
	if tickRate < 1 {
		tickRate = defaultTickRate
	}
	return &Session{
		pipeline:   pipeline,
		server:     srv,
		shots:      shots,
		tickSpan:   time.Second / time.Duration(tickRate),
		started:    time.Now(),
		adds:       make(chan addReq),
		mappedCh:   make(chan uint32),
		closedCh:   make(chan uint32),
		inputs:     make(chan input),
		snapRes:    make(chan snapResult, 1),
		statusReqs: make(chan statusReq),
		done:       make(chan struct{}),
		registry:   surface.NewRegistry(),
	}
}

// Run owns the loop until ctx is cancelled. Every Post method blocks
// until Run picks the request up, so start Run before the backend can
// deliver its first surface.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	var socket <-chan frontend.Inbound
	if s.server != nil {
		socket = s.server.Inbound()
	}
	ticker := time.NewTicker(s.tickSpan)
	defer ticker.Stop()

	logrus.WithField("tick", s.tickSpan).Infoln("Session loop running")
	for {
		select {
		case <-ctx.Done():
			logrus.Infoln("Session loop shutting down")
			return
		case req := <-s.adds:
			req.reply <- s.addSurface()
		case id := <-s.mappedCh:
			s.surfaceMapped(id)
		case id := <-s.closedCh:
			s.surfaceClosed(id)
		case in := <-s.inputs:
			s.handleInput(in)
		case raw := <-socket:
			s.handleInput(input{from: raw.Conn, line: raw.Line, hangup: raw.Hangup})
		case res := <-s.snapRes:
			s.finishSnapshot(res)
		case req := <-s.statusReqs:
			req.reply <- s.status()
		case <-ticker.C:
			s.tick()
		}
	}
}

// PostSurfaceAdded registers a new surface and returns its id. Called by
// the backend when a client attaches a surface. Returns 0 when the loop
// is already gone, no valid surface ever has id 0.
func (s *Session) PostSurfaceAdded() uint32 {
	req := addReq{reply: make(chan uint32, 1)}
	select {
	case s.adds <- req:
	case <-s.done:
		return 0
	}
	select {
	case id := <-req.reply:
		return id
	case <-s.done:
		return 0
	}
}

// PostSurfaceMapped reports the surface's first commit.
func (s *Session) PostSurfaceMapped(id uint32) {
	select {
	case s.mappedCh <- id:
	case <-s.done:
	}
}

// PostSurfaceClosed reports the surface going away.
func (s *Session) PostSurfaceClosed(id uint32) {
	select {
	case s.closedCh <- id:
	case <-s.done:
	}
}

// PostLine injects one protocol frame as if from came over the socket.
// The debug console uses this.
func (s *Session) PostLine(from Endpoint, line string) {
	select {
	case s.inputs <- input{from: from, line: line}:
	case <-s.done:
	}
}

// PostHangup reports from as gone, releasing its attachment if it held
// one.
func (s *Session) PostHangup(from Endpoint) {
	select {
	case s.inputs <- input{from: from, hangup: true}:
	case <-s.done:
	}
}

// PostStatus fetches a state snapshot from the loop.
func (s *Session) PostStatus() Status {
	req := statusReq{reply: make(chan Status, 1)}
	select {
	case s.statusReqs <- req:
	case <-s.done:
		return Status{}
	}
	select {
	case st := <-req.reply:
		return st
	case <-s.done:
		return Status{}
	}
}

func (s *Session) status() Status {
	st := Status{
		Attached:     s.attached != nil,
		Started:      s.started,
		Surfaces:     s.registry.View(),
		QueuedEvents: len(s.events),
		SnapshotBusy: s.snapArmed || s.snapInFlight,
	}
	if s.attached != nil {
		st.Conn = s.attached.ID()
	}
	return st
}
