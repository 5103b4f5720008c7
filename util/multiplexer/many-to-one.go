// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package multiplexer

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("multiplexer has been closed")

// A many to one multiplexer
// Yes, a channel already is one, but raw channels explode when a sender
// races the close. This wraps the channel with a done signal so senders
// get an error back instead of a panic once the consumer is gone.
type ManyToOne[T any] struct {
	outbound chan T
	done     chan struct{}
	once     sync.Once
}

// NewManyToOne creates a new ManyToOne multiplexer
// The given channel will be where all messages will be sent to
func NewManyToOne[T any](receiver chan T) *ManyToOne[T] {
	return &ManyToOne[T]{
		outbound: receiver,
		done:     make(chan struct{}),
	}
}

// Send a message to this many to one plexer
// Blocks until the consumer takes it. If the plexer is closed before or
// during the send, the message is dropped and ErrClosed comes back.
func (m *ManyToOne[T]) Send(msg T) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.outbound <- msg:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// Close marks the plexer as closed and releases all blocked senders.
// The receiver channel itself stays open, consumers stop via Done.
func (m *ManyToOne[T]) Close() {
	m.once.Do(func() { close(m.done) })
}

// Done reports closure to consumers that select on it.
func (m *ManyToOne[T]) Done() <-chan struct{} {
	return m.done
}
