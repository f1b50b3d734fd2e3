/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package decodeworker runs the per-player decode loop: a command mailbox, the
// playback state machine, sink-recovery backoff, and the fixed priority order the
// main loop drains commands and steps the pipeline in.
package decodeworker

import "github.com/friendsincode/grimnir_audioengine/internal/audiocore"

// EventKind discriminates the events the worker emits toward the control actor.
type EventKind int

const (
	EventPosition EventKind = iota
	EventTrackChanged
	EventStopped
	EventEOF
	EventError
	EventStateChanged
)

// Event is one notification the worker publishes. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind       EventKind
	PositionMS int64
	Track      audiocore.InputRef
	State      audiocore.PlayerState
	Message    string
}

// EventSink receives worker events. Publish must never block the decode loop; an
// implementation backed by a bounded channel should drop rather than stall.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }
