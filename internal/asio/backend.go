/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package asio

import (
	"context"

	"github.com/friendsincode/grimnir_audioengine/internal/asio/asioproto"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

// Device is one physical output device as the host's backend reports it, before a
// selection session id has been attached.
type Device struct {
	ID                string
	Name              string
	MaxOutputChannels uint16
	DefaultSampleRate uint32
}

// Stream is a single opened device session. All methods are called with the host's
// single-stream-at-a-time discipline already enforced by Host — a Stream never needs
// to guard against concurrent Write/Start/Stop calls from more than one goroutine.
type Stream interface {
	Write(samples []float32) (framesAccepted uint32, err error)
	Start() error
	Stop() error
	Reset() error
	Close() error
	Status() (queuedSamples uint32, running bool)
}

// DeviceBackend is the host's abstraction over whatever actually talks to audio
// hardware. Production builds wire a platform-specific backend; tests and non-ASIO
// platforms use the in-memory backend in memory_backend.go.
type DeviceBackend interface {
	ListDevices(ctx context.Context) ([]Device, error)
	Caps(ctx context.Context, deviceID string) (asioproto.DeviceCaps, error)
	Open(ctx context.Context, deviceID string, spec audiocore.StreamSpec, bufferFrames, queueCapacityFrames uint32) (Stream, error)
}
