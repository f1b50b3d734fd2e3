/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package asio

import (
	"context"
	"fmt"
	"sync"

	"github.com/friendsincode/grimnir_audioengine/internal/asio/asioproto"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

// MemoryBackend is a DeviceBackend over a fixed catalog of virtual devices, with a
// queueing Stream that actually accepts and drops samples like a real driver would.
// It is what a host process runs on a platform with no native ASIO binding, and what
// tests use to exercise the wire protocol without real hardware.
type MemoryBackend struct {
	Catalog []Device
}

func (b *MemoryBackend) ListDevices(ctx context.Context) ([]Device, error) {
	return b.Catalog, nil
}

func (b *MemoryBackend) Caps(ctx context.Context, deviceID string) (asioproto.DeviceCaps, error) {
	for _, d := range b.Catalog {
		if d.ID == deviceID {
			return asioproto.DeviceCaps{
				MinChannels:     1,
				MaxChannels:     d.MaxOutputChannels,
				SupportedRates:  []uint32{44100, 48000, 96000},
				MinBufferFrames: 64,
				MaxBufferFrames: 8192,
			}, nil
		}
	}
	return asioproto.DeviceCaps{}, fmt.Errorf("device %q not found", deviceID)
}

func (b *MemoryBackend) Open(ctx context.Context, deviceID string, spec audiocore.StreamSpec, bufferFrames, queueCapacityFrames uint32) (Stream, error) {
	for _, d := range b.Catalog {
		if d.ID == deviceID {
			if queueCapacityFrames == 0 {
				queueCapacityFrames = 4096
			}
			return &memoryStream{capacityFrames: int(queueCapacityFrames), channels: int(spec.Channels)}, nil
		}
	}
	return nil, fmt.Errorf("device %q not found", deviceID)
}

// memoryStream is a fixed-capacity FIFO of interleaved frames, standing in for a real
// driver ring buffer: Write drops what doesn't fit, Status reports what's queued.
type memoryStream struct {
	mu             sync.Mutex
	capacityFrames int
	channels       int
	queued         []float32 // interleaved
	running        bool
}

func (s *memoryStream) Write(samples []float32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels == 0 {
		return 0, fmt.Errorf("stream not open")
	}
	frameCap := s.capacityFrames * s.channels
	room := frameCap - len(s.queued)
	if room <= 0 {
		return 0, nil
	}
	n := len(samples)
	if n > room {
		n = room - (room % s.channels)
	}
	s.queued = append(s.queued, samples[:n]...)
	return uint32(n / s.channels), nil
}

func (s *memoryStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}

func (s *memoryStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *memoryStream) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = s.queued[:0]
	return nil
}

func (s *memoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.queued = nil
	return nil
}

func (s *memoryStream) Status() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels == 0 {
		return 0, s.running
	}
	return uint32(len(s.queued) / s.channels), s.running
}
