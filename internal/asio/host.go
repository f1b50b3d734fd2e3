/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package asio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_audioengine/internal/asio/asioproto"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

// HostConfig tunes the fixed constants the sidecar protocol calls out by name.
type HostConfig struct {
	SelectionSalt        string
	OpenSettleDelay      time.Duration
	DeviceLookupAttempts int
	DeviceLookupInterval time.Duration
}

// Host serves one client connection's worth of the sidecar protocol: handshake,
// enumeration, capability queries and exactly one open stream at a time.
type Host struct {
	backend DeviceBackend
	cfg     HostConfig
	logger  zerolog.Logger

	catalog        map[string]Device
	lastLiveIDs    map[string]bool
	activeDeviceID string
	stream         Stream
}

func NewHost(backend DeviceBackend, cfg HostConfig, logger zerolog.Logger) *Host {
	return &Host{
		backend:     backend,
		cfg:         cfg,
		logger:      logger.With().Str("component", "asio_host").Logger(),
		catalog:     make(map[string]Device),
		lastLiveIDs: make(map[string]bool),
	}
}

// Serve reads framed requests from rw and writes framed responses until rw returns
// io.EOF or a read/write error. The first frame must be Hello; any other first message
// gets an Err reply and Serve returns, and a first frame that fails to decode ends
// Serve without a reply.
func (h *Host) Serve(ctx context.Context, rw io.ReadWriter) error {
	first, err := asioproto.ReadFrame(rw)
	if err != nil {
		return err
	}
	msg, err := asioproto.Unmarshal(first)
	if err != nil {
		return err
	}
	hello, ok := msg.(asioproto.Hello)
	if !ok {
		return asioproto.WriteFrame(rw, asioproto.Marshal(asioproto.Err{Message: "expected Hello"}))
	}
	if hello.Version != asioproto.ProtocolVersion {
		_ = asioproto.WriteFrame(rw, asioproto.Marshal(asioproto.Err{Message: fmt.Sprintf("protocol version mismatch: host=%d client=%d", asioproto.ProtocolVersion, hello.Version)}))
		return fmt.Errorf("asio: protocol version mismatch")
	}
	if err := asioproto.WriteFrame(rw, asioproto.Marshal(asioproto.HelloOk{Version: asioproto.ProtocolVersion})); err != nil {
		return err
	}

	for {
		payload, err := asioproto.ReadFrame(rw)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		req, err := asioproto.Unmarshal(payload)
		if err != nil {
			_ = asioproto.WriteFrame(rw, asioproto.Marshal(asioproto.Err{Message: err.Error()}))
			continue
		}
		resp := h.handle(ctx, req)
		if err := asioproto.WriteFrame(rw, asioproto.Marshal(resp)); err != nil {
			return err
		}
		if _, isClose := req.(asioproto.Close); isClose {
			return nil
		}
	}
}

func (h *Host) handle(ctx context.Context, req asioproto.Message) asioproto.Message {
	switch r := req.(type) {
	case asioproto.ListDevices:
		return h.listDevices(ctx)
	case asioproto.GetDeviceCaps:
		return h.getDeviceCaps(ctx, r)
	case asioproto.Open:
		return h.open(ctx, r)
	case asioproto.Start:
		return h.start()
	case asioproto.Stop:
		return h.stop()
	case asioproto.Reset:
		return h.reset()
	case asioproto.Close:
		return h.closeStream()
	case asioproto.WriteSamples:
		return h.write(r)
	case asioproto.QueryStatus:
		return h.status()
	default:
		return asioproto.Err{Message: "unexpected message for current state"}
	}
}

func (h *Host) snapshotEntry(d Device) asioproto.DeviceInfo {
	return asioproto.DeviceInfo{
		SessionID:         selectionSessionID(h.cfg.SelectionSalt, d.ID, d.Name),
		DeviceID:          d.ID,
		Name:              d.Name,
		MaxOutputChannels: d.MaxOutputChannels,
		DefaultSampleRate: d.DefaultSampleRate,
	}
}

// listDevices implements the enumeration policy: live when idle, catalog-filtered to
// the last live snapshot plus the active device while a stream is open, so the UI
// never shows a registry-only driver it can't actually reuse mid-stream.
func (h *Host) listDevices(ctx context.Context) asioproto.Message {
	live, err := h.backend.ListDevices(ctx)
	if err != nil {
		return asioproto.Err{Message: err.Error()}
	}

	if h.stream == nil {
		h.lastLiveIDs = make(map[string]bool, len(live))
		for _, d := range live {
			h.catalog[d.ID] = d
			h.lastLiveIDs[d.ID] = true
		}
		return h.buildDevices(live)
	}

	for _, d := range live {
		h.catalog[d.ID] = d
	}
	var filtered []Device
	for id, d := range h.catalog {
		if h.lastLiveIDs[id] || id == h.activeDeviceID {
			filtered = append(filtered, d)
		}
	}
	return h.buildDevices(filtered)
}

func (h *Host) buildDevices(devices []Device) asioproto.Devices {
	out := make([]asioproto.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, h.snapshotEntry(d))
	}
	return asioproto.Devices{List: out}
}

// lookup resolves a device id against the catalog, retrying live enumeration a fixed
// number of times with a fixed interval when the id isn't immediately known — a
// plugin config or UI selection can race the host's own enumeration cache.
func (h *Host) lookup(ctx context.Context, deviceID string) (Device, bool) {
	if d, ok := h.catalog[deviceID]; ok {
		return d, true
	}
	attempts := h.cfg.DeviceLookupAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		live, err := h.backend.ListDevices(ctx)
		if err == nil {
			for _, d := range live {
				h.catalog[d.ID] = d
			}
			if d, ok := h.catalog[deviceID]; ok {
				return d, true
			}
		}
		if i < attempts-1 {
			time.Sleep(h.cfg.DeviceLookupInterval)
		}
	}
	return Device{}, false
}

func (h *Host) checkSelection(deviceID string, sessionID uint64) (Device, asioproto.Message) {
	d, ok := h.lookup(context.Background(), deviceID)
	if !ok {
		return Device{}, asioproto.Err{Message: fmt.Sprintf("device %q not found", deviceID)}
	}
	if selectionSessionID(h.cfg.SelectionSalt, d.ID, d.Name) != sessionID {
		return Device{}, asioproto.Err{Message: "stale selection: device list has changed since enumeration"}
	}
	return d, nil
}

func (h *Host) getDeviceCaps(ctx context.Context, req asioproto.GetDeviceCaps) asioproto.Message {
	d, errMsg := h.checkSelection(req.DeviceID, req.SelectionSessionID)
	if errMsg != nil {
		return errMsg
	}
	caps, err := h.backend.Caps(ctx, d.ID)
	if err != nil {
		// A capability query racing a concurrent teardown gets one retry after the
		// conflicting stream is gone.
		if h.stream != nil {
			h.dropStream()
			caps, err = h.backend.Caps(ctx, d.ID)
		}
		if err != nil {
			return asioproto.Err{Message: err.Error()}
		}
	}
	return caps
}

func (h *Host) open(ctx context.Context, req asioproto.Open) asioproto.Message {
	h.dropStream()
	time.Sleep(h.cfg.OpenSettleDelay)

	d, errMsg := h.checkSelection(req.DeviceID, req.SelectionSessionID)
	if errMsg != nil {
		return errMsg
	}

	spec := audiocore.StreamSpec{SampleRate: req.SampleRate, Channels: req.Channels}
	if !spec.Valid() {
		return asioproto.Err{Message: "invalid stream spec"}
	}

	queueCapacityFrames := msToFrames(req.QueueCapacityMS, req.SampleRate)
	stream, err := h.backend.Open(ctx, d.ID, spec, req.BufferSizeFrames, queueCapacityFrames)
	if err != nil {
		return asioproto.Err{Message: err.Error()}
	}
	h.stream = stream
	h.activeDeviceID = d.ID
	return asioproto.Ok{}
}

func (h *Host) dropStream() {
	if h.stream == nil {
		return
	}
	if err := h.stream.Close(); err != nil {
		h.logger.Warn().Err(err).Msg("error closing previous asio stream")
	}
	h.stream = nil
	h.activeDeviceID = ""
}

func (h *Host) start() asioproto.Message {
	if h.stream == nil {
		return asioproto.Err{Message: "not prepared: no open stream"}
	}
	if err := h.stream.Start(); err != nil {
		return asioproto.Err{Message: err.Error()}
	}
	return asioproto.Ok{}
}

func (h *Host) stop() asioproto.Message {
	if h.stream == nil {
		return asioproto.Err{Message: "not prepared: no open stream"}
	}
	if err := h.stream.Stop(); err != nil {
		return asioproto.Err{Message: err.Error()}
	}
	return asioproto.Ok{}
}

// reset clears queued samples but keeps the stream open, unlike stop/close.
func (h *Host) reset() asioproto.Message {
	if h.stream == nil {
		return asioproto.Err{Message: "not prepared: no open stream"}
	}
	if err := h.stream.Reset(); err != nil {
		return asioproto.Err{Message: err.Error()}
	}
	return asioproto.Ok{}
}

func (h *Host) closeStream() asioproto.Message {
	h.dropStream()
	return asioproto.Ok{}
}

func (h *Host) write(req asioproto.WriteSamples) asioproto.Message {
	if h.stream == nil {
		return asioproto.Err{Message: "not prepared: no open stream"}
	}
	frames, err := h.stream.Write(req.Interleaved)
	if err != nil {
		return asioproto.Err{Message: err.Error()}
	}
	return asioproto.WrittenFrames{Frames: frames}
}

func (h *Host) status() asioproto.Message {
	if h.stream == nil {
		return asioproto.Status{QueuedSamples: 0, Running: false}
	}
	queued, running := h.stream.Status()
	return asioproto.Status{QueuedSamples: queued, Running: running}
}

func msToFrames(ms, sampleRate uint32) uint32 {
	if ms == 0 || sampleRate == 0 {
		return 0
	}
	return uint32(uint64(ms) * uint64(sampleRate) / 1000)
}
