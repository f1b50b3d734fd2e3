/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package asio

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_audioengine/internal/asio/asioproto"
)

func startTestHost(t *testing.T, backend DeviceBackend) (net.Conn, func()) {
	t.Helper()
	clientConn, hostConn := net.Pipe()
	cfg := HostConfig{
		SelectionSalt:        "test-salt",
		OpenSettleDelay:      time.Millisecond,
		DeviceLookupAttempts: 2,
		DeviceLookupInterval: time.Millisecond,
	}
	host := NewHost(backend, cfg, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		_ = host.Serve(context.Background(), hostConn)
		close(done)
	}()
	return clientConn, func() {
		clientConn.Close()
		<-done
	}
}

func call(t *testing.T, conn net.Conn, req asioproto.Message) asioproto.Message {
	t.Helper()
	if err := asioproto.WriteFrame(conn, asioproto.Marshal(req)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	payload, err := asioproto.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	resp, err := asioproto.Unmarshal(payload)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

func handshake(t *testing.T, conn net.Conn) {
	t.Helper()
	resp := call(t, conn, asioproto.Hello{Version: asioproto.ProtocolVersion})
	if _, ok := resp.(asioproto.HelloOk); !ok {
		t.Fatalf("expected HelloOk, got %+v", resp)
	}
}

func testBackend() *MemoryBackend {
	return &MemoryBackend{Catalog: []Device{
		{ID: "dev-1", Name: "Built-in Output", MaxOutputChannels: 2, DefaultSampleRate: 48000},
		{ID: "dev-2", Name: "USB Interface", MaxOutputChannels: 8, DefaultSampleRate: 96000},
	}}
}

func TestHostHandshake(t *testing.T) {
	conn, cleanup := startTestHost(t, testBackend())
	defer cleanup()
	handshake(t, conn)
}

func TestHostListDevicesAndOpen(t *testing.T) {
	conn, cleanup := startTestHost(t, testBackend())
	defer cleanup()
	handshake(t, conn)

	resp := call(t, conn, asioproto.ListDevices{})
	devices, ok := resp.(asioproto.Devices)
	if !ok || len(devices.List) != 2 {
		t.Fatalf("expected 2 devices, got %+v", resp)
	}

	var dev1 asioproto.DeviceInfo
	for _, d := range devices.List {
		if d.DeviceID == "dev-1" {
			dev1 = d
		}
	}
	if dev1.DeviceID == "" {
		t.Fatal("dev-1 not found in enumeration")
	}

	resp = call(t, conn, asioproto.Open{
		SelectionSessionID: dev1.SessionID,
		DeviceID:           dev1.DeviceID,
		SampleRate:         48000,
		Channels:           2,
		QueueCapacityMS:    200,
	})
	if _, ok := resp.(asioproto.Ok); !ok {
		t.Fatalf("expected Ok from Open, got %+v", resp)
	}

	resp = call(t, conn, asioproto.WriteSamples{Interleaved: make([]float32, 9600)})
	written, ok := resp.(asioproto.WrittenFrames)
	if !ok || written.Frames == 0 {
		t.Fatalf("expected frames accepted, got %+v", resp)
	}

	resp = call(t, conn, asioproto.Start{})
	if _, ok := resp.(asioproto.Ok); !ok {
		t.Fatalf("expected Ok from Start, got %+v", resp)
	}

	resp = call(t, conn, asioproto.QueryStatus{})
	status, ok := resp.(asioproto.Status)
	if !ok || !status.Running {
		t.Fatalf("expected running status, got %+v", resp)
	}
}

func TestHostStaleSelectionRefused(t *testing.T) {
	conn, cleanup := startTestHost(t, testBackend())
	defer cleanup()
	handshake(t, conn)

	resp := call(t, conn, asioproto.ListDevices{})
	devices := resp.(asioproto.Devices)
	var dev1ID string
	for _, d := range devices.List {
		if d.DeviceID == "dev-1" {
			dev1ID = d.DeviceID
		}
	}

	resp = call(t, conn, asioproto.GetDeviceCaps{SelectionSessionID: 0xDEADBEEF, DeviceID: dev1ID})
	errResp, ok := resp.(asioproto.Err)
	if !ok {
		t.Fatalf("expected Err for stale selection, got %+v", resp)
	}
	if errResp.Message == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestHostUnknownDeviceRefused(t *testing.T) {
	conn, cleanup := startTestHost(t, testBackend())
	defer cleanup()
	handshake(t, conn)

	resp := call(t, conn, asioproto.GetDeviceCaps{SelectionSessionID: 1, DeviceID: "does-not-exist"})
	if _, ok := resp.(asioproto.Err); !ok {
		t.Fatalf("expected Err for unknown device, got %+v", resp)
	}
}

func TestHostResetKeepsStreamOpen(t *testing.T) {
	conn, cleanup := startTestHost(t, testBackend())
	defer cleanup()
	handshake(t, conn)

	devices := call(t, conn, asioproto.ListDevices{}).(asioproto.Devices)
	var dev1 asioproto.DeviceInfo
	for _, d := range devices.List {
		if d.DeviceID == "dev-1" {
			dev1 = d
		}
	}
	call(t, conn, asioproto.Open{SelectionSessionID: dev1.SessionID, DeviceID: dev1.DeviceID, SampleRate: 48000, Channels: 2, QueueCapacityMS: 200})
	call(t, conn, asioproto.WriteSamples{Interleaved: make([]float32, 100)})

	resp := call(t, conn, asioproto.Reset{})
	if _, ok := resp.(asioproto.Ok); !ok {
		t.Fatalf("expected Ok from Reset, got %+v", resp)
	}

	status := call(t, conn, asioproto.QueryStatus{}).(asioproto.Status)
	if status.QueuedSamples != 0 {
		t.Fatalf("expected queue cleared after Reset, got %d queued", status.QueuedSamples)
	}

	resp = call(t, conn, asioproto.WriteSamples{Interleaved: make([]float32, 2)})
	if _, ok := resp.(asioproto.WrittenFrames); !ok {
		t.Fatalf("expected stream still open after Reset, got %+v", resp)
	}
}
