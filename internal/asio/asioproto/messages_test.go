/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package asioproto

import (
	"bytes"
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	payload := Marshal(m)
	got, err := Unmarshal(payload)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return got
}

func TestRoundTripMessages(t *testing.T) {
	cases := []Message{
		Hello{Version: 1},
		HelloOk{Version: 1},
		ListDevices{},
		Devices{List: []DeviceInfo{
			{SessionID: 42, DeviceID: "dev-1", Name: "Built-in Output", MaxOutputChannels: 2, DefaultSampleRate: 48000},
		}},
		GetDeviceCaps{SelectionSessionID: 42, DeviceID: "dev-1"},
		DeviceCaps{MinChannels: 1, MaxChannels: 8, SupportedRates: []uint32{44100, 48000}, MinBufferFrames: 64, MaxBufferFrames: 4096},
		Open{SelectionSessionID: 42, DeviceID: "dev-1", SampleRate: 48000, Channels: 2, BufferSizeFrames: 256, QueueCapacityMS: 200},
		Start{},
		Stop{},
		Reset{},
		Close{},
		WriteSamples{Interleaved: []float32{0, 0.5, -0.5, 1}},
		WrittenFrames{Frames: 2},
		QueryStatus{},
		Status{QueuedSamples: 128, Running: true},
		Ok{},
		Err{Message: "stale selection"},
	}

	for _, m := range cases {
		got := roundTrip(t, m)
		if !reflect.DeepEqual(got, m) {
			t.Errorf("round trip mismatch for %T: got %+v, want %+v", m, got, m)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := Marshal(Hello{Version: 3})
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("frame payload mismatch")
	}
}

func TestUnmarshalEmptyFrame(t *testing.T) {
	if _, err := Unmarshal(nil); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestUnmarshalUnknownType(t *testing.T) {
	if _, err := Unmarshal([]byte{0xFF}); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}
