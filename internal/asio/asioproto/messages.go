/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package asioproto

import (
	"bytes"
	"fmt"
	"math"
)

// MsgType discriminates one frame's payload.
type MsgType byte

const (
	MsgHello MsgType = iota + 1
	MsgHelloOk
	MsgListDevices
	MsgDevices
	MsgGetDeviceCaps
	MsgDeviceCaps
	MsgOpen
	MsgStart
	MsgStop
	MsgReset
	MsgClose
	MsgWriteSamples
	MsgWrittenFrames
	MsgQueryStatus
	MsgStatus
	MsgOk
	MsgErr
)

// Message is implemented by every request/response payload. Encode appends the
// message's own fields (not the leading MsgType byte, which Marshal writes).
type Message interface {
	Type() MsgType
	encode(buf *bytes.Buffer)
}

// Hello is the client's handshake request.
type Hello struct{ Version uint32 }

func (Hello) Type() MsgType { return MsgHello }
func (m Hello) encode(buf *bytes.Buffer) { writeU32(buf, m.Version) }

// HelloOk is the host's handshake acceptance.
type HelloOk struct{ Version uint32 }

func (HelloOk) Type() MsgType { return MsgHelloOk }
func (m HelloOk) encode(buf *bytes.Buffer) { writeU32(buf, m.Version) }

// ListDevices asks the host to enumerate output devices.
type ListDevices struct{}

func (ListDevices) Type() MsgType         { return MsgListDevices }
func (ListDevices) encode(buf *bytes.Buffer) {}

// DeviceInfo is one enumerated device, bound to the session id of the enumeration that
// produced it.
type DeviceInfo struct {
	SessionID         uint64
	DeviceID          string
	Name              string
	MaxOutputChannels uint16
	DefaultSampleRate uint32
}

// Devices is the host's ListDevices reply.
type Devices struct{ List []DeviceInfo }

func (Devices) Type() MsgType { return MsgDevices }
func (m Devices) encode(buf *bytes.Buffer) {
	writeU32(buf, uint32(len(m.List)))
	for _, d := range m.List {
		writeU64(buf, d.SessionID)
		writeString(buf, d.DeviceID)
		writeString(buf, d.Name)
		writeU16(buf, d.MaxOutputChannels)
		writeU32(buf, d.DefaultSampleRate)
	}
}

// GetDeviceCaps asks for one device's capabilities, naming the session id the client
// observed it under.
type GetDeviceCaps struct {
	SelectionSessionID uint64
	DeviceID           string
}

func (GetDeviceCaps) Type() MsgType { return MsgGetDeviceCaps }
func (m GetDeviceCaps) encode(buf *bytes.Buffer) {
	writeU64(buf, m.SelectionSessionID)
	writeString(buf, m.DeviceID)
}

// DeviceCaps is the host's capability reply.
type DeviceCaps struct {
	MinChannels        uint16
	MaxChannels        uint16
	SupportedRates     []uint32
	MinBufferFrames    uint32
	MaxBufferFrames    uint32
}

func (DeviceCaps) Type() MsgType { return MsgDeviceCaps }
func (m DeviceCaps) encode(buf *bytes.Buffer) {
	writeU16(buf, m.MinChannels)
	writeU16(buf, m.MaxChannels)
	writeU32(buf, uint32(len(m.SupportedRates)))
	for _, r := range m.SupportedRates {
		writeU32(buf, r)
	}
	writeU32(buf, m.MinBufferFrames)
	writeU32(buf, m.MaxBufferFrames)
}

// Open requests the host open a device at a spec, sized by an optional explicit
// buffer/queue size (0 means the device backend picks its own default).
type Open struct {
	SelectionSessionID uint64
	DeviceID           string
	SampleRate         uint32
	Channels           uint16
	BufferSizeFrames   uint32
	QueueCapacityMS    uint32
}

func (Open) Type() MsgType { return MsgOpen }
func (m Open) encode(buf *bytes.Buffer) {
	writeU64(buf, m.SelectionSessionID)
	writeString(buf, m.DeviceID)
	writeU32(buf, m.SampleRate)
	writeU16(buf, m.Channels)
	writeU32(buf, m.BufferSizeFrames)
	writeU32(buf, m.QueueCapacityMS)
}

type Start struct{}

func (Start) Type() MsgType            { return MsgStart }
func (Start) encode(buf *bytes.Buffer) {}

type Stop struct{}

func (Stop) Type() MsgType            { return MsgStop }
func (Stop) encode(buf *bytes.Buffer) {}

type Reset struct{}

func (Reset) Type() MsgType            { return MsgReset }
func (Reset) encode(buf *bytes.Buffer) {}

type Close struct{}

func (Close) Type() MsgType            { return MsgClose }
func (Close) encode(buf *bytes.Buffer) {}

// WriteSamples enqueues interleaved f32 samples.
type WriteSamples struct{ Interleaved []float32 }

func (WriteSamples) Type() MsgType { return MsgWriteSamples }
func (m WriteSamples) encode(buf *bytes.Buffer) {
	writeU32(buf, uint32(len(m.Interleaved)))
	for _, s := range m.Interleaved {
		writeU32(buf, math.Float32bits(s))
	}
}

// WrittenFrames is the host's WriteSamples reply: frames actually accepted, which may
// be less than offered if the queue is near-full.
type WrittenFrames struct{ Frames uint32 }

func (WrittenFrames) Type() MsgType { return MsgWrittenFrames }
func (m WrittenFrames) encode(buf *bytes.Buffer) { writeU32(buf, m.Frames) }

type QueryStatus struct{}

func (QueryStatus) Type() MsgType            { return MsgQueryStatus }
func (QueryStatus) encode(buf *bytes.Buffer) {}

// Status is the host's QueryStatus reply.
type Status struct {
	QueuedSamples uint32
	Running       bool
}

func (Status) Type() MsgType { return MsgStatus }
func (m Status) encode(buf *bytes.Buffer) {
	writeU32(buf, m.QueuedSamples)
	writeBool(buf, m.Running)
}

// Ok is the generic success reply for requests with no data to return.
type Ok struct{}

func (Ok) Type() MsgType            { return MsgOk }
func (Ok) encode(buf *bytes.Buffer) {}

// Err is the generic failure reply.
type Err struct{ Message string }

func (Err) Type() MsgType { return MsgErr }
func (m Err) encode(buf *bytes.Buffer) { writeString(buf, m.Message) }

// Marshal encodes a message's MsgType byte followed by its fields into a frame
// payload, ready for asioproto.WriteFrame.
func Marshal(m Message) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Type()))
	m.encode(&buf)
	return buf.Bytes()
}

// Unmarshal decodes a frame payload into its concrete Message. An unrecognized or
// truncated payload is a protocol error.
func Unmarshal(payload []byte) (Message, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("asioproto: empty frame")
	}
	t := MsgType(payload[0])
	r := bytes.NewReader(payload[1:])
	switch t {
	case MsgHello:
		v, err := readU32(r)
		return Hello{Version: v}, err
	case MsgHelloOk:
		v, err := readU32(r)
		return HelloOk{Version: v}, err
	case MsgListDevices:
		return ListDevices{}, nil
	case MsgDevices:
		return decodeDevices(r)
	case MsgGetDeviceCaps:
		return decodeGetDeviceCaps(r)
	case MsgDeviceCaps:
		return decodeDeviceCaps(r)
	case MsgOpen:
		return decodeOpen(r)
	case MsgStart:
		return Start{}, nil
	case MsgStop:
		return Stop{}, nil
	case MsgReset:
		return Reset{}, nil
	case MsgClose:
		return Close{}, nil
	case MsgWriteSamples:
		return decodeWriteSamples(r)
	case MsgWrittenFrames:
		v, err := readU32(r)
		return WrittenFrames{Frames: v}, err
	case MsgQueryStatus:
		return QueryStatus{}, nil
	case MsgStatus:
		return decodeStatus(r)
	case MsgOk:
		return Ok{}, nil
	case MsgErr:
		s, err := readString(r)
		return Err{Message: s}, err
	default:
		return nil, fmt.Errorf("asioproto: unknown message type %d", t)
	}
}
