/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package asioproto

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

// writeString encodes a u16 length prefix followed by the raw bytes. Device ids/names
// and error messages are all short; a u16 length is ample and keeps the wire format
// compact.
func writeString(buf *bytes.Buffer, s string) {
	writeU16(buf, uint16(len(s)))
	buf.WriteString(s)
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU16(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeDevices(r *bytes.Reader) (Message, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	list := make([]DeviceInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		var d DeviceInfo
		if d.SessionID, err = readU64(r); err != nil {
			return nil, err
		}
		if d.DeviceID, err = readString(r); err != nil {
			return nil, err
		}
		if d.Name, err = readString(r); err != nil {
			return nil, err
		}
		if d.MaxOutputChannels, err = readU16(r); err != nil {
			return nil, err
		}
		if d.DefaultSampleRate, err = readU32(r); err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return Devices{List: list}, nil
}

func decodeGetDeviceCaps(r *bytes.Reader) (Message, error) {
	id, err := readU64(r)
	if err != nil {
		return nil, err
	}
	devID, err := readString(r)
	if err != nil {
		return nil, err
	}
	return GetDeviceCaps{SelectionSessionID: id, DeviceID: devID}, nil
}

func decodeDeviceCaps(r *bytes.Reader) (Message, error) {
	var caps DeviceCaps
	var err error
	if caps.MinChannels, err = readU16(r); err != nil {
		return nil, err
	}
	if caps.MaxChannels, err = readU16(r); err != nil {
		return nil, err
	}
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	caps.SupportedRates = make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := readU32(r)
		if err != nil {
			return nil, err
		}
		caps.SupportedRates = append(caps.SupportedRates, v)
	}
	if caps.MinBufferFrames, err = readU32(r); err != nil {
		return nil, err
	}
	if caps.MaxBufferFrames, err = readU32(r); err != nil {
		return nil, err
	}
	return caps, nil
}

func decodeOpen(r *bytes.Reader) (Message, error) {
	var m Open
	var err error
	if m.SelectionSessionID, err = readU64(r); err != nil {
		return nil, err
	}
	if m.DeviceID, err = readString(r); err != nil {
		return nil, err
	}
	if m.SampleRate, err = readU32(r); err != nil {
		return nil, err
	}
	if m.Channels, err = readU16(r); err != nil {
		return nil, err
	}
	if m.BufferSizeFrames, err = readU32(r); err != nil {
		return nil, err
	}
	if m.QueueCapacityMS, err = readU32(r); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeWriteSamples(r *bytes.Reader) (Message, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	samples := make([]float32, 0, n)
	for i := uint32(0); i < n; i++ {
		bits, err := readU32(r)
		if err != nil {
			return nil, err
		}
		samples = append(samples, math.Float32frombits(bits))
	}
	return WriteSamples{Interleaved: samples}, nil
}

func decodeStatus(r *bytes.Reader) (Message, error) {
	queued, err := readU32(r)
	if err != nil {
		return nil, err
	}
	running, err := readBool(r)
	if err != nil {
		return nil, err
	}
	return Status{QueuedSamples: queued, Running: running}, nil
}
