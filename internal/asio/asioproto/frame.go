/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package asioproto implements the ASIO sidecar's framed request/response wire
// protocol: a 4-byte little-endian length prefix followed by a compact binary payload
// encoding exactly one message.
package asioproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload, guarding against a malformed or
// malicious length prefix causing an unbounded allocation.
const MaxFrameSize = 64 * 1024 * 1024

// ProtocolVersion is exchanged during the Hello handshake. A mismatch is a protocol
// error, not a negotiation: the sidecar and host must agree exactly.
const ProtocolVersion uint32 = 1

// WriteFrame writes the length-prefixed frame for one already-encoded payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("asioproto: frame payload %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame's payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("asioproto: frame length %d exceeds max %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
