/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package controlactor

import (
	"time"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

// EngineSnapshot is the externally-visible state the engine facade's snapshot()
// operation returns and subscribe_events() derives updates from.
type EngineSnapshot struct {
	State        audiocore.PlayerState
	CurrentTrack *audiocore.InputRef
	PositionMS   int64
	MasterLevel  float32
	LastError    string
	UpdatedAt    time.Time
}

func (s EngineSnapshot) clone() EngineSnapshot {
	if s.CurrentTrack != nil {
		track := *s.CurrentTrack
		s.CurrentTrack = &track
	}
	return s
}
