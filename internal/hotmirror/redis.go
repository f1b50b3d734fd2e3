/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hotmirror republishes the master-gain hot control's snapshot into Redis so a
// second engine instance or a control-plane UI can read the current gain state without
// access to the in-process atomic snapshot.
package hotmirror

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/transforms"
)

// RedisMirror writes every master-gain hot control snapshot to a Redis hash keyed by
// instance id, so a reader never has to guess whether a stale value is still live.
type RedisMirror struct {
	client   *redis.Client
	key      string
	logger   zerolog.Logger
	writeTTL time.Duration
}

// NewRedisMirror connects to addr (lazily — go-redis dials on first command) and
// returns a mirror that writes to "grimnir:audioengine:<instanceID>:master_gain".
func NewRedisMirror(addr, password string, db int, instanceID string, logger zerolog.Logger) *RedisMirror {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	key := fmt.Sprintf("grimnir:audioengine:%s:master_gain", instanceID)
	return &RedisMirror{client: client, key: key, logger: logger.With().Str("component", "hot_mirror").Logger(), writeTTL: 0}
}

// Run drains ch and mirrors each snapshot until ctx is done or ch is closed. A failed
// write is logged and otherwise ignored: the hot control's correctness in-process never
// depends on the mirror succeeding.
func (m *RedisMirror) Run(ctx context.Context, ch <-chan transforms.MasterGainHotState) {
	for {
		select {
		case <-ctx.Done():
			_ = m.client.Close()
			return
		case state, ok := <-ch:
			if !ok {
				return
			}
			m.write(ctx, state)
		}
	}
}

func (m *RedisMirror) write(ctx context.Context, state transforms.MasterGainHotState) {
	curve := audiocore.GainAudioTaper
	if state.Curve != nil {
		curve = *state.Curve
	}
	fields := map[string]any{
		"level":   state.Level,
		"ramp_ms": state.RampMS,
		"curve":   int(curve),
		"version": state.Version,
	}
	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.client.HSet(writeCtx, m.key, fields).Err(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to mirror master gain hot control to redis")
	}
}
