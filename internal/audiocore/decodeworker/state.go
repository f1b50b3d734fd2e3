/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decodeworker

import (
	"time"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/pipeline"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/transforms"
)

// PrewarmedNext is a fully prepared runner sitting ready to take over the instant the
// current track hits EOF, so the cutover never pays decode/prepare latency.
type PrewarmedNext struct {
	Runner *pipeline.PipelineRunner
	Ctx    *audiocore.PipelineContext
	Input  audiocore.InputRef
}

// state is the worker's private state machine. It is only ever touched from the
// worker's own goroutine; nothing else may read or mutate it.
type state struct {
	playerState audiocore.PlayerState

	runner *pipeline.PipelineRunner
	ctx    *audiocore.PipelineContext

	activeInput     *audiocore.InputRef
	queuedNextInput *audiocore.InputRef
	prewarmedNext   *PrewarmedNext

	persistedStageControls map[string]any

	recoveryAttempts uint32
	recoveryRetryAt  time.Time // zero value means no recovery scheduled

	pendingMutation *PipelineMutation

	masterGainHotControl *transforms.SharedMasterGainHotControl
	sinkLatency          audiocore.SinkLatencyConfig
	sinkRecovery         audiocore.SinkRecoveryConfig
	gainTransition       audiocore.GainTransitionConfig
}

func newState(hot *transforms.SharedMasterGainHotControl, latency audiocore.SinkLatencyConfig, recovery audiocore.SinkRecoveryConfig, gain audiocore.GainTransitionConfig) *state {
	return &state{
		playerState:            audiocore.PlayerStopped,
		persistedStageControls: make(map[string]any),
		masterGainHotControl:   hot,
		sinkLatency:            latency,
		sinkRecovery:           recovery,
		gainTransition:         gain,
	}
}

func (s *state) recoveryScheduled() bool { return !s.recoveryRetryAt.IsZero() }

func (s *state) clearRecovery() {
	s.recoveryAttempts = 0
	s.recoveryRetryAt = time.Time{}
}

func (s *state) scheduleRecovery(now time.Time) {
	attempt := s.recoveryAttempts + 1
	s.recoveryAttempts = attempt
	backoff := s.sinkRecovery.InitialBackoff << (attempt - 1)
	if attempt > 31 || backoff > s.sinkRecovery.MaxBackoff || backoff <= 0 {
		backoff = s.sinkRecovery.MaxBackoff
	}
	s.recoveryRetryAt = now.Add(backoff)
}

func (s *state) recoveryExhausted() bool {
	return s.sinkRecovery.MaxAttempts > 0 && s.recoveryAttempts >= s.sinkRecovery.MaxAttempts
}

func (s *state) clearTrack() {
	s.runner = nil
	s.ctx = nil
	s.activeInput = nil
	s.queuedNextInput = nil
	s.prewarmedNext = nil
	s.clearRecovery()
}
