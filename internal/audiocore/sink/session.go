/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sink

import (
	"time"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

// ActivationMode is an alias of audiocore.SinkActivationMode, kept local so callers
// working only with the sink package don't need to import audiocore for it.
type ActivationMode = audiocore.SinkActivationMode

const (
	ImmediateCutover = audiocore.SinkImmediateCutover
	PreserveQueued   = audiocore.SinkPreserveQueued
	ForceRecreate    = audiocore.SinkForceRecreate
)

// Session owns at most one live SinkWorker at a time and decides, on each activation
// request, whether the existing worker can be reused or must be rebuilt from a fresh
// plan.
type Session struct {
	worker           *SinkWorker
	spec             *audiocore.StreamSpec
	routeFingerprint *uint64
	latency          audiocore.SinkLatencyConfig
	controlTimeout   time.Duration
}

func NewSession(latency audiocore.SinkLatencyConfig, controlTimeout time.Duration) *Session {
	return &Session{latency: latency, controlTimeout: controlTimeout}
}

// IsActiveFor reports whether the session's live worker already matches spec and
// route without needing any rebuild or cutover.
func (s *Session) IsActiveFor(spec audiocore.StreamSpec, routeFingerprint uint64) bool {
	return s.worker != nil &&
		s.spec != nil && *s.spec == spec &&
		s.routeFingerprint != nil && *s.routeFingerprint == routeFingerprint
}

// Activate reconciles the desired (spec, routeFingerprint) against the current
// worker. plan is consumed (set to nil) iff a rebuild actually happens; a rebuild
// with no plan available fails with a stage-failure error. Returns reused=true when
// the existing worker was kept.
func (s *Session) Activate(spec audiocore.StreamSpec, routeFingerprint uint64, plan *audiocore.SinkPlan, ctx *audiocore.PipelineContext, mode ActivationMode) (reused bool, err error) {
	if mode == ForceRecreate {
		s.Shutdown(false)
	}

	if s.worker != nil && mode == ImmediateCutover {
		if dropErr := s.worker.DropQueued(s.controlTimeout); dropErr != nil {
			if dropErr == ErrSinkWriteDisconnected {
				s.worker = nil
				s.spec = nil
				s.routeFingerprint = nil
			} else {
				return false, dropErr
			}
		}
	}

	if s.worker != nil && s.spec != nil && *s.spec == spec &&
		s.routeFingerprint != nil && *s.routeFingerprint == routeFingerprint {
		return true, nil
	}

	s.Shutdown(false)
	if plan == nil || *plan == nil {
		return false, audiocore.NewStageFailure("sink plan already consumed")
	}
	sinkPlan := *plan
	*plan = nil

	sinks, err := sinkPlan.IntoSinks()
	if err != nil {
		return false, err
	}
	queueCapacity := s.latency.QueueCapacity(spec.SampleRate)
	worker, err := StartSinkWorker(sinks, spec, *ctx, queueCapacity)
	if err != nil {
		return false, err
	}
	s.worker = worker
	specCopy := spec
	s.spec = &specCopy
	fpCopy := routeFingerprint
	s.routeFingerprint = &fpCopy
	return false, nil
}

// TrySendBlock forwards to the live worker, or reports disconnected if there is none.
func (s *Session) TrySendBlock(block audiocore.AudioBlock) error {
	if s.worker == nil {
		return ErrSinkWriteDisconnected
	}
	return s.worker.TrySendBlock(block)
}

func (s *Session) SyncRuntimeControl(ctx *audiocore.PipelineContext) error {
	if s.worker == nil {
		return audiocore.ErrNotPrepared
	}
	return s.worker.SyncRuntimeControl(s.controlTimeout)
}

func (s *Session) DropQueued() error {
	if s.worker == nil {
		return audiocore.ErrNotPrepared
	}
	return s.worker.DropQueued(s.controlTimeout)
}

func (s *Session) Drain() error {
	if s.worker == nil {
		return audiocore.ErrNotPrepared
	}
	return s.worker.Drain(s.controlTimeout)
}

// Shutdown stops any live worker, optionally draining first, and clears the
// session's activation memory.
func (s *Session) Shutdown(drain bool) {
	if s.worker != nil {
		_ = s.worker.Shutdown(drain, s.controlTimeout)
		s.worker = nil
	}
	s.spec = nil
	s.routeFingerprint = nil
}
