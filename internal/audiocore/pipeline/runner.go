/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pipeline

import (
	"time"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/sink"
	"github.com/friendsincode/grimnir_audioengine/internal/telemetry"
)

// PipelineRunner owns one track's assembled source/decoder/transform chain and the
// sink session it feeds. Step drives exactly one decode→transform→sink cycle.
type PipelineRunner struct {
	source     audiocore.SourceStage
	decoder    audiocore.DecoderStage
	transforms []audiocore.TransformStage

	sinkPlanSlot     audiocore.SinkPlan // set to nil once consumed by an Activate rebuild
	routeFingerprint uint64
	session          *sink.Session

	sourceHandle audiocore.SourceHandle
	finalSpec    audiocore.StreamSpec

	transitionGainEnabled bool
	gaplessTrimEnabled    bool

	state        audiocore.RunnerState
	pendingBlock *audiocore.AudioBlock
}

func newPipelineRunner(source audiocore.SourceStage, decoder audiocore.DecoderStage, transforms []audiocore.TransformStage, sinkPlan audiocore.SinkPlan, transitionGainEnabled, gaplessTrimEnabled bool) *PipelineRunner {
	var fp uint64
	if sinkPlan != nil {
		fp = sinkPlan.RouteFingerprint()
	}
	return &PipelineRunner{
		source:                source,
		decoder:               decoder,
		transforms:            transforms,
		sinkPlanSlot:          sinkPlan,
		routeFingerprint:      fp,
		transitionGainEnabled: transitionGainEnabled,
		gaplessTrimEnabled:    gaplessTrimEnabled,
		state:                 audiocore.RunnerIdle,
	}
}

// Prepare resolves the source handle, prepares the decoder, and threads the stream
// spec through every transform in order. The resulting spec (post mixer/resampler) is
// what the sink session must be activated against.
func (r *PipelineRunner) Prepare(input audiocore.InputRef, ctx *audiocore.PipelineContext) error {
	handle, err := r.source.Prepare(input, ctx)
	if err != nil {
		return err
	}
	spec, err := r.decoder.Prepare(handle, ctx)
	if err != nil {
		return err
	}
	for _, tr := range r.transforms {
		spec, err = tr.Prepare(spec, ctx)
		if err != nil {
			return err
		}
	}
	r.sourceHandle = handle
	r.finalSpec = spec
	return nil
}

// FinalSpec is the stream spec leaving the transform chain, i.e. what the sink must
// be prepared for.
func (r *PipelineRunner) FinalSpec() audiocore.StreamSpec { return r.finalSpec }

// Seek repositions the decoder and drops any block retained from a prior full-queue
// Step so the next produced block reflects the new position.
func (r *PipelineRunner) Seek(positionMS int64, ctx *audiocore.PipelineContext) error {
	if err := r.decoder.Seek(positionMS, ctx); err != nil {
		return err
	}
	r.pendingBlock = nil
	ctx.PositionMS = positionMS
	return nil
}

// ActivateSink reconciles the runner's sink session against its own (spec,
// routeFingerprint), using whichever sink plan is still unconsumed.
func (r *PipelineRunner) ActivateSink(session *sink.Session, ctx *audiocore.PipelineContext, mode audiocore.SinkActivationMode) (bool, error) {
	r.session = session
	return session.Activate(r.finalSpec, r.routeFingerprint, &r.sinkPlanSlot, ctx, mode)
}

// RebindSink swaps in a freshly-planned sink route without touching the source or
// decoder — used when only the output route changed.
func (r *PipelineRunner) RebindSink(plan audiocore.SinkPlan, routeFingerprint uint64) {
	r.sinkPlanSlot = plan
	r.routeFingerprint = routeFingerprint
}

// Step runs one decode→transform→sink cycle: sync runtime control on every stage,
// decode the next block, run it through the transform chain, and hand it to the sink
// session.
func (r *PipelineRunner) Step(ctx *audiocore.PipelineContext) (audiocore.StepResult, error) {
	for _, tr := range r.transforms {
		if err := tr.SyncRuntimeControl(ctx); err != nil {
			return audiocore.StepResult{}, err
		}
	}
	if r.session != nil {
		if err := r.session.SyncRuntimeControl(ctx); err != nil {
			return audiocore.StepResult{}, err
		}
	}

	block := r.pendingBlock
	r.pendingBlock = nil
	if block == nil {
		decoded, eof, err := r.decoder.NextBlock(ctx)
		if err != nil {
			return audiocore.StepResult{}, err
		}
		if eof {
			return audiocore.StepResult{Kind: audiocore.StepEOF}, nil
		}
		telemetry.BlocksProduced.Inc()
		for _, tr := range r.transforms {
			if status := tr.Process(&decoded, ctx); status == audiocore.StageFatal {
				return audiocore.StepResult{}, audiocore.NewStageFailure("transform stage returned fatal status")
			}
		}
		block = &decoded
	}

	if r.session == nil {
		return audiocore.StepResult{}, audiocore.ErrNotPrepared
	}
	if err := r.session.TrySendBlock(*block); err != nil {
		if err == sink.ErrSinkFull {
			r.pendingBlock = block
			return audiocore.StepResult{Kind: audiocore.StepIdle}, nil
		}
		return audiocore.StepResult{}, audiocore.NewSinkDisconnected(err.Error())
	}

	frames := block.Frames()
	if r.finalSpec.SampleRate > 0 {
		ctx.PositionMS += int64(frames) * 1000 / int64(r.finalSpec.SampleRate)
	}
	return audiocore.StepResult{Kind: audiocore.StepProduced, Frames: frames}, nil
}

// ApplyStageControl routes an opaque control value to the transform with the given
// stage key. Returns false if no transform owns that key or the stage declined it.
func (r *PipelineRunner) ApplyStageControl(stageKey string, control any, ctx *audiocore.PipelineContext) bool {
	for _, tr := range r.transforms {
		if tr.StageKey() == stageKey {
			return tr.ApplyControl(control, ctx)
		}
	}
	return false
}

// StopWithBehavior tears the runner down. Immediate drops queued blocks and stops the
// decoder and sink outright; DrainSink flushes each transform's tail into the sink
// queue first, then drains the queue before stopping.
func (r *PipelineRunner) StopWithBehavior(ctx *audiocore.PipelineContext, behavior audiocore.StopBehavior) error {
	switch behavior {
	case audiocore.StopDrainSink:
		for _, tr := range r.transforms {
			tail, err := tr.Flush(ctx)
			if err != nil {
				return err
			}
			if tail.Frames() > 0 && r.session != nil {
				_ = r.session.TrySendBlock(tail)
			}
		}
		if r.session != nil {
			if err := r.session.Drain(); err != nil {
				return err
			}
		}
	default: // StopImmediate
		r.pendingBlock = nil
		if r.session != nil {
			_ = r.session.DropQueued()
		}
	}

	r.decoder.Stop(ctx)
	for _, tr := range r.transforms {
		tr.Stop(ctx)
	}
	if r.session != nil {
		r.session.Shutdown(behavior == audiocore.StopDrainSink)
	}
	if r.sourceHandle != nil {
		_ = r.sourceHandle.Close()
	}
	r.state = audiocore.RunnerIdle
	return nil
}

// HasPendingBlock reports whether the last Step retained a decoded block because the
// sink queue was full, so the caller can tighten its poll interval instead of sleeping
// the full idle duration.
func (r *PipelineRunner) HasPendingBlock() bool { return r.pendingBlock != nil }

func (r *PipelineRunner) State() audiocore.RunnerState { return r.state }
func (r *PipelineRunner) SetState(state audiocore.RunnerState) { r.state = state }

// SinkSessionControlDefaultTimeout is the control-plane timeout used when a caller
// doesn't have a more specific configuration value at hand (tests, defaults).
const SinkSessionControlDefaultTimeout = 50 * time.Millisecond
