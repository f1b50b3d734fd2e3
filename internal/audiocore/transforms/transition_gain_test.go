/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transforms

import (
	"math"
	"testing"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

func approxEqual(t *testing.T, got, want float32, tol float64) {
	t.Helper()
	if math.Abs(float64(got-want)) > tol {
		t.Fatalf("got %v want %v (tolerance %v)", got, want, tol)
	}
}

func TestTransitionGainFadeProgressContinuesAcrossBlocks(t *testing.T) {
	stage := NewTransitionGainStage()
	ctx := audiocore.NewPipelineContext()
	if _, err := stage.Prepare(audiocore.StreamSpec{SampleRate: 1000, Channels: 1}, ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	ok := stage.ApplyControl(TransitionGainControl{Request: GainTransitionRequest{
		TargetGain: 0,
		RampMS:     4,
		Curve:      audiocore.GainLinear,
		TimePolicy: audiocore.TransitionExact,
	}}, ctx)
	if !ok {
		t.Fatalf("apply_control not handled")
	}
	if err := stage.SyncRuntimeControl(ctx); err != nil {
		t.Fatalf("sync_runtime_control: %v", err)
	}

	first := audiocore.AudioBlock{Channels: 1, Samples: []float32{1, 1}}
	if status := stage.Process(&first, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	approxEqual(t, first.Samples[0], 0.75, 1e-6)
	approxEqual(t, first.Samples[1], 0.5, 1e-6)

	second := audiocore.AudioBlock{Channels: 1, Samples: []float32{1, 1}}
	if status := stage.Process(&second, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	approxEqual(t, second.Samples[0], 0.25, 1e-6)
	approxEqual(t, second.Samples[1], 0.0, 1e-6)
}

func TestTransitionGainFitToAvailableShortensFade(t *testing.T) {
	stage := NewTransitionGainStage()
	ctx := audiocore.NewPipelineContext()
	stage.Prepare(audiocore.StreamSpec{SampleRate: 1000, Channels: 1}, ctx)

	hint := uint32(2)
	stage.ApplyControl(TransitionGainControl{Request: GainTransitionRequest{
		TargetGain:          0,
		RampMS:               100,
		AvailableFramesHint: &hint,
		Curve:                audiocore.GainEqualPower,
		TimePolicy:           audiocore.TransitionFitToAvailable,
	}}, ctx)
	stage.SyncRuntimeControl(ctx)

	blk := audiocore.AudioBlock{Channels: 1, Samples: []float32{1, 1, 1, 1}}
	if status := stage.Process(&blk, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	approxEqual(t, blk.Samples[0], 0.70710677, 1e-5)
	approxEqual(t, blk.Samples[1], 0.0, 1e-6)
	approxEqual(t, blk.Samples[2], 0.0, 1e-6)
	approxEqual(t, blk.Samples[3], 0.0, 1e-6)
}
