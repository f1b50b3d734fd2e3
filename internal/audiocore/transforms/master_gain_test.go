/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transforms

import (
	"testing"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

func TestMasterGainAppliesAudioTaperFromRequestedLevel(t *testing.T) {
	stage := NewMasterGainStage()
	ctx := audiocore.NewPipelineContext()
	if _, err := stage.Prepare(audiocore.StreamSpec{SampleRate: 48000, Channels: 1}, ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	ok := stage.ApplyControl(MasterGainControl{Level: 0.5, RampMS: 0}, ctx)
	if !ok {
		t.Fatalf("apply_control not handled")
	}
	if err := stage.SyncRuntimeControl(ctx); err != nil {
		t.Fatalf("sync_runtime_control: %v", err)
	}

	blk := audiocore.AudioBlock{Channels: 1, Samples: []float32{1}}
	if status := stage.Process(&blk, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	approxEqual(t, blk.Samples[0], 0.031622775, 1e-6)
}

func TestMasterGainSupportsLinearCurveWhenRequested(t *testing.T) {
	stage := NewMasterGainStage()
	ctx := audiocore.NewPipelineContext()
	if _, err := stage.Prepare(audiocore.StreamSpec{SampleRate: 48000, Channels: 1}, ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	linear := audiocore.GainLinear
	stage.ApplyControl(MasterGainControl{Level: 0.5, RampMS: 0, Curve: &linear}, ctx)
	stage.SyncRuntimeControl(ctx)

	blk := audiocore.AudioBlock{Channels: 1, Samples: []float32{1, 0.5}}
	if status := stage.Process(&blk, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	approxEqual(t, blk.Samples[0], 0.5, 1e-6)
	approxEqual(t, blk.Samples[1], 0.25, 1e-6)
}

func TestMasterGainRampsOverMultipleFrames(t *testing.T) {
	stage := NewMasterGainStage()
	ctx := audiocore.NewPipelineContext()
	if _, err := stage.Prepare(audiocore.StreamSpec{SampleRate: 1000, Channels: 1}, ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	stage.ApplyControl(MasterGainControl{Level: 0, RampMS: 4}, ctx)
	stage.SyncRuntimeControl(ctx)

	// Level 0 under the default audio taper targets 10^-3; the ramp covers 4 frames.
	first := audiocore.AudioBlock{Channels: 1, Samples: []float32{1, 1}}
	if status := stage.Process(&first, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	approxEqual(t, first.Samples[0], 0.75025, 1e-6)
	approxEqual(t, first.Samples[1], 0.5005, 1e-6)

	second := audiocore.AudioBlock{Channels: 1, Samples: []float32{1, 1}}
	if status := stage.Process(&second, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	approxEqual(t, second.Samples[0], 0.25075, 1e-6)
	approxEqual(t, second.Samples[1], 0.001, 1e-6)
}

func TestSharedMasterGainHotControlRetargetsOnVersionChange(t *testing.T) {
	hot := NewSharedMasterGainHotControl()
	stage := NewMasterGainStageWithHotControl(hot)
	ctx := audiocore.NewPipelineContext()
	if _, err := stage.Prepare(audiocore.StreamSpec{SampleRate: 1000, Channels: 1}, ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if err := stage.SyncRuntimeControl(ctx); err != nil {
		t.Fatalf("sync_runtime_control: %v", err)
	}
	blk := audiocore.AudioBlock{Channels: 1, Samples: []float32{1}}
	stage.Process(&blk, ctx)
	approxEqual(t, blk.Samples[0], 1.0, 1e-6)

	linear := audiocore.GainLinear
	hot.Set(0, 0, &linear)
	if err := stage.SyncRuntimeControl(ctx); err != nil {
		t.Fatalf("sync_runtime_control: %v", err)
	}
	blk2 := audiocore.AudioBlock{Channels: 1, Samples: []float32{1}}
	stage.Process(&blk2, ctx)
	approxEqual(t, blk2.Samples[0], 0.0, 1e-6)
}
