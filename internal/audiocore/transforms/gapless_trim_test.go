/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transforms

import (
	"testing"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

func block(samples ...float32) audiocore.AudioBlock {
	return audiocore.AudioBlock{Channels: 1, Samples: samples}
}

func TestGaplessTrimStageTrimsHeadAndHoldsTail(t *testing.T) {
	stage := NewGaplessTrimStage()
	ctx := audiocore.NewPipelineContext()
	if _, err := stage.Prepare(audiocore.StreamSpec{SampleRate: 1, Channels: 1}, ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	ok := stage.ApplyControl(GaplessTrimControl{
		Spec:    audiocore.GaplessTrimSpec{HeadFrames: 2, TailFrames: 2},
		Enabled: true,
	}, ctx)
	if !ok {
		t.Fatalf("apply_control not handled")
	}

	first := block(0, 1, 2, 3, 4, 5)
	if status := stage.Process(&first, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	assertSamples(t, first.Samples, 2, 3)

	second := block(6, 7, 8)
	if status := stage.Process(&second, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	assertSamples(t, second.Samples, 4, 5, 6)
}

func TestGaplessTrimStageSeekToZeroReenablesHeadTrim(t *testing.T) {
	stage := NewGaplessTrimStage()
	ctx := audiocore.NewPipelineContext()
	if _, err := stage.Prepare(audiocore.StreamSpec{SampleRate: 1, Channels: 1}, ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	stage.ApplyControl(GaplessTrimControl{
		Spec:    audiocore.GaplessTrimSpec{HeadFrames: 1, TailFrames: 0},
		Enabled: true,
	}, ctx)

	a := block(0, 1)
	stage.Process(&a, ctx)
	assertSamples(t, a.Samples, 1)

	seekMS := int64(500)
	ctx.PendingSeekMS = &seekMS
	if err := stage.SyncRuntimeControl(ctx); err != nil {
		t.Fatalf("sync_runtime_control: %v", err)
	}
	b := block(10, 11)
	stage.Process(&b, ctx)
	assertSamples(t, b.Samples, 10, 11)

	zero := int64(0)
	ctx.PendingSeekMS = &zero
	if err := stage.SyncRuntimeControl(ctx); err != nil {
		t.Fatalf("sync_runtime_control: %v", err)
	}
	c := block(20, 21)
	stage.Process(&c, ctx)
	assertSamples(t, c.Samples, 21)
}

func TestGaplessTrimStageDisabledIsNoOp(t *testing.T) {
	stage := NewGaplessTrimStage()
	ctx := audiocore.NewPipelineContext()
	stage.Prepare(audiocore.StreamSpec{SampleRate: 48000, Channels: 2}, ctx)

	blk := audiocore.AudioBlock{Channels: 2, Samples: []float32{0.1, 0.2, 0.3, 0.4}}
	stage.Process(&blk, ctx)
	assertSamples(t, blk.Samples, 0.1, 0.2, 0.3, 0.4)
}

func assertSamples(t *testing.T, got []float32, want ...float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v want %v (full got=%v want=%v)", i, got[i], want[i], got, want)
		}
	}
}
