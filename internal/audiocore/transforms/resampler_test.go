/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transforms

import (
	"testing"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

func TestResamplerStageDownsamplesStereoRateByHalf(t *testing.T) {
	stage := NewResamplerStage(ResamplerPlan{TargetSampleRate: 24000, Quality: audiocore.ResampleBalanced})
	ctx := audiocore.NewPipelineContext()
	out, err := stage.Prepare(audiocore.StreamSpec{SampleRate: 48000, Channels: 2}, ctx)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if out.SampleRate != 24000 {
		t.Fatalf("expected target rate 24000, got %d", out.SampleRate)
	}

	input := audiocore.AudioBlock{Channels: 2, Samples: []float32{0, 0, 1, 1, 2, 2, 3, 3}}
	if status := stage.Process(&input, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	if input.Channels != 2 {
		t.Fatalf("expected channel count preserved, got %d", input.Channels)
	}
	if len(input.Samples)%2 != 0 {
		t.Fatalf("expected interleaved output, got odd length %d", len(input.Samples))
	}
}

func TestResamplerStagePassthroughWhenSampleRateMatches(t *testing.T) {
	stage := NewResamplerStage(ResamplerPlan{TargetSampleRate: 48000, Quality: audiocore.ResampleHigh})
	ctx := audiocore.NewPipelineContext()
	out, err := stage.Prepare(audiocore.StreamSpec{SampleRate: 48000, Channels: 1}, ctx)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if out.SampleRate != 48000 {
		t.Fatalf("expected passthrough rate 48000, got %d", out.SampleRate)
	}

	blk := audiocore.AudioBlock{Channels: 1, Samples: []float32{0.2, 0.4, 0.6}}
	if status := stage.Process(&blk, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	want := []float32{0.2, 0.4, 0.6}
	for i := range want {
		if blk.Samples[i] != want[i] {
			t.Fatalf("passthrough changed samples: got %v want %v", blk.Samples, want)
		}
	}
}
