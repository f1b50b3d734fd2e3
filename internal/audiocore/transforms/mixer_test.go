/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transforms

import (
	"testing"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

func TestMixMatrixIdentityPassthrough(t *testing.T) {
	matrix := IdentityMatrix(2)
	input := []float32{1, 2, 3, 4}
	output := matrix.Apply(input)
	if len(output) != len(input) {
		t.Fatalf("length mismatch: got %v want %v", output, input)
	}
	for i := range input {
		if output[i] != input[i] {
			t.Fatalf("index %d: got %v want %v", i, output[i], input[i])
		}
	}
}

func TestMixMatrixMonoToStereo(t *testing.T) {
	matrix := CreateMixMatrix(1, 2, audiocore.LFEMute)
	output := matrix.Apply([]float32{0.5, 1.0})
	want := []float32{0.5, 0.5, 1.0, 1.0}
	for i := range want {
		if output[i] != want[i] {
			t.Fatalf("index %d: got %v want %v", i, output[i], want[i])
		}
	}
}

func TestMixMatrixStereoToMono(t *testing.T) {
	matrix := CreateMixMatrix(2, 1, audiocore.LFEMute)
	output := matrix.Apply([]float32{0.6, 0.4, 1.0, 0.0})
	want := []float32{0.5, 0.5}
	for i := range want {
		if output[i] != want[i] {
			t.Fatalf("index %d: got %v want %v", i, output[i], want[i])
		}
	}
}

func TestMixMatrixDownmix51ToStereoBasic(t *testing.T) {
	matrix := CreateMixMatrix(6, 2, audiocore.LFEMute)
	output := matrix.Apply([]float32{1, 0, 0, 0, 0, 0})
	approxEqual(t, output[0], 1.0, 0.001)
	approxEqual(t, output[1], 0.0, 0.001)
}

func TestMixMatrixDownmix51CenterContribution(t *testing.T) {
	matrix := CreateMixMatrix(6, 2, audiocore.LFEMute)
	output := matrix.Apply([]float32{0, 0, 1, 0, 0, 0})
	approxEqual(t, output[0], centerCoeff, 0.001)
	approxEqual(t, output[1], centerCoeff, 0.001)
}

func TestMixerStageRoundTripsChannelCountIdempotently(t *testing.T) {
	stage := NewMixerStage(2, audiocore.LFEMute)
	ctx := audiocore.NewPipelineContext()
	outSpec, err := stage.Prepare(audiocore.StreamSpec{SampleRate: 48000, Channels: 2}, ctx)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if outSpec.Channels != 2 {
		t.Fatalf("expected passthrough channel count, got %d", outSpec.Channels)
	}
	blk := audiocore.AudioBlock{Channels: 2, Samples: []float32{0.1, 0.2, 0.3, 0.4}}
	if status := stage.Process(&blk, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	want := []float32{0.1, 0.2, 0.3, 0.4}
	for i := range want {
		if blk.Samples[i] != want[i] {
			t.Fatalf("identity mix changed samples: got %v want %v", blk.Samples, want)
		}
	}
}

func TestMixerStageConvertsDeclaredOutputLayout(t *testing.T) {
	stage := NewMixerStage(1, audiocore.LFEMute)
	ctx := audiocore.NewPipelineContext()
	outSpec, err := stage.Prepare(audiocore.StreamSpec{SampleRate: 48000, Channels: 2}, ctx)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if outSpec.Channels != 1 {
		t.Fatalf("expected mono output, got %d", outSpec.Channels)
	}
	blk := audiocore.AudioBlock{Channels: 2, Samples: []float32{0.6, 0.4, 1.0, 0.0}}
	if status := stage.Process(&blk, ctx); status != audiocore.StageOk {
		t.Fatalf("unexpected status %v", status)
	}
	if blk.Channels != 1 {
		t.Fatalf("block channel count not updated: %d", blk.Channels)
	}
	approxEqual(t, blk.Samples[0], 0.5, 1e-6)
	approxEqual(t, blk.Samples[1], 0.5, 1e-6)
}
