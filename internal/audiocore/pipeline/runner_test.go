/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pipeline

import (
	"testing"
	"time"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/sink"
)

type fakeSource struct{}

func (fakeSource) Prepare(input audiocore.InputRef, ctx *audiocore.PipelineContext) (audiocore.SourceHandle, error) {
	return audiocore.NopSourceHandle{}, nil
}

type fakeDecoder struct {
	spec    audiocore.StreamSpec
	blocks  [][]float32
	index   int
	stopped bool
}

func (d *fakeDecoder) Prepare(source audiocore.SourceHandle, ctx *audiocore.PipelineContext) (audiocore.StreamSpec, error) {
	return d.spec, nil
}

func (d *fakeDecoder) NextBlock(ctx *audiocore.PipelineContext) (audiocore.AudioBlock, bool, error) {
	if d.index >= len(d.blocks) {
		return audiocore.AudioBlock{}, true, nil
	}
	samples := d.blocks[d.index]
	d.index++
	return audiocore.AudioBlock{Channels: d.spec.Channels, Samples: samples}, false, nil
}

func (d *fakeDecoder) Seek(positionMS int64, ctx *audiocore.PipelineContext) error { return nil }
func (d *fakeDecoder) Stop(ctx *audiocore.PipelineContext)                        { d.stopped = true }

type recordingSink struct {
	written [][]float32
}

func (s *recordingSink) Prepare(spec audiocore.StreamSpec, ctx *audiocore.PipelineContext) error {
	return nil
}
func (s *recordingSink) SyncRuntimeControl(ctx *audiocore.PipelineContext) error { return nil }
func (s *recordingSink) Write(block *audiocore.AudioBlock, ctx *audiocore.PipelineContext) audiocore.StageStatus {
	s.written = append(s.written, append([]float32{}, block.Samples...))
	return audiocore.StageOk
}
func (s *recordingSink) Flush(ctx *audiocore.PipelineContext) error { return nil }
func (s *recordingSink) Stop(ctx *audiocore.PipelineContext)        {}

func TestPipelineRunnerStepsUntilEOF(t *testing.T) {
	decoder := &fakeDecoder{
		spec:   audiocore.StreamSpec{SampleRate: 1000, Channels: 1},
		blocks: [][]float32{{0.5, 0.5}, {0.25}},
	}
	recorder := &recordingSink{}
	runner := newPipelineRunner(fakeSource{}, decoder, nil, NewStaticSinkPlan([]audiocore.SinkStage{recorder}), true, true)

	ctx := audiocore.NewPipelineContext()
	if err := runner.Prepare(audiocore.InputRef{TrackToken: "t1"}, ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	session := sink.NewSession(audiocore.SinkLatencyConfig{}, 50*time.Millisecond)
	reused, err := runner.ActivateSink(session, ctx, audiocore.SinkForceRecreate)
	if err != nil {
		t.Fatalf("activate sink: %v", err)
	}
	if reused {
		t.Fatalf("expected fresh activation")
	}

	result, err := runner.Step(ctx)
	if err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if result.Kind != audiocore.StepProduced || result.Frames != 2 {
		t.Fatalf("unexpected step result: %+v", result)
	}
	if ctx.PositionMS != 2 {
		t.Fatalf("expected position advanced to 2ms, got %d", ctx.PositionMS)
	}

	result, err = runner.Step(ctx)
	if err != nil {
		t.Fatalf("step 2: %v", err)
	}
	if result.Kind != audiocore.StepProduced || result.Frames != 1 {
		t.Fatalf("unexpected step result: %+v", result)
	}

	result, err = runner.Step(ctx)
	if err != nil {
		t.Fatalf("step 3: %v", err)
	}
	if result.Kind != audiocore.StepEOF {
		t.Fatalf("expected EOF, got %+v", result)
	}

	if err := runner.StopWithBehavior(ctx, audiocore.StopImmediate); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !decoder.stopped {
		t.Fatalf("expected decoder to be stopped")
	}
}

func TestPipelineRunnerAssemblyRejectsDuplicateStageKeys(t *testing.T) {
	decoder := &fakeDecoder{spec: audiocore.StreamSpec{SampleRate: 48000, Channels: 2}}
	assembled := FromStatic(fakeSource{}, decoder, nil, []audiocore.SinkStage{&recordingSink{}})
	assembled.Decode.TransformChain.PreMix = nil
	assembled.Decode.BuiltinSlots.GaplessTrim = true
	assembled.Decode.BuiltinSlots.TransitionGain = false
	assembled.Decode.BuiltinSlots.MasterGain = false

	dupKeyed := duplicateKeyedStage{}
	assembled.Decode.Transforms = append(assembled.Decode.Transforms, dupKeyed, dupKeyed)

	if _, err := assembled.IntoRunner(nil); err == nil {
		t.Fatalf("expected duplicate stage key assembly failure")
	}
}

type duplicateKeyedStage struct{}

func (duplicateKeyedStage) Prepare(spec audiocore.StreamSpec, ctx *audiocore.PipelineContext) (audiocore.StreamSpec, error) {
	return spec, nil
}
func (duplicateKeyedStage) SyncRuntimeControl(ctx *audiocore.PipelineContext) error { return nil }
func (duplicateKeyedStage) Process(block *audiocore.AudioBlock, ctx *audiocore.PipelineContext) audiocore.StageStatus {
	return audiocore.StageOk
}
func (duplicateKeyedStage) ApplyControl(control any, ctx *audiocore.PipelineContext) bool {
	return false
}
func (duplicateKeyedStage) Flush(ctx *audiocore.PipelineContext) (audiocore.AudioBlock, error) {
	return audiocore.AudioBlock{}, nil
}
func (duplicateKeyedStage) Stop(ctx *audiocore.PipelineContext) {}
func (duplicateKeyedStage) StageKey() string                    { return "duplicate" }
