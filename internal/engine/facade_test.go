/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"testing"
	"time"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/decodeworker"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/pipeline"
	"github.com/friendsincode/grimnir_audioengine/internal/controlactor"
	"github.com/friendsincode/grimnir_audioengine/internal/events"
)

type fakeSource struct{}

func (fakeSource) Prepare(input audiocore.InputRef, ctx *audiocore.PipelineContext) (audiocore.SourceHandle, error) {
	return audiocore.NopSourceHandle{}, nil
}

type fakeDecoder struct {
	spec audiocore.StreamSpec
}

func (d *fakeDecoder) Prepare(source audiocore.SourceHandle, ctx *audiocore.PipelineContext) (audiocore.StreamSpec, error) {
	return d.spec, nil
}
func (d *fakeDecoder) NextBlock(ctx *audiocore.PipelineContext) (audiocore.AudioBlock, bool, error) {
	return audiocore.AudioBlock{}, true, nil
}
func (d *fakeDecoder) Seek(positionMS int64, ctx *audiocore.PipelineContext) error { return nil }
func (d *fakeDecoder) Stop(ctx *audiocore.PipelineContext)                        {}

type fakeSink struct{}

func (fakeSink) Prepare(spec audiocore.StreamSpec, ctx *audiocore.PipelineContext) error { return nil }
func (fakeSink) SyncRuntimeControl(ctx *audiocore.PipelineContext) error                 { return nil }
func (fakeSink) Write(block *audiocore.AudioBlock, ctx *audiocore.PipelineContext) audiocore.StageStatus {
	return audiocore.StageOk
}
func (fakeSink) Flush(ctx *audiocore.PipelineContext) error { return nil }
func (fakeSink) Stop(ctx *audiocore.PipelineContext)        {}

func newTestEngine(t *testing.T) (*Engine, *decodeworker.Worker) {
	t.Helper()
	bus := events.NewBus()
	actor := controlactor.New(nil, bus, nil, 50, 100*time.Millisecond)
	factory := func(input audiocore.InputRef) (*pipeline.PipelineRunner, error) {
		decoder := &fakeDecoder{spec: audiocore.StreamSpec{SampleRate: 1000, Channels: 1}}
		assembled := pipeline.FromStatic(fakeSource{}, decoder, nil, []audiocore.SinkStage{fakeSink{}})
		return assembled.IntoRunner(nil)
	}
	worker := decodeworker.StartDecodeWorker(factory, actor, nil,
		audiocore.SinkLatencyConfig{BufferedMS: 200},
		audiocore.SinkRecoveryConfig{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 100 * time.Millisecond},
		audiocore.GainTransitionConfig{},
		decodeworker.LoopTimeouts{Idle: 5 * time.Millisecond, PlayingPendingBlock: time.Millisecond, PlayingIdle: time.Millisecond},
		50*time.Millisecond)
	actor.BindWorker(worker)
	return New(actor, nil), worker
}

func TestSetOutputSinkRouteAndClear(t *testing.T) {
	e := &Engine{}
	if _, ok := e.CurrentSinkRoute(); ok {
		t.Fatal("expected no route by default")
	}
	e.SetOutputSinkRoute(SinkRoute{PluginID: "p1", TypeID: "t1", Target: "out"})
	route, ok := e.CurrentSinkRoute()
	if !ok || route.PluginID != "p1" {
		t.Fatalf("expected route set, got %+v ok=%v", route, ok)
	}
	e.ClearOutputSinkRoute()
	if _, ok := e.CurrentSinkRoute(); ok {
		t.Fatal("expected route cleared")
	}
}

func TestReuseCurrentSessionIdentityCompatible(t *testing.T) {
	e := &Engine{}
	e.SetOutputSinkRoute(SinkRoute{PluginID: "p1", TypeID: "t1", Target: "out"})
	spec := audiocore.StreamSpec{SampleRate: 48000, Channels: 2}
	e.NoteActiveSession(spec)

	if !e.ReuseCurrentSession(spec, spec) {
		t.Fatal("expected identical spec/route to be reuse-compatible")
	}

	differentSpec := audiocore.StreamSpec{SampleRate: 44100, Channels: 2}
	if e.ReuseCurrentSession(spec, differentSpec) {
		t.Fatal("expected differing sample rate to not be reuse-compatible")
	}
}

func TestReuseCurrentSessionNoRoute(t *testing.T) {
	e := &Engine{}
	spec := audiocore.StreamSpec{SampleRate: 48000, Channels: 2}
	if e.ReuseCurrentSession(spec, spec) {
		t.Fatal("expected no reuse when no route has been set")
	}
}

func TestSetOutputOptionsAppliesMutations(t *testing.T) {
	e, worker := newTestEngine(t)
	defer func() { _ = e.Shutdown(); <-worker.Done() }()

	if err := e.SetOutputOptions(OutputOptions{MatchTrackSampleRate: true, GaplessPlayback: true, SeekTrackFade: false}); err != nil {
		t.Fatalf("set output options: %v", err)
	}
}
