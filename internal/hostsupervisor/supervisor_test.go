/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hostsupervisor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/decodeworker"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/pipeline"
	"github.com/friendsincode/grimnir_audioengine/internal/controlactor"
	"github.com/friendsincode/grimnir_audioengine/internal/events"
)

type nopSource struct{}

func (nopSource) Prepare(input audiocore.InputRef, ctx *audiocore.PipelineContext) (audiocore.SourceHandle, error) {
	return audiocore.NopSourceHandle{}, nil
}

type nopDecoder struct{ spec audiocore.StreamSpec }

func (d *nopDecoder) Prepare(source audiocore.SourceHandle, ctx *audiocore.PipelineContext) (audiocore.StreamSpec, error) {
	return d.spec, nil
}
func (d *nopDecoder) NextBlock(ctx *audiocore.PipelineContext) (audiocore.AudioBlock, bool, error) {
	return audiocore.AudioBlock{}, true, nil
}
func (d *nopDecoder) Seek(positionMS int64, ctx *audiocore.PipelineContext) error { return nil }
func (d *nopDecoder) Stop(ctx *audiocore.PipelineContext)                        {}

type nopSink struct{}

func (nopSink) Prepare(spec audiocore.StreamSpec, ctx *audiocore.PipelineContext) error { return nil }
func (nopSink) SyncRuntimeControl(ctx *audiocore.PipelineContext) error                 { return nil }
func (nopSink) Write(block *audiocore.AudioBlock, ctx *audiocore.PipelineContext) audiocore.StageStatus {
	return audiocore.StageOk
}
func (nopSink) Flush(ctx *audiocore.PipelineContext) error { return nil }
func (nopSink) Stop(ctx *audiocore.PipelineContext)        {}

func testBuilder() Builder {
	return func() (*decodeworker.Worker, *controlactor.Actor) {
		bus := events.NewBus()
		actor := controlactor.New(nil, bus, nil, 50, 100*time.Millisecond)
		factory := func(input audiocore.InputRef) (*pipeline.PipelineRunner, error) {
			decoder := &nopDecoder{spec: audiocore.StreamSpec{SampleRate: 1000, Channels: 1}}
			assembled := pipeline.FromStatic(nopSource{}, decoder, nil, []audiocore.SinkStage{nopSink{}})
			return assembled.IntoRunner(nil)
		}
		worker := decodeworker.StartDecodeWorker(factory, actor, nil,
			audiocore.SinkLatencyConfig{BufferedMS: 200},
			audiocore.SinkRecoveryConfig{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 100 * time.Millisecond},
			audiocore.GainTransitionConfig{},
			decodeworker.LoopTimeouts{Idle: 5 * time.Millisecond, PlayingPendingBlock: time.Millisecond, PlayingIdle: time.Millisecond},
			50*time.Millisecond)
		actor.BindWorker(worker)
		return worker, actor
	}
}

func TestSupervisorStartAndStop(t *testing.T) {
	sup := Start(testBuilder(), zerolog.Nop())
	if sup.Actor() == nil {
		t.Fatal("expected a live actor after Start")
	}
	if err := sup.Actor().Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSupervisorHealthReportsNoRestarts(t *testing.T) {
	sup := Start(testBuilder(), zerolog.Nop())
	defer sup.Stop()
	h := sup.Health()
	if h.RestartCount != 0 {
		t.Fatalf("expected zero restarts, got %d", h.RestartCount)
	}
}
