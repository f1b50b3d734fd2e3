/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package controlactor

import (
	"testing"
	"time"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/decodeworker"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/pipeline"
	"github.com/friendsincode/grimnir_audioengine/internal/events"
)

type fakeSource struct{}

func (fakeSource) Prepare(input audiocore.InputRef, ctx *audiocore.PipelineContext) (audiocore.SourceHandle, error) {
	return audiocore.NopSourceHandle{}, nil
}

type fakeDecoder struct {
	spec   audiocore.StreamSpec
	blocks [][]float32
	index  int
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

func (d *fakeDecoder) Seek(positionMS int64, ctx *audiocore.PipelineContext) error {
	d.index = 0
	return nil
}
func (d *fakeDecoder) Stop(ctx *audiocore.PipelineContext) {}

type fakeSink struct{}

func (fakeSink) Prepare(spec audiocore.StreamSpec, ctx *audiocore.PipelineContext) error { return nil }
func (fakeSink) SyncRuntimeControl(ctx *audiocore.PipelineContext) error                 { return nil }
func (fakeSink) Write(block *audiocore.AudioBlock, ctx *audiocore.PipelineContext) audiocore.StageStatus {
	return audiocore.StageOk
}
func (fakeSink) Flush(ctx *audiocore.PipelineContext) error { return nil }
func (fakeSink) Stop(ctx *audiocore.PipelineContext)        {}

func testFactory() decodeworker.RunnerFactory {
	return func(input audiocore.InputRef) (*pipeline.PipelineRunner, error) {
		decoder := &fakeDecoder{
			spec:   audiocore.StreamSpec{SampleRate: 1000, Channels: 1},
			blocks: [][]float32{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}},
		}
		assembled := pipeline.FromStatic(fakeSource{}, decoder, nil, []audiocore.SinkStage{fakeSink{}})
		return assembled.IntoRunner(nil)
	}
}

func newTestActor(t *testing.T) (*Actor, *decodeworker.Worker) {
	t.Helper()
	bus := events.NewBus()
	// The actor must exist before the worker starts, since the worker publishes to it
	// directly; its own worker field is filled in once the worker is running.
	actor := New(nil, bus, nil, 50, 100*time.Millisecond)
	worker := decodeworker.StartDecodeWorker(testFactory(), actor, nil,
		audiocore.SinkLatencyConfig{BufferedMS: 200},
		audiocore.SinkRecoveryConfig{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 100 * time.Millisecond},
		audiocore.GainTransitionConfig{},
		decodeworker.LoopTimeouts{Idle: 5 * time.Millisecond, PlayingPendingBlock: time.Millisecond, PlayingIdle: time.Millisecond},
		50*time.Millisecond)
	actor.BindWorker(worker)
	return actor, worker
}

func TestActorStopClearsTrackAndPosition(t *testing.T) {
	actor, worker := newTestActor(t)
	defer func() { _ = actor.Shutdown(); <-worker.Done() }()

	if err := actor.SwitchTrack(audiocore.InputRef{TrackToken: "t1"}, false); err != nil {
		t.Fatalf("switch track: %v", err)
	}
	if err := actor.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	snap := actor.Snapshot()
	if snap.CurrentTrack != nil {
		t.Fatalf("expected current track cleared after stop, got %+v", snap.CurrentTrack)
	}
	if snap.PositionMS != 0 {
		t.Fatalf("expected position reset after stop, got %d", snap.PositionMS)
	}
	if snap.State != audiocore.PlayerStopped {
		t.Fatalf("expected stopped state, got %v", snap.State)
	}
}

func TestActorEOFClearsTrackAndPosition(t *testing.T) {
	actor, worker := newTestActor(t)
	defer func() { _ = actor.Shutdown(); <-worker.Done() }()

	if err := actor.SwitchTrack(audiocore.InputRef{TrackToken: "t1"}, false); err != nil {
		t.Fatalf("switch track: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := actor.Snapshot()
		if snap.CurrentTrack == nil && snap.State == audiocore.PlayerStopped {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for EOF to clear the track")
}
