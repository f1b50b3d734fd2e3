/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decodeworker

import (
	"sync"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/pipeline"
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

// recordingEventSink collects every published event behind a mutex, safe for the
// worker goroutine and the test goroutine to share.
type recordingEventSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEventSink) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEventSink) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func testFactory(t *testing.T) RunnerFactory {
	return func(input audiocore.InputRef) (*pipeline.PipelineRunner, error) {
		decoder := &fakeDecoder{
			spec:   audiocore.StreamSpec{SampleRate: 1000, Channels: 1},
			blocks: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		}
		assembled := pipeline.FromStatic(fakeSource{}, decoder, nil, []audiocore.SinkStage{fakeSink{}})
		return assembled.IntoRunner(nil)
	}
}

func defaultTimeouts() LoopTimeouts {
	return LoopTimeouts{
		Idle:                5 * time.Millisecond,
		PlayingPendingBlock: time.Millisecond,
		PlayingIdle:         time.Millisecond,
	}
}

func waitForEvent(t *testing.T, sink *recordingEventSink, kind EventKind, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, k := range sink.kinds() {
			if k == kind {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for event kind %d, saw %v", kind, sink.kinds())
}

func TestDecodeWorkerOpenPlaysToEOF(t *testing.T) {
	events := &recordingEventSink{}
	worker := StartDecodeWorker(testFactory(t), events, nil,
		audiocore.SinkLatencyConfig{BufferedMS: 200},
		audiocore.SinkRecoveryConfig{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 100 * time.Millisecond},
		audiocore.GainTransitionConfig{RampMS: 50, OpenFadeInMS: 50},
		defaultTimeouts(), 50*time.Millisecond)

	reply := make(chan error, 1)
	worker.Send(Command{Kind: CmdOpen, Input: audiocore.InputRef{TrackToken: "t1"}, StartPlaying: true, Reply: reply})
	if err := <-reply; err != nil {
		t.Fatalf("open: %v", err)
	}

	waitForEvent(t, events, EventEOF, time.Second)

	shutdownReply := make(chan error, 1)
	worker.Send(Command{Kind: CmdShutdown, Reply: shutdownReply})
	<-shutdownReply
	<-worker.Done()
}

func TestDecodeWorkerPauseStopsStepping(t *testing.T) {
	events := &recordingEventSink{}
	worker := StartDecodeWorker(testFactory(t), events, nil,
		audiocore.SinkLatencyConfig{BufferedMS: 200},
		audiocore.SinkRecoveryConfig{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 100 * time.Millisecond},
		audiocore.GainTransitionConfig{},
		defaultTimeouts(), 50*time.Millisecond)

	reply := make(chan error, 1)
	worker.Send(Command{Kind: CmdOpen, Input: audiocore.InputRef{TrackToken: "t1"}, StartPlaying: false, Reply: reply})
	if err := <-reply; err != nil {
		t.Fatalf("open: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	for _, k := range events.kinds() {
		if k == EventEOF {
			t.Fatalf("did not expect EOF while paused")
		}
	}

	shutdownReply := make(chan error, 1)
	worker.Send(Command{Kind: CmdShutdown, Reply: shutdownReply})
	<-shutdownReply
	<-worker.Done()
}
