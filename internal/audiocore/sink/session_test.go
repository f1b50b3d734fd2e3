/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sink

import (
	"testing"
	"time"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

type testSink struct{}

func (testSink) Prepare(spec audiocore.StreamSpec, ctx *audiocore.PipelineContext) error { return nil }
func (testSink) SyncRuntimeControl(ctx *audiocore.PipelineContext) error                 { return nil }
func (testSink) Write(block *audiocore.AudioBlock, ctx *audiocore.PipelineContext) audiocore.StageStatus {
	return audiocore.StageOk
}
func (testSink) Flush(ctx *audiocore.PipelineContext) error { return nil }
func (testSink) Stop(ctx *audiocore.PipelineContext)        {}

type testSinkPlan struct {
	consumed bool
}

func (p *testSinkPlan) RouteFingerprint() uint64 { return 0 }

func (p *testSinkPlan) IntoSinks() ([]audiocore.SinkStage, error) {
	p.consumed = true
	return []audiocore.SinkStage{testSink{}}, nil
}

func newTestSinkPlan() audiocore.SinkPlan { return &testSinkPlan{} }

func TestSessionActivateReusesActiveSinkWhenSpecAndRouteMatch(t *testing.T) {
	session := NewSession(audiocore.SinkLatencyConfig{}, 50*time.Millisecond)
	var plan audiocore.SinkPlan = newTestSinkPlan()
	spec := audiocore.StreamSpec{SampleRate: 48000, Channels: 2}
	ctx := audiocore.NewPipelineContext()

	reused, err := session.Activate(spec, 7, &plan, ctx, ImmediateCutover)
	if err != nil {
		t.Fatalf("initial activation should succeed: %v", err)
	}
	if reused {
		t.Fatalf("expected fresh activation, got reused")
	}
	if !session.IsActiveFor(spec, 7) {
		t.Fatalf("session should be active for (spec, 7)")
	}

	var noPlan audiocore.SinkPlan
	reused, err = session.Activate(spec, 7, &noPlan, ctx, ImmediateCutover)
	if err != nil {
		t.Fatalf("reuse activation should succeed: %v", err)
	}
	if !reused {
		t.Fatalf("expected reuse")
	}
	session.Shutdown(false)
}

func TestSessionForceRecreateRequiresFreshSinkPlan(t *testing.T) {
	session := NewSession(audiocore.SinkLatencyConfig{}, 50*time.Millisecond)
	var plan audiocore.SinkPlan = newTestSinkPlan()
	spec := audiocore.StreamSpec{SampleRate: 48000, Channels: 2}
	ctx := audiocore.NewPipelineContext()

	if _, err := session.Activate(spec, 9, &plan, ctx, ImmediateCutover); err != nil {
		t.Fatalf("initial activation should succeed: %v", err)
	}

	var noPlan audiocore.SinkPlan
	_, err := session.Activate(spec, 9, &noPlan, ctx, ForceRecreate)
	if err == nil {
		t.Fatalf("force recreate without sink plan should fail")
	}
	pe, ok := err.(*audiocore.PipelineError)
	if !ok || pe.Kind != audiocore.ErrKindStageFailure {
		t.Fatalf("expected stage-failure error, got %v", err)
	}

	var replacement audiocore.SinkPlan = newTestSinkPlan()
	reused, err := session.Activate(spec, 9, &replacement, ctx, ForceRecreate)
	if err != nil {
		t.Fatalf("force recreate with replacement sink plan should succeed: %v", err)
	}
	if reused {
		t.Fatalf("expected fresh activation after recreate")
	}
	session.Shutdown(false)
}

func TestSessionOperationsFailWhenSinkIsNotPrepared(t *testing.T) {
	session := NewSession(audiocore.SinkLatencyConfig{}, 50*time.Millisecond)
	ctx := audiocore.NewPipelineContext()
	block := audiocore.AudioBlock{Channels: 2, Samples: []float32{0, 0}}

	if err := session.SyncRuntimeControl(ctx); err != audiocore.ErrNotPrepared {
		t.Fatalf("expected ErrNotPrepared, got %v", err)
	}
	if err := session.DropQueued(); err != audiocore.ErrNotPrepared {
		t.Fatalf("expected ErrNotPrepared, got %v", err)
	}
	if err := session.Drain(); err != audiocore.ErrNotPrepared {
		t.Fatalf("expected ErrNotPrepared, got %v", err)
	}
	if err := session.TrySendBlock(block); err != ErrSinkWriteDisconnected {
		t.Fatalf("expected ErrSinkWriteDisconnected, got %v", err)
	}

	session.Shutdown(false)
}
