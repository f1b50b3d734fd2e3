/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transforms holds the built-in transform stages: gapless trim, transition
// gain, master gain, the channel mixer, and the sinc resampler.
package transforms

import (
	"math"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

const gaplessEntryDeclickMS = 2

// GaplessTrimStageKey is the stage key controls are routed/persisted against.
const GaplessTrimStageKey = "gapless_trim"

// GaplessTrimControl is the opaque control GaplessTrimStage.ApplyControl understands:
// reconfigure the trim spec and reset state as if resuming from positionMS.
type GaplessTrimControl struct {
	Spec       audiocore.GaplessTrimSpec
	Enabled    bool
	PositionMS int64
}

// GaplessTrimStage removes encoder-induced leading/trailing silence and ramps in the
// first ~2ms with an equal-power curve to mask decoder warm-up clicks.
type GaplessTrimStage struct {
	spec    audiocore.GaplessTrimSpec
	enabled bool

	channels   int
	sampleRate uint32

	initialHeadSamples   int
	headSamplesRemaining int
	tailHoldSamples      int
	tailBuffer           []float32
	pendingOutput        []float32

	entryRampTotalFrames   int
	entryRampAppliedFrames int
	entryRampActive        bool
}

func NewGaplessTrimStage() *GaplessTrimStage {
	return &GaplessTrimStage{}
}

func (s *GaplessTrimStage) StageKey() string { return GaplessTrimStageKey }

func (s *GaplessTrimStage) configure(spec audiocore.StreamSpec, trim audiocore.GaplessTrimSpec, enabled bool, positionMS int64) {
	s.channels = int(spec.Channels)
	if s.channels < 1 {
		s.channels = 1
	}
	s.sampleRate = spec.SampleRate
	if s.sampleRate < 1 {
		s.sampleRate = 1
	}
	s.enabled = enabled && !trim.Disabled()
	s.spec = trim

	if s.enabled {
		s.initialHeadSamples = int(trim.HeadFrames) * s.channels
		s.tailHoldSamples = int(trim.TailFrames) * s.channels
	} else {
		s.initialHeadSamples = 0
		s.tailHoldSamples = 0
	}
	s.entryRampTotalFrames = int(s.sampleRate) * gaplessEntryDeclickMS / 1000
	if s.entryRampTotalFrames < 1 {
		s.entryRampTotalFrames = 1
	}
	s.resetForSeek(positionMS)
}

func (s *GaplessTrimStage) resetForSeek(positionMS int64) {
	s.pendingOutput = s.pendingOutput[:0]
	s.tailBuffer = s.tailBuffer[:0]
	s.entryRampAppliedFrames = 0
	if positionMS <= 0 {
		s.headSamplesRemaining = s.initialHeadSamples
		s.entryRampActive = s.initialHeadSamples > 0
	} else {
		s.headSamplesRemaining = 0
		s.entryRampActive = false
	}
}

func (s *GaplessTrimStage) applyEntryRampInPlace(samples []float32) {
	if !s.entryRampActive || len(samples) == 0 {
		return
	}
	channels := s.channels
	if channels < 1 {
		channels = 1
	}
	frames := len(samples) / channels
	if frames == 0 {
		return
	}
	remaining := s.entryRampTotalFrames - s.entryRampAppliedFrames
	if remaining <= 0 {
		s.entryRampActive = false
		return
	}
	applyFrames := remaining
	if frames < applyFrames {
		applyFrames = frames
	}
	for frame := 0; frame < applyFrames; frame++ {
		progressFrame := s.entryRampAppliedFrames + frame + 1
		t := float32(progressFrame) / float32(s.entryRampTotalFrames)
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
		gain := float32(math.Sqrt(float64(t)))
		base := frame * channels
		for ch := 0; ch < channels; ch++ {
			samples[base+ch] *= gain
		}
	}
	s.entryRampAppliedFrames += applyFrames
	if s.entryRampAppliedFrames >= s.entryRampTotalFrames {
		s.entryRampActive = false
	}
}

func (s *GaplessTrimStage) pushDecodedSamples(samples []float32) {
	if !s.enabled {
		s.pendingOutput = append(s.pendingOutput, samples...)
		return
	}

	if s.headSamplesRemaining > 0 {
		trim := s.headSamplesRemaining
		if trim > len(samples) {
			trim = len(samples)
		}
		samples = samples[trim:]
		s.headSamplesRemaining -= trim
	}
	if len(samples) == 0 {
		return
	}

	s.applyEntryRampInPlace(samples)
	if s.tailHoldSamples == 0 {
		s.pendingOutput = append(s.pendingOutput, samples...)
		return
	}

	s.tailBuffer = append(s.tailBuffer, samples...)
	releasable := len(s.tailBuffer) - s.tailHoldSamples
	if releasable > 0 {
		s.pendingOutput = append(s.pendingOutput, s.tailBuffer[:releasable]...)
		s.tailBuffer = append(s.tailBuffer[:0], s.tailBuffer[releasable:]...)
	}
}

func (s *GaplessTrimStage) drainPendingInto(block *audiocore.AudioBlock) {
	block.Samples = append(block.Samples[:0], s.pendingOutput...)
	s.pendingOutput = s.pendingOutput[:0]
}

func (s *GaplessTrimStage) Prepare(spec audiocore.StreamSpec, ctx *audiocore.PipelineContext) (audiocore.StreamSpec, error) {
	s.configure(spec, s.spec, s.enabled, ctx.PositionMS)
	return spec, nil
}

func (s *GaplessTrimStage) SyncRuntimeControl(ctx *audiocore.PipelineContext) error {
	if ctx.PendingSeekMS != nil {
		s.resetForSeek(*ctx.PendingSeekMS)
	}
	return nil
}

func (s *GaplessTrimStage) ApplyControl(control any, ctx *audiocore.PipelineContext) bool {
	c, ok := control.(GaplessTrimControl)
	if !ok {
		return false
	}
	spec := audiocore.StreamSpec{SampleRate: s.sampleRate, Channels: uint16(s.channels)}
	if spec.SampleRate == 0 {
		spec.SampleRate = 1
	}
	if spec.Channels == 0 {
		spec.Channels = 1
	}
	s.configure(spec, c.Spec, c.Enabled, c.PositionMS)
	return true
}

func (s *GaplessTrimStage) Process(block *audiocore.AudioBlock, ctx *audiocore.PipelineContext) audiocore.StageStatus {
	if block.Frames() == 0 {
		return audiocore.StageOk
	}
	incoming := block.Samples
	block.Samples = nil
	s.pushDecodedSamples(incoming)
	s.drainPendingInto(block)
	return audiocore.StageOk
}

func (s *GaplessTrimStage) Flush(ctx *audiocore.PipelineContext) (audiocore.AudioBlock, error) {
	s.pendingOutput = s.pendingOutput[:0]
	s.tailBuffer = s.tailBuffer[:0]
	return audiocore.AudioBlock{Channels: uint16(s.channels)}, nil
}

func (s *GaplessTrimStage) Stop(ctx *audiocore.PipelineContext) {
	s.pendingOutput = s.pendingOutput[:0]
	s.tailBuffer = s.tailBuffer[:0]
	s.headSamplesRemaining = 0
	s.entryRampAppliedFrames = 0
	s.entryRampActive = false
}
