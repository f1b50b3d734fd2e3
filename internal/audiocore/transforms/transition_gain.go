/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transforms

import (
	"math"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

// TransitionGainStageKey is the stage key transition gain controls are routed against.
const TransitionGainStageKey = "transition_gain"

// GainTransitionRequest describes a fade the transition gain stage should run.
type GainTransitionRequest struct {
	TargetGain          float32
	RampMS              uint32
	AvailableFramesHint *uint32
	Curve               audiocore.GainCurve
	TimePolicy          audiocore.TransitionTimePolicy
}

// TransitionGainControl is the opaque control TransitionGainStage.ApplyControl understands.
type TransitionGainControl struct {
	Request GainTransitionRequest
}

// TransitionGainStage fades between gain levels before disruptive actions (seek,
// track switch, pause) and fades new tracks in from silence.
type TransitionGainStage struct {
	channels   int
	sampleRate uint32

	currentGain float32
	from        float32
	to          float32

	totalFrames     int
	remainingFrames int
	curve           audiocore.GainCurve
}

func NewTransitionGainStage() *TransitionGainStage {
	return &TransitionGainStage{
		channels:    1,
		sampleRate:  1,
		currentGain: 1,
		from:        1,
		to:          1,
		curve:       audiocore.GainEqualPower,
	}
}

func (s *TransitionGainStage) StageKey() string { return TransitionGainStageKey }

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *TransitionGainStage) configureTransition(req GainTransitionRequest) {
	targetGain := clamp01(req.TargetGain)
	if req.RampMS == 0 {
		s.currentGain = targetGain
		s.from = targetGain
		s.to = targetGain
		s.totalFrames = 0
		s.remainingFrames = 0
		return
	}

	nominalFrames := int((uint64(s.sampleRate)*uint64(req.RampMS) + 999) / 1000)
	if nominalFrames < 1 {
		nominalFrames = 1
	}
	effectiveFrames := nominalFrames
	if req.TimePolicy == audiocore.TransitionFitToAvailable && req.AvailableFramesHint != nil {
		hint := int(*req.AvailableFramesHint)
		if hint < effectiveFrames {
			effectiveFrames = hint
		}
	}
	if effectiveFrames == 0 {
		s.currentGain = targetGain
		s.from = targetGain
		s.to = targetGain
		s.totalFrames = 0
		s.remainingFrames = 0
		return
	}

	s.from = s.currentGain
	s.to = targetGain
	s.totalFrames = effectiveFrames
	s.remainingFrames = effectiveFrames
	s.curve = req.Curve
}

func (s *TransitionGainStage) interpolateGain(from, to, progress float32) float32 {
	from = clamp01(from)
	to = clamp01(to)
	progress = clamp01(progress)
	switch s.curve {
	case audiocore.GainLinear:
		return from + (to-from)*progress
	case audiocore.GainEqualPower:
		fromPower := from * from
		toPower := to * to
		power := fromPower + (toPower-fromPower)*progress
		if power < 0 {
			power = 0
		}
		return clamp01(float32(math.Sqrt(float64(power))))
	default:
		return from + (to-from)*progress
	}
}

func (s *TransitionGainStage) nextFrameGain() float32 {
	if s.remainingFrames == 0 || s.totalFrames == 0 {
		s.currentGain = s.to
		return s.currentGain
	}
	progressed := s.totalFrames - s.remainingFrames + 1
	progress := float32(progressed) / float32(s.totalFrames)
	gain := s.interpolateGain(s.from, s.to, progress)
	s.remainingFrames--
	if s.remainingFrames == 0 {
		s.currentGain = s.to
	} else {
		s.currentGain = gain
	}
	return s.currentGain
}

func (s *TransitionGainStage) applyInPlace(block *audiocore.AudioBlock) {
	if block.Frames() == 0 {
		return
	}
	channels := s.channels
	if channels < 1 {
		channels = 1
	}
	frames := len(block.Samples) / channels
	for frame := 0; frame < frames; frame++ {
		gain := s.nextFrameGain()
		base := frame * channels
		for ch := 0; ch < channels; ch++ {
			block.Samples[base+ch] *= gain
		}
	}
}

func (s *TransitionGainStage) Prepare(spec audiocore.StreamSpec, ctx *audiocore.PipelineContext) (audiocore.StreamSpec, error) {
	s.channels = int(spec.Channels)
	if s.channels < 1 {
		s.channels = 1
	}
	s.sampleRate = spec.SampleRate
	if s.sampleRate < 1 {
		s.sampleRate = 1
	}
	s.currentGain = 1
	s.from = 1
	s.to = 1
	s.totalFrames = 0
	s.remainingFrames = 0
	return spec, nil
}

func (s *TransitionGainStage) SyncRuntimeControl(ctx *audiocore.PipelineContext) error { return nil }

func (s *TransitionGainStage) ApplyControl(control any, ctx *audiocore.PipelineContext) bool {
	c, ok := control.(TransitionGainControl)
	if !ok {
		return false
	}
	s.configureTransition(c.Request)
	return true
}

func (s *TransitionGainStage) Process(block *audiocore.AudioBlock, ctx *audiocore.PipelineContext) audiocore.StageStatus {
	s.applyInPlace(block)
	return audiocore.StageOk
}

func (s *TransitionGainStage) Flush(ctx *audiocore.PipelineContext) (audiocore.AudioBlock, error) {
	return audiocore.AudioBlock{Channels: uint16(s.channels)}, nil
}

func (s *TransitionGainStage) Stop(ctx *audiocore.PipelineContext) {
	s.from = s.currentGain
	s.to = s.currentGain
	s.totalFrames = 0
	s.remainingFrames = 0
}

// CurrentGain exposes the stage's current scalar gain, used by the decode worker when
// priming a fresh transition gain stage to zero before a disruptive action.
func (s *TransitionGainStage) CurrentGain() float32 { return s.currentGain }
