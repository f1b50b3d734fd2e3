/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transforms

import (
	"math"
	"sync/atomic"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

// MasterGainStageKey is the stage key master gain controls are routed/persisted against.
const MasterGainStageKey = "master_gain"

// audioTaperExponent is the exponent in the audio taper curve 10^(-exponent*(1-level)).
// The exact value is an audible choice, not a correctness property.
const audioTaperExponent = 3.0

// MasterGainControl is the opaque control MasterGainStage.ApplyControl understands.
type MasterGainControl struct {
	Level  float32
	RampMS uint32
	Curve  *audiocore.GainCurve
}

// MasterGainHotState is the value type held behind a SharedMasterGainHotControl: the
// level, ramp and curve a listener last requested, plus the version that changed it.
type MasterGainHotState struct {
	Level   float32
	RampMS  uint32
	Curve   *audiocore.GainCurve
	Version uint64
}

// SharedMasterGainHotControl is a lock-free snapshot published by a control surface (the
// UI, a remote control message) and consumed by the master gain stage once per block.
// Readers never block the writer and vice versa: writes swap in a new immutable
// snapshot via atomic.Pointer, there is no mutex on the hot path.
type SharedMasterGainHotControl struct {
	snapshot atomic.Pointer[MasterGainHotState]
	version  atomic.Uint64
	mirror   atomic.Pointer[chan MasterGainHotState]
}

// NewSharedMasterGainHotControl returns a hot control primed at unity gain.
func NewSharedMasterGainHotControl() *SharedMasterGainHotControl {
	h := &SharedMasterGainHotControl{}
	h.snapshot.Store(&MasterGainHotState{Level: 1, Version: 0})
	return h
}

// Version returns the current snapshot's version. The master gain stage compares this
// against the last version it observed to decide whether to re-read the snapshot.
func (h *SharedMasterGainHotControl) Version() uint64 {
	return h.snapshot.Load().Version
}

// Snapshot returns the currently published state.
func (h *SharedMasterGainHotControl) Snapshot() MasterGainHotState {
	return *h.snapshot.Load()
}

// SetMirrorChan installs a channel that Set publishes every new snapshot onto,
// non-blockingly, for an out-of-process mirror (a Redis hash, a metrics exporter) to
// consume. Passing nil removes any previously installed mirror. The send never blocks
// the caller: a full channel simply drops the snapshot, same non-blocking-publish
// convention as internal/events.Bus.
func (h *SharedMasterGainHotControl) SetMirrorChan(ch chan MasterGainHotState) {
	if ch == nil {
		h.mirror.Store(nil)
		return
	}
	h.mirror.Store(&ch)
}

// Set publishes a new level/ramp/curve and bumps the version, waking any stage that
// polls it on its next block.
func (h *SharedMasterGainHotControl) Set(level float32, rampMS uint32, curve *audiocore.GainCurve) {
	version := h.version.Add(1)
	state := MasterGainHotState{Level: level, RampMS: rampMS, Curve: curve, Version: version}
	h.snapshot.Store(&state)
	if chPtr := h.mirror.Load(); chPtr != nil {
		select {
		case (*chPtr) <- state:
		default:
		}
	}
}

// levelToGain maps a [0,1] level to a linear gain under the given curve.
func levelToGain(curve audiocore.GainCurve, level float32) float32 {
	switch curve {
	case audiocore.GainLinear:
		return level
	case audiocore.GainAudioTaper:
		return float32(math.Pow(10, -audioTaperExponent*float64(1-level)))
	default:
		return float32(math.Pow(10, -audioTaperExponent*float64(1-level)))
	}
}

// MasterGainStage applies a listener-controlled overall gain, ramped smoothly on
// change and optionally driven by a shared hot control for zero-latency UI feedback.
type MasterGainStage struct {
	level      float32
	sampleRate uint32
	channels   int

	currentGain           float32
	targetGain            float32
	rampRemainingFrames   int
	curve                 audiocore.GainCurve
	hotControl            *SharedMasterGainHotControl
	lastSeenHotVersion    uint64
}

func NewMasterGainStage() *MasterGainStage {
	return &MasterGainStage{
		level:       1,
		sampleRate:  1,
		channels:    1,
		currentGain: 1,
		targetGain:  1,
		curve:       audiocore.GainAudioTaper,
	}
}

// NewMasterGainStageWithHotControl returns a stage that additionally polls a shared
// hot control each block, retargeting whenever its version advances.
func NewMasterGainStageWithHotControl(hot *SharedMasterGainHotControl) *MasterGainStage {
	s := NewMasterGainStage()
	s.hotControl = hot
	return s
}

func (s *MasterGainStage) StageKey() string { return MasterGainStageKey }

func (s *MasterGainStage) applyTargetGain(targetGain float32, rampMS uint32) {
	targetGain = clamp01(targetGain)
	if rampMS == 0 || float32(math.Abs(float64(s.currentGain-targetGain))) <= epsilon32 {
		s.currentGain = targetGain
		s.targetGain = targetGain
		s.rampRemainingFrames = 0
		return
	}

	frames := int((uint64(s.sampleRate)*uint64(rampMS) + 999) / 1000)
	if frames < 1 {
		frames = 1
	}
	s.targetGain = targetGain
	s.rampRemainingFrames = frames
}

func (s *MasterGainStage) nextFrameGain() float32 {
	if s.rampRemainingFrames == 0 {
		s.currentGain = s.targetGain
		return s.currentGain
	}
	remaining := float32(s.rampRemainingFrames)
	s.currentGain += (s.targetGain - s.currentGain) / remaining
	s.rampRemainingFrames--
	if s.rampRemainingFrames == 0 {
		s.currentGain = s.targetGain
	}
	return clamp01(s.currentGain)
}

func (s *MasterGainStage) Prepare(spec audiocore.StreamSpec, ctx *audiocore.PipelineContext) (audiocore.StreamSpec, error) {
	s.sampleRate = spec.SampleRate
	if s.sampleRate < 1 {
		s.sampleRate = 1
	}
	s.channels = int(spec.Channels)
	if s.channels < 1 {
		s.channels = 1
	}
	s.level = clamp01(s.level)
	gain := clamp01(levelToGain(s.curve, s.level))
	s.currentGain = gain
	s.targetGain = gain
	s.rampRemainingFrames = 0
	return spec, nil
}

func (s *MasterGainStage) SyncRuntimeControl(ctx *audiocore.PipelineContext) error {
	if s.hotControl == nil {
		return nil
	}
	version := s.hotControl.Version()
	if version == s.lastSeenHotVersion {
		return nil
	}
	state := s.hotControl.Snapshot()
	if state.Curve != nil {
		s.curve = *state.Curve
	}
	s.level = clamp01(state.Level)
	target := clamp01(levelToGain(s.curve, s.level))
	s.applyTargetGain(target, state.RampMS)
	s.lastSeenHotVersion = version
	return nil
}

func (s *MasterGainStage) ApplyControl(control any, ctx *audiocore.PipelineContext) bool {
	c, ok := control.(MasterGainControl)
	if !ok {
		return false
	}
	if c.Curve != nil {
		s.curve = *c.Curve
	}
	s.level = clamp01(c.Level)
	target := clamp01(levelToGain(s.curve, s.level))
	s.applyTargetGain(target, c.RampMS)
	return true
}

func (s *MasterGainStage) Process(block *audiocore.AudioBlock, ctx *audiocore.PipelineContext) audiocore.StageStatus {
	if block.Frames() == 0 {
		return audiocore.StageOk
	}
	if s.rampRemainingFrames == 0 && s.currentGain <= 0 {
		for i := range block.Samples {
			block.Samples[i] = 0
		}
		return audiocore.StageOk
	}
	if s.rampRemainingFrames == 0 && float32(math.Abs(float64(s.currentGain-1))) < epsilon32 {
		return audiocore.StageOk
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
	return audiocore.StageOk
}

func (s *MasterGainStage) Flush(ctx *audiocore.PipelineContext) (audiocore.AudioBlock, error) {
	return audiocore.AudioBlock{Channels: uint16(s.channels)}, nil
}

func (s *MasterGainStage) Stop(ctx *audiocore.PipelineContext) {
	s.currentGain = s.targetGain
	s.rampRemainingFrames = 0
}

// epsilon32 mirrors f32::EPSILON for the "close enough, skip the ramp" comparisons.
const epsilon32 = 1.1920929e-7
