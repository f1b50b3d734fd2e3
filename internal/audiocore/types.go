/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audiocore holds the wire-free data model and stage contracts shared by every
// component of the playback engine: pipeline assembly, the decode worker, the sink
// session/worker, the built-in transforms, and the ASIO sidecar.
package audiocore

import (
	"fmt"
	"time"
)

// StreamSpec identifies the audio format crossing a stage boundary. Equal by value.
type StreamSpec struct {
	SampleRate uint32
	Channels   uint16
}

func (s StreamSpec) String() string {
	return fmt.Sprintf("%dHz/%dch", s.SampleRate, s.Channels)
}

// Valid reports whether the spec satisfies its invariants (sample_rate >= 1, channels >= 1).
func (s StreamSpec) Valid() bool {
	return s.SampleRate >= 1 && s.Channels >= 1
}

// AudioBlock is a contiguous batch of interleaved f32 samples handed between stages.
type AudioBlock struct {
	Channels uint16
	Samples  []float32
}

// Frames returns the number of sample frames in the block (samples / channels).
func (b AudioBlock) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / int(b.Channels)
}

// Valid checks the block invariant: samples.len() % channels == 0.
func (b AudioBlock) Valid() bool {
	if b.Channels == 0 {
		return len(b.Samples) == 0
	}
	return len(b.Samples)%int(b.Channels) == 0
}

// InputRef names what to play. TrackToken is the only specified variant: an opaque,
// non-empty identifier the source stage knows how to resolve.
type InputRef struct {
	TrackToken string
}

func (r InputRef) Valid() bool { return r.TrackToken != "" }

// GaplessTrimSpec describes encoder-padding trim at the head and tail of a decoded stream.
// Disabled iff both fields are zero.
type GaplessTrimSpec struct {
	HeadFrames uint32
	TailFrames uint32
}

func (s GaplessTrimSpec) Disabled() bool { return s.HeadFrames == 0 && s.TailFrames == 0 }

// PipelineContext is per-track scratch carried along with the runner.
type PipelineContext struct {
	PositionMS    int64
	PendingSeekMS *int64
	Spec          *StreamSpec

	// StageScratch holds stage-private signals keyed by stage key (e.g. the gapless
	// trim stage's "was this a seek-to-zero" flag). Opaque to everything but the owning stage.
	StageScratch map[string]any
}

// NewPipelineContext returns a zeroed context ready for prepare().
func NewPipelineContext() *PipelineContext {
	return &PipelineContext{StageScratch: make(map[string]any)}
}

// Fresh resets all scratch state except the caller-supplied resume position, matching
// the "fresh context" definition in §3.
func (c *PipelineContext) Fresh(resumePositionMS int64) *PipelineContext {
	return &PipelineContext{
		PositionMS:   resumePositionMS,
		StageScratch: make(map[string]any),
	}
}

// RunnerState is the pipeline runner's own state machine, distinct from PlayerState.
type RunnerState int

const (
	RunnerIdle RunnerState = iota
	RunnerPlaying
	RunnerPaused
	RunnerStopping
)

func (s RunnerState) String() string {
	switch s {
	case RunnerIdle:
		return "idle"
	case RunnerPlaying:
		return "playing"
	case RunnerPaused:
		return "paused"
	case RunnerStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// PlayerState is the decode worker's externally-visible playback state.
type PlayerState int

const (
	PlayerStopped PlayerState = iota
	PlayerPaused
	PlayerPlaying
	PlayerBuffering
)

func (s PlayerState) String() string {
	switch s {
	case PlayerStopped:
		return "stopped"
	case PlayerPaused:
		return "paused"
	case PlayerPlaying:
		return "playing"
	case PlayerBuffering:
		return "buffering"
	default:
		return "unknown"
	}
}

// StopBehavior selects how a runner tears down on stop.
type StopBehavior int

const (
	// StopImmediate drops queued blocks, stops the decoder, stops the sink.
	StopImmediate StopBehavior = iota
	// StopDrainSink flushes transform tails and drains the sink queue before stopping.
	StopDrainSink
)

// StepResult is the outcome of one PipelineRunner.Step call.
type StepResult struct {
	Kind   StepKind
	Frames int
}

type StepKind int

const (
	StepIdle StepKind = iota
	StepProduced
	StepEOF
)

// SinkActivationMode selects how SinkSession.Activate reconciles the desired route
// against the currently active worker.
type SinkActivationMode int

const (
	// SinkPreserveQueued keeps queued sink frames; used for drained, seamless handover.
	SinkPreserveQueued SinkActivationMode = iota
	// SinkImmediateCutover drops queued sink frames before switching.
	SinkImmediateCutover
	// SinkForceRecreate always rebuilds the sink graph regardless of spec/route match.
	SinkForceRecreate
)

// GainCurve selects how transition gain and master gain interpolate between levels.
type GainCurve int

const (
	GainLinear GainCurve = iota
	GainEqualPower
	GainAudioTaper
)

// TransitionTimePolicy controls whether a transition-gain ramp runs to its nominal
// length or is capped to the caller-supplied available-frames hint.
type TransitionTimePolicy int

const (
	TransitionExact TransitionTimePolicy = iota
	TransitionFitToAvailable
)

// LFEMode selects how the mixer handles the low-frequency-effects channel when downmixing.
type LFEMode int

const (
	LFEMute LFEMode = iota
	LFEMixToFront
)

// ResampleQuality selects the sinc resampler's quality/latency tradeoff (§4.3).
type ResampleQuality int

const (
	ResampleFast ResampleQuality = iota
	ResampleBalanced
	ResampleHigh
	ResampleUltra
)

func (q ResampleQuality) String() string {
	switch q {
	case ResampleFast:
		return "fast"
	case ResampleBalanced:
		return "balanced"
	case ResampleHigh:
		return "high"
	case ResampleUltra:
		return "ultra"
	default:
		return "unknown"
	}
}

// SinkRecoveryConfig configures the decode worker's exponential sink-recovery backoff.
type SinkRecoveryConfig struct {
	MaxAttempts    uint32
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SinkLatencyConfig configures the sink worker's bounded queue sizing.
type SinkLatencyConfig struct {
	BufferedMS uint32
}

// QueueCapacity returns the sink worker's block queue capacity for the given sample rate,
// floored at one block.
func (c SinkLatencyConfig) QueueCapacity(sampleRate uint32) int {
	cap := int(uint64(sampleRate) * uint64(c.BufferedMS) / 1000)
	if cap < 1 {
		return 1
	}
	return cap
}

// GainTransitionConfig bundles the fade parameters applied around disruptive actions.
type GainTransitionConfig struct {
	RampMS       uint32
	Curve        GainCurve
	OpenFadeInMS uint32
}
