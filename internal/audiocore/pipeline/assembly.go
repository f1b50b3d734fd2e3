/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package pipeline assembles per-track decode pipelines: source, decoder, the ordered
// transform chain with its built-in slots, and the sink plan that produces the
// eventual sink stages. It also drives the assembled pipeline one step at a time.
package pipeline

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/transforms"
)

// BuiltinTransformSlots toggles the engine's built-in transforms on assembly. All
// default to enabled; a listener can turn any of them off via pipeline mutation.
type BuiltinTransformSlots struct {
	GaplessTrim    bool
	TransitionGain bool
	MasterGain     bool
}

func DefaultBuiltinTransformSlots() BuiltinTransformSlots {
	return BuiltinTransformSlots{GaplessTrim: true, TransitionGain: true, MasterGain: true}
}

// MixerPlan names the mixer's declared output layout, if one is planned for this track.
type MixerPlan struct {
	TargetChannels uint16
	LFEMode        audiocore.LFEMode
}

func NewMixerPlan(targetChannels uint16, lfeMode audiocore.LFEMode) MixerPlan {
	if targetChannels < 1 {
		targetChannels = 1
	}
	return MixerPlan{TargetChannels: targetChannels, LFEMode: lfeMode}
}

// ResamplerPlan names the resampler's declared target rate and quality, if planned.
type ResamplerPlan struct {
	TargetSampleRate uint32
	Quality          audiocore.ResampleQuality
}

func NewResamplerPlan(targetSampleRate uint32, quality audiocore.ResampleQuality) ResamplerPlan {
	if targetSampleRate < 1 {
		targetSampleRate = 1
	}
	return ResamplerPlan{TargetSampleRate: targetSampleRate, Quality: quality}
}

// TransformChain holds the user/plugin transforms that sit around the mixer and
// resampler: pre_mix runs before layout/rate conversion, post_mix after.
type TransformChain struct {
	PreMix  []audiocore.TransformStage
	PostMix []audiocore.TransformStage
}

// AssembledDecodePipeline is everything needed to build one track's runner: the
// source/decoder pair, the user transform chain, the optional mixer/resampler plans,
// and which built-in slots should be spliced in around them.
type AssembledDecodePipeline struct {
	Source         audiocore.SourceStage
	Decoder        audiocore.DecoderStage
	Transforms     []audiocore.TransformStage // legacy flat slot, appended after mixer/resampler
	TransformChain TransformChain
	Mixer          *MixerPlan
	Resampler      *ResamplerPlan
	BuiltinSlots   BuiltinTransformSlots
}

// SinkPlan is an alias of audiocore.SinkPlan, kept local so callers assembling a
// pipeline don't need to import audiocore just to name the type.
type SinkPlan = audiocore.SinkPlan

// StaticSinkPlan wraps an already-built sink list with a precomputed fingerprint.
type StaticSinkPlan struct {
	sinks            []audiocore.SinkStage
	routeFingerprint uint64
	consumed         bool
}

func NewStaticSinkPlan(sinks []audiocore.SinkStage) *StaticSinkPlan {
	return &StaticSinkPlan{sinks: sinks}
}

func NewStaticSinkPlanWithFingerprint(sinks []audiocore.SinkStage, routeFingerprint uint64) *StaticSinkPlan {
	return &StaticSinkPlan{sinks: sinks, routeFingerprint: routeFingerprint}
}

func (p *StaticSinkPlan) RouteFingerprint() uint64 { return p.routeFingerprint }

func (p *StaticSinkPlan) IntoSinks() ([]audiocore.SinkStage, error) {
	if p.consumed {
		return nil, audiocore.NewStageFailure("sink plan already consumed")
	}
	p.consumed = true
	return p.sinks, nil
}

// RouteFingerprint hashes a sink route's identity (plugin id, type id, target id,
// serialized config, backend kind) into the stable u64 used to decide whether two
// activation requests target the same sink.
func RouteFingerprint(pluginID, typeID, targetID, serializedConfig, backendKind string) uint64 {
	h := xxhash.New()
	for _, part := range []string{pluginID, typeID, targetID, serializedConfig, backendKind} {
		h.WriteString(part)
		h.Write([]byte{0}) // separator so "ab","c" and "a","bc" don't collide
	}
	return h.Sum64()
}

// AssembledPipeline pairs a decode pipeline with the sink plan that will supply its
// sink stages once activated.
type AssembledPipeline struct {
	Decode   AssembledDecodePipeline
	SinkPlan SinkPlan
}

// FromStatic builds a pipeline with a plain sink list and no mixer/resampler/user
// transform chain beyond the flat legacy slot — the common case for tests and simple
// routes.
func FromStatic(source audiocore.SourceStage, decoder audiocore.DecoderStage, xforms []audiocore.TransformStage, sinks []audiocore.SinkStage) AssembledPipeline {
	return AssembledPipeline{
		Decode: AssembledDecodePipeline{
			Source:       source,
			Decoder:      decoder,
			Transforms:   xforms,
			BuiltinSlots: DefaultBuiltinTransformSlots(),
		},
		SinkPlan: NewStaticSinkPlan(sinks),
	}
}

// IntoRunner splices the built-in transform slots around the user chain in the fixed
// order from §4.2 and returns a ready-to-step PipelineRunner. masterGainHotControl, if
// non-nil, is wired into the master gain slot for zero-latency UI-driven gain changes.
func (p AssembledPipeline) IntoRunner(masterGainHotControl *transforms.SharedMasterGainHotControl) (*PipelineRunner, error) {
	d := p.Decode
	final := make([]audiocore.TransformStage, 0, len(d.Transforms)+len(d.TransformChain.PreMix)+len(d.TransformChain.PostMix)+4)

	if d.BuiltinSlots.GaplessTrim {
		final = append(final, transforms.NewGaplessTrimStage())
	}
	final = append(final, d.TransformChain.PreMix...)
	if d.Mixer != nil {
		final = append(final, transforms.NewMixerStage(int(d.Mixer.TargetChannels), d.Mixer.LFEMode))
	}
	if d.Resampler != nil {
		final = append(final, transforms.NewResamplerStage(transforms.ResamplerPlan{
			TargetSampleRate: d.Resampler.TargetSampleRate,
			Quality:          d.Resampler.Quality,
		}))
	}
	final = append(final, d.Transforms...)
	final = append(final, d.TransformChain.PostMix...)
	if d.BuiltinSlots.TransitionGain {
		final = append(final, transforms.NewTransitionGainStage())
	}
	if d.BuiltinSlots.MasterGain {
		if masterGainHotControl != nil {
			final = append(final, transforms.NewMasterGainStageWithHotControl(masterGainHotControl))
		} else {
			final = append(final, transforms.NewMasterGainStage())
		}
	}

	if err := validateUniqueStageKeys(final); err != nil {
		return nil, err
	}

	return newPipelineRunner(d.Source, d.Decoder, final, p.SinkPlan, d.BuiltinSlots.TransitionGain, d.BuiltinSlots.GaplessTrim), nil
}

func validateUniqueStageKeys(xforms []audiocore.TransformStage) error {
	seen := make(map[string]struct{}, len(xforms))
	for _, x := range xforms {
		key := x.StageKey()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			return audiocore.NewStageFailure(fmt.Sprintf("duplicate stage key %q in assembled pipeline", key))
		}
		seen[key] = struct{}{}
	}
	return nil
}
