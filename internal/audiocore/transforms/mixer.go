/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transforms

import "github.com/friendsincode/grimnir_audioengine/internal/audiocore"

// MixerStageKey is the stage key mixer route changes are routed/persisted against.
const MixerStageKey = "mixer"

// ITU-R BS.775-3 mixing coefficients.
const (
	centerCoeff   float32 = 0.70710678 // 1/sqrt(2), approx -3dB
	surroundCoeff float32 = 0.70710678
)

func lfeCoeff(mode audiocore.LFEMode) float32 {
	switch mode {
	case audiocore.LFEMixToFront:
		return 0.707
	default:
		return 0
	}
}

// ChannelLayout names a conventional speaker layout the mixer knows fixed coefficients
// for. Any other channel count falls back to the generic matrix.
type ChannelLayout int

const (
	LayoutMono ChannelLayout = iota
	LayoutStereo
	LayoutSurround5_1
	LayoutSurround7_1
)

func layoutFromChannelCount(channels int) (ChannelLayout, bool) {
	switch channels {
	case 1:
		return LayoutMono, true
	case 2:
		return LayoutStereo, true
	case 6:
		return LayoutSurround5_1, true
	case 8:
		return LayoutSurround7_1, true
	default:
		return 0, false
	}
}

// MixMatrix converts interleaved samples between channel layouts. coeffs is stored
// [outChannel][inChannel]; out[ch] = sum(in[i] * coeffs[ch][i]).
type MixMatrix struct {
	coeffs      [][]float32
	inChannels  int
	outChannels int
}

// IdentityMatrix returns a passthrough matrix for a given channel count.
func IdentityMatrix(channels int) MixMatrix {
	coeffs := make([][]float32, channels)
	for i := range coeffs {
		coeffs[i] = make([]float32, channels)
		coeffs[i][i] = 1
	}
	return MixMatrix{coeffs: coeffs, inChannels: channels, outChannels: channels}
}

// CreateMixMatrix builds the mixing matrix for a from->to channel count conversion,
// using named ITU-R coefficients for the recognized layout pairs and a generic
// average/copy matrix otherwise.
func CreateMixMatrix(inChannels, outChannels int, lfeMode audiocore.LFEMode) MixMatrix {
	if inChannels == outChannels {
		return IdentityMatrix(inChannels)
	}
	fromLayout, fromOK := layoutFromChannelCount(inChannels)
	toLayout, toOK := layoutFromChannelCount(outChannels)
	if fromOK && toOK {
		switch {
		case fromLayout == LayoutMono && toLayout == LayoutStereo:
			return upmixMonoToStereo()
		case fromLayout == LayoutStereo && toLayout == LayoutMono:
			return downmixStereoToMono()
		case fromLayout == LayoutSurround5_1 && toLayout == LayoutStereo:
			return downmix51ToStereo(lfeMode)
		case fromLayout == LayoutSurround7_1 && toLayout == LayoutStereo:
			return downmix71ToStereo(lfeMode)
		case fromLayout == LayoutSurround5_1 && toLayout == LayoutMono:
			return downmix51ToMono(lfeMode)
		case fromLayout == LayoutSurround7_1 && toLayout == LayoutMono:
			return downmix71ToMono(lfeMode)
		case fromLayout == LayoutStereo && toLayout == LayoutSurround5_1:
			return upmixStereoTo51()
		case fromLayout == LayoutSurround7_1 && toLayout == LayoutSurround5_1:
			return downmix71To51()
		}
	}
	return createGenericMatrix(inChannels, outChannels)
}

func upmixMonoToStereo() MixMatrix {
	return MixMatrix{
		coeffs:      [][]float32{{1}, {1}},
		inChannels:  1,
		outChannels: 2,
	}
}

func downmixStereoToMono() MixMatrix {
	return MixMatrix{
		coeffs:      [][]float32{{0.5, 0.5}},
		inChannels:  2,
		outChannels: 1,
	}
}

// Order: FL, FR, FC, LFE, BL, BR.
func downmix51ToStereo(lfeMode audiocore.LFEMode) MixMatrix {
	lfe := lfeCoeff(lfeMode)
	return MixMatrix{
		coeffs: [][]float32{
			{1, 0, centerCoeff, lfe, surroundCoeff, 0},
			{0, 1, centerCoeff, lfe, 0, surroundCoeff},
		},
		inChannels:  6,
		outChannels: 2,
	}
}

// Order: FL, FR, FC, LFE, BL, BR, SL, SR.
func downmix71ToStereo(lfeMode audiocore.LFEMode) MixMatrix {
	lfe := lfeCoeff(lfeMode)
	return MixMatrix{
		coeffs: [][]float32{
			{1, 0, centerCoeff, lfe, surroundCoeff, 0, surroundCoeff, 0},
			{0, 1, centerCoeff, lfe, 0, surroundCoeff, 0, surroundCoeff},
		},
		inChannels:  8,
		outChannels: 2,
	}
}

func downmix51ToMono(lfeMode audiocore.LFEMode) MixMatrix {
	lfe := lfeCoeff(lfeMode)
	const k = 0.5
	return MixMatrix{
		coeffs: [][]float32{
			{k, k, k * centerCoeff * 2, lfe, k * surroundCoeff, k * surroundCoeff},
		},
		inChannels:  6,
		outChannels: 1,
	}
}

func downmix71ToMono(lfeMode audiocore.LFEMode) MixMatrix {
	lfe := lfeCoeff(lfeMode)
	const k = 0.5
	return MixMatrix{
		coeffs: [][]float32{
			{k, k, k * centerCoeff * 2, lfe, k * surroundCoeff, k * surroundCoeff, k * surroundCoeff, k * surroundCoeff},
		},
		inChannels:  8,
		outChannels: 1,
	}
}

func upmixStereoTo51() MixMatrix {
	return MixMatrix{
		coeffs: [][]float32{
			{1, 0},
			{0, 1},
			{0.5, 0.5},
			{0, 0},
			{0.707, 0},
			{0, 0.707},
		},
		inChannels:  2,
		outChannels: 6,
	}
}

// Fold side channels into back: BL' = BL + SL*0.707, BR' = BR + SR*0.707.
func downmix71To51() MixMatrix {
	return MixMatrix{
		coeffs: [][]float32{
			{1, 0, 0, 0, 0, 0, 0, 0},
			{0, 1, 0, 0, 0, 0, 0, 0},
			{0, 0, 1, 0, 0, 0, 0, 0},
			{0, 0, 0, 1, 0, 0, 0, 0},
			{0, 0, 0, 0, 1, 0, 0.707, 0},
			{0, 0, 0, 0, 0, 1, 0, 0.707},
		},
		inChannels:  8,
		outChannels: 6,
	}
}

// Downmix: each output channel keeps its corresponding input plus an even share of the
// extra inputs. Upmix: copy the first inChannels channels, the rest stay silent.
func createGenericMatrix(inChannels, outChannels int) MixMatrix {
	coeffs := make([][]float32, outChannels)
	for i := range coeffs {
		coeffs[i] = make([]float32, inChannels)
	}

	if outChannels <= inChannels {
		for i := 0; i < outChannels; i++ {
			coeffs[i][i] = 1
		}
		if inChannels > outChannels {
			extra := inChannels - outChannels
			factor := 1 / float32(outChannels)
			for _, row := range coeffs {
				for ch := outChannels; ch < inChannels; ch++ {
					row[ch] = factor / float32(extra)
				}
			}
		}
	} else {
		for i := 0; i < inChannels; i++ {
			coeffs[i][i] = 1
		}
	}

	return MixMatrix{coeffs: coeffs, inChannels: inChannels, outChannels: outChannels}
}

// Apply mixes interleaved input samples into a freshly allocated interleaved output.
func (m MixMatrix) Apply(input []float32) []float32 {
	frames := len(input) / m.inChannels
	output := make([]float32, frames*m.outChannels)
	for frame := 0; frame < frames; frame++ {
		inOffset := frame * m.inChannels
		outOffset := frame * m.outChannels
		for outCh, row := range m.coeffs {
			var sum float32
			for inCh, coeff := range row {
				sum += input[inOffset+inCh] * coeff
			}
			output[outOffset+outCh] = sum
		}
	}
	return output
}

func (m MixMatrix) InChannels() int  { return m.inChannels }
func (m MixMatrix) OutChannels() int { return m.outChannels }

// MixerControl reconfigures the mixer's output channel layout and LFE handling.
type MixerControl struct {
	OutChannels int
	LFEMode     audiocore.LFEMode
}

// MixerStage converts the decoded/transformed stream's channel layout to the sink's
// declared layout, applying ITU-R BS.775-3 coefficients for the recognized conversions.
type MixerStage struct {
	inChannels  int
	outChannels int
	lfeMode     audiocore.LFEMode
	matrix      MixMatrix
}

func NewMixerStage(outChannels int, lfeMode audiocore.LFEMode) *MixerStage {
	return &MixerStage{outChannels: outChannels, lfeMode: lfeMode}
}

func (s *MixerStage) StageKey() string { return MixerStageKey }

func (s *MixerStage) rebuild() {
	if s.inChannels < 1 {
		s.inChannels = 1
	}
	if s.outChannels < 1 {
		s.outChannels = 1
	}
	s.matrix = CreateMixMatrix(s.inChannels, s.outChannels, s.lfeMode)
}

func (s *MixerStage) Prepare(spec audiocore.StreamSpec, ctx *audiocore.PipelineContext) (audiocore.StreamSpec, error) {
	s.inChannels = int(spec.Channels)
	if s.outChannels == 0 {
		s.outChannels = s.inChannels
	}
	s.rebuild()
	return audiocore.StreamSpec{SampleRate: spec.SampleRate, Channels: uint16(s.outChannels)}, nil
}

func (s *MixerStage) SyncRuntimeControl(ctx *audiocore.PipelineContext) error { return nil }

func (s *MixerStage) ApplyControl(control any, ctx *audiocore.PipelineContext) bool {
	c, ok := control.(MixerControl)
	if !ok {
		return false
	}
	s.outChannels = c.OutChannels
	s.lfeMode = c.LFEMode
	s.rebuild()
	return true
}

func (s *MixerStage) Process(block *audiocore.AudioBlock, ctx *audiocore.PipelineContext) audiocore.StageStatus {
	if block.Frames() == 0 {
		block.Channels = uint16(s.outChannels)
		return audiocore.StageOk
	}
	if s.inChannels == s.outChannels {
		return audiocore.StageOk
	}
	block.Samples = s.matrix.Apply(block.Samples)
	block.Channels = uint16(s.outChannels)
	return audiocore.StageOk
}

func (s *MixerStage) Flush(ctx *audiocore.PipelineContext) (audiocore.AudioBlock, error) {
	return audiocore.AudioBlock{Channels: uint16(s.outChannels)}, nil
}

func (s *MixerStage) Stop(ctx *audiocore.PipelineContext) {}
