/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transforms

import (
	"math"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
)

// ResamplerStageKey is the stage key resample-quality controls are routed against.
const ResamplerStageKey = "resampler"

// resampleChunkFrames bounds how many frames the resampler convolves in one pass, to
// keep worst-case per-call latency bounded regardless of how large an upstream block is.
const resampleChunkFrames = 1024

// WindowFunction selects the FIR window applied to the truncated sinc kernel.
type WindowFunction int

const (
	WindowBlackman WindowFunction = iota
	WindowBlackmanHarris2
)

func windowWeight(wf WindowFunction, i, n int) float64 {
	if n <= 1 {
		return 1
	}
	phase := 2 * math.Pi * float64(i) / float64(n-1)
	switch wf {
	case WindowBlackmanHarris2:
		const a0, a1, a2, a3 = 0.35875, 0.48829, 0.14128, 0.01168
		return a0 - a1*math.Cos(phase) + a2*math.Cos(2*phase) - a3*math.Cos(3*phase)
	default: // WindowBlackman
		const a0, a1, a2 = 0.42, 0.5, 0.08
		return a0 - a1*math.Cos(phase) + a2*math.Cos(2*phase)
	}
}

func normalizedSinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// resampleParams is the quality-to-filter-shape table: longer kernels and higher
// cutoffs trade CPU for passband width and stopband rejection.
type resampleParams struct {
	sincLen    int
	cutoff     float64
	oversample int
	window     WindowFunction
}

func resampleParamsFromQuality(quality audiocore.ResampleQuality) resampleParams {
	switch quality {
	case audiocore.ResampleFast:
		return resampleParams{sincLen: 64, cutoff: 0.92, oversample: 64, window: WindowBlackman}
	case audiocore.ResampleBalanced:
		return resampleParams{sincLen: 128, cutoff: 0.94, oversample: 128, window: WindowBlackman}
	case audiocore.ResampleHigh:
		return resampleParams{sincLen: 256, cutoff: 0.95, oversample: 128, window: WindowBlackmanHarris2}
	case audiocore.ResampleUltra:
		return resampleParams{sincLen: 512, cutoff: 0.98, oversample: 256, window: WindowBlackmanHarris2}
	default:
		return resampleParams{sincLen: 128, cutoff: 0.94, oversample: 128, window: WindowBlackman}
	}
}

// ResamplerPlan names the rate and quality a resampler slot should converge to. A plan
// with TargetSampleRate equal to the incoming stream's rate makes the stage an
// identity passthrough.
type ResamplerPlan struct {
	TargetSampleRate uint32
	Quality          audiocore.ResampleQuality
}

// ResamplerControl changes the resampler's quality (and, less commonly, its target
// rate) without tearing down the surrounding pipeline.
type ResamplerControl struct {
	Quality          audiocore.ResampleQuality
	TargetSampleRate *uint32
}

// sincResampler is a streaming fixed-ratio windowed-sinc sample rate converter. It
// keeps just enough trailing input history across process() calls to interpolate the
// next output frame, so arbitrarily-sized input blocks can be fed continuously.
type sincResampler struct {
	channels int
	ratio    float64 // targetRate / sourceRate
	params   resampleParams
	weights  []float64 // precomputed window(k) for k in [0, sincLen)
	halfLen  int

	buffer         []float32 // interleaved, frames starting at bufferStartFrame
	bufferStartFrame int64
	nextOutputTime   float64 // fractional input-frame position of the next output sample
}

func newSincResampler(channels int, sourceRate, targetRate uint32, quality audiocore.ResampleQuality) *sincResampler {
	params := resampleParamsFromQuality(quality)
	halfLen := params.sincLen / 2
	weights := make([]float64, params.sincLen)
	for k := 0; k < params.sincLen; k++ {
		weights[k] = windowWeight(params.window, k, params.sincLen)
	}
	return &sincResampler{
		channels: channels,
		ratio:    float64(targetRate) / float64(sourceRate),
		params:   params,
		weights:  weights,
		halfLen:  halfLen,
	}
}

func (r *sincResampler) reset() {
	r.buffer = r.buffer[:0]
	r.bufferStartFrame = 0
	r.nextOutputTime = 0
}

// effectiveCutoff narrows the passband below Nyquist of the lower of the two rates
// when downsampling, so the filter also serves as the anti-alias filter.
func (r *sincResampler) effectiveCutoff() float64 {
	if r.ratio < 1 {
		return r.params.cutoff * r.ratio
	}
	return r.params.cutoff
}

// process appends input (interleaved, r.channels wide) to the resampler's history and
// emits every output frame for which enough future context is now available. Frames
// it cannot yet produce remain buffered for the next call.
func (r *sincResampler) process(input []float32) []float32 {
	if len(input) > 0 {
		r.buffer = append(r.buffer, input...)
	}
	framesInBuffer := len(r.buffer) / r.channels
	cutoff := r.effectiveCutoff()

	var output []float32
	for {
		frameBase := math.Floor(r.nextOutputTime)
		frac := r.nextOutputTime - frameBase
		lowOffset := -r.halfLen
		highOffset := r.halfLen - 1
		firstNeeded := int64(frameBase) + int64(lowOffset)
		lastNeeded := int64(frameBase) + int64(highOffset)
		if lastNeeded-r.bufferStartFrame >= int64(framesInBuffer) {
			break
		}
		if firstNeeded < r.bufferStartFrame {
			// Should not happen once steady-state, but guard against a too-small
			// history window by treating missing left context as silence.
			firstNeeded = r.bufferStartFrame
		}

		frame := make([]float32, r.channels)
		for k := 0; k < r.params.sincLen; k++ {
			offset := k - r.halfLen
			srcFrame := int64(frameBase) + int64(offset)
			idx := srcFrame - r.bufferStartFrame
			if idx < 0 || idx >= int64(framesInBuffer) {
				continue
			}
			x := (frac - float64(offset)) * cutoff
			weight := normalizedSinc(x) * cutoff * r.weights[k]
			base := int(idx) * r.channels
			for ch := 0; ch < r.channels; ch++ {
				frame[ch] += float32(float64(r.buffer[base+ch]) * weight)
			}
		}
		output = append(output, frame...)
		r.nextOutputTime += 1 / r.ratio

		if len(output)/r.channels >= resampleChunkFrames*4 {
			// Bound a single process() call's output even if fed an unusually large block.
			break
		}
	}

	// Trim consumed history, keeping enough left context for the next output frame.
	keepFrom := int64(math.Floor(r.nextOutputTime)) - int64(r.halfLen)
	if keepFrom > r.bufferStartFrame {
		trimFrames := keepFrom - r.bufferStartFrame
		if trimFrames > int64(framesInBuffer) {
			trimFrames = int64(framesInBuffer)
		}
		r.buffer = append(r.buffer[:0], r.buffer[trimFrames*int64(r.channels):]...)
		r.bufferStartFrame += trimFrames
	}

	return output
}

// ResamplerStage converts the stream's sample rate toward the plan's target, using
// quality-selected windowed-sinc interpolation. It is the identity when rates match.
type ResamplerStage struct {
	plan             ResamplerPlan
	channels         int
	sourceSampleRate uint32
	targetSampleRate uint32
	active           bool
	resampler        *sincResampler
}

func NewResamplerStage(plan ResamplerPlan) *ResamplerStage {
	target := plan.TargetSampleRate
	if target < 1 {
		target = 1
	}
	return &ResamplerStage{plan: plan, channels: 1, sourceSampleRate: target, targetSampleRate: target}
}

func (s *ResamplerStage) StageKey() string { return ResamplerStageKey }

func (s *ResamplerStage) Prepare(spec audiocore.StreamSpec, ctx *audiocore.PipelineContext) (audiocore.StreamSpec, error) {
	s.channels = int(spec.Channels)
	if s.channels < 1 {
		s.channels = 1
	}
	s.sourceSampleRate = spec.SampleRate
	if s.sourceSampleRate < 1 {
		s.sourceSampleRate = 1
	}
	s.targetSampleRate = s.plan.TargetSampleRate
	if s.targetSampleRate < 1 {
		s.targetSampleRate = 1
	}
	s.active = s.targetSampleRate != s.sourceSampleRate

	if s.active {
		s.resampler = newSincResampler(s.channels, s.sourceSampleRate, s.targetSampleRate, s.plan.Quality)
		return audiocore.StreamSpec{SampleRate: s.targetSampleRate, Channels: spec.Channels}, nil
	}
	s.resampler = nil
	return spec, nil
}

func (s *ResamplerStage) SyncRuntimeControl(ctx *audiocore.PipelineContext) error { return nil }

func (s *ResamplerStage) ApplyControl(control any, ctx *audiocore.PipelineContext) bool {
	c, ok := control.(ResamplerControl)
	if !ok {
		return false
	}
	s.plan.Quality = c.Quality
	if c.TargetSampleRate != nil {
		s.plan.TargetSampleRate = *c.TargetSampleRate
	}
	s.targetSampleRate = s.plan.TargetSampleRate
	if s.targetSampleRate < 1 {
		s.targetSampleRate = 1
	}
	s.active = s.targetSampleRate != s.sourceSampleRate
	if s.active {
		s.resampler = newSincResampler(s.channels, s.sourceSampleRate, s.targetSampleRate, s.plan.Quality)
	} else {
		s.resampler = nil
	}
	return true
}

func (s *ResamplerStage) Process(block *audiocore.AudioBlock, ctx *audiocore.PipelineContext) audiocore.StageStatus {
	if !s.active || block.Frames() == 0 {
		return audiocore.StageOk
	}
	channels := int(block.Channels)
	if channels < 1 {
		channels = 1
	}
	if channels != s.channels || len(block.Samples)%channels != 0 {
		return audiocore.StageFatal
	}
	if s.resampler == nil {
		return audiocore.StageFatal
	}

	input := block.Samples
	block.Samples = nil
	var out []float32
	offset := 0
	for offset < len(input) {
		remainingFrames := (len(input) - offset) / channels
		chunkFrames := remainingFrames
		if chunkFrames > resampleChunkFrames {
			chunkFrames = resampleChunkFrames
		}
		if chunkFrames == 0 {
			break
		}
		chunkSamples := chunkFrames * channels
		chunk := input[offset : offset+chunkSamples]
		out = append(out, s.resampler.process(chunk)...)
		offset += chunkSamples
	}
	block.Samples = out
	return audiocore.StageOk
}

func (s *ResamplerStage) Flush(ctx *audiocore.PipelineContext) (audiocore.AudioBlock, error) {
	if s.resampler != nil {
		s.resampler.reset()
	}
	return audiocore.AudioBlock{Channels: uint16(s.channels)}, nil
}

func (s *ResamplerStage) Stop(ctx *audiocore.PipelineContext) {
	if s.resampler != nil {
		s.resampler.reset()
	}
}
