/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audiocore

// StageStatus is the per-call outcome transform and sink stages return from process/write.
type StageStatus int

const (
	StageOk StageStatus = iota
	StageFatal
)

// SourceHandle is whatever a SourceStage opens against a resolved InputRef. Decoders
// read from it; it carries no behavior of its own in this port.
type SourceHandle interface {
	Close() error
}

// SourceStage resolves an InputRef to a readable handle.
type SourceStage interface {
	Prepare(input InputRef, ctx *PipelineContext) (SourceHandle, error)
}

// DecoderStage turns a source handle into a stream of decoded blocks at a declared spec.
type DecoderStage interface {
	// Prepare declares the decoder's output format.
	Prepare(source SourceHandle, ctx *PipelineContext) (StreamSpec, error)
	// NextBlock returns the next decoded block. eof=true with err=nil means EOF.
	NextBlock(ctx *PipelineContext) (block AudioBlock, eof bool, err error)
	Seek(positionMS int64, ctx *PipelineContext) error
	Stop(ctx *PipelineContext)
}

// TransformStage is one link in the pre/post-mix chain. It may change the stream spec
// (the mixer and resampler do; built-in gain stages do not).
type TransformStage interface {
	Prepare(inSpec StreamSpec, ctx *PipelineContext) (outSpec StreamSpec, err error)
	// SyncRuntimeControl picks up pending seeks, route changes, and hot controls before
	// the next Process call.
	SyncRuntimeControl(ctx *PipelineContext) error
	Process(block *AudioBlock, ctx *PipelineContext) StageStatus
	// ApplyControl accepts an opaque control value; returns true iff handled.
	ApplyControl(control any, ctx *PipelineContext) bool
	// Flush returns any output the stage still holds. Gapless trim discards its withheld
	// tail frames and returns an empty block.
	Flush(ctx *PipelineContext) (AudioBlock, error)
	Stop(ctx *PipelineContext)
	// StageKey returns the optional identifier used to route controls and persist them
	// across runner rebuilds. Empty string means the stage is not addressable.
	StageKey() string
}

// SinkStage is the terminal write target for a finished block (a device, an ASIO
// sidecar connection, or a test double).
type SinkStage interface {
	Prepare(spec StreamSpec, ctx *PipelineContext) error
	SyncRuntimeControl(ctx *PipelineContext) error
	Write(block *AudioBlock, ctx *PipelineContext) StageStatus
	Flush(ctx *PipelineContext) error
	Stop(ctx *PipelineContext)
}

// NopSourceHandle is a SourceHandle with nothing to close; useful for stages that draw
// from an already-open resource the caller owns.
type NopSourceHandle struct{}

func (NopSourceHandle) Close() error { return nil }

// SinkPlan produces the concrete sink stages for a route. A plan is single-use:
// IntoSinks must be called at most once; calling it again is a stage-failure error.
type SinkPlan interface {
	RouteFingerprint() uint64
	IntoSinks() ([]SinkStage, error)
}
