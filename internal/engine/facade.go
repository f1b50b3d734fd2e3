/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine assembles the control actor, the plugin runtime and the ASIO
// sidecar client into the single facade a host application drives: play/pause/stop,
// seeking, track switching, volume, output options, sink routing and pipeline
// mutations, plus the merged event stream and point-in-time snapshot.
package engine

import (
	"sync"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/decodeworker"
	"github.com/friendsincode/grimnir_audioengine/internal/controlactor"
	"github.com/friendsincode/grimnir_audioengine/internal/events"
	"github.com/friendsincode/grimnir_audioengine/internal/pluginruntime"
)

// OutputOptions are the three toggles the host application exposes over the built-in
// pipeline slots and the resampler's per-track behavior.
type OutputOptions struct {
	// MatchTrackSampleRate, when true, follows each track's own sample rate instead
	// of resampling to one fixed output rate.
	MatchTrackSampleRate bool
	GaplessPlayback      bool
	SeekTrackFade        bool
}

// SinkRoute names the out-of-tree sink a pipeline should target. An empty route
// (no SetOutputSinkRoute call, or after ClearOutputSinkRoute) means the built-in
// default sink.
type SinkRoute struct {
	PluginID string
	TypeID   string
	Target   string
}

func (r SinkRoute) identity(spec audiocore.StreamSpec) pluginruntime.RouteIdentity {
	return pluginruntime.RouteIdentity{
		PluginID:   r.PluginID,
		TypeID:     r.TypeID,
		Target:     r.Target,
		SampleRate: spec.SampleRate,
		Channels:   spec.Channels,
	}
}

// Engine is the facade a host application holds for the lifetime of one player.
type Engine struct {
	actor   *controlactor.Actor
	plugins *pluginruntime.Runtime

	mu          sync.RWMutex
	route       *SinkRoute
	routeIdent  *pluginruntime.RouteIdentity
}

// New wires an engine facade around an already-running control actor and plugin
// runtime. plugins may be nil for a build with no out-of-tree plugin support.
func New(actor *controlactor.Actor, plugins *pluginruntime.Runtime) *Engine {
	return &Engine{actor: actor, plugins: plugins}
}

func (e *Engine) Play() error   { return e.actor.Play() }
func (e *Engine) Pause() error  { return e.actor.Pause() }
func (e *Engine) Stop() error   { return e.actor.Stop() }
func (e *Engine) Toggle() error { return e.actor.Toggle() }

func (e *Engine) SeekMS(positionMS int64) error { return e.actor.SeekMS(positionMS) }

func (e *Engine) SwitchTrack(track audiocore.InputRef, lazy bool) error {
	return e.actor.SwitchTrack(track, lazy)
}

func (e *Engine) QueueNext(track audiocore.InputRef) error { return e.actor.QueueNext(track) }

func (e *Engine) PreloadTrack(track audiocore.InputRef, positionMS int64) error {
	return e.actor.PreloadTrack(track, positionMS)
}

func (e *Engine) SetVolume(level float32, rampMS uint32) error {
	return e.actor.SetVolume(level, rampMS)
}

// SetOutputOptions toggles the resampler's rate-matching behavior and the two
// built-in slots (gapless trim, seek/transition fade) by issuing one pipeline
// mutation per concern.
func (e *Engine) SetOutputOptions(opts OutputOptions) error {
	resamplerEnabled := !opts.MatchTrackSampleRate
	if err := e.actor.ApplyPipelineMutation(decodeworker.PipelineMutation{SetResamplerEnabled: &resamplerEnabled}); err != nil {
		return err
	}
	if err := e.actor.ApplyPipelineMutation(decodeworker.PipelineMutation{
		SetBuiltinSlot: &decodeworker.BuiltinSlotChange{Slot: decodeworker.SlotGaplessTrim, Enabled: opts.GaplessPlayback},
	}); err != nil {
		return err
	}
	return e.actor.ApplyPipelineMutation(decodeworker.PipelineMutation{
		SetBuiltinSlot: &decodeworker.BuiltinSlotChange{Slot: decodeworker.SlotTransitionGain, Enabled: opts.SeekTrackFade},
	})
}

// SetOutputSinkRoute records the sink route the next runner rebuild should target.
// It does not itself rebuild the live runner — a RunnerFactory supplied to
// InstallDecodeWorker consults CurrentSinkRoute when assembling a pipeline's sinks,
// and IdentityCompatible decides whether an in-flight session can be reused rather
// than torn down.
func (e *Engine) SetOutputSinkRoute(route SinkRoute) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.route = &route
	e.routeIdent = nil
}

// ClearOutputSinkRoute reverts to the built-in default sink.
func (e *Engine) ClearOutputSinkRoute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.route = nil
	e.routeIdent = nil
}

// CurrentSinkRoute returns the active route, if one was set.
func (e *Engine) CurrentSinkRoute() (SinkRoute, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.route == nil {
		return SinkRoute{}, false
	}
	return *e.route, true
}

// ReuseCurrentSession reports whether a sink session already active at activeSpec
// can be kept across a route/spec change rather than torn down and rebuilt, per the
// sink route identity-for-reuse rule.
func (e *Engine) ReuseCurrentSession(activeSpec, desiredSpec audiocore.StreamSpec) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.route == nil || e.routeIdent == nil {
		return false
	}
	desired := e.route.identity(desiredSpec)
	return pluginruntime.IdentityCompatible(*e.routeIdent, desired)
}

// NoteActiveSession records the route identity of a session that has just been
// built, so a later ReuseCurrentSession call can compare against it.
func (e *Engine) NoteActiveSession(activeSpec audiocore.StreamSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.route == nil {
		return
	}
	ident := e.route.identity(activeSpec)
	e.routeIdent = &ident
}

func (e *Engine) SetLfeMode(mode audiocore.LFEMode) error {
	return e.actor.SetLfeMode(mode)
}

func (e *Engine) SetResampleQuality(quality audiocore.ResampleQuality) error {
	return e.actor.SetResampleQuality(quality)
}

func (e *Engine) ApplyStageControl(stageKey string, control any) error {
	return e.actor.ApplyStageControl(stageKey, control)
}

func (e *Engine) ApplyPipelineMutation(mutation decodeworker.PipelineMutation) error {
	return e.actor.ApplyPipelineMutation(mutation)
}

func (e *Engine) InstallDecodeWorker(factory decodeworker.RunnerFactory) error {
	return e.actor.InstallDecodeWorker(factory)
}

func (e *Engine) SubscribeEvents() (<-chan events.Payload, func()) {
	return e.actor.SubscribeEvents()
}

func (e *Engine) Snapshot() controlactor.EngineSnapshot { return e.actor.Snapshot() }

// Plugins exposes the plugin runtime facade for hosts that manage plugin lifecycle
// directly (install/reload/uninstall flows, reconciliation scheduling).
func (e *Engine) Plugins() *pluginruntime.Runtime { return e.plugins }

// Shutdown stops the decode worker and, if present, the plugin runtime's directive
// drains are torn down by the caller discarding the Runtime — Engine itself owns no
// goroutines beyond what Actor.Shutdown already stops.
func (e *Engine) Shutdown() error {
	return e.actor.Shutdown()
}
