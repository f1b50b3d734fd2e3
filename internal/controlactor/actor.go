/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package controlactor is the externally-facing actor that bridges a decode worker's
// internal event vocabulary onto the host application: it owns the playback snapshot,
// throttles position broadcast, and proxies every control message the engine facade
// exposes down to the worker's command mailbox.
package controlactor

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/decodeworker"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/transforms"
	"github.com/friendsincode/grimnir_audioengine/internal/events"
)

// Actor owns one player's externally-visible state. It is itself the decodeworker.EventSink
// the worker publishes to, so Publish must never block: snapshot updates are a short
// mutex section and bus sends are non-blocking by construction (internal/events.Bus).
type Actor struct {
	worker *decodeworker.Worker
	bus    *events.Bus
	hot    *transforms.SharedMasterGainHotControl

	controlTimeout time.Duration

	mu       sync.RWMutex
	snapshot EngineSnapshot

	positionLimiter *rate.Limiter
}

// New wires an actor to a running decode worker and a bus it mirrors engine events onto.
// positionHz bounds how often EventEnginePosition is broadcast on the bus; the internal
// snapshot's PositionMS is always kept current regardless of the broadcast rate.
func New(worker *decodeworker.Worker, bus *events.Bus, hot *transforms.SharedMasterGainHotControl, positionHz float64, controlTimeout time.Duration) *Actor {
	if positionHz <= 0 {
		positionHz = 4
	}
	return &Actor{
		worker:          worker,
		bus:             bus,
		hot:             hot,
		controlTimeout:  controlTimeout,
		snapshot:        EngineSnapshot{State: audiocore.PlayerStopped, UpdatedAt: time.Now()},
		positionLimiter: rate.NewLimiter(rate.Limit(positionHz), 1),
	}
}

// BindWorker completes construction for the common case where the worker itself must
// be started with this actor already in place as its EventSink: callers build the
// actor with a nil worker, start the decode worker with the actor as its sink, then
// call BindWorker once before issuing any command.
func (a *Actor) BindWorker(worker *decodeworker.Worker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.worker = worker
}

// Publish implements decodeworker.EventSink. Called directly from the decode worker's
// own goroutine — it must stay cheap and non-blocking.
func (a *Actor) Publish(e decodeworker.Event) {
	switch e.Kind {
	case decodeworker.EventPosition:
		a.mu.Lock()
		a.snapshot.PositionMS = e.PositionMS
		a.snapshot.UpdatedAt = time.Now()
		a.mu.Unlock()
		if a.positionLimiter.Allow() {
			a.bus.Publish(events.EventEnginePosition, events.Payload{"position_ms": e.PositionMS})
		}

	case decodeworker.EventTrackChanged:
		track := e.Track
		a.mu.Lock()
		a.snapshot.CurrentTrack = &track
		a.snapshot.PositionMS = 0
		a.snapshot.UpdatedAt = time.Now()
		a.mu.Unlock()
		a.bus.Publish(events.EventEngineTrackChanged, events.Payload{"track_token": track.TrackToken})

	case decodeworker.EventStopped, decodeworker.EventEOF:
		a.mu.Lock()
		a.snapshot.CurrentTrack = nil
		a.snapshot.PositionMS = 0
		a.snapshot.UpdatedAt = time.Now()
		a.mu.Unlock()

	case decodeworker.EventError:
		a.mu.Lock()
		a.snapshot.CurrentTrack = nil
		a.snapshot.LastError = e.Message
		a.snapshot.UpdatedAt = time.Now()
		a.mu.Unlock()
		a.bus.Publish(events.EventEngineError, events.Payload{"message": e.Message})

	case decodeworker.EventStateChanged:
		a.mu.Lock()
		a.snapshot.State = e.State
		a.snapshot.UpdatedAt = time.Now()
		a.mu.Unlock()
		a.bus.Publish(events.EventEngineState, events.Payload{"state": e.State.String()})
	}
}

// Snapshot returns a point-in-time copy of the playback state, with MasterLevel filled
// in from the shared hot control (which the actor does not otherwise track).
func (a *Actor) Snapshot() EngineSnapshot {
	a.mu.RLock()
	snap := a.snapshot.clone()
	a.mu.RUnlock()
	if a.hot != nil {
		snap.MasterLevel = a.hot.Snapshot().Level
	}
	return snap
}

// SubscribeEvents returns a merged channel of every engine.* bus event, plus the
// unsubscribe func the caller must invoke when done listening.
func (a *Actor) SubscribeEvents() (<-chan events.Payload, func()) {
	kinds := []events.EventType{
		events.EventEngineState,
		events.EventEnginePosition,
		events.EventEngineTrackChanged,
		events.EventEngineError,
		events.EventEngineRecovering,
		events.EventEnginePluginApplied,
	}
	subs := make([]events.Subscriber, len(kinds))
	merged := make(chan events.Payload, 32)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i, kind := range kinds {
		subs[i] = a.bus.Subscribe(kind)
		wg.Add(1)
		go func(sub events.Subscriber) {
			defer wg.Done()
			for {
				select {
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- payload:
					default:
					}
				case <-stop:
					return
				}
			}
		}(subs[i])
	}

	unsubscribe := func() {
		close(stop)
		for i, kind := range kinds {
			a.bus.Unsubscribe(kind, subs[i])
		}
		wg.Wait()
		close(merged)
	}
	return merged, unsubscribe
}

// sendCommand round-trips a command through the worker's mailbox under the actor's
// control timeout (§5: every external call has a caller timeout; on expiry the caller
// sees Timeout and the eventual worker response, if any, is discarded).
func (a *Actor) sendCommand(cmd decodeworker.Command) error {
	reply := make(chan error, 1)
	cmd.Reply = reply
	a.worker.Send(cmd)
	select {
	case err := <-reply:
		return err
	case <-time.After(a.controlTimeout):
		return audiocore.NewTimeout("control actor: command timed out")
	}
}

// Play resumes stepping the active runner, if any.
func (a *Actor) Play() error { return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdPlay}) }

// Pause stops stepping without tearing down the active track.
func (a *Actor) Pause() error { return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdPause}) }

// Stop tears down the active track and returns to Stopped.
func (a *Actor) Stop() error { return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdStop}) }

// Toggle plays if paused/stopped-with-a-track, pauses if playing.
func (a *Actor) Toggle() error {
	snap := a.Snapshot()
	if snap.State == audiocore.PlayerPlaying {
		return a.Pause()
	}
	return a.Play()
}

// SeekMS seeks the active track to an absolute position.
func (a *Actor) SeekMS(positionMS int64) error {
	return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdSeek, SeekPositionMS: positionMS})
}

// SwitchTrack opens a new track. lazy=false starts playing immediately after the switch.
func (a *Actor) SwitchTrack(track audiocore.InputRef, lazy bool) error {
	return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdOpen, Input: track, StartPlaying: !lazy})
}

// QueueNext arranges for track to be promoted automatically on the active track's EOF.
func (a *Actor) QueueNext(track audiocore.InputRef) error {
	return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdQueueNext, Input: track})
}

// PreloadTrack prepares track without activating its sink. The worker itself only
// prewarms the queued-next slot; preload-without-queueing reuses the same mechanism by
// queueing and relying on the EOF-time prewarm rather than activating ahead of time,
// since the engine never speculatively owns two live sink sessions at once.
func (a *Actor) PreloadTrack(track audiocore.InputRef, _ int64) error {
	return a.QueueNext(track)
}

// SetVolume requests a new master level in [0,1], ramped over rampMS.
func (a *Actor) SetVolume(level float32, rampMS uint32) error {
	return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdSetMasterLevel, MasterLevel: level, MasterRampMS: rampMS})
}

// SetLfeMode changes how the mixer handles the LFE channel on downmix.
func (a *Actor) SetLfeMode(mode audiocore.LFEMode) error {
	return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdSetLfeMode, LFEMode: mode})
}

// SetResampleQuality changes the resampler's quality/latency tradeoff.
func (a *Actor) SetResampleQuality(quality audiocore.ResampleQuality) error {
	return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdSetResampleQuality, ResampleQuality: quality})
}

// ApplyStageControl routes an opaque control value to the named addressable stage.
func (a *Actor) ApplyStageControl(stageKey string, control any) error {
	return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdApplyStageControl, StageKey: stageKey, StageControl: control})
}

// ApplyPipelineMutation sends a structural pipeline change to the worker, which records
// it; neither the live runner nor a rebuilt one applies it.
func (a *Actor) ApplyPipelineMutation(mutation decodeworker.PipelineMutation) error {
	return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdApplyPipelineMutation, Mutation: mutation})
}

// InstallDecodeWorker hot-swaps the runner factory the worker uses for every
// subsequent open/recover/prewarm, e.g. after a plugin reload changes how inputs
// resolve to pipelines.
func (a *Actor) InstallDecodeWorker(factory decodeworker.RunnerFactory) error {
	return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdInstallDecodeWorker, NewRunnerFactory: factory})
}

// Shutdown drains the active track and stops the worker goroutine.
func (a *Actor) Shutdown() error {
	return a.sendCommand(decodeworker.Command{Kind: decodeworker.CmdShutdown})
}
