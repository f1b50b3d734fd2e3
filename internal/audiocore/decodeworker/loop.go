/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decodeworker

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/pipeline"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/sink"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/transforms"
	"github.com/friendsincode/grimnir_audioengine/internal/telemetry"
)

// LoopTimeouts tunes the main loop's select timeout under each operating condition.
type LoopTimeouts struct {
	Idle                time.Duration // not playing
	PlayingPendingBlock time.Duration // playing, sink queue was full last step
	PlayingIdle         time.Duration // playing, sink caught up
}

// Worker runs one player's decode loop on its own goroutine: a command mailbox, the
// playback state machine, and sink-recovery backoff, all owned exclusively by that
// goroutine.
type Worker struct {
	commands chan Command
	events   EventSink

	factory        RunnerFactory
	session        *sink.Session
	controlTimeout time.Duration
	loopTimeouts   LoopTimeouts

	st *state

	done    chan struct{}
	crashed bool
	logger  zerolog.Logger
}

// StartDecodeWorker launches the worker goroutine and returns a handle to it. factory
// builds a fresh, unprepared runner for a resolved input whenever one is needed: open,
// queue-next prewarm, or sink recovery.
func StartDecodeWorker(
	factory RunnerFactory,
	events EventSink,
	hot *transforms.SharedMasterGainHotControl,
	latency audiocore.SinkLatencyConfig,
	recovery audiocore.SinkRecoveryConfig,
	gain audiocore.GainTransitionConfig,
	loopTimeouts LoopTimeouts,
	controlTimeout time.Duration,
) *Worker {
	w := &Worker{
		commands:       make(chan Command, 32),
		events:         events,
		factory:        factory,
		session:        sink.NewSession(latency, controlTimeout),
		controlTimeout: controlTimeout,
		loopTimeouts:   loopTimeouts,
		st:             newState(hot, latency, recovery, gain),
		done:           make(chan struct{}),
		logger:         zerolog.Nop(),
	}
	go w.run()
	return w
}

// Send enqueues a command. Callers that want a synchronous result should set
// cmd.Reply and read from it themselves.
func (w *Worker) Send(cmd Command) { w.commands <- cmd }

// Done is closed once the worker has exited its loop, either because it processed a
// shutdown command or because its goroutine panicked. Crashed reports which it was.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Crashed reports whether the worker's loop exited because of a recovered panic rather
// than a CmdShutdown. A process-level supervisor uses this to decide whether to
// rebuild the worker (see internal/hostsupervisor).
func (w *Worker) Crashed() bool { return w.crashed }

// SetLogger attaches a logger for the worker's own fatal-condition reporting (panic
// recovery). The zero value logs nothing.
func (w *Worker) SetLogger(logger zerolog.Logger) { w.logger = logger }

// run is the decode worker's OS-thread-pinned main loop (§5: the decode worker owns
// its runner and sink session exclusively and never awaits plugin I/O directly). A
// panic here is recovered rather than allowed to take the host process down with it:
// it is logged with a stack trace, surfaced as an Error event, and the worker exits
// leaving playerState at whatever it last was — host supervision is responsible for
// deciding whether to rebuild a fresh worker.
func (w *Worker) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.crashed = true
			w.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("decode worker goroutine panicked, recovering")
			if w.events != nil {
				w.events.Publish(Event{Kind: EventError, Message: fmt.Sprintf("decode worker crashed: %v", r)})
				w.events.Publish(Event{Kind: EventStateChanged, State: audiocore.PlayerStopped})
			}
		}
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		timeout := w.computeTimeout()
		select {
		case cmd, ok := <-w.commands:
			if !ok {
				return
			}
			if w.handleCommand(cmd) {
				return
			}
			continue
		case <-time.After(timeout):
		}

		if w.st.playerState != audiocore.PlayerPlaying {
			continue
		}
		if w.st.runner == nil {
			w.tryRecoverSink()
			continue
		}

		result, err := w.st.runner.Step(w.st.ctx)
		if err != nil {
			w.handleStepError(err)
			continue
		}
		switch result.Kind {
		case audiocore.StepEOF:
			w.handleEOF()
		case audiocore.StepProduced:
			w.events.Publish(Event{Kind: EventPosition, PositionMS: w.st.ctx.PositionMS})
		case audiocore.StepIdle:
		}
	}
}

func (w *Worker) computeTimeout() time.Duration {
	if w.st.playerState != audiocore.PlayerPlaying {
		return w.loopTimeouts.Idle
	}
	if w.st.recoveryScheduled() {
		remaining := time.Until(w.st.recoveryRetryAt)
		if remaining < w.loopTimeouts.PlayingPendingBlock {
			if remaining < 0 {
				return 0
			}
			return remaining
		}
		return w.loopTimeouts.PlayingPendingBlock
	}
	if w.st.runner != nil && w.st.runner.HasPendingBlock() {
		return w.loopTimeouts.PlayingPendingBlock
	}
	return w.loopTimeouts.PlayingIdle
}

// handleCommand applies one command and reports whether the worker should shut down.
func (w *Worker) handleCommand(cmd Command) bool {
	switch cmd.Kind {
	case CmdOpen:
		replyErr(cmd.Reply, w.openInput(cmd.Input, cmd.StartPlaying))

	case CmdQueueNext:
		input := cmd.Input
		w.st.queuedNextInput = &input
		w.tryPrewarmNext()
		replyErr(cmd.Reply, nil)

	case CmdPlay:
		if w.st.runner != nil {
			w.st.playerState = audiocore.PlayerPlaying
			w.publishState()
		}
		replyErr(cmd.Reply, nil)

	case CmdPause:
		w.st.playerState = audiocore.PlayerPaused
		w.publishState()
		replyErr(cmd.Reply, nil)

	case CmdStop:
		w.stopActive(audiocore.StopImmediate)
		w.events.Publish(Event{Kind: EventStopped})
		w.st.playerState = audiocore.PlayerStopped
		w.publishState()
		replyErr(cmd.Reply, nil)

	case CmdSeek:
		replyErr(cmd.Reply, w.seek(cmd.SeekPositionMS))

	case CmdSetDspChain, CmdApplyPipelineMutation:
		replyErr(cmd.Reply, w.applyMutation(cmd.Mutation))

	case CmdSetMasterLevel:
		if w.st.masterGainHotControl != nil {
			w.st.masterGainHotControl.Set(cmd.MasterLevel, cmd.MasterRampMS, nil)
		}
		replyErr(cmd.Reply, nil)

	case CmdSetLfeMode:
		control, _ := w.st.persistedStageControls[transforms.MixerStageKey].(transforms.MixerControl)
		if control.OutChannels == 0 {
			control.OutChannels = 2
		}
		control.LFEMode = cmd.LFEMode
		replyErr(cmd.Reply, w.applyStageControl(transforms.MixerStageKey, control))

	case CmdSetResampleQuality:
		control, _ := w.st.persistedStageControls[transforms.ResamplerStageKey].(transforms.ResamplerControl)
		control.Quality = cmd.ResampleQuality
		replyErr(cmd.Reply, w.applyStageControl(transforms.ResamplerStageKey, control))

	case CmdApplyStageControl:
		replyErr(cmd.Reply, w.applyStageControl(cmd.StageKey, cmd.StageControl))

	case CmdInstallDecodeWorker:
		if cmd.NewRunnerFactory != nil {
			w.factory = cmd.NewRunnerFactory
		}
		replyErr(cmd.Reply, nil)

	case CmdShutdown:
		w.stopActive(audiocore.StopDrainSink)
		replyErr(cmd.Reply, nil)
		return true
	}
	return false
}

func (w *Worker) publishState() {
	w.events.Publish(Event{Kind: EventStateChanged, State: w.st.playerState})
}

// applyStageControl persists the control for replay across runner rebuilds and, if a
// runner is currently live, applies it immediately.
func (w *Worker) applyStageControl(stageKey string, control any) error {
	if stageKey == "" {
		return audiocore.NewStageFailure("empty stage key")
	}
	w.st.persistedStageControls[stageKey] = control
	if w.st.runner != nil {
		w.st.runner.ApplyStageControl(stageKey, control, w.st.ctx)
	}
	return nil
}

// applyMutation stores a structural pipeline change as the worker's pending mutation.
// Nothing reads it back: neither the live runner nor a rebuilt one is changed by it.
func (w *Worker) applyMutation(mutation PipelineMutation) error {
	w.st.pendingMutation = &mutation
	return nil
}

func (w *Worker) replayPersistedControls(runner *pipeline.PipelineRunner, ctx *audiocore.PipelineContext) {
	for key, control := range w.st.persistedStageControls {
		runner.ApplyStageControl(key, control, ctx)
	}
}

func (w *Worker) seek(positionMS int64) error {
	if w.st.runner == nil {
		return audiocore.ErrNotPrepared
	}
	return w.st.runner.Seek(positionMS, w.st.ctx)
}

// openInput tears down whatever is currently active, builds a fresh runner for input,
// activates its sink, and (if startPlaying) starts stepping it.
func (w *Worker) openInput(input audiocore.InputRef, startPlaying bool) error {
	w.stopActive(audiocore.StopImmediate)

	runner, err := w.factory(input)
	if err != nil {
		return err
	}
	ctx := audiocore.NewPipelineContext()
	if err := runner.Prepare(input, ctx); err != nil {
		return err
	}
	w.replayPersistedControls(runner, ctx)
	if _, err := runner.ActivateSink(w.session, ctx, audiocore.SinkForceRecreate); err != nil {
		return err
	}

	w.st.runner = runner
	w.st.ctx = ctx
	w.st.activeInput = &input
	w.st.clearRecovery()

	w.events.Publish(Event{Kind: EventTrackChanged, Track: input})
	w.events.Publish(Event{Kind: EventPosition, PositionMS: 0})

	if startPlaying {
		w.st.playerState = audiocore.PlayerPlaying
	} else {
		w.st.playerState = audiocore.PlayerPaused
	}
	w.publishState()
	return nil
}

// tryPrewarmNext builds and prepares (but does not activate) a runner for the queued
// next input, so EOF promotion pays no decode/prepare latency.
func (w *Worker) tryPrewarmNext() {
	if w.st.queuedNextInput == nil || w.st.prewarmedNext != nil {
		return
	}
	input := *w.st.queuedNextInput
	runner, err := w.factory(input)
	if err != nil {
		return
	}
	ctx := audiocore.NewPipelineContext()
	if err := runner.Prepare(input, ctx); err != nil {
		return
	}
	w.replayPersistedControls(runner, ctx)
	w.st.prewarmedNext = &PrewarmedNext{Runner: runner, Ctx: ctx, Input: input}
}

func (w *Worker) stopActive(behavior audiocore.StopBehavior) {
	if w.st.runner != nil {
		_ = w.st.runner.StopWithBehavior(w.st.ctx, behavior)
	}
	if w.st.prewarmedNext != nil {
		_ = w.st.prewarmedNext.Runner.StopWithBehavior(w.st.prewarmedNext.Ctx, audiocore.StopImmediate)
	}
	w.session.Shutdown(behavior == audiocore.StopDrainSink)
	w.st.clearTrack()
}

// handleEOF implements the priority order: promote a prewarmed next, else open a
// queued next input, else stop and report Eof.
func (w *Worker) handleEOF() {
	if prewarmed := w.st.prewarmedNext; prewarmed != nil {
		if w.st.runner != nil {
			_ = w.st.runner.StopWithBehavior(w.st.ctx, audiocore.StopDrainSink)
		}
		if _, err := prewarmed.Runner.ActivateSink(w.session, prewarmed.Ctx, audiocore.SinkPreserveQueued); err != nil {
			w.handleStepError(err)
			return
		}
		w.replayPersistedControls(prewarmed.Runner, prewarmed.Ctx)
		if w.st.gainTransition.RampMS > 0 {
			curve := w.st.gainTransition.Curve
			if w.st.masterGainHotControl != nil {
				snapshot := w.st.masterGainHotControl.Snapshot()
				w.st.masterGainHotControl.Set(snapshot.Level, w.st.gainTransition.OpenFadeInMS, &curve)
			}
		}

		w.st.runner = prewarmed.Runner
		w.st.ctx = prewarmed.Ctx
		w.st.activeInput = &prewarmed.Input
		w.st.queuedNextInput = nil
		w.st.prewarmedNext = nil
		w.st.clearRecovery()

		w.events.Publish(Event{Kind: EventPosition, PositionMS: 0})
		w.events.Publish(Event{Kind: EventTrackChanged, Track: prewarmed.Input})
		w.st.playerState = audiocore.PlayerPlaying
		w.publishState()
		return
	}

	if w.st.queuedNextInput != nil {
		next := *w.st.queuedNextInput
		w.st.queuedNextInput = nil
		if err := w.openInput(next, true); err != nil {
			w.events.Publish(Event{Kind: EventError, Message: err.Error()})
			w.st.playerState = audiocore.PlayerStopped
			w.publishState()
		}
		return
	}

	w.stopActive(audiocore.StopDrainSink)
	w.events.Publish(Event{Kind: EventEOF})
	w.st.playerState = audiocore.PlayerStopped
	w.publishState()
}

// handleStepError implements the error-transition table: SinkDisconnected schedules
// recovery and stays Playing; everything else clears track state and stops.
func (w *Worker) handleStepError(err error) {
	perr, ok := err.(*audiocore.PipelineError)
	if ok && perr.Is(audiocore.ErrSinkDisconnected) {
		if w.st.runner != nil {
			_ = w.st.runner.StopWithBehavior(w.st.ctx, audiocore.StopImmediate)
			w.st.runner = nil
		}
		w.st.scheduleRecovery(time.Now())
		return
	}

	w.stopActive(audiocore.StopImmediate)
	w.events.Publish(Event{Kind: EventError, Message: err.Error()})
	w.st.playerState = audiocore.PlayerStopped
	w.publishState()
}

// tryRecoverSink fires at most one recovery attempt per loop iteration once the
// scheduled backoff has elapsed, rebuilding the runner for the last active input at
// its last known position.
func (w *Worker) tryRecoverSink() {
	if w.st.activeInput == nil || !w.st.recoveryScheduled() {
		return
	}
	if time.Now().Before(w.st.recoveryRetryAt) {
		return
	}
	telemetry.SinkRecoveryAttempts.Inc()

	input := *w.st.activeInput
	positionMS := int64(0)
	if w.st.ctx != nil {
		positionMS = w.st.ctx.PositionMS
	}

	runner, err := w.factory(input)
	if err != nil {
		w.recoveryFailed(err)
		return
	}
	ctx := audiocore.NewPipelineContext()
	if err := runner.Prepare(input, ctx); err != nil {
		w.recoveryFailed(err)
		return
	}
	w.replayPersistedControls(runner, ctx)
	if _, err := runner.ActivateSink(w.session, ctx, audiocore.SinkForceRecreate); err != nil {
		w.recoveryFailed(err)
		return
	}
	if positionMS > 0 {
		if err := runner.Seek(positionMS, ctx); err != nil {
			w.recoveryFailed(err)
			return
		}
	}

	w.st.runner = runner
	w.st.ctx = ctx
	w.st.clearRecovery()
	w.st.playerState = audiocore.PlayerPlaying
	w.publishState()
}

func (w *Worker) recoveryFailed(err error) {
	if w.st.recoveryExhausted() {
		telemetry.SinkRecoveryExhausted.Inc()
		w.st.clearTrack()
		w.events.Publish(Event{Kind: EventError, Message: err.Error()})
		w.st.playerState = audiocore.PlayerStopped
		w.publishState()
		return
	}
	w.st.scheduleRecovery(time.Now())
}
