/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sink runs the sink worker (its own OS thread, the only caller of
// SinkStage.Write) and the sink session that decides when to reuse, cut over, or
// rebuild it around a newly activated route.
package sink

import (
	"errors"
	"runtime"
	"time"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/telemetry"
)

// ErrSinkFull means the worker's bounded block queue has no room; the caller should
// retry on its next step rather than block.
var ErrSinkFull = errors.New("sink queue full")

// ErrSinkWriteDisconnected means a prior write returned Fatal; the session must be
// rebuilt before sending more blocks.
var ErrSinkWriteDisconnected = errors.New("sink disconnected")

type commandKind int

const (
	cmdSyncControl commandKind = iota
	cmdDropQueued
	cmdDrain
	cmdShutdown
)

type command struct {
	kind  commandKind
	drain bool
	reply chan error
}

// SinkWorker owns the prepared sink stages and the bounded block queue between the
// decode side and the device/ASIO sidecar. It runs on a locked OS thread so the
// platform audio callback thread affinity the underlying sink may require is stable.
type SinkWorker struct {
	sinks    []audiocore.SinkStage
	blocks   chan audiocore.AudioBlock
	commands chan command
	done     chan struct{}
	disconnected chan struct{}
	isDisconnected bool
}

// StartSinkWorker prepares every sink stage against spec and starts the worker
// goroutine. ctx is copied; the worker owns its own context from here on.
func StartSinkWorker(sinks []audiocore.SinkStage, spec audiocore.StreamSpec, ctx audiocore.PipelineContext, queueCapacity int) (*SinkWorker, error) {
	if queueCapacity < 1 {
		queueCapacity = 1
	}
	for _, s := range sinks {
		if err := s.Prepare(spec, &ctx); err != nil {
			return nil, err
		}
	}
	w := &SinkWorker{
		sinks:        sinks,
		blocks:       make(chan audiocore.AudioBlock, queueCapacity),
		commands:     make(chan command),
		done:         make(chan struct{}),
		disconnected: make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

func (w *SinkWorker) run(ctx audiocore.PipelineContext) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	for {
		select {
		case cmd := <-w.commands:
			switch cmd.kind {
			case cmdSyncControl:
				var err error
				for _, s := range w.sinks {
					if e := s.SyncRuntimeControl(&ctx); e != nil {
						err = e
						break
					}
				}
				cmd.reply <- err
			case cmdDropQueued:
				w.discardQueue()
				cmd.reply <- nil
			case cmdDrain:
				w.flushQueue(&ctx)
				cmd.reply <- nil
			case cmdShutdown:
				if cmd.drain {
					w.flushQueue(&ctx)
				} else {
					w.discardQueue()
				}
				for _, s := range w.sinks {
					s.Stop(&ctx)
				}
				cmd.reply <- nil
				return
			}
		case block, ok := <-w.blocks:
			if !ok {
				return
			}
			w.writeBlock(&ctx, block)
		}
	}
}

func (w *SinkWorker) discardQueue() {
	for {
		select {
		case <-w.blocks:
		default:
			return
		}
	}
}

func (w *SinkWorker) flushQueue(ctx *audiocore.PipelineContext) {
	for {
		select {
		case block := <-w.blocks:
			w.writeBlock(ctx, block)
		default:
			return
		}
	}
}

func (w *SinkWorker) writeBlock(ctx *audiocore.PipelineContext, block audiocore.AudioBlock) {
	for _, s := range w.sinks {
		if status := s.Write(&block, ctx); status == audiocore.StageFatal {
			w.markDisconnected()
			return
		}
	}
}

func (w *SinkWorker) markDisconnected() {
	if !w.isDisconnected {
		w.isDisconnected = true
		close(w.disconnected)
	}
}

func (w *SinkWorker) isDisconnectedNow() bool {
	select {
	case <-w.disconnected:
		return true
	default:
		return false
	}
}

// TrySendBlock is non-blocking: it queues the block, reports ErrSinkFull if the queue
// has no room, or ErrSinkWriteDisconnected if a prior write already failed fatally.
func (w *SinkWorker) TrySendBlock(block audiocore.AudioBlock) error {
	if w.isDisconnectedNow() {
		return ErrSinkWriteDisconnected
	}
	select {
	case w.blocks <- block:
		telemetry.SinkQueueDepth.Set(float64(len(w.blocks)))
		return nil
	default:
		return ErrSinkFull
	}
}

func (w *SinkWorker) sendCommand(cmd command, timeout time.Duration) error {
	select {
	case w.commands <- cmd:
	case <-time.After(timeout):
		return audiocore.NewTimeout("sink worker command timed out")
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-time.After(timeout):
		return audiocore.NewTimeout("sink worker command timed out")
	}
}

// SyncRuntimeControl asks the worker thread to call SyncRuntimeControl on every sink
// stage before its next write.
func (w *SinkWorker) SyncRuntimeControl(timeout time.Duration) error {
	return w.sendCommand(command{kind: cmdSyncControl, reply: make(chan error, 1)}, timeout)
}

// DropQueued discards any blocks currently queued, used on immediate cutover.
func (w *SinkWorker) DropQueued(timeout time.Duration) error {
	return w.sendCommand(command{kind: cmdDropQueued, reply: make(chan error, 1)}, timeout)
}

// Drain blocks until the queue has been written out or the timeout elapses.
func (w *SinkWorker) Drain(timeout time.Duration) error {
	return w.sendCommand(command{kind: cmdDrain, reply: make(chan error, 1)}, timeout)
}

// Shutdown stops the worker thread, optionally draining first, and calls Stop on
// every sink stage before returning.
func (w *SinkWorker) Shutdown(drain bool, timeout time.Duration) error {
	err := w.sendCommand(command{kind: cmdShutdown, drain: drain, reply: make(chan error, 1)}, timeout)
	<-w.done
	return err
}
