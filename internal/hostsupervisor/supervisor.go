/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hostsupervisor watches the decode worker goroutine and rebuilds it after an
// unexpected crash, generalizing a per-station restart-rate-limited recovery loop down
// to the single long-running player this engine hosts per process.
package hostsupervisor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/decodeworker"
	"github.com/friendsincode/grimnir_audioengine/internal/controlactor"
)

// Health reports how many times the supervised worker has been rebuilt, and when.
type Health struct {
	RestartCount int
	LastRestart  time.Time
	Crashed      bool
}

// Builder constructs a fresh worker+actor pair. The supervisor calls it once up front
// and again after every crash.
type Builder func() (*decodeworker.Worker, *controlactor.Actor)

const (
	maxRestartsInWindow = 5
	restartWindow       = 5 * time.Minute
	watchPollInterval   = 200 * time.Millisecond
)

// Supervisor owns the currently-live worker/actor pair and replaces it when the
// worker's goroutine recovers from a panic, same rate-limiting idiom as the teacher's
// per-station supervisor: a burst of crashes within restartWindow exceeding
// maxRestartsInWindow stops auto-restarting and leaves the last actor in its crashed
// Stopped state for the host application to notice and intervene.
type Supervisor struct {
	builder Builder
	logger  zerolog.Logger

	mu           sync.RWMutex
	worker       *decodeworker.Worker
	actor        *controlactor.Actor
	restartTimes []time.Time
	stopped      bool
	done         chan struct{}
}

// Start builds the first worker/actor pair and begins watching it.
func Start(builder Builder, logger zerolog.Logger) *Supervisor {
	s := &Supervisor{
		builder: builder,
		logger:  logger.With().Str("component", "host_supervisor").Logger(),
		done:    make(chan struct{}),
	}
	worker, actor := builder()
	s.worker = worker
	s.actor = actor
	go s.watch()
	return s
}

// Actor returns the currently-live actor. Safe to call concurrently with a rebuild:
// callers that hold a stale reference across a rebuild simply keep talking to the
// worker that just crashed, whose commands will time out — same contract as any
// other control-timeout case.
func (s *Supervisor) Actor() *controlactor.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actor
}

func (s *Supervisor) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := Health{RestartCount: len(s.restartTimes)}
	if len(s.restartTimes) > 0 {
		h.LastRestart = s.restartTimes[len(s.restartTimes)-1]
	}
	if s.worker != nil {
		h.Crashed = s.worker.Crashed()
	}
	return h
}

// Stop shuts down the live worker and stops watching for further crashes.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.stopped = true
	actor := s.actor
	s.mu.Unlock()
	close(s.done)
	if actor != nil {
		return actor.Shutdown()
	}
	return nil
}

func (s *Supervisor) watch() {
	for {
		s.mu.RLock()
		worker := s.worker
		s.mu.RUnlock()
		if worker == nil {
			return
		}
		select {
		case <-s.done:
			return
		case <-worker.Done():
		}

		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if stopped {
			return
		}
		if !worker.Crashed() {
			// A clean shutdown (Actor.Shutdown was called directly, bypassing
			// Supervisor.Stop) ends supervision without rebuilding.
			return
		}
		s.handleCrash()
	}
}

func (s *Supervisor) handleCrash() {
	now := time.Now()
	s.mu.Lock()
	cutoff := now.Add(-restartWindow)
	recent := s.restartTimes[:0]
	for _, t := range s.restartTimes {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	s.restartTimes = recent
	if len(s.restartTimes) >= maxRestartsInWindow {
		s.mu.Unlock()
		s.logger.Error().Int("restarts", len(s.restartTimes)).Dur("window", restartWindow).
			Msg("decode worker crash-looped past the restart budget, leaving it stopped")
		return
	}
	s.restartTimes = append(s.restartTimes, now)
	s.mu.Unlock()

	s.logger.Warn().Msg("decode worker crashed, rebuilding")
	time.Sleep(watchPollInterval)

	worker, actor := s.builder()
	s.mu.Lock()
	s.worker = worker
	s.actor = actor
	s.mu.Unlock()
}
