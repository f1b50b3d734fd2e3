/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pluginruntime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Runtime is the worker-endpoint facade: one Controller per plugin id, each paired
// with an async directive channel it drains on its own goroutine so a slow or stuck
// plugin can never block the runtime thread that publishes directives.
type Runtime struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
	stopDrain   map[string]context.CancelFunc

	factory    InstanceFactory
	directives *DirectiveBus
	fanoutMax  int
	logger     zerolog.Logger
}

func NewRuntime(factory InstanceFactory, directives *DirectiveBus, fanoutMax int, logger zerolog.Logger) *Runtime {
	if fanoutMax < 1 {
		fanoutMax = 1
	}
	return &Runtime{
		controllers: make(map[string]*Controller),
		stopDrain:   make(map[string]context.CancelFunc),
		factory:     factory,
		directives:  directives,
		fanoutMax:   fanoutMax,
		logger:      logger,
	}
}

// EnsureController returns the controller for pluginID, creating it (and starting its
// directive-drain goroutine) if this is the first time the runtime has seen it.
func (r *Runtime) EnsureController(pluginID, typeID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctrl, ok := r.controllers[pluginID]; ok {
		return ctrl
	}
	ctrl := NewController(pluginID, typeID, r.factory, r.logger)
	r.controllers[pluginID] = ctrl

	ctx, cancel := context.WithCancel(context.Background())
	r.stopDrain[pluginID] = cancel
	go r.drainDirectives(ctx, pluginID, ctrl)
	return ctrl
}

func (r *Runtime) GetController(pluginID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctrl, ok := r.controllers[pluginID]
	return ctrl, ok
}

// RemoveController drops a fully-destroyed plugin from the active set. Callers must
// only call this once the controller has actually reported Destroyed — a failed
// destroy leaves the plugin active.
func (r *Runtime) RemoveController(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.stopDrain[pluginID]; ok {
		cancel()
		delete(r.stopDrain, pluginID)
	}
	delete(r.controllers, pluginID)
	r.directives.Remove(pluginID)
}

func (r *Runtime) ListPluginIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.controllers))
	for id := range r.controllers {
		ids = append(ids, id)
	}
	return ids
}

// drainDirectives translates directive bus messages into controller requests. It never
// calls ApplyPending itself — that runs on the reconciler's or caller's own schedule —
// it only records what the next ApplyPending should do.
func (r *Runtime) drainDirectives(ctx context.Context, pluginID string, ctrl *Controller) {
	ch := r.directives.Channel(pluginID)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			switch d.Kind {
			case DirectiveRebuild:
				ctrl.RequestRecreate("directive: rebuild")
			case DirectiveUpdateConfig:
				ctrl.RequestConfigUpdate(d.ConfigJSON)
			case DirectiveDestroy:
				ctrl.RequestDestroy(d.DestroyCause)
			}
		}
	}
}

// ApplyPendingAll runs ApplyPending on every active controller concurrently, capped at
// fanoutMax in flight at once, and returns the per-plugin-id error (nil on success).
func (r *Runtime) ApplyPendingAll(ctx context.Context, defaultConfigs map[string]string) map[string]error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.controllers))
	ctrls := make(map[string]*Controller, len(r.controllers))
	for id, ctrl := range r.controllers {
		ids = append(ids, id)
		ctrls[id] = ctrl
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(ids))
	var resultsMu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.fanoutMax)
	for _, id := range ids {
		id := id
		ctrl := ctrls[id]
		g.Go(func() error {
			_, err := ctrl.ApplyPending(defaultConfigs[id])
			resultsMu.Lock()
			results[id] = err
			resultsMu.Unlock()
			return nil // per-plugin failures don't abort the fan-out
		})
	}
	_ = g.Wait()
	return results
}
