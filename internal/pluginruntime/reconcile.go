/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pluginruntime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/grimnir_audioengine/internal/telemetry"
)

// Reconciler compares what plugin manifests are on disk against the runtime's active
// controller set and drives each difference through to a recorded outcome. A failed
// transition never removes a plugin from the active set or loses track of its last
// known-good config hash — only a transition that actually succeeds updates either.
type Reconciler struct {
	runtime   *Runtime
	store     *Store
	logger    zerolog.Logger
	fanoutMax int

	mu         sync.Mutex
	lastHashes map[string]string // plugin id -> ConfigHash at last successful apply
}

func NewReconciler(runtime *Runtime, store *Store, fanoutMax int, logger zerolog.Logger) *Reconciler {
	if fanoutMax < 1 {
		fanoutMax = 1
	}
	return &Reconciler{
		runtime:    runtime,
		store:      store,
		logger:     logger,
		fanoutMax:  fanoutMax,
		lastHashes: make(map[string]string),
	}
}

// Reconcile scans pluginDir, computes a transition for every plugin id the scan or the
// active set mentions, and applies each transition concurrently (bounded by fanoutMax).
func (r *Reconciler) Reconcile(ctx context.Context, pluginDir string) error {
	start := time.Now()
	defer func() { telemetry.ReconcileDuration.Observe(time.Since(start).Seconds()) }()

	discovered, err := DiscoverPlugins(pluginDir)
	if err != nil {
		return err
	}
	byID := make(map[string]DiscoveredPlugin, len(discovered))
	for _, d := range discovered {
		byID[d.Manifest.ID] = d
	}

	activeIDs := make(map[string]bool)
	for _, id := range r.runtime.ListPluginIDs() {
		activeIDs[id] = true
	}

	type work struct {
		id         string
		transition ReconcileTransition
		plugin     DiscoveredPlugin // zero value for removed_from_disk
	}
	var items []work

	for id, plugin := range byID {
		switch {
		case plugin.Receipt.PendingUninstall:
			items = append(items, work{id: id, transition: TransitionDisableRequested, plugin: plugin})
		case !activeIDs[id]:
			items = append(items, work{id: id, transition: TransitionLoadNew, plugin: plugin})
		default:
			r.mu.Lock()
			last, seen := r.lastHashes[id]
			r.mu.Unlock()
			if seen && last == plugin.ConfigHash {
				continue // unchanged, nothing to do
			}
			items = append(items, work{id: id, transition: TransitionReloadChanged, plugin: plugin})
		}
	}
	for id := range activeIDs {
		if _, onDisk := byID[id]; !onDisk {
			items = append(items, work{id: id, transition: TransitionRemovedFromDisk})
		}
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.fanoutMax)
	for _, it := range items {
		it := it
		g.Go(func() error {
			r.applyOne(it.id, it.transition, it.plugin)
			return nil // a single plugin's failure must not abort the reconcile pass
		})
	}
	return g.Wait()
}

func (r *Reconciler) applyOne(id string, transition ReconcileTransition, plugin DiscoveredPlugin) {
	outcome, message := r.apply(id, transition, plugin)
	telemetry.PluginApplyOutcome.WithLabelValues(string(transition), string(outcome)).Inc()
	if outcome == OutcomeApplied {
		r.mu.Lock()
		if transition == TransitionRemovedFromDisk || transition == TransitionDisableRequested {
			delete(r.lastHashes, id)
		} else {
			r.lastHashes[id] = plugin.ConfigHash
		}
		r.mu.Unlock()
	}
	if err := r.store.Record(id, transition, outcome, message); err != nil {
		r.logger.Warn().Err(err).Str("plugin_id", id).Msg("failed to record reconciliation outcome")
	}
}

func (r *Reconciler) apply(id string, transition ReconcileTransition, plugin DiscoveredPlugin) (ReconcileOutcome, string) {
	switch transition {
	case TransitionLoadNew:
		ctrl := r.runtime.EnsureController(id, plugin.Manifest.TypeID)
		ctrl.RequestConfigUpdate(plugin.Manifest.DefaultJSON)
		if _, err := ctrl.ApplyPending(plugin.Manifest.DefaultJSON); err != nil {
			return OutcomeFailed, err.Error()
		}
		return OutcomeApplied, ""

	case TransitionReloadChanged:
		ctrl, ok := r.runtime.GetController(id)
		if !ok {
			return OutcomeSkipped, "plugin not active"
		}
		ctrl.RequestConfigUpdate(plugin.Manifest.DefaultJSON)
		if _, err := ctrl.ApplyPending(plugin.Manifest.DefaultJSON); err != nil {
			return OutcomeFailed, err.Error()
		}
		return OutcomeApplied, ""

	case TransitionDisableRequested, TransitionRemovedFromDisk:
		ctrl, ok := r.runtime.GetController(id)
		if !ok {
			return OutcomeSkipped, "plugin already inactive"
		}
		reason := DestroyHostDisable
		if transition == TransitionRemovedFromDisk {
			reason = DestroyUnload
		}
		ctrl.RequestDestroy(reason)
		state, err := ctrl.ApplyPending("")
		if err != nil {
			// Destroy failed: leave the plugin in the active set, record the failure.
			return OutcomeFailed, err.Error()
		}
		if state == Destroyed {
			r.runtime.RemoveController(id)
		}
		return OutcomeApplied, ""

	default:
		return OutcomeSkipped, "unknown transition"
	}
}
