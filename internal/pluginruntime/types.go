/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package pluginruntime hosts out-of-tree plugin instances (input sources, transforms,
// sinks) behind a worker-endpoint facade: one controller per plugin id, a directive bus
// that never blocks the runtime thread, and reconciliation against what is on disk.
package pluginruntime

// ControllerState is the outcome of one apply_pending() call on a plugin controller.
type ControllerState int

const (
	// Idle means apply_pending had nothing to do.
	Idle ControllerState = iota
	// Created means a new instance was constructed (first apply after Create).
	Created
	// Recreated means the instance was destroyed and rebuilt because hot-apply could
	// not serve the pending config change.
	Recreated
	// Destroyed means the instance was torn down and nothing replaced it.
	Destroyed
)

func (s ControllerState) String() string {
	switch s {
	case Created:
		return "created"
	case Recreated:
		return "recreated"
	case Destroyed:
		return "destroyed"
	default:
		return "idle"
	}
}

// UpdateMode selects how a pending config change is applied to a live instance.
type UpdateMode int

const (
	// HotApply pushes the new config into the live instance without losing queued audio.
	HotApply UpdateMode = iota
	// Recreate exports state, destroys, creates fresh, and imports state back in.
	Recreate
)

// ConfigUpdatePlan is what an instance returns when asked how to absorb a config change.
type ConfigUpdatePlan struct {
	Mode   UpdateMode
	Reason string
}

// DestroyReason names why a controller is being torn down.
type DestroyReason string

const (
	DestroyHostDisable DestroyReason = "host_disable"
	DestroyUnload       DestroyReason = "unload"
	DestroyShutdown     DestroyReason = "shutdown"
	DestroyReload       DestroyReason = "reload"
)

// ReconcileTransition is what the reconciler decided to do with one plugin id after
// comparing the active set against what manifests are on disk.
type ReconcileTransition string

const (
	TransitionLoadNew          ReconcileTransition = "load_new"
	TransitionReloadChanged    ReconcileTransition = "reload_changed"
	TransitionDisableRequested ReconcileTransition = "disable_requested"
	TransitionRemovedFromDisk  ReconcileTransition = "removed_from_disk"
)

// ReconcileOutcome is what actually happened when a transition was applied.
type ReconcileOutcome string

const (
	OutcomeApplied ReconcileOutcome = "applied"
	OutcomeSkipped ReconcileOutcome = "skipped"
	OutcomeFailed  ReconcileOutcome = "failed"
)

// RouteIdentity is the tuple a sink route's identity-for-reuse check compares: two
// routes are identity-compatible iff plugin id, type id and target all match and the
// active session's sample rate/channels already satisfy the new desired spec.
type RouteIdentity struct {
	PluginID   string
	TypeID     string
	Target     string
	SampleRate uint32
	Channels   uint16
}

// IdentityCompatible reports whether `desired` can reuse the active session named by
// `active` without a teardown/rebuild.
func IdentityCompatible(active, desired RouteIdentity) bool {
	if active.PluginID != desired.PluginID || active.TypeID != desired.TypeID || active.Target != desired.Target {
		return false
	}
	return active.SampleRate == desired.SampleRate && active.Channels == desired.Channels
}
