/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pluginruntime

import (
	"sync"

	"github.com/rs/zerolog"
)

// Instance is one live plugin instance: an input source, a transform, or a sink
// running out-of-tree, reached through whatever transport the plugin's type_id names
// (in-process, the gRPC boundary in grpc.go, or an ASIO sidecar connection).
type Instance interface {
	// ConfigPlan asks the instance how it would like to absorb a config change.
	ConfigPlan(configJSON string) (ConfigUpdatePlan, error)
	// HotApply pushes a new config into the live instance without losing queued audio.
	HotApply(configJSON string) error
	// ExportState and ImportState round-trip best-effort state across a recreate. Both
	// may return (nil, nil) / nil if the instance has nothing worth preserving.
	ExportState() ([]byte, error)
	ImportState(state []byte) error
	Close() error
}

// ControlMessageHandler is implemented by instances that accept out-of-band control
// messages (distinct from config changes) while live.
type ControlMessageHandler interface {
	OnControlMessage(msg any) error
}

// InstanceFactory constructs a fresh instance for a plugin id/type id pair.
type InstanceFactory func(pluginID, typeID, configJSON string) (Instance, error)

// Controller owns exactly one plugin instance's lifecycle. ApplyPending and
// OnControlMessage are the only places the live instance is dereferenced, both under
// c.mu — it is never stored or handed out past the call that obtained it, so no caller
// can hold a reference across a suspension point that a concurrent Destroy/Recreate
// request could invalidate.
type Controller struct {
	pluginID string
	typeID   string
	factory  InstanceFactory
	logger   zerolog.Logger

	mu                sync.Mutex
	instance          Instance
	lastConfig        string
	pendingConfig     *string
	pendingDestroy    *DestroyReason
	pendingRecreate   bool
	recreateReason    string
}

func NewController(pluginID, typeID string, factory InstanceFactory, logger zerolog.Logger) *Controller {
	return &Controller{
		pluginID: pluginID,
		typeID:   typeID,
		factory:  factory,
		logger:   logger.With().Str("plugin_id", pluginID).Str("type_id", typeID).Logger(),
	}
}

// RequestConfigUpdate queues a config change for the next ApplyPending.
func (c *Controller) RequestConfigUpdate(configJSON string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingConfig = &configJSON
}

// RequestDestroy queues a teardown for the next ApplyPending, taking priority over any
// pending config update or recreate.
func (c *Controller) RequestDestroy(reason DestroyReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingDestroy = &reason
}

// RequestRecreate forces the next ApplyPending to destroy-and-rebuild the instance
// rather than hot-apply, regardless of what ConfigPlan would have said.
func (c *Controller) RequestRecreate(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingRecreate = true
	c.recreateReason = reason
}

func (c *Controller) HasPendingDestroy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingDestroy != nil
}

func (c *Controller) HasPendingRecreate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingRecreate
}

// OnControlMessage forwards an out-of-band control message to the live instance, if it
// accepts them.
func (c *Controller) OnControlMessage(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.instance == nil {
		return nil
	}
	if handler, ok := c.instance.(ControlMessageHandler); ok {
		return handler.OnControlMessage(msg)
	}
	return nil
}

// ApplyPending drains whatever is pending (destroy, forced recreate, or a config
// update) and returns what happened. defaultConfigJSON seeds a brand new instance when
// none is pending and none exists yet.
func (c *Controller) ApplyPending(defaultConfigJSON string) (ControllerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingDestroy != nil {
		reason := *c.pendingDestroy
		c.pendingDestroy = nil
		if c.instance == nil {
			return Idle, nil
		}
		err := c.instance.Close()
		c.instance = nil
		c.logger.Info().Str("reason", string(reason)).Msg("plugin instance destroyed")
		return Destroyed, err
	}

	if c.instance == nil {
		cfg := defaultConfigJSON
		if c.pendingConfig != nil {
			cfg = *c.pendingConfig
			c.pendingConfig = nil
		}
		inst, err := c.factory(c.pluginID, c.typeID, cfg)
		if err != nil {
			return Idle, err
		}
		c.instance = inst
		c.lastConfig = cfg
		c.pendingRecreate = false
		return Created, nil
	}

	if c.pendingRecreate {
		reason := c.recreateReason
		c.pendingRecreate = false
		return c.recreateLocked(c.lastConfig, "forced recreate: "+reason)
	}

	if c.pendingConfig == nil {
		return Idle, nil
	}
	cfg := *c.pendingConfig
	c.pendingConfig = nil

	plan, err := c.instance.ConfigPlan(cfg)
	if err != nil {
		c.logger.Warn().Err(err).Msg("config plan failed, downgrading to recreate")
		return c.recreateLocked(cfg, "config plan error: "+err.Error())
	}
	if plan.Mode == Recreate {
		return c.recreateLocked(cfg, plan.Reason)
	}
	if err := c.instance.HotApply(cfg); err != nil {
		c.logger.Warn().Err(err).Msg("hot apply failed, downgrading to recreate")
		return c.recreateLocked(cfg, "hot apply failed: "+err.Error())
	}
	c.lastConfig = cfg
	return Idle, nil
}

// recreateLocked exports best-effort state, destroys, builds fresh with cfg, and
// imports the state back in. Called with c.mu held.
func (c *Controller) recreateLocked(cfg string, reason string) (ControllerState, error) {
	var state []byte
	if c.instance != nil {
		exported, err := c.instance.ExportState()
		if err != nil {
			c.logger.Debug().Err(err).Msg("export state failed before recreate, continuing without it")
		} else {
			state = exported
		}
		if err := c.instance.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("close failed during recreate")
		}
		c.instance = nil
	}

	inst, err := c.factory(c.pluginID, c.typeID, cfg)
	if err != nil {
		return Destroyed, err
	}
	c.instance = inst
	c.lastConfig = cfg
	if state != nil {
		if err := inst.ImportState(state); err != nil {
			c.logger.Debug().Err(err).Msg("import state failed after recreate, instance starts fresh")
		}
	}
	c.logger.Info().Str("reason", reason).Msg("plugin instance recreated")
	return Recreated, nil
}
