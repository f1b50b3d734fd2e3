/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pluginruntime

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DirectiveKind discriminates a directive bus message.
type DirectiveKind int

const (
	DirectiveRebuild DirectiveKind = iota
	DirectiveUpdateConfig
	DirectiveDestroy
)

// Directive is one message on a plugin's directive channel.
type Directive struct {
	Kind         DirectiveKind
	ConfigJSON   string        // DirectiveUpdateConfig
	DestroyCause DestroyReason // DirectiveDestroy
}

// DirectiveBus fans directives out to per-plugin-id channels. Publish never blocks the
// runtime thread: a full channel drops the directive rather than stalling the caller,
// same non-blocking-send convention as internal/events.Bus.
type DirectiveBus struct {
	mu      sync.RWMutex
	chans   map[string]chan Directive
	logger  zerolog.Logger
	nc      *nats.Conn
	subject string // subject prefix; final subject is "<prefix>.plugin.<id>.directive"
}

// NewDirectiveBus returns a bus with no NATS mirror. Use SetNATSConn to mirror
// directives onto NATS subjects for multi-process observability once connected.
func NewDirectiveBus(logger zerolog.Logger, subjectPrefix string) *DirectiveBus {
	return &DirectiveBus{
		chans:   make(map[string]chan Directive),
		logger:  logger,
		subject: subjectPrefix,
	}
}

// SetNATSConn attaches a NATS connection directives are mirrored onto after being
// delivered locally. Mirroring failures are logged and otherwise ignored: the
// directive bus's correctness does not depend on NATS being reachable.
func (b *DirectiveBus) SetNATSConn(nc *nats.Conn) { b.nc = nc }

// Channel returns (creating if necessary) the directive channel for a plugin id.
func (b *DirectiveBus) Channel(pluginID string) chan Directive {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.chans[pluginID]
	if !ok {
		ch = make(chan Directive, 8)
		b.chans[pluginID] = ch
	}
	return ch
}

// Publish delivers a directive to pluginID's channel without blocking, then mirrors it
// onto NATS if configured.
func (b *DirectiveBus) Publish(pluginID string, d Directive) {
	ch := b.Channel(pluginID)
	select {
	case ch <- d:
	default:
		b.logger.Warn().Str("plugin_id", pluginID).Msg("directive bus channel full, dropping directive")
	}

	if b.nc == nil {
		return
	}
	subject := fmt.Sprintf("%s.plugin.%s.directive", b.subject, pluginID)
	if err := b.nc.Publish(subject, directiveMirrorPayload(pluginID, d)); err != nil {
		b.logger.Debug().Err(err).Str("subject", subject).Msg("nats directive mirror publish failed")
	}
}

// Remove drops and closes a plugin's directive channel, e.g. once it's fully destroyed.
func (b *DirectiveBus) Remove(pluginID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.chans[pluginID]; ok {
		close(ch)
		delete(b.chans, pluginID)
	}
}

func directiveMirrorPayload(pluginID string, d Directive) []byte {
	var kind string
	switch d.Kind {
	case DirectiveRebuild:
		kind = "rebuild"
	case DirectiveUpdateConfig:
		kind = "update_config"
	case DirectiveDestroy:
		kind = "destroy:" + string(d.DestroyCause)
	}
	return []byte(fmt.Sprintf(`{"plugin_id":%q,"directive":%q}`, pluginID, kind))
}
