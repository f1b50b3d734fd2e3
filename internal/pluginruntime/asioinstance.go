/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pluginruntime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_audioengine/internal/asio"
)

// AsioDeviceConfig is the config_json shape an asio_sink-type_id plugin manifest or
// directive carries: which device to open and at what spec.
type AsioDeviceConfig struct {
	DeviceID         string `json:"device_id"`
	SampleRate       uint32 `json:"sample_rate"`
	Channels         uint16 `json:"channels"`
	BufferSizeFrames uint32 `json:"buffer_size_frames"`
	QueueCapacityMS  uint32 `json:"queue_capacity_ms"`
	StartPrefillMS   uint32 `json:"start_prefill_ms"`
}

// AsioInstance is the Instance adapter for plugins whose type_id names an ASIO
// sidecar sink. Every config change recreates the stream (ConfigPlan always returns
// Recreate) since Open always drops whatever stream is live — there is no partial
// hot-apply for a device/spec change at the sidecar boundary.
type AsioInstance struct {
	client      *asio.Client
	sidecarCfg  asio.ClientConfig
	selectionFn func(deviceID string) (uint64, error) // resolves a fresh selection session id
	prefill     *asio.PrefillWriter
	logger      zerolog.Logger
}

// NewAsioInstanceFactory returns an InstanceFactory that builds AsioInstance values
// for any plugin whose type_id is "asio_sink". sidecarCfg names the sidecar
// executable; selectionFn performs (or wraps) the ListDevices round trip needed to
// obtain a current selection session id for Open.
func NewAsioInstanceFactory(sidecarCfg asio.ClientConfig, selectionFn func(deviceID string) (uint64, error), logger zerolog.Logger) InstanceFactory {
	return func(pluginID, typeID, configJSON string) (Instance, error) {
		if typeID != "asio_sink" {
			return nil, fmt.Errorf("pluginruntime: no instance factory for type_id %q", typeID)
		}
		inst := &AsioInstance{
			client:      asio.NewClient(logger),
			sidecarCfg:  sidecarCfg,
			selectionFn: selectionFn,
			logger:      logger.With().Str("plugin_id", pluginID).Logger(),
		}
		if err := inst.open(configJSON); err != nil {
			return nil, err
		}
		return inst, nil
	}
}

func (a *AsioInstance) open(configJSON string) error {
	var cfg AsioDeviceConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return fmt.Errorf("asio instance: decode config: %w", err)
	}
	ctx := context.Background()
	if err := a.client.Ensure(ctx, a.sidecarCfg); err != nil {
		return err
	}
	sessionID, err := a.selectionFn(cfg.DeviceID)
	if err != nil {
		return err
	}
	if err := a.client.Open(sessionID, cfg.DeviceID, cfg.SampleRate, cfg.Channels, cfg.BufferSizeFrames, cfg.QueueCapacityMS); err != nil {
		return err
	}
	a.prefill = asio.NewPrefillWriter(a.client, cfg.SampleRate, cfg.StartPrefillMS)
	return nil
}

// ConfigPlan always recreates: there is no way to change device/spec without Open
// dropping the existing stream first.
func (a *AsioInstance) ConfigPlan(configJSON string) (ConfigUpdatePlan, error) {
	return ConfigUpdatePlan{Mode: Recreate, Reason: "asio open always drops the existing stream"}, nil
}

// HotApply is never called in practice (ConfigPlan always asks for Recreate) but is
// implemented as a straight reopen for completeness of the Instance contract.
func (a *AsioInstance) HotApply(configJSON string) error {
	_ = a.client.CloseStream()
	return a.open(configJSON)
}

func (a *AsioInstance) ExportState() ([]byte, error) { return nil, nil }
func (a *AsioInstance) ImportState(state []byte) error { return nil }

func (a *AsioInstance) Close() error {
	_ = a.client.CloseStream()
	return a.client.Close()
}

// Write pushes interleaved samples through the prefill writer, issuing Start once the
// configured threshold has been crossed.
func (a *AsioInstance) Write(samples []float32) (uint32, error) {
	if a.prefill == nil {
		return 0, fmt.Errorf("asio instance: not open")
	}
	return a.prefill.Write(samples)
}
