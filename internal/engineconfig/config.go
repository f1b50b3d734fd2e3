/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engineconfig reads process-level configuration for the playback engine from
// the environment, under a single GRIMNIR_AUDIOENGINE_ prefix.
package engineconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LatencyProfile selects the ASIO sidecar's start-prefill threshold.
type LatencyProfile string

const (
	LatencyAggressive   LatencyProfile = "aggressive"
	LatencyBalanced     LatencyProfile = "balanced"
	LatencyConservative LatencyProfile = "conservative"
)

// SampleRateMode selects whether the host keeps one output rate or follows each track.
type SampleRateMode string

const (
	SampleRateFixedTarget SampleRateMode = "fixed_target"
	SampleRateMatchTrack  SampleRateMode = "match_track"
)

// Config covers process-level configuration for one engine instance.
type Config struct {
	Environment string
	LogLevel    string

	MetricsBind string

	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Sink worker / decode worker tuning.
	SinkBufferedMS          uint32
	SinkRecoveryMaxAttempts uint32
	SinkRecoveryInitial     time.Duration
	SinkRecoveryMax         time.Duration
	GainRampMS              uint32
	GainOpenFadeInMS        uint32
	ControlTimeout          time.Duration
	LoopIdleTimeout         time.Duration
	LoopPendingBlockTimeout time.Duration
	LoopPlayingIdleTimeout  time.Duration

	// Position broadcast throttling (golang.org/x/time/rate) on the control actor.
	PositionBroadcastHz float64

	// Master gain hot-control mirror.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Plugin runtime.
	PluginDirectory    string
	PluginSyncDSN      string // gorm/sqlite DSN for the plugin_sync_log store
	PluginRPCBind      string // host-side plugin gRPC boundary bind address
	NATSURL            string
	NATSSubjectPrefix  string
	ReconcileFanoutMax int // errgroup concurrency cap for apply_pending fan-out

	// ASIO sidecar.
	ASIOSidecarPath          string
	ASIOSelectionSessionSalt string
	OpenReconfigureSettleMS  uint32
	LatencyProfile           LatencyProfile
	LiveDeviceLookupAttempts int
	LiveDeviceLookupInterval time.Duration

	SampleRateMode SampleRateMode

	InstanceID string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"GRIMNIR_AUDIOENGINE_ENV"}, "development"),
		LogLevel:    getEnvAny([]string{"GRIMNIR_AUDIOENGINE_LOG_LEVEL"}, "info"),

		MetricsBind: getEnvAny([]string{"GRIMNIR_AUDIOENGINE_METRICS_BIND"}, "127.0.0.1:9100"),

		TracingEnabled:    getEnvBoolAny([]string{"GRIMNIR_AUDIOENGINE_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"GRIMNIR_AUDIOENGINE_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"GRIMNIR_AUDIOENGINE_TRACING_SAMPLE_RATE"}, 1.0),

		SinkBufferedMS:          uint32(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_SINK_BUFFERED_MS"}, 200)),
		SinkRecoveryMaxAttempts: uint32(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_SINK_RECOVERY_MAX_ATTEMPTS"}, 6)),
		SinkRecoveryInitial:     time.Duration(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_SINK_RECOVERY_INITIAL_MS"}, 50)) * time.Millisecond,
		SinkRecoveryMax:         time.Duration(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_SINK_RECOVERY_MAX_MS"}, 8000)) * time.Millisecond,
		GainRampMS:              uint32(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_GAIN_RAMP_MS"}, 30)),
		GainOpenFadeInMS:        uint32(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_GAIN_OPEN_FADE_IN_MS"}, 60)),
		ControlTimeout:          time.Duration(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_CONTROL_TIMEOUT_MS"}, 250)) * time.Millisecond,
		LoopIdleTimeout:         time.Duration(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_LOOP_IDLE_MS"}, 200)) * time.Millisecond,
		LoopPendingBlockTimeout: time.Duration(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_LOOP_PENDING_BLOCK_MS"}, 5)) * time.Millisecond,
		LoopPlayingIdleTimeout:  time.Duration(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_LOOP_PLAYING_IDLE_MS"}, 10)) * time.Millisecond,

		PositionBroadcastHz: getEnvFloatAny([]string{"GRIMNIR_AUDIOENGINE_POSITION_BROADCAST_HZ"}, 4.0),

		RedisAddr:     getEnvAny([]string{"GRIMNIR_AUDIOENGINE_REDIS_ADDR"}, ""),
		RedisPassword: getEnvAny([]string{"GRIMNIR_AUDIOENGINE_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_REDIS_DB"}, 0),

		PluginDirectory:    getEnvAny([]string{"GRIMNIR_AUDIOENGINE_PLUGIN_DIR"}, "./plugins"),
		PluginSyncDSN:      getEnvAny([]string{"GRIMNIR_AUDIOENGINE_PLUGIN_SYNC_DSN"}, "file:plugin_sync.db?cache=shared"),
		PluginRPCBind:      getEnvAny([]string{"GRIMNIR_AUDIOENGINE_PLUGIN_RPC_BIND"}, "127.0.0.1:0"),
		NATSURL:            getEnvAny([]string{"GRIMNIR_AUDIOENGINE_NATS_URL"}, ""),
		NATSSubjectPrefix:  getEnvAny([]string{"GRIMNIR_AUDIOENGINE_NATS_SUBJECT_PREFIX"}, "audioengine"),
		ReconcileFanoutMax: getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_RECONCILE_FANOUT_MAX"}, 4),

		ASIOSidecarPath:          getEnvAny([]string{"GRIMNIR_AUDIOENGINE_ASIO_SIDECAR_PATH"}, ""),
		ASIOSelectionSessionSalt: getEnvAny([]string{"GRIMNIR_AUDIOENGINE_ASIO_SESSION_SALT"}, "grimnir-audioengine"),
		OpenReconfigureSettleMS:  uint32(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_ASIO_OPEN_SETTLE_MS"}, 25)),
		LatencyProfile:           LatencyProfile(getEnvAny([]string{"GRIMNIR_AUDIOENGINE_LATENCY_PROFILE"}, string(LatencyBalanced))),
		LiveDeviceLookupAttempts: getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_ASIO_LOOKUP_ATTEMPTS"}, 5),
		LiveDeviceLookupInterval: time.Duration(getEnvIntAny([]string{"GRIMNIR_AUDIOENGINE_ASIO_LOOKUP_INTERVAL_MS"}, 200)) * time.Millisecond,

		SampleRateMode: SampleRateMode(getEnvAny([]string{"GRIMNIR_AUDIOENGINE_SAMPLE_RATE_MODE"}, string(SampleRateFixedTarget))),

		InstanceID: getEnvAny([]string{"GRIMNIR_AUDIOENGINE_INSTANCE_ID"}, ""),
	}
	if cfg.InstanceID == "" {
		// No operator-assigned id: mint one so multi-instance observability (the Redis
		// hot-control mirror, log correlation) never has to deal with an empty id.
		cfg.InstanceID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()
	return cfg, nil
}

// Validate rejects configuration values that would leave a component in an impossible
// state (zero/negative durations where a positive one is load-bearing, an unknown enum
// member).
func (c *Config) Validate() error {
	switch c.LatencyProfile {
	case LatencyAggressive, LatencyBalanced, LatencyConservative:
	default:
		return fmt.Errorf("unsupported latency profile %q", c.LatencyProfile)
	}
	switch c.SampleRateMode {
	case SampleRateFixedTarget, SampleRateMatchTrack:
	default:
		return fmt.Errorf("unsupported sample rate mode %q", c.SampleRateMode)
	}
	if c.OpenReconfigureSettleMS == 0 {
		return fmt.Errorf("GRIMNIR_AUDIOENGINE_ASIO_OPEN_SETTLE_MS must be > 0")
	}
	if c.SinkRecoveryInitial <= 0 {
		return fmt.Errorf("GRIMNIR_AUDIOENGINE_SINK_RECOVERY_INITIAL_MS must be > 0")
	}
	if c.SinkRecoveryMax < c.SinkRecoveryInitial {
		return fmt.Errorf("GRIMNIR_AUDIOENGINE_SINK_RECOVERY_MAX_MS must be >= the initial backoff")
	}
	if c.PositionBroadcastHz <= 0 {
		return fmt.Errorf("GRIMNIR_AUDIOENGINE_POSITION_BROADCAST_HZ must be > 0")
	}
	if c.ReconcileFanoutMax < 1 {
		return fmt.Errorf("GRIMNIR_AUDIOENGINE_RECONCILE_FANOUT_MAX must be >= 1")
	}
	return nil
}

// StartPrefillMS returns the sink-prefill threshold the ASIO sidecar waits for before
// issuing Start, selected by the configured latency profile.
func (c *Config) StartPrefillMS() uint32 {
	switch c.LatencyProfile {
	case LatencyAggressive:
		return 8
	case LatencyConservative:
		return 60
	default:
		return 25
	}
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"AUDIOENGINE_LOG_LEVEL":   "use GRIMNIR_AUDIOENGINE_LOG_LEVEL",
		"AUDIOENGINE_METRICS_BIND": "use GRIMNIR_AUDIOENGINE_METRICS_BIND",
		"ASIO_SIDECAR_PATH":       "use GRIMNIR_AUDIOENGINE_ASIO_SIDECAR_PATH",
	}
	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
