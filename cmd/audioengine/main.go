/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/friendsincode/grimnir_audioengine/internal/asio"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/decodeworker"
	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/transforms"
	"github.com/friendsincode/grimnir_audioengine/internal/controlactor"
	"github.com/friendsincode/grimnir_audioengine/internal/engine"
	"github.com/friendsincode/grimnir_audioengine/internal/engineconfig"
	"github.com/friendsincode/grimnir_audioengine/internal/events"
	"github.com/friendsincode/grimnir_audioengine/internal/hostsupervisor"
	"github.com/friendsincode/grimnir_audioengine/internal/hotmirror"
	"github.com/friendsincode/grimnir_audioengine/internal/logging"
	"github.com/friendsincode/grimnir_audioengine/internal/pluginruntime"
	"github.com/friendsincode/grimnir_audioengine/internal/telemetry"
)

// buildVersion is overridden at build time via -ldflags
// "-X main.buildVersion=X.Y.Z".
var buildVersion = "0.1.0"

var healthAddr string

var rootCmd = &cobra.Command{
	Use:   "audioengine",
	Short: "Grimnir audio engine host process",
	Long:  "Hosts one decode/control pipeline, its plugin runtime, and its ASIO sidecar client for the lifetime of the process.",
	RunE:  runServe,
}

var healthCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Probe a running engine's metrics endpoint",
	RunE:  runHealthCheck,
}

func init() {
	healthCmd.Flags().StringVar(&healthAddr, "addr", "", "metrics bind address to probe (defaults to the engine's configured bind address)")
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runHealthCheck(cmd *cobra.Command, args []string) error {
	addr := healthAddr
	if addr == "" {
		cfg, err := engineconfig.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		addr = cfg.MetricsBind
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/metrics", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: cannot reach %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: %s returned %s\n", addr, resp.Status)
		os.Exit(1)
	}
	fmt.Println("health check passed")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := engineconfig.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.Setup(cfg.Environment).With().Str("component", "audioengine").Logger()
	for _, warning := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warning)
	}
	logger.Info().Str("version", buildVersion).Str("instance_id", cfg.InstanceID).Msg("grimnir audio engine starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "grimnir-audioengine",
		ServiceVersion: buildVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	hot := transforms.NewSharedMasterGainHotControl()
	if cfg.RedisAddr != "" {
		mirror := hotmirror.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.InstanceID, logger)
		mirrorCh := make(chan transforms.MasterGainHotState, 8)
		hot.SetMirrorChan(mirrorCh)
		go mirror.Run(ctx, mirrorCh)
	}

	store, err := pluginruntime.NewStore(cfg.PluginSyncDSN)
	if err != nil {
		return fmt.Errorf("open plugin sync store: %w", err)
	}

	directives := pluginruntime.NewDirectiveBus(logger, cfg.NATSSubjectPrefix)
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Error().Err(err).Str("url", cfg.NATSURL).Msg("failed to connect to NATS, directive mirroring disabled")
		} else {
			directives.SetNATSConn(nc)
			defer nc.Close()
		}
	}

	sidecarCfg := asio.ClientConfig{ExecutablePath: cfg.ASIOSidecarPath, StartupTimeout: 5 * time.Second}
	sharedAsioClient := asio.NewClient(logger)
	selectionFn := func(deviceID string) (uint64, error) {
		if err := sharedAsioClient.Ensure(ctx, sidecarCfg); err != nil {
			return 0, err
		}
		devices, err := sharedAsioClient.ListDevices()
		if err != nil {
			return 0, err
		}
		for _, d := range devices {
			if d.DeviceID == deviceID {
				return d.SessionID, nil
			}
		}
		return 0, fmt.Errorf("device %q not present in sidecar catalog", deviceID)
	}
	instanceFactory := pluginruntime.NewAsioInstanceFactory(sidecarCfg, selectionFn, logger)
	pluginRt := pluginruntime.NewRuntime(instanceFactory, directives, cfg.ReconcileFanoutMax, logger)
	reconciler := pluginruntime.NewReconciler(pluginRt, store, cfg.ReconcileFanoutMax, logger)

	builder := func() (*decodeworker.Worker, *controlactor.Actor) {
		actor := controlactor.New(nil, bus, hot, cfg.PositionBroadcastHz, cfg.ControlTimeout)
		worker := decodeworker.StartDecodeWorker(
			nil, // a RunnerFactory is installed by the engine facade once a caller supplies one
			actor,
			hot,
			audiocore.SinkLatencyConfig{BufferedMS: cfg.SinkBufferedMS},
			audiocore.SinkRecoveryConfig{
				MaxAttempts:    cfg.SinkRecoveryMaxAttempts,
				InitialBackoff: cfg.SinkRecoveryInitial,
				MaxBackoff:     cfg.SinkRecoveryMax,
			},
			audiocore.GainTransitionConfig{
				RampMS:       cfg.GainRampMS,
				Curve:        audiocore.GainLinear,
				OpenFadeInMS: cfg.GainOpenFadeInMS,
			},
			decodeworker.LoopTimeouts{
				Idle:                cfg.LoopIdleTimeout,
				PlayingPendingBlock: cfg.LoopPendingBlockTimeout,
				PlayingIdle:         cfg.LoopPlayingIdleTimeout,
			},
			cfg.ControlTimeout,
		)
		worker.SetLogger(logger)
		actor.BindWorker(worker)
		return worker, actor
	}

	supervisor := hostsupervisor.Start(builder, logger)
	defer supervisor.Stop()

	eng := engine.New(supervisor.Actor(), pluginRt)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reconcileCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				if err := reconciler.Reconcile(reconcileCtx, cfg.PluginDirectory); err != nil {
					logger.Error().Err(err).Msg("plugin reconciliation failed")
				}
				cancel()
			}
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telemetry.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsBind, Handler: metricsMux}
	go func() {
		logger.Info().Str("bind", cfg.MetricsBind).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	listener, err := net.Listen("tcp", cfg.PluginRPCBind)
	if err != nil {
		return fmt.Errorf("listen on plugin rpc bind %s: %w", cfg.PluginRPCBind, err)
	}
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ConnectionTimeout(30*time.Second),
	)
	pluginruntime.RegisterPluginHostServer(grpcServer, &pluginruntime.HostAdapter{Runtime: pluginRt})
	go func() {
		logger.Info().Str("addr", listener.Addr().String()).Msg("plugin host rpc boundary listening")
		if err := grpcServer.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			logger.Error().Err(err).Msg("plugin rpc server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down gracefully")

	grpcServer.GracefulStop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := eng.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("engine shutdown error")
	}
	return nil
}
