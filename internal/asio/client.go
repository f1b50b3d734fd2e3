/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package asio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/grimnir_audioengine/internal/asio/asioproto"
	"github.com/friendsincode/grimnir_audioengine/internal/telemetry"
)

// ClientConfig names the sidecar process to launch. signature() is the config
// signature the sidecar manager keys reuse on: an identical signature reuses the live
// process; anything else tears down the old sidecar first.
type ClientConfig struct {
	ExecutablePath string
	Args           []string
	StartupTimeout time.Duration
}

func (c ClientConfig) signature() string {
	return c.ExecutablePath + "|" + strings.Join(c.Args, "|")
}

// Client is the host application's sidecar manager: it owns at most one live sidecar
// process, serializes every request across its stdio channel with a mutex, and tears
// down and relaunches the process whenever the requested config signature changes.
type Client struct {
	logger zerolog.Logger

	mu        sync.Mutex
	signature string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
}

func NewClient(logger zerolog.Logger) *Client {
	return &Client{logger: logger.With().Str("component", "asio_client").Logger()}
}

// Ensure launches the sidecar named by cfg if it isn't already the live process,
// performing the Hello/HelloOk handshake on a fresh launch.
func (c *Client) Ensure(ctx context.Context, cfg ClientConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sig := cfg.signature()
	if c.cmd != nil && c.signature == sig && c.cmd.ProcessState == nil {
		return nil
	}
	c.teardownLocked()

	cmd := exec.CommandContext(ctx, cfg.ExecutablePath, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("asio: sidecar stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("asio: sidecar stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("asio: sidecar start: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)
	c.signature = sig

	if err := asioproto.WriteFrame(c.stdin, asioproto.Marshal(asioproto.Hello{Version: asioproto.ProtocolVersion})); err != nil {
		c.teardownLocked()
		return fmt.Errorf("asio: hello write: %w", err)
	}
	payload, err := asioproto.ReadFrame(c.stdout)
	if err != nil {
		c.teardownLocked()
		return fmt.Errorf("asio: hello read: %w", err)
	}
	resp, err := asioproto.Unmarshal(payload)
	if err != nil {
		c.teardownLocked()
		return err
	}
	if _, ok := resp.(asioproto.HelloOk); !ok {
		c.teardownLocked()
		return fmt.Errorf("asio: sidecar rejected handshake: %v", resp)
	}
	return nil
}

// teardownLocked kills the live sidecar process, if any. Called with c.mu held.
func (c *Client) teardownLocked() {
	if c.cmd == nil {
		return
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
	c.signature = ""
}

// Close tears down the live sidecar, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	return nil
}

// call serializes one request/response round trip over the live sidecar channel.
func (c *Client) call(req asioproto.Message) (asioproto.Message, error) {
	start := time.Now()
	defer func() { telemetry.AsioRoundTrip.Observe(time.Since(start).Seconds()) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stdin == nil {
		return nil, fmt.Errorf("asio: no live sidecar")
	}
	if err := asioproto.WriteFrame(c.stdin, asioproto.Marshal(req)); err != nil {
		return nil, err
	}
	payload, err := asioproto.ReadFrame(c.stdout)
	if err != nil {
		return nil, err
	}
	return asioproto.Unmarshal(payload)
}

func (c *Client) ListDevices() ([]asioproto.DeviceInfo, error) {
	resp, err := c.call(asioproto.ListDevices{})
	if err != nil {
		return nil, err
	}
	if devices, ok := resp.(asioproto.Devices); ok {
		return devices.List, nil
	}
	return nil, asErr(resp)
}

func (c *Client) GetDeviceCaps(sessionID uint64, deviceID string) (asioproto.DeviceCaps, error) {
	resp, err := c.call(asioproto.GetDeviceCaps{SelectionSessionID: sessionID, DeviceID: deviceID})
	if err != nil {
		return asioproto.DeviceCaps{}, err
	}
	if caps, ok := resp.(asioproto.DeviceCaps); ok {
		return caps, nil
	}
	return asioproto.DeviceCaps{}, asErr(resp)
}

// PrefetchDeviceCaps lists devices, then fetches every device's capabilities
// concurrently. The sidecar channel itself still serializes each round trip (one
// request at a time per channel), but the fan-out means a slow caps query never
// blocks the others queuing up behind it in caller-side goroutines.
func (c *Client) PrefetchDeviceCaps(ctx context.Context) (map[string]asioproto.DeviceCaps, error) {
	devices, err := c.ListDevices()
	if err != nil {
		return nil, err
	}

	results := make(map[string]asioproto.DeviceCaps, len(devices))
	var resultsMu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	for _, d := range devices {
		d := d
		g.Go(func() error {
			caps, err := c.GetDeviceCaps(d.SessionID, d.DeviceID)
			if err != nil {
				return err
			}
			resultsMu.Lock()
			results[d.DeviceID] = caps
			resultsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) Open(sessionID uint64, deviceID string, sampleRate uint32, channels uint16, bufferFrames, queueCapacityMS uint32) error {
	resp, err := c.call(asioproto.Open{
		SelectionSessionID: sessionID,
		DeviceID:           deviceID,
		SampleRate:         sampleRate,
		Channels:           channels,
		BufferSizeFrames:   bufferFrames,
		QueueCapacityMS:    queueCapacityMS,
	})
	if err != nil {
		return err
	}
	if _, ok := resp.(asioproto.Ok); ok {
		return nil
	}
	return asErr(resp)
}

func (c *Client) Start() error { return c.callOk(asioproto.Start{}) }
func (c *Client) Stop() error  { return c.callOk(asioproto.Stop{}) }
func (c *Client) Reset() error { return c.callOk(asioproto.Reset{}) }

func (c *Client) CloseStream() error { return c.callOk(asioproto.Close{}) }

func (c *Client) callOk(req asioproto.Message) error {
	resp, err := c.call(req)
	if err != nil {
		return err
	}
	if _, ok := resp.(asioproto.Ok); ok {
		return nil
	}
	return asErr(resp)
}

func (c *Client) Write(samples []float32) (uint32, error) {
	resp, err := c.call(asioproto.WriteSamples{Interleaved: samples})
	if err != nil {
		return 0, err
	}
	if written, ok := resp.(asioproto.WrittenFrames); ok {
		return written.Frames, nil
	}
	return 0, asErr(resp)
}

func (c *Client) Status() (asioproto.Status, error) {
	resp, err := c.call(asioproto.QueryStatus{})
	if err != nil {
		return asioproto.Status{}, err
	}
	if status, ok := resp.(asioproto.Status); ok {
		return status, nil
	}
	return asioproto.Status{}, asErr(resp)
}

func asErr(resp asioproto.Message) error {
	if e, ok := resp.(asioproto.Err); ok {
		return fmt.Errorf("asio: %s", e.Message)
	}
	return fmt.Errorf("asio: unexpected response %T", resp)
}
