/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package asio

// PrefillWriter holds Start back until enough audio has been queued to absorb the
// configured latency profile's start-prefill threshold, then issues Start exactly
// once. Every Write after that passes straight through.
type PrefillWriter struct {
	client          *Client
	thresholdFrames uint32
	written         uint32
	started         bool
}

// NewPrefillWriter builds a writer that waits for thresholdMS of audio (at
// sampleRate) before starting the stream — see engineconfig.Config.StartPrefillMS for
// how a latency profile maps to this value.
func NewPrefillWriter(client *Client, sampleRate uint32, thresholdMS uint32) *PrefillWriter {
	return &PrefillWriter{
		client:          client,
		thresholdFrames: msToFrames(thresholdMS, sampleRate),
	}
}

// Write enqueues samples and starts the stream once the prefill threshold has been
// crossed for the first time.
func (w *PrefillWriter) Write(samples []float32) (uint32, error) {
	frames, err := w.client.Write(samples)
	if err != nil {
		return 0, err
	}
	if w.started {
		return frames, nil
	}
	w.written += frames
	if w.written >= w.thresholdFrames {
		if err := w.client.Start(); err != nil {
			return frames, err
		}
		w.started = true
	}
	return frames, nil
}

// Started reports whether the prefill threshold has been crossed and Start issued.
func (w *PrefillWriter) Started() bool { return w.started }
