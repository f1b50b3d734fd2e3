/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hotmirror

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_audioengine/internal/audiocore/transforms"
)

func TestRunExitsWhenChannelClosed(t *testing.T) {
	m := NewRedisMirror("127.0.0.1:0", "", 0, "test-instance", zerolog.Nop())
	ch := make(chan transforms.MasterGainHotState)
	close(ch)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), ch)
		close(done)
	}()
	<-done
}

func TestRunExitsOnContextCancel(t *testing.T) {
	m := NewRedisMirror("127.0.0.1:0", "", 0, "test-instance", zerolog.Nop())
	ch := make(chan transforms.MasterGainHotState)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		m.Run(ctx, ch)
		close(done)
	}()
	<-done
}
