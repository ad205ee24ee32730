package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tbnf-go/tbnf/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_sent", snap.FramesSent,
					"frames_received", snap.FramesReceived,
					"connections_succeeded", snap.ConnSucceeded,
					"connections_failed", snap.ConnFailed,
					"disconnections", snap.Disconnections,
					"errors", snap.Errors,
					"queue_depth", snap.QueueDepth,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
