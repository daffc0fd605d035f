// Package streamdetect polls for an active live broadcast and invokes the
// platform connect callback on the offline-to-live transition. Platforms
// register a probe; the detector owns the polling loop and backoff.
package streamdetect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/you/streamops/internal/config"
	"github.com/you/streamops/internal/core"
)

// Probe reports whether the platform currently has a live broadcast.
type Probe interface {
	IsLive(ctx context.Context, cfg *config.Service) (bool, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context, cfg *config.Service) (bool, error)

func (f ProbeFunc) IsLive(ctx context.Context, cfg *config.Service) (bool, error) {
	return f(ctx, cfg)
}

type Detector struct {
	logger *slog.Logger

	mu     sync.Mutex
	probes map[core.Platform]Probe
}

func NewDetector() *Detector {
	return &Detector{
		logger: slog.Default().With("component", "streamdetect"),
		probes: make(map[core.Platform]Probe),
	}
}

func (d *Detector) Register(p core.Platform, probe Probe) {
	d.mu.Lock()
	d.probes[p] = probe
	d.mu.Unlock()
}

func (d *Detector) probe(p core.Platform) Probe {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.probes[p]
}

// StartStreamDetection launches the polling loop for a platform. connect is
// invoked once per offline-to-live transition; a failed connect is retried
// on the next live poll. Platforms without a registered probe connect
// immediately.
func (d *Detector) StartStreamDetection(ctx context.Context, p core.Platform, cfg *config.Service, connect func(ctx context.Context) error, status func(live bool)) error {
	probe := d.probe(p)
	if probe == nil {
		d.logger.Info("no live probe registered, connecting directly", "platform", p)
		return connect(ctx)
	}

	interval := cfg.DurationSec(string(p), "liveCheckIntervalSec", 30*time.Second)
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go d.poll(ctx, p, cfg, probe, interval, connect, status)
	return nil
}

func (d *Detector) poll(ctx context.Context, p core.Platform, cfg *config.Service, probe Probe, interval time.Duration, connect func(ctx context.Context) error, status func(live bool)) {
	var (
		wasLive   bool
		connected bool
	)
	for {
		live, err := probe.IsLive(ctx, cfg)
		if err != nil {
			d.logger.Error("live probe", "platform", p, "err", err)
		} else {
			if status != nil {
				status(live)
			}
			switch {
			case live && !connected:
				d.logger.Info("live broadcast detected", "platform", p)
				if err := connect(ctx); err != nil {
					d.logger.Error("connect after live detection", "platform", p, "err", err)
				} else {
					connected = true
				}
			case !live && wasLive:
				d.logger.Info("broadcast ended", "platform", p)
				connected = false
			}
			wasLive = live
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
