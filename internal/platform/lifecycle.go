// Package platform owns the adapter registry: constructing one adapter per
// enabled platform, validating the adapter contract, tracking each entry
// through its state machine, and tearing everything down on shutdown.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/you/streamops/internal/clock"
	"github.com/you/streamops/internal/config"
	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/metrics"
)

// Status is one registry entry's lifecycle state.
type Status string

const (
	StatusUninitialized Status = "UNINITIALIZED"
	StatusInitializing  Status = "INITIALIZING"
	StatusReady         Status = "READY"
	StatusFailed        Status = "FAILED"
	StatusClosed        Status = "CLOSED"
)

// The adapter contract. Constructors return any; the service validates the
// capability set and reports every missing method by name.
type (
	initializer interface {
		Initialize(ctx context.Context) error
	}
	cleaner interface {
		Cleanup(ctx context.Context) error
	}
	listener interface {
		On(event string, handler func(payload any))
	}
)

// Constructor builds an adapter for a platform from its config section.
// The returned value is contract-checked, not type-constrained, so a
// constructor wiring an incomplete adapter fails registration instead of
// compilation — matching how adapters are loaded from external definitions.
type Constructor func(cfg *config.Service) (any, error)

// StreamDetector gates non-YouTube platforms: connect runs only once a live
// stream is detected.
type StreamDetector interface {
	StartStreamDetection(ctx context.Context, platform core.Platform, cfg *config.Service, connect func(ctx context.Context) error, status func(live bool)) error
}

type entry struct {
	instance       any
	status         Status
	lastError      error
	connectionTime time.Time
}

// Registration is the read-only view of one registry entry.
type Registration struct {
	Platform       core.Platform `json:"platform"`
	Status         Status        `json:"status"`
	LastError      string        `json:"lastError,omitempty"`
	ConnectionTime time.Time     `json:"connectionTime"`
}

// FailedPlatform pairs a platform with the error that failed it.
type FailedPlatform struct {
	Name      string `json:"name"`
	LastError string `json:"lastError"`
}

// StatusReport is the snapshot served by the admin API.
type StatusReport struct {
	Platforms       []Registration   `json:"platforms"`
	FailedPlatforms []FailedPlatform `json:"failedPlatforms"`
}

type Service struct {
	cfg      *config.Service
	detector StreamDetector
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	registry map[core.Platform]*entry
}

func NewService(cfg *config.Service, detector StreamDetector, c clock.Clock) *Service {
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		cfg:      cfg,
		detector: detector,
		clock:    c,
		logger:   slog.Default().With("component", "platform"),
		registry: make(map[core.Platform]*entry),
	}
}

// validateContract reports the adapter methods the instance is missing, in a
// stable order.
func validateContract(instance any) []string {
	var missing []string
	if _, ok := instance.(initializer); !ok {
		missing = append(missing, "initialize")
	}
	if _, ok := instance.(cleaner); !ok {
		missing = append(missing, "cleanup")
	}
	if _, ok := instance.(listener); !ok {
		missing = append(missing, "on")
	}
	return missing
}

// InitializeAllPlatforms constructs and starts an adapter for every enabled
// platform. Per-platform failures mark that entry FAILED and the loop
// continues; the method itself never fails.
func (s *Service) InitializeAllPlatforms(ctx context.Context, constructors map[core.Platform]Constructor) {
	platforms := make([]core.Platform, 0, len(constructors))
	for p := range constructors {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })

	for _, p := range platforms {
		if !s.cfg.PlatformEnabled(p) {
			s.logger.Info("platform disabled", "platform", p)
			continue
		}
		s.initializePlatform(ctx, p, constructors[p])
	}
}

func (s *Service) initializePlatform(ctx context.Context, p core.Platform, construct Constructor) {
	s.setStatus(p, nil, StatusInitializing, nil)

	instance, err := construct(s.cfg)
	if err != nil {
		s.fail(p, nil, fmt.Errorf("construct %s adapter: %w", p, err))
		return
	}

	if missing := validateContract(instance); len(missing) > 0 {
		s.fail(p, instance, fmt.Errorf("%s adapter does not implement required methods: %s", p, strings.Join(missing, ", ")))
		return
	}

	connect := func(ctx context.Context) error {
		if err := instance.(initializer).Initialize(ctx); err != nil {
			s.fail(p, instance, err)
			return err
		}
		s.mu.Lock()
		e := s.registry[p]
		e.status = StatusReady
		e.lastError = nil
		e.connectionTime = s.clock.Now()
		s.mu.Unlock()
		metrics.PlatformStatus.WithLabelValues(string(p)).Set(1)
		s.logger.Info("platform ready", "platform", p)
		return nil
	}

	s.setStatus(p, instance, StatusInitializing, nil)

	// YouTube connects directly; everything else waits for the stream
	// detector to see a live broadcast.
	if p == core.PlatformYouTube || s.detector == nil {
		_ = connect(ctx)
		return
	}

	statusFn := func(live bool) {
		v := 0.0
		if live {
			v = 1.0
		}
		metrics.StreamLive.WithLabelValues(string(p)).Set(v)
	}
	if err := s.detector.StartStreamDetection(ctx, p, s.cfg, connect, statusFn); err != nil {
		s.fail(p, instance, fmt.Errorf("start stream detection: %w", err))
	}
}

func (s *Service) setStatus(p core.Platform, instance any, st Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.registry[p]
	if !ok {
		e = &entry{}
		s.registry[p] = e
	}
	if instance != nil {
		e.instance = instance
	}
	e.status = st
	e.lastError = err
}

func (s *Service) fail(p core.Platform, instance any, err error) {
	s.setStatus(p, instance, StatusFailed, err)
	metrics.PlatformStatus.WithLabelValues(string(p)).Set(0)
	s.logger.Error("platform failed", "platform", p, "err", err)
}

// DisconnectAll awaits every adapter's cleanup, swallows per-adapter errors,
// and clears the registry.
func (s *Service) DisconnectAll(ctx context.Context) {
	s.mu.Lock()
	entries := make(map[core.Platform]*entry, len(s.registry))
	for p, e := range s.registry {
		entries[p] = e
	}
	s.mu.Unlock()

	for p, e := range entries {
		if c, ok := e.instance.(cleaner); ok && e.status == StatusReady {
			if err := c.Cleanup(ctx); err != nil {
				s.logger.Error("platform cleanup", "platform", p, "err", err)
			}
		}
		s.mu.Lock()
		e.status = StatusClosed
		s.mu.Unlock()
		metrics.PlatformStatus.WithLabelValues(string(p)).Set(0)
	}

	s.mu.Lock()
	s.registry = make(map[core.Platform]*entry)
	s.mu.Unlock()
	s.logger.Info("all platforms disconnected")
}

// IsPlatformAvailable reports whether the platform is registered and READY.
func (s *Service) IsPlatformAvailable(p core.Platform) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.registry[p]
	return ok && e.status == StatusReady
}

// Adapter returns the registered instance for callers that need to reach a
// specific adapter's extra surface. Nil when absent or not READY.
func (s *Service) Adapter(p core.Platform) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.registry[p]
	if !ok || e.status != StatusReady {
		return nil
	}
	return e.instance
}

// AllPlatforms lists registered platforms, sorted.
func (s *Service) AllPlatforms() []core.Platform {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Platform, 0, len(s.registry))
	for p := range s.registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetStatus returns a defensive snapshot of the registry.
func (s *Service) GetStatus() StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := StatusReport{
		Platforms:       make([]Registration, 0, len(s.registry)),
		FailedPlatforms: make([]FailedPlatform, 0),
	}
	platforms := make([]core.Platform, 0, len(s.registry))
	for p := range s.registry {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })

	for _, p := range platforms {
		e := s.registry[p]
		reg := Registration{
			Platform:       p,
			Status:         e.status,
			ConnectionTime: e.connectionTime,
		}
		if e.lastError != nil {
			reg.LastError = e.lastError.Error()
		}
		report.Platforms = append(report.Platforms, reg)
		if e.status == StatusFailed {
			report.FailedPlatforms = append(report.FailedPlatforms, FailedPlatform{
				Name:      string(p),
				LastError: reg.LastError,
			})
		}
	}
	return report
}
