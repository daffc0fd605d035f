// Package notify turns monetization and attention events into display items:
// alias rejection, per-user suppression, priority classification, VFX key
// resolution, and the human-readable display and TTS messages.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/you/streamops/internal/clock"
	"github.com/you/streamops/internal/config"
	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/metrics"
)

// VFXResolver maps a canonical type key to its configured effect descriptor.
// Nil means no effect is configured, which is not an error.
type VFXResolver interface {
	GetVFXConfig(commandKey string) *core.VFXConfig
}

// QueueSink is the display queue surface the manager enqueues on.
type QueueSink interface {
	AddItem(item core.DisplayItem) error
}

// GoalTracker receives monetization contributions for on-screen goal
// overlays. Failures are reported, never propagated.
type GoalTracker interface {
	RecordContribution(ctx context.Context, ev core.Event) error
}

type Manager struct {
	cfg    *config.Service
	queue  QueueSink
	vfx    VFXResolver
	goals  GoalTracker
	clock  clock.Clock
	logger *slog.Logger

	suppress *suppressor
}

// NewManager wires the hard dependencies. The config service is mandatory;
// VFX and goal collaborators are optional.
func NewManager(cfg *config.Service, queue QueueSink, vfx VFXResolver, goals GoalTracker, c clock.Clock) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("NotificationManager requires ConfigService dependency")
	}
	if queue == nil {
		return nil, errors.New("NotificationManager requires DisplayQueue dependency")
	}
	if c == nil {
		c = clock.SystemClock{}
	}
	gen := cfg.General()
	return &Manager{
		cfg:      cfg,
		queue:    queue,
		vfx:      vfx,
		goals:    goals,
		clock:    c,
		logger:   slog.Default().With("component", "notify"),
		suppress: newSuppressor(c, gen.SuppressionWindow, gen.SuppressionDuration, gen.MaxNotificationsPerUser),
	}, nil
}

// HandleNotification validates the declared type, applies suppression, and
// enqueues a classified display item. kindRaw is the type as declared by the
// caller; legacy aliases are rejected, never translated here.
func (m *Manager) HandleNotification(ctx context.Context, kindRaw string, ev core.Event) core.Result {
	if core.IsLegacyAlias(kindRaw) {
		metrics.AliasRejections.Inc()
		return core.Fail("Unknown notification type")
	}
	kind, ok := core.ParseEventType(kindRaw)
	if !ok {
		return core.Fail("Unknown notification type")
	}

	base := ev.Common()
	gen := m.cfg.General()

	if gen.UserSuppressionEnabled && !m.suppress.allow(base.UserID) {
		metrics.NotificationsSuppressed.Inc()
		m.logger.Debug("notification suppressed", "user", base.Username, "type", kind)
		return core.Fail("User notifications suppressed")
	}

	item := core.DisplayItem{
		Type:           kind,
		Platform:       base.Platform,
		Priority:       core.PriorityFor(kind),
		Event:          ev,
		DisplayMessage: DisplayMessage(ev, gen.FallbackUsername),
	}
	if gen.TTSEnabled {
		item.TTSMessage = TTSMessage(ev, gen.FallbackUsername)
	}
	if m.vfx != nil {
		if desc := m.vfx.GetVFXConfig(kind.Key()); desc != nil {
			item.VFX = desc
		}
	}

	if err := m.queue.AddItem(item); err != nil {
		m.logger.Error("enqueue notification", "err", err, "type", kind)
		return core.Fail(err.Error())
	}
	metrics.NotificationsEnqueued.WithLabelValues(kind.Key()).Inc()

	if m.goals != nil && isMonetization(kind) {
		go func() {
			if err := m.goals.RecordContribution(ctx, ev); err != nil {
				m.logger.Error("goal update failed", "err", err, "type", kind)
			}
		}()
	}
	return core.OK()
}

func isMonetization(kind core.EventType) bool {
	switch kind {
	case core.EventGift, core.EventEnvelope, core.EventPaypiggy:
		return true
	}
	return false
}

// Run sweeps expired suppression entries until the context ends.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.General().SuppressionWindow
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.suppress.sweep()
		}
	}
}

// SuppressedUsers reports how many users are currently in the suppressed set.
func (m *Manager) SuppressedUsers() int {
	return m.suppress.suppressedCount()
}
