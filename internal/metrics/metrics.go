package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_events_published_total",
		Help: "Canonical events published on the platform:event topic, by kind.",
	}, []string{"type"})

	EventsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_events_routed_total",
		Help: "Events dispatched by the platform event router, by kind.",
	}, []string{"type"})

	DispatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamops_dispatch_errors_total",
		Help: "Handler failures captured by the router.",
	})

	NotificationsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_notifications_enqueued_total",
		Help: "Display items accepted into the queue, by kind.",
	}, []string{"type"})

	NotificationsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamops_notifications_suppressed_total",
		Help: "Notifications dropped by per-user suppression.",
	})

	AliasRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamops_alias_rejections_total",
		Help: "Notifications rejected for carrying a legacy type name.",
	})

	ItemsDisplayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_items_displayed_total",
		Help: "Display items shown on screen, by priority class.",
	}, []string{"priority"})

	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamops_display_queue_length",
		Help: "Items currently waiting in the display queue.",
	})

	VFXCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_vfx_commands_total",
		Help: "VFX command executions, by outcome.",
	}, []string{"status"})

	CooldownRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamops_cooldown_rejections_total",
		Help: "VFX commands rejected by a cooldown ledger.",
	})

	PlatformStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamops_platform_ready",
		Help: "Whether a platform adapter is in the READY state (1) or not (0).",
	}, []string{"platform"})

	StreamLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamops_stream_live",
		Help: "Whether the platform currently reports a live broadcast.",
	}, []string{"platform"})
)
