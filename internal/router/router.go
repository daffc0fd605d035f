// Package router is the single subscriber on the platform:event topic. It
// decodes each message, evaluates the type key, and makes exactly one
// dispatch call; there is no fan-out within the router. Handler failures are
// captured per event and never stop the loop.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/you/streamops/internal/bus"
	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/metrics"
)

// ChatHandler receives chat-message events.
type ChatHandler interface {
	HandleChatMessage(ctx context.Context, msg *core.ChatMessage) error
}

// NotificationHandler receives monetization and attention events.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, kindRaw string, ev core.Event) core.Result
}

// RuntimeHandler receives lifecycle events: stream status, connection,
// disconnection and platform errors.
type RuntimeHandler interface {
	HandleStreamStatus(ctx context.Context, ev *core.StreamStatus)
	HandleConnection(ctx context.Context, ev *core.Connection)
	HandleDisconnection(ctx context.Context, ev *core.Disconnection)
	HandlePlatformError(ctx context.Context, ev *core.PlatformError)
}

// NotificationGate decides whether a notification kind passes for a platform.
type NotificationGate interface {
	NotificationsEnabled(typeKey string, p core.Platform) bool
}

type Router struct {
	bus     *bus.Bus
	chat    ChatHandler
	notify  NotificationHandler
	runtime RuntimeHandler
	gate    NotificationGate
	logger  *slog.Logger

	msgs <-chan *message.Message
}

func New(b *bus.Bus, chat ChatHandler, notify NotificationHandler, runtime RuntimeHandler, gate NotificationGate) *Router {
	return &Router{
		bus:     b,
		chat:    chat,
		notify:  notify,
		runtime: runtime,
		gate:    gate,
		logger:  slog.Default().With("component", "router"),
	}
}

// Subscribe opens the bus subscription ahead of Run. The channel pub/sub
// drops messages published before any subscriber exists, so callers must
// subscribe before the platform adapters start emitting.
func (r *Router) Subscribe(ctx context.Context) error {
	msgs, err := r.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("router subscribe: %w", err)
	}
	r.msgs = msgs
	return nil
}

// Run consumes the topic until the context ends. Every message is acked,
// including ones whose handler failed; redelivery of a bad payload would
// fail the same way.
func (r *Router) Run(ctx context.Context) error {
	msgs := r.msgs
	if msgs == nil {
		var err error
		msgs, err = r.bus.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("router subscribe: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
			msg.Ack()
		}
	}
}

func (r *Router) handle(ctx context.Context, msg *message.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.DispatchErrors.Inc()
			r.logger.Error("handler panic", "panic", rec, "uuid", msg.UUID)
		}
	}()

	ev, err := core.UnmarshalEvent(msg.Payload)
	if err != nil {
		metrics.DispatchErrors.Inc()
		r.logger.Error("decode event", "err", err, "uuid", msg.UUID)
		return
	}

	kind := ev.Kind()
	metrics.EventsRouted.WithLabelValues(string(kind)).Inc()

	switch e := ev.(type) {
	case *core.ChatMessage:
		if r.chat == nil {
			return
		}
		if err := r.chat.HandleChatMessage(ctx, e); err != nil {
			metrics.DispatchErrors.Inc()
			r.logger.Error("chat handler", "err", err, "uuid", msg.UUID)
		}

	case *core.Gift, *core.Paypiggy, *core.Follow, *core.Share, *core.Raid:
		if r.notify == nil {
			return
		}
		platform := ev.Common().Platform
		if r.gate != nil && !r.gate.NotificationsEnabled(kind.Key(), platform) {
			r.logger.Debug("notification disabled", "type", kind, "platform", platform)
			return
		}
		if res := r.notify.HandleNotification(ctx, string(kind), ev); !res.Success {
			r.logger.Debug("notification rejected", "type", kind, "reason", res.Error)
		}

	case *core.StreamStatus:
		if r.runtime != nil {
			r.runtime.HandleStreamStatus(ctx, e)
		}
	case *core.Connection:
		if r.runtime != nil {
			r.runtime.HandleConnection(ctx, e)
		}
	case *core.Disconnection:
		if r.runtime != nil {
			r.runtime.HandleDisconnection(ctx, e)
		}
	case *core.PlatformError:
		if r.runtime != nil {
			r.runtime.HandlePlatformError(ctx, e)
		}

	case *core.VFXCommandExecuted, *core.VFXEffectCompleted:
		// Informational; consumed by tracing and metrics only.
		r.logger.Debug("vfx event", "type", kind, "uuid", msg.UUID)

	default:
		metrics.DispatchErrors.Inc()
		r.logger.Error("unroutable event", "type", kind, "uuid", msg.UUID)
	}
}
