// Package chatcmd handles the chat path: greet first-time chatters of the
// session, dispatch "!" commands to the VFX service, and place the message on
// the display queue so chat stays visible between notifications.
package chatcmd

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/you/streamops/internal/config"
	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/eventtrace"
	"github.com/you/streamops/internal/metrics"
	"github.com/you/streamops/internal/usertrack"
	"github.com/you/streamops/internal/vfx"
)

// CommandRunner is the VFX surface the chat path drives.
type CommandRunner interface {
	ExecuteCommand(ctx context.Context, message string, ectx vfx.ExecContext) core.Result
	ExecuteCommandForKey(ctx context.Context, commandKey string, ectx vfx.ExecContext) core.Result
}

// QueueSink is the display queue surface for chat items.
type QueueSink interface {
	AddItem(item core.DisplayItem) error
}

type Router struct {
	cfg    *config.Service
	users  *usertrack.Store
	vfx    CommandRunner
	queue  QueueSink
	logger *slog.Logger

	// MessageMaxAge drops stale messages when filterOldMessages is on.
	MessageMaxAge time.Duration
}

func NewRouter(cfg *config.Service, users *usertrack.Store, runner CommandRunner, queue QueueSink) *Router {
	return &Router{
		cfg:           cfg,
		users:         users,
		vfx:           runner,
		queue:         queue,
		logger:        slog.Default().With("component", "chatcmd"),
		MessageMaxAge: 5 * time.Minute,
	}
}

// HandleChatMessage implements the chat dispatch path of the event router.
func (r *Router) HandleChatMessage(ctx context.Context, msg *core.ChatMessage) error {
	gen := r.cfg.General()

	var trace *eventtrace.Trace
	if gen.DebugEnabled {
		trace = eventtrace.New(string(msg.Platform), msg.UserID, msg.Username, msg.Text)
		defer trace.Log(r.logger, "chat message processed")
	}

	if gen.FilterOldMessages && r.stale(msg) {
		r.logger.Debug("dropping stale chat message", "user", msg.Username, "ts", msg.Timestamp)
		if trace != nil {
			trace.Inc(eventtrace.StageDropped("stale"))
		}
		return nil
	}

	firstOfSession := false
	if r.users != nil {
		var err error
		firstOfSession, err = r.users.RecordMessage(ctx, msg.Platform, msg.UserID, msg.Username, time.Now())
		if err != nil {
			r.logger.Error("record chat message", "err", err, "user", msg.Username)
		} else if trace != nil {
			trace.Inc(eventtrace.StageRecorded)
		}
	}

	if gen.GreetingsEnabled && firstOfSession {
		r.greet(ctx, msg)
	}

	if cmd, ok := command(msg.Text); ok && r.vfx != nil {
		res := r.vfx.ExecuteCommand(ctx, cmd, vfx.ExecContext{
			Username:      msg.Username,
			UserID:        msg.UserID,
			Platform:      msg.Platform,
			CorrelationID: msg.Metadata.CorrelationID,
		})
		if !res.Success {
			r.logger.Debug("chat command rejected", "command", cmd, "reason", res.Error)
		} else if trace != nil {
			trace.Inc(eventtrace.StageCommandRun)
		}
	}

	if r.queue != nil {
		item := core.DisplayItem{
			Type:           core.EventChatMessage,
			Platform:       msg.Platform,
			Priority:       core.PriorityChat,
			Event:          msg,
			DisplayMessage: msg.Username + ": " + msg.Text,
		}
		if err := r.queue.AddItem(item); err != nil {
			r.logger.Error("enqueue chat item", "err", err)
			return err
		}
		metrics.NotificationsEnqueued.WithLabelValues("chat").Inc()
		if trace != nil {
			trace.Inc(eventtrace.StageEnqueued)
		}
	}
	return nil
}

// greet fires the configured greeting effect for a first-time chatter.
// Greeting effects bypass the command cooldowns.
func (r *Router) greet(ctx context.Context, msg *core.ChatMessage) {
	if r.vfx == nil {
		return
	}
	key := r.cfg.Str("general", "greetingCommandKey", "greeting")
	res := r.vfx.ExecuteCommandForKey(ctx, key, vfx.ExecContext{
		Username:         msg.Username,
		UserID:           msg.UserID,
		Platform:         msg.Platform,
		SkipCooldown:     true,
		NotificationType: "greeting",
		CorrelationID:    msg.Metadata.CorrelationID,
	})
	if !res.Success {
		r.logger.Debug("greeting effect skipped", "user", msg.Username, "reason", res.Error)
	}
}

func (r *Router) stale(msg *core.ChatMessage) bool {
	ts, err := time.Parse("2006-01-02T15:04:05.000Z", msg.Timestamp)
	if err != nil {
		return false
	}
	return time.Since(ts) > r.MessageMaxAge
}

// command extracts the "!"-prefixed command from a chat line.
func command(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "!") || len(trimmed) < 2 {
		return "", false
	}
	// The command is the first token; arguments are not part of the lookup.
	if idx := strings.IndexByte(trimmed, ' '); idx != -1 {
		trimmed = trimmed[:idx]
	}
	return strings.ToLower(trimmed[1:]), true
}
