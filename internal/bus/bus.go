// Package bus is the in-process event bus between platform adapters and the
// event router. It wraps a Watermill gochannel pub/sub: adapters publish
// canonical events on the platform:event topic and the router is its single
// subscriber.
package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/metrics"
)

// TopicPlatformEvent carries every canonical event record.
const TopicPlatformEvent = "platform:event"

type Bus struct {
	pubsub *gochannel.GoChannel
}

// Options tunes the underlying channel pub/sub.
type Options struct {
	// BufferSize is the per-subscriber channel depth. Zero means unbuffered.
	BufferSize int64
}

func New(opts Options) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: opts.BufferSize,
		}, newSlogAdapter(slog.Default())),
	}
}

// Publish encodes the event and places it on the platform:event topic. The
// message UUID is the event's correlation id so bus logs line up with the
// pipeline's own tracing.
func (b *Bus) Publish(ev core.Event) error {
	data, err := core.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("bus publish: %w", err)
	}
	msg := message.NewMessage(ev.Common().Metadata.CorrelationID, data)
	if err := b.pubsub.Publish(TopicPlatformEvent, msg); err != nil {
		return fmt.Errorf("bus publish: %w", err)
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Kind())).Inc()
	return nil
}

// Subscribe opens the single consumer stream for the router. Messages are
// acked by the router after dispatch.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, TopicPlatformEvent)
}

func (b *Bus) Close() error { return b.pubsub.Close() }

// slogAdapter bridges Watermill's logger to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func newSlogAdapter(l *slog.Logger) watermill.LoggerAdapter {
	return slogAdapter{logger: l}
}

func (a slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(attrs(fields), "err", err)...)
}

func (a slogAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, attrs(fields)...)
}

func (a slogAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, attrs(fields)...)
}

func (a slogAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, attrs(fields)...)
}

func (a slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return slogAdapter{logger: a.logger.With(attrs(fields)...)}
}

func attrs(fields watermill.LogFields) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
