// Package display owns the on-screen notification queue. Items enter by
// priority, are shown one at a time through the broadcasting engine, and hold
// the screen for a window sized from their TTS content. The most recent chat
// item lingers when nothing else is queued.
package display

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/you/streamops/internal/clock"
	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/metrics"
)

// BroadcastEngine is the injected broadcasting surface: text sources and
// source visibility. Failures are observable but never fatal to the queue.
type BroadcastEngine interface {
	UpdateText(ctx context.Context, source, text string) error
	SetSourceVisible(ctx context.Context, source string, visible bool) error
}

// PlatformGate decides whether engine updates run for a platform's items.
// Gated-out items still advance through the queue for timing purposes.
type PlatformGate interface {
	PlatformNotificationsEnabled(p core.Platform) bool
}

// EffectRunner fires an item's resolved effect descriptor when the item is
// shown. Gated items never reach it.
type EffectRunner interface {
	RunEffect(ctx context.Context, item core.DisplayItem)
}

// Options tunes the queue's timing.
type Options struct {
	// TextSource and NotifySource are the engine source names driven by the
	// auto-process loop.
	TextSource   string
	NotifySource string
	// ClearDelay is the pause between one item leaving the screen and the
	// next being shown.
	ClearDelay time.Duration
	Timing     Timing
}

type Queue struct {
	engine BroadcastEngine
	gate   PlatformGate
	clock  clock.Clock
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	effects  EffectRunner
	items    []core.DisplayItem
	current  *core.DisplayItem
	lastChat *core.DisplayItem
	wake     chan struct{}
	closed   bool
}

// SetEffectRunner wires the VFX surface that plays an item's effect when it
// is displayed. Call before Run.
func (q *Queue) SetEffectRunner(er EffectRunner) {
	q.mu.Lock()
	q.effects = er
	q.mu.Unlock()
}

func NewQueue(engine BroadcastEngine, gate PlatformGate, c clock.Clock, opts Options) *Queue {
	if c == nil {
		c = clock.SystemClock{}
	}
	if opts.ClearDelay <= 0 {
		opts.ClearDelay = time.Second
	}
	opts.Timing = opts.Timing.withDefaults()
	if opts.TextSource == "" {
		opts.TextSource = "notification_text"
	}
	if opts.NotifySource == "" {
		opts.NotifySource = "notification_overlay"
	}
	return &Queue{
		engine: engine,
		gate:   gate,
		clock:  c,
		opts:   opts,
		logger: slog.Default().With("component", "display"),
		wake:   make(chan struct{}, 1),
	}
}

var errClosed = errors.New("display queue closed")

// AddItem inserts by priority; equal priorities keep enqueue order. The item
// currently on screen is never pre-empted: new items only reorder the
// waiting queue.
func (q *Queue) AddItem(item core.DisplayItem) error {
	if _, ok := core.ParseEventType(string(item.Type)); !ok {
		return errors.New("display: item type is not canonical")
	}

	item.EnqueuedAt = q.clock.Now()
	if item.Duration <= 0 {
		item.Duration = q.opts.Timing.Window(item.TTSMessage)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errClosed
	}
	idx := len(q.items)
	for i := range q.items {
		if q.items[i].Priority < item.Priority {
			idx = i
			break
		}
	}
	q.items = append(q.items, core.DisplayItem{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = item
	metrics.QueueLength.Set(float64(len(q.items)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// CurrentDisplayContent reports what viewers see. With an empty queue and no
// active item, the last chat item is surfaced with IsLingering set.
func (q *Queue) CurrentDisplayContent() *core.DisplayContent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil {
		return &core.DisplayContent{Item: *q.current}
	}
	if len(q.items) == 0 && q.lastChat != nil {
		return &core.DisplayContent{Item: *q.lastChat, IsLingering: true}
	}
	return nil
}

// IsItemDisplayedToUser reports whether an item of the given kind key is on
// screen. For "chat" this is true only in the lingering-visible state.
func (q *Queue) IsItemDisplayedToUser(kind string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if kind == "chat" {
		return q.current == nil && len(q.items) == 0 && q.lastChat != nil
	}
	return q.current != nil && q.current.Type.Key() == kind
}

// Duration exposes the TTS-sized display window for an item.
func (q *Queue) Duration(item core.DisplayItem) time.Duration {
	return q.opts.Timing.Window(item.TTSMessage)
}

// Run drives the auto-process loop: pop the head, show it for its window,
// clear, pause, repeat. Engine errors are logged and never break the loop.
func (q *Queue) Run(ctx context.Context) error {
	for {
		item, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}

		q.display(ctx, item)

		if err := sleep(ctx, q.opts.ClearDelay); err != nil {
			return err
		}
	}
}

func (q *Queue) pop() (core.DisplayItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return core.DisplayItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.current = &item
	metrics.QueueLength.Set(float64(len(q.items)))
	return item, true
}

func (q *Queue) display(ctx context.Context, item core.DisplayItem) {
	enabled := q.gate == nil || q.gate.PlatformNotificationsEnabled(item.Platform)

	if enabled {
		if err := q.engine.UpdateText(ctx, q.opts.TextSource, item.DisplayMessage); err != nil {
			q.logger.Error("engine text update failed", "err", err, "type", item.Type)
		}
		if err := q.engine.SetSourceVisible(ctx, q.opts.NotifySource, true); err != nil {
			q.logger.Error("engine show failed", "err", err, "type", item.Type)
		}
		if item.VFX != nil {
			q.mu.Lock()
			effects := q.effects
			q.mu.Unlock()
			if effects != nil {
				effects.RunEffect(ctx, item)
			}
		}
	} else {
		q.logger.Debug("platform notifications gated; consuming window only",
			"platform", item.Platform, "type", item.Type)
	}

	metrics.ItemsDisplayed.WithLabelValues(item.Priority.String()).Inc()

	if item.Duration > 0 {
		if err := sleep(ctx, item.Duration); err != nil {
			q.finish(item, enabled, ctx)
			return
		}
	}
	q.finish(item, enabled, ctx)
}

// finish retires the current item. Chat items are retained for lingering and
// the overlay is left visible; everything else is hidden.
func (q *Queue) finish(item core.DisplayItem, engineTouched bool, ctx context.Context) {
	isChat := item.Type == core.EventChatMessage

	if !isChat && engineTouched {
		if err := q.engine.SetSourceVisible(ctx, q.opts.NotifySource, false); err != nil {
			q.logger.Error("engine hide failed", "err", err, "type", item.Type)
		}
	}

	q.mu.Lock()
	q.current = nil
	if isChat {
		q.lastChat = &item
	}
	q.mu.Unlock()
}

// Close stops accepting items. The run loop exits with its context.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
