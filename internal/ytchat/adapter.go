// Package ytchat is the YouTube platform adapter: it scrapes the live page
// for innertube credentials, polls the live chat endpoint, and emits
// canonical events. YouTube initializes directly; going live is implicit in
// a successful bootstrap, so it is not gated by the stream detector.
package ytchat

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/factory"
)

type Config struct {
	// LiveURL is the channel's /live or watch URL.
	LiveURL string
	// InnertubeBase overrides the chat API host, for tests.
	InnertubeBase string
	// PollTimeout bounds each HTTP call.
	PollTimeout time.Duration
	// PollDelay is used when the chat response carries no timeoutMs hint.
	PollDelay time.Duration
}

// Publisher is the bus surface the adapter emits events on.
type Publisher interface {
	Publish(ev core.Event) error
}

type Adapter struct {
	cfg     Config
	factory *factory.Factory
	pub     Publisher
	http    *http.Client

	mu       sync.Mutex
	handlers map[string][]func(payload any)
	cancel   context.CancelFunc
	done     chan struct{}
}

const (
	defaultPollTimeout = 15 * time.Second
	defaultPollDelay   = 1500 * time.Millisecond
)

func New(cfg Config, f *factory.Factory, pub Publisher) *Adapter {
	if cfg.InnertubeBase == "" {
		cfg.InnertubeBase = "https://www.youtube.com"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = defaultPollDelay
	}
	return &Adapter{
		cfg:      cfg,
		factory:  f,
		pub:      pub,
		http:     &http.Client{Timeout: cfg.PollTimeout},
		handlers: make(map[string][]func(payload any)),
	}
}

// On registers a local observer for a canonical type key ("chat", "gift").
// Observers run after the event is published on the bus.
func (a *Adapter) On(event string, handler func(payload any)) {
	a.mu.Lock()
	a.handlers[event] = append(a.handlers[event], handler)
	a.mu.Unlock()
}

func (a *Adapter) notify(key string, payload any) {
	a.mu.Lock()
	hs := append([]func(payload any){}, a.handlers[key]...)
	a.mu.Unlock()
	for _, h := range hs {
		h(payload)
	}
}

// Initialize starts the poll loop in the background and emits
// platform:connection. The loop owns the HTTP session until Cleanup.
func (a *Adapter) Initialize(ctx context.Context) error {
	liveURL := strings.TrimSpace(a.cfg.LiveURL)
	if liveURL == "" {
		return errors.New("ytchat: liveUrl is required")
	}
	if _, err := url.ParseRequestURI(liveURL); err != nil {
		return errors.New("ytchat: invalid liveUrl")
	}

	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return errors.New("ytchat: already initialized")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		if err := a.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ytchat: client exited: %v", err)
			a.emit(a.factory.CreateError(err.Error(), false))
		}
	}()

	a.emit(a.factory.CreateConnection())
	return nil
}

// Cleanup stops the poll loop and waits for it to finish.
func (a *Adapter) Cleanup(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.emit(a.factory.CreateDisconnection("cleanup"))
	return nil
}

func (a *Adapter) emit(ev core.Event) {
	if err := a.pub.Publish(ev); err != nil {
		log.Printf("ytchat: publish %s: %v", ev.Kind(), err)
		return
	}
	a.notify(ev.Kind().Key(), ev)
}

// handleItem maps one chat item renderer onto a canonical event.
func (a *Adapter) handleItem(item chatItem) {
	switch item.kind {
	case itemText:
		ev, err := a.factory.CreateChatMessage(factory.ChatInput{
			UserID:    item.userID,
			Username:  item.username,
			Message:   item.text,
			Timestamp: item.timestamp,
		})
		if err != nil {
			log.Printf("ytchat: drop chat message: %v", err)
			return
		}
		a.emit(ev)
	case itemPaid:
		ev, err := a.factory.CreateGift(factory.GiftInput{
			UserID:    item.userID,
			Username:  item.username,
			GiftType:  "Super Chat",
			GiftCount: 1,
			Amount:    item.amount,
			Currency:  item.currency,
			MessageID: item.id,
			Timestamp: item.timestamp,
		})
		if err != nil {
			log.Printf("ytchat: drop paid message: %v", err)
			return
		}
		a.emit(ev)
	case itemMembership:
		ev, err := a.factory.CreatePaypiggy(factory.PaypiggyInput{
			UserID:    item.userID,
			Username:  item.username,
			Tier:      item.tier,
			Months:    item.months,
			Message:   item.text,
			Timestamp: item.timestamp,
		})
		if err != nil {
			log.Printf("ytchat: drop membership: %v", err)
			return
		}
		a.emit(ev)
	}
}
