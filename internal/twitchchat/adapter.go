// Package twitchchat is the Twitch platform adapter: an IRC client that
// normalizes PRIVMSG and USERNOTICE traffic into canonical events and
// publishes them on the bus. It reconnects with exponential backoff and
// refreshes its OAuth token when the server rejects authentication.
package twitchchat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/factory"
)

type Config struct {
	Channel string
	Nick    string
	Token   string
	UseTLS  bool
	// TokenProvider returns the current token before each connection attempt.
	TokenProvider func() string
	// RefreshNow forces a token refresh after an authentication failure.
	RefreshNow func(context.Context) (string, error)
	// Addr overrides the IRC endpoint, for tests.
	Addr string
}

// Publisher is the bus surface the adapter emits events on.
type Publisher interface {
	Publish(ev core.Event) error
}

type Adapter struct {
	cfg     Config
	factory *factory.Factory
	pub     Publisher

	mu       sync.Mutex
	handlers map[string][]func(payload any)
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(cfg Config, f *factory.Factory, pub Publisher) *Adapter {
	return &Adapter{
		cfg:      cfg,
		factory:  f,
		pub:      pub,
		handlers: make(map[string][]func(payload any)),
	}
}

// On registers a local observer for a canonical type key ("chat", "raid").
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

// Initialize connects in the background and emits platform:connection. The
// run loop owns the socket until Cleanup.
func (a *Adapter) Initialize(ctx context.Context) error {
	if strings.TrimSpace(a.cfg.Channel) == "" || strings.TrimSpace(a.cfg.Nick) == "" {
		return errors.New("twitchchat: channel and nick are required")
	}

	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return errors.New("twitchchat: already initialized")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		if err := a.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("twitchchat: client exited: %v", err)
			a.emit(a.factory.CreateError(err.Error(), false))
		}
	}()

	a.emit(a.factory.CreateConnection())
	return nil
}

// Cleanup stops the run loop and waits for the socket to close.
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
		log.Printf("twitchchat: publish %s: %v", ev.Kind(), err)
		return
	}
	a.notify(ev.Kind().Key(), ev)
}

func (a *Adapter) handleLine(line string) {
	if msg, ok := parsePrivmsg(line, a.cfg.Channel); ok {
		ev, err := a.factory.CreateChatMessage(factory.ChatInput{
			UserID:        msg.userID,
			Username:      msg.username,
			Message:       msg.text,
			Timestamp:     msg.timestamp,
			IsMod:         msg.isMod,
			IsSubscriber:  msg.isSubscriber,
			IsBroadcaster: msg.isBroadcaster,
		})
		if err != nil {
			log.Printf("twitchchat: drop chat message: %v", err)
			return
		}
		a.emit(ev)
		return
	}

	note, ok := parseUsernotice(line)
	if !ok {
		return
	}
	switch note.kind {
	case noticeSub, noticeResub, noticeGiftSub:
		ev, err := a.factory.CreatePaypiggy(factory.PaypiggyInput{
			UserID:    note.userID,
			Username:  note.username,
			Tier:      note.tier,
			Months:    note.months,
			Message:   note.message,
			Timestamp: note.timestamp,
		})
		if err != nil {
			log.Printf("twitchchat: drop usernotice: %v", err)
			return
		}
		a.emit(ev)
	case noticeRaid:
		ev, err := a.factory.CreateRaid(factory.RaidInput{
			UserID:      note.userID,
			Username:    note.username,
			ViewerCount: note.viewerCount,
			Timestamp:   note.timestamp,
		})
		if err != nil {
			log.Printf("twitchchat: drop raid: %v", err)
			return
		}
		a.emit(ev)
	}
}
