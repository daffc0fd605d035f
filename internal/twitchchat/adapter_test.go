package twitchchat

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/factory"
)

type capturePub struct {
	mu     sync.Mutex
	events []core.Event
}

func (p *capturePub) Publish(ev core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePub) byKind(kind core.EventType) []core.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []core.Event
	for _, ev := range p.events {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestParsePrivmsg(t *testing.T) {
	line := "@badges=moderator/1,subscriber/6;display-name=User;mod=1;subscriber=1;user-id=123;" +
		"tmi-sent-ts=1700000000000 :user!user@user.tmi.twitch.tv PRIVMSG #chan :hello world"

	msg, ok := parsePrivmsg(line, "chan")
	if !ok {
		t.Fatal("expected a privmsg")
	}
	if msg.username != "User" || msg.userID != "123" {
		t.Fatalf("identity = %q/%q", msg.username, msg.userID)
	}
	if msg.text != "hello world" {
		t.Fatalf("text = %q", msg.text)
	}
	if !msg.isMod || !msg.isSubscriber || msg.isBroadcaster {
		t.Fatalf("roles = mod:%v sub:%v broadcaster:%v", msg.isMod, msg.isSubscriber, msg.isBroadcaster)
	}
	if ts, ok := msg.timestamp.(int64); !ok || ts != 1700000000000 {
		t.Fatalf("timestamp = %v", msg.timestamp)
	}
}

func TestParsePrivmsgBroadcasterBadge(t *testing.T) {
	line := "@badges=broadcaster/1;display-name=Streamer;user-id=9 :streamer!streamer@x PRIVMSG #chan :hi"
	msg, ok := parsePrivmsg(line, "chan")
	if !ok {
		t.Fatal("expected a privmsg")
	}
	if !msg.isBroadcaster {
		t.Fatal("broadcaster badge not detected")
	}
}

func TestParsePrivmsgWrongChannel(t *testing.T) {
	line := ":user!u@x PRIVMSG #other :hello"
	if _, ok := parsePrivmsg(line, "chan"); ok {
		t.Fatal("message for another channel must be ignored")
	}
}

func TestParseUsernoticeResub(t *testing.T) {
	line := "@msg-id=resub;display-name=Fan;login=fan;user-id=42;msg-param-cumulative-months=7;" +
		"msg-param-sub-plan=1000 :tmi.twitch.tv USERNOTICE #chan :seven months strong"

	note, ok := parseUsernotice(line)
	if !ok {
		t.Fatal("expected a usernotice")
	}
	if note.kind != noticeResub {
		t.Fatalf("kind = %v", note.kind)
	}
	if note.months != 7 || note.tier != "tier1" {
		t.Fatalf("months = %d tier = %q", note.months, note.tier)
	}
	if note.message != "seven months strong" {
		t.Fatalf("message = %q", note.message)
	}
}

func TestParseUsernoticeGiftGoesToRecipient(t *testing.T) {
	line := "@msg-id=subgift;display-name=Giver;login=giver;user-id=1;" +
		"msg-param-recipient-display-name=Lucky;msg-param-recipient-id=77;msg-param-sub-plan=2000 " +
		":tmi.twitch.tv USERNOTICE #chan"

	note, ok := parseUsernotice(line)
	if !ok {
		t.Fatal("expected a usernotice")
	}
	if note.username != "Lucky" || note.userID != "77" {
		t.Fatalf("recipient = %q/%q", note.username, note.userID)
	}
	if note.tier != "tier2" {
		t.Fatalf("tier = %q", note.tier)
	}
}

func TestParseUsernoticeRaid(t *testing.T) {
	line := "@msg-id=raid;display-name=Raider;login=raider;user-id=5;msg-param-viewerCount=42 " +
		":tmi.twitch.tv USERNOTICE #chan"

	note, ok := parseUsernotice(line)
	if !ok {
		t.Fatal("expected a usernotice")
	}
	if note.kind != noticeRaid || note.viewerCount != 42 {
		t.Fatalf("note = %+v", note)
	}
}

func TestHandleLineEmitsCanonicalEvents(t *testing.T) {
	pub := &capturePub{}
	f := factory.New(core.PlatformTwitch)
	a := New(Config{Channel: "chan", Nick: "bot"}, f, pub)

	var seen []string
	a.On("chat", func(payload any) {
		ev := payload.(*core.ChatMessage)
		seen = append(seen, ev.Text)
	})

	a.handleLine("@display-name=User;user-id=1 :user!u@x PRIVMSG #chan :hey")
	a.handleLine("@msg-id=resub;display-name=Fan;login=fan;user-id=2;msg-param-cumulative-months=3;msg-param-sub-plan=1000 :tmi.twitch.tv USERNOTICE #chan :hi")
	a.handleLine("@msg-id=raid;display-name=Raider;login=raider;user-id=3;msg-param-viewerCount=9 :tmi.twitch.tv USERNOTICE #chan")

	if n := len(pub.byKind(core.EventChatMessage)); n != 1 {
		t.Fatalf("chat events = %d", n)
	}
	pigs := pub.byKind(core.EventPaypiggy)
	if len(pigs) != 1 {
		t.Fatalf("paypiggy events = %d", len(pigs))
	}
	pig := pigs[0].(*core.Paypiggy)
	if !pig.IsRenewal || pig.Months != 3 {
		t.Fatalf("paypiggy = %+v", pig)
	}
	raids := pub.byKind(core.EventRaid)
	if len(raids) != 1 || raids[0].(*core.Raid).ViewerCount != 9 {
		t.Fatalf("raid events = %+v", raids)
	}
	if len(seen) != 1 || seen[0] != "hey" {
		t.Fatalf("On(chat) observer saw %v", seen)
	}
}

func TestAuthFailureTriggersRefresh(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				for i := 0; i < 4; i++ {
					if _, err := reader.ReadString('\n'); err != nil {
						return
					}
				}
				fmt.Fprintf(c, ":tmi.twitch.tv NOTICE * :Login authentication failed\r\n")
			}(conn)
		}
	}()

	var tokenMu sync.Mutex
	token := "oauth:old"
	refreshCalled := make(chan struct{}, 1)

	a := New(Config{
		Channel: "chan",
		Nick:    "nick",
		Addr:    ln.Addr().String(),
		TokenProvider: func() string {
			tokenMu.Lock()
			defer tokenMu.Unlock()
			return token
		},
		RefreshNow: func(_ context.Context) (string, error) {
			tokenMu.Lock()
			token = "oauth:new"
			tokenMu.Unlock()
			select {
			case refreshCalled <- struct{}{}:
			default:
			}
			return token, nil
		},
	}, factory.New(core.PlatformTwitch), &capturePub{})

	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	select {
	case <-refreshCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("RefreshNow was not called")
	}

	cancel()
	_ = ln.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not exit")
	}
	wg.Wait()
}

func TestInitializeCleanupLifecycle(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				reader := bufio.NewReader(c)
				for {
					if _, err := reader.ReadString('\n'); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	pub := &capturePub{}
	a := New(Config{Channel: "chan", Nick: "bot", Token: "oauth:x", Addr: ln.Addr().String()},
		factory.New(core.PlatformTwitch), pub)

	if err := a.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(pub.byKind(core.EventConnection)) != 1 {
		t.Fatal("Initialize should emit platform:connection")
	}
	if err := a.Initialize(context.Background()); err == nil {
		t.Fatal("double Initialize should fail")
	}

	ctx, cancelWait := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelWait()
	if err := a.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(pub.byKind(core.EventDisconnection)) != 1 {
		t.Fatal("Cleanup should emit platform:disconnection")
	}
	// Cleanup is idempotent.
	if err := a.Cleanup(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestCleanupAbortsStalledTLSDial(t *testing.T) {
	// Accepts the TCP connection but never answers the TLS handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	var (
		heldMu sync.Mutex
		held   []net.Conn
	)
	defer func() {
		heldMu.Lock()
		defer heldMu.Unlock()
		for _, c := range held {
			c.Close()
		}
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			heldMu.Lock()
			held = append(held, conn)
			heldMu.Unlock()
		}
	}()

	pub := &capturePub{}
	a := New(Config{Channel: "chan", Nick: "bot", Token: "oauth:x", UseTLS: true, Addr: ln.Addr().String()},
		factory.New(core.PlatformTwitch), pub)

	if err := a.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	ctx, cancelWait := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelWait()
	if err := a.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cleanup blocked on TLS handshake for %v", elapsed)
	}
}
