package ytchat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

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

func textRenderer(id, channelID, author, text string, usec int64) map[string]any {
	return map[string]any{
		"id":                      id,
		"authorExternalChannelId": channelID,
		"authorName":              map[string]any{"simpleText": author},
		"message": map[string]any{
			"runs": []any{map[string]any{"text": text}},
		},
		"timestampUsec": fmt.Sprintf("%d", usec),
	}
}

func addAction(rendererKey string, renderer map[string]any) map[string]any {
	return map[string]any{
		"addChatItemAction": map[string]any{
			"item": map[string]any{rendererKey: renderer},
		},
	}
}

func TestExtractItemsMapsRendererShapes(t *testing.T) {
	paid := textRenderer("p1", "chan-2", "whale", "take my money", 1700000001000000)
	paid["purchaseAmountText"] = map[string]any{"simpleText": "$5.00"}
	member := map[string]any{
		"id":                      "m1",
		"authorExternalChannelId": "chan-3",
		"authorName":              map[string]any{"simpleText": "loyal"},
		"headerSubtext": map[string]any{
			"runs": []any{map[string]any{"text": "Member for 6 months"}},
		},
		"timestampUsec": "1700000002000000",
	}

	payload := map[string]any{
		"continuationContents": map[string]any{
			"liveChatContinuation": map[string]any{
				"actions": []any{
					addAction("liveChatTextMessageRenderer", textRenderer("t1", "chan-1", "viewer", "hello there", 1700000000000000)),
					addAction("liveChatPaidMessageRenderer", paid),
					addAction("liveChatMembershipItemRenderer", member),
				},
			},
		},
	}

	items := extractItems(payload)
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}

	if items[0].kind != itemText || items[0].text != "hello there" || items[0].userID != "chan-1" {
		t.Fatalf("text item = %+v", items[0])
	}
	if got := items[0].timestamp; !got.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("text timestamp = %v", got)
	}
	if items[1].kind != itemPaid || items[1].amount != 5.0 || items[1].currency != "$" {
		t.Fatalf("paid item = %+v", items[1])
	}
	if items[2].kind != itemMembership || items[2].months != 6 {
		t.Fatalf("membership item = %+v", items[2])
	}
}

func TestExtractItemsSkipsEmptyText(t *testing.T) {
	payload := map[string]any{
		"actions": []any{
			addAction("liveChatTextMessageRenderer", textRenderer("t1", "c", "viewer", "", 0)),
			map[string]any{"markChatItemAsDeletedAction": map[string]any{}},
		},
	}
	if items := extractItems(payload); len(items) != 0 {
		t.Fatalf("items = %+v, want none", items)
	}
}

func TestParsePaidAmount(t *testing.T) {
	cases := []struct {
		in       string
		amount   float64
		currency string
	}{
		{"$5.00", 5.0, "$"},
		{"CA$2.00", 2.0, "CA$"},
		{"¥1,000", 1000, "¥"},
		{"€0.99", 0.99, "€"},
		{"", 0, ""},
		{"free", 0, "free"},
	}
	for _, tc := range cases {
		amount, currency := parsePaidAmount(tc.in)
		if amount != tc.amount || currency != tc.currency {
			t.Errorf("parsePaidAmount(%q) = %v/%q, want %v/%q", tc.in, amount, currency, tc.amount, tc.currency)
		}
	}
}

func TestExtractContinuationPrefersToken(t *testing.T) {
	payload := map[string]any{
		"continuationContents": map[string]any{
			"liveChatContinuation": map[string]any{
				"continuations": []any{
					map[string]any{
						"timedContinuationData": map[string]any{
							"continuation": "next-token",
							"timeoutMs":    float64(2500),
						},
					},
				},
			},
		},
	}
	cont, timeout := extractContinuation(payload)
	if cont != "next-token" || timeout != 2500 {
		t.Fatalf("continuation = %q timeout = %d", cont, timeout)
	}
}

func TestFindInitialContinuationScopedToLiveChat(t *testing.T) {
	data := map[string]any{
		"relatedVideos": map[string]any{
			"continuations": []any{
				map[string]any{
					"reloadContinuationData": map[string]any{"continuation": "wrong"},
				},
			},
		},
		"contents": map[string]any{
			"liveChatRenderer": map[string]any{
				"continuations": []any{
					map[string]any{
						"invalidationContinuationData": map[string]any{"continuation": "right"},
					},
				},
			},
		},
	}
	if got := findInitialContinuation(data); got != "right" {
		t.Fatalf("continuation = %q", got)
	}
}

// fakeInnertube serves a watch page with embedded credentials plus a chat
// endpoint that returns one text message per poll.
func fakeInnertube(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		initial := map[string]any{
			"contents": map[string]any{
				"liveChatRenderer": map[string]any{
					"continuations": []any{
						map[string]any{
							"timedContinuationData": map[string]any{"continuation": "boot-token"},
						},
					},
				},
			},
		}
		raw, _ := json.Marshal(initial)
		fmt.Fprintf(w, `<html><script>"INNERTUBE_API_KEY":"test-key","INNERTUBE_CLIENT_VERSION":"2.0";`+
			`window["ytInitialData"] = %s;</script></html>`, raw)
	})
	mux.HandleFunc("/youtubei/v1/live_chat/get_live_chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "post only", http.StatusMethodNotAllowed)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if s, _ := body["continuation"].(string); s == "" {
			http.Error(w, "missing continuation", http.StatusBadRequest)
			return
		}
		resp := map[string]any{
			"continuationContents": map[string]any{
				"liveChatContinuation": map[string]any{
					"continuations": []any{
						map[string]any{
							"timedContinuationData": map[string]any{
								"continuation": "poll-token",
								"timeoutMs":    float64(50),
							},
						},
					},
					"actions": []any{
						addAction("liveChatTextMessageRenderer",
							textRenderer("t1", "chan-1", "viewer", "hi from yt", 1700000000000000)),
					},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLifecycleEmitsChatFromPolledActions(t *testing.T) {
	srv := fakeInnertube(t)
	pub := &capturePub{}
	a := New(Config{
		LiveURL:       srv.URL + "/live",
		InnertubeBase: srv.URL,
		PollDelay:     10 * time.Millisecond,
	}, factory.New(core.PlatformYouTube), pub)

	var (
		mu   sync.Mutex
		seen []string
	)
	a.On("chat", func(payload any) {
		ev := payload.(*core.ChatMessage)
		mu.Lock()
		seen = append(seen, ev.Text)
		mu.Unlock()
	})

	if err := a.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := a.Initialize(context.Background()); err == nil {
		t.Fatal("double Initialize should fail")
	}
	if len(pub.byKind(core.EventConnection)) != 1 {
		t.Fatal("Initialize should emit platform:connection")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a chat event")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	first := seen[0]
	mu.Unlock()
	if first != "hi from yt" {
		t.Fatalf("chat text = %q", first)
	}

	chats := pub.byKind(core.EventChatMessage)
	if len(chats) == 0 {
		t.Fatal("chat event not published")
	}
	msg := chats[0].(*core.ChatMessage)
	if msg.Username != "viewer" || msg.UserID != "chan-1" {
		t.Fatalf("identity = %q/%q", msg.Username, msg.UserID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(pub.byKind(core.EventDisconnection)) != 1 {
		t.Fatal("Cleanup should emit platform:disconnection")
	}
	if err := a.Cleanup(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestInitializeRejectsMissingLiveURL(t *testing.T) {
	a := New(Config{}, factory.New(core.PlatformYouTube), &capturePub{})
	if err := a.Initialize(context.Background()); err == nil {
		t.Fatal("empty liveUrl should fail")
	}
}

func TestHandleItemPaidBecomesGift(t *testing.T) {
	pub := &capturePub{}
	a := New(Config{LiveURL: "https://example.com/live"}, factory.New(core.PlatformYouTube), pub)

	a.handleItem(chatItem{
		kind:      itemPaid,
		id:        "p1",
		userID:    "chan-2",
		username:  "whale",
		amount:    5,
		currency:  "$",
		timestamp: time.Unix(1700000000, 0).UTC(),
	})

	gifts := pub.byKind(core.EventGift)
	if len(gifts) != 1 {
		t.Fatalf("gift events = %d", len(gifts))
	}
	gift := gifts[0].(*core.Gift)
	if gift.GiftType != "Super Chat" || gift.Amount != 5 || gift.Currency != "$" || gift.MessageID != "p1" {
		t.Fatalf("gift = %+v", gift)
	}
}

func TestHandleItemMembershipBecomesPaypiggy(t *testing.T) {
	pub := &capturePub{}
	a := New(Config{LiveURL: "https://example.com/live"}, factory.New(core.PlatformYouTube), pub)

	a.handleItem(chatItem{
		kind:     itemMembership,
		userID:   "chan-3",
		username: "loyal",
		months:   6,
	})

	pigs := pub.byKind(core.EventPaypiggy)
	if len(pigs) != 1 {
		t.Fatalf("paypiggy events = %d", len(pigs))
	}
	if pig := pigs[0].(*core.Paypiggy); pig.Months != 6 || pig.Username != "loyal" {
		t.Fatalf("paypiggy = %+v", pig)
	}
}
