package notify

import (
	"context"
	"testing"
	"time"

	"github.com/you/streamops/internal/clock"
	"github.com/you/streamops/internal/config"
	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/factory"
)

type captureQueue struct {
	items []core.DisplayItem
}

func (q *captureQueue) AddItem(item core.DisplayItem) error {
	q.items = append(q.items, item)
	return nil
}

type vfxMap map[string]*core.VFXConfig

func (m vfxMap) GetVFXConfig(key string) *core.VFXConfig { return m[key] }

func testManager(t *testing.T, sections map[string]map[string]string, vfx VFXResolver) (*Manager, *captureQueue, *clock.FakeClock) {
	t.Helper()
	fc := clock.NewFake(time.Unix(1700000000, 0))
	q := &captureQueue{}
	m, err := NewManager(config.FromSections(sections), q, vfx, nil, fc)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, q, fc
}

func TestNewManagerRequiresConfig(t *testing.T) {
	_, err := NewManager(nil, &captureQueue{}, nil, nil, nil)
	if err == nil || err.Error() != "NotificationManager requires ConfigService dependency" {
		t.Fatalf("err = %v", err)
	}
}

func TestAliasRejection(t *testing.T) {
	m, q, _ := testManager(t, nil, nil)
	f := factory.New(core.PlatformTwitch)

	ev, err := f.CreatePaypiggy(factory.PaypiggyInput{UserID: "u1", Username: "alice", Months: 1})
	if err != nil {
		t.Fatal(err)
	}

	for _, alias := range []string{"subscription", "subscribe", "membership", "superfan", "supporter", "superchat"} {
		res := m.HandleNotification(context.Background(), alias, ev)
		if res.Success || res.Error != "Unknown notification type" {
			t.Fatalf("alias %q: %+v", alias, res)
		}
	}
	if len(q.items) != 0 {
		t.Fatalf("aliases must not enqueue, got %d items", len(q.items))
	}

	// The canonical name goes through.
	res := m.HandleNotification(context.Background(), string(core.EventPaypiggy), ev)
	if !res.Success {
		t.Fatalf("canonical paypiggy: %+v", res)
	}
	if len(q.items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(q.items))
	}
}

func TestClassificationAndVFXResolution(t *testing.T) {
	vfx := vfxMap{"gift": {CommandKey: "gift", Filename: "gift.webm"}}
	m, q, _ := testManager(t, nil, vfx)
	f := factory.New(core.PlatformTikTok)

	gift, err := f.CreateGift(factory.GiftInput{
		UserID: "u1", Username: "bob", GiftType: "Rose", GiftCount: 3, Amount: 1.5, Currency: "USD", MessageID: "g1",
	})
	if err != nil {
		t.Fatal(err)
	}

	res := m.HandleNotification(context.Background(), string(core.EventGift), gift)
	if !res.Success {
		t.Fatalf("gift: %+v", res)
	}

	item := q.items[0]
	if item.Priority != core.PriorityGift {
		t.Fatalf("priority = %v", item.Priority)
	}
	if item.VFX == nil || item.VFX.CommandKey != "gift" {
		t.Fatalf("vfx = %+v", item.VFX)
	}
	if item.DisplayMessage != "bob sent Rose x3" {
		t.Fatalf("displayMessage = %q", item.DisplayMessage)
	}

	// Follow has no configured effect: item without vfxConfig, not an error.
	follow, err := f.CreateFollow(factory.FollowInput{UserID: "u2", Username: "carol"})
	if err != nil {
		t.Fatal(err)
	}
	if res := m.HandleNotification(context.Background(), string(core.EventFollow), follow); !res.Success {
		t.Fatalf("follow: %+v", res)
	}
	if q.items[1].VFX != nil {
		t.Fatal("follow should have no vfxConfig")
	}
}

func TestFallbackUsername(t *testing.T) {
	m, q, _ := testManager(t, map[string]map[string]string{
		"general": {"fallbackUsername": "a viewer"},
	}, nil)
	f := factory.New(core.PlatformYouTube)

	follow, err := f.CreateFollow(factory.FollowInput{UserID: "u9"})
	if err != nil {
		t.Fatal(err)
	}
	if res := m.HandleNotification(context.Background(), string(core.EventFollow), follow); !res.Success {
		t.Fatalf("follow: %+v", res)
	}
	if q.items[0].DisplayMessage != "a viewer followed" {
		t.Fatalf("displayMessage = %q", q.items[0].DisplayMessage)
	}
}

func TestPerUserSuppression(t *testing.T) {
	m, q, fc := testManager(t, map[string]map[string]string{
		"general": {
			"userSuppressionEnabled":  "true",
			"maxNotificationsPerUser": "2",
			"suppressionWindowMs":     "10000",
			"suppressionDurationMs":   "60000",
		},
	}, nil)
	f := factory.New(core.PlatformTwitch, factory.WithClock(fc))

	send := func() core.Result {
		follow, err := f.CreateFollow(factory.FollowInput{UserID: "spammer", Username: "spammer"})
		if err != nil {
			t.Fatal(err)
		}
		return m.HandleNotification(context.Background(), string(core.EventFollow), follow)
	}

	if res := send(); !res.Success {
		t.Fatalf("first: %+v", res)
	}
	if res := send(); !res.Success {
		t.Fatalf("second: %+v", res)
	}
	// Third within the window trips suppression.
	if res := send(); res.Success {
		t.Fatal("third notification should be suppressed")
	}
	if m.SuppressedUsers() != 1 {
		t.Fatalf("suppressed users = %d", m.SuppressedUsers())
	}
	// Still suppressed while the duration runs.
	fc.Advance(30 * time.Second)
	if res := send(); res.Success {
		t.Fatal("should remain suppressed inside suppressionDurationMs")
	}
	// Expires after the duration.
	fc.Advance(31 * time.Second)
	if res := send(); !res.Success {
		t.Fatalf("after expiry: %+v", res)
	}

	if len(q.items) != 3 {
		t.Fatalf("enqueued %d items, want 3", len(q.items))
	}
}

func TestTTSMessageGatedByConfig(t *testing.T) {
	m, q, _ := testManager(t, map[string]map[string]string{
		"general": {"ttsEnabled": "true"},
	}, nil)
	f := factory.New(core.PlatformTwitch)

	pig, err := f.CreatePaypiggy(factory.PaypiggyInput{UserID: "u1", Username: "dee", Months: 1, Message: "love the stream"})
	if err != nil {
		t.Fatal(err)
	}
	if res := m.HandleNotification(context.Background(), string(core.EventPaypiggy), pig); !res.Success {
		t.Fatalf("paypiggy: %+v", res)
	}
	if q.items[0].TTSMessage != "dee subscribed. love the stream" {
		t.Fatalf("ttsMessage = %q", q.items[0].TTSMessage)
	}
	if q.items[0].DisplayMessage != "dee subscribed" {
		t.Fatalf("displayMessage = %q", q.items[0].DisplayMessage)
	}
}
