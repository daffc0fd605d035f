package streamdetect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/you/streamops/internal/config"
	"github.com/you/streamops/internal/core"
)

type scriptedProbe struct {
	mu      sync.Mutex
	answers []bool
	idx     int
}

func (p *scriptedProbe) IsLive(_ context.Context, _ *config.Service) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx >= len(p.answers) {
		return p.answers[len(p.answers)-1], nil
	}
	live := p.answers[p.idx]
	p.idx++
	return live, nil
}

func fastConfig() *config.Service {
	return config.FromSections(map[string]map[string]string{
		"twitch": {"liveCheckIntervalSec": "1"},
	})
}

func TestConnectOnLiveTransition(t *testing.T) {
	d := NewDetector()
	d.Register(core.PlatformTwitch, &scriptedProbe{answers: []bool{false, true, true}})

	var (
		mu       sync.Mutex
		connects int
		statuses []bool
	)
	connect := func(_ context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		connects++
		return nil
	}
	status := func(live bool) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, live)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.StartStreamDetection(ctx, core.PlatformTwitch, fastConfig(), connect, status); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := connects
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("connect not invoked; statuses = %v", statuses)
		case <-time.After(10 * time.Millisecond):
		}
	}

	// A later live poll with an existing connection does not reconnect.
	time.Sleep(1200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if connects != 1 {
		t.Fatalf("connects = %d, want 1", connects)
	}
	if len(statuses) == 0 || statuses[0] {
		t.Fatalf("first status should be offline, got %v", statuses)
	}
}

func TestUnregisteredPlatformConnectsDirectly(t *testing.T) {
	d := NewDetector()
	connected := false
	err := d.StartStreamDetection(context.Background(), core.PlatformTikTok, config.FromSections(nil),
		func(_ context.Context) error { connected = true; return nil }, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !connected {
		t.Fatal("platform without a probe should connect immediately")
	}
}

func TestPageProbe(t *testing.T) {
	live := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if live {
			_, _ = w.Write([]byte(`<html>{"isLiveNow":true}</html>`))
			return
		}
		_, _ = w.Write([]byte(`<html>nothing to see</html>`))
	}))
	defer srv.Close()

	cfg := config.FromSections(map[string]map[string]string{
		"twitch": {"liveUrl": srv.URL},
	})
	probe := NewPageProbe(core.PlatformTwitch, srv.Client())

	got, err := probe.IsLive(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Fatal("offline page reported live")
	}

	live = true
	got, err = probe.IsLive(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Fatal("live page reported offline")
	}
}

func TestPageProbeRequiresURL(t *testing.T) {
	probe := NewPageProbe(core.PlatformTwitch, nil)
	if _, err := probe.IsLive(context.Background(), config.FromSections(nil)); err == nil {
		t.Fatal("expected error for missing liveUrl")
	}
}
