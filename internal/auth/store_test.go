package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/you/streamops/internal/core"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}

	want := Credentials{AccessToken: "acc", RefreshToken: "ref"}
	if err := s.Set(core.PlatformTwitch, want); err != nil {
		t.Fatal(err)
	}

	// A fresh store sees the persisted pair.
	s2, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := s2.Get(core.PlatformTwitch)
	if !ok || got != want {
		t.Fatalf("got %+v ok=%v, want %+v", got, ok, want)
	}

	// File layout is platform-keyed JSON.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]Credentials
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["twitch"] != want {
		t.Fatalf("file contents = %+v", raw)
	}
}

func TestSetRevertsOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	orig := Credentials{AccessToken: "a1", RefreshToken: "r1"}
	if err := s.Set(core.PlatformTwitch, orig); err != nil {
		t.Fatal(err)
	}

	// Make the directory unwritable so the temp-file write fails.
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	if err := s.Set(core.PlatformTwitch, Credentials{AccessToken: "a2", RefreshToken: "r2"}); err == nil {
		t.Skip("write unexpectedly succeeded (running as root?)")
	}

	got, _ := s.Get(core.PlatformTwitch)
	if got != orig {
		t.Fatalf("in-memory credentials not reverted: %+v", got)
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(core.PlatformTwitch, Credentials{AccessToken: "old", RefreshToken: "ref"}); err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		calls int
	)
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(cur Credentials) (Credentials, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-release
		return Credentials{AccessToken: "new", RefreshToken: "ref2"}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := s.Refresh(core.PlatformTwitch, fn); err != nil {
			t.Errorf("refresh: %v", err)
		}
	}()
	<-started

	// Second caller must wait for the in-flight refresh, not start another.
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, err := s.Refresh(core.PlatformTwitch, fn)
		if err != nil {
			t.Errorf("waiting refresh: %v", err)
			return
		}
		if got.AccessToken != "new" {
			t.Errorf("waiting refresh got %+v", got)
		}
	}()

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("refresh fn ran %d times, want 1", calls)
	}
}

func TestTwitchRefresher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Error(err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"na","refresh_token":"nr","expires_in":3600}`))
	}))
	defer srv.Close()

	r := &TwitchRefresher{ClientID: "id", ClientSecret: "sec", Endpoint: srv.URL}
	got, err := r.Refresh(context.Background(), Credentials{RefreshToken: "ref"})
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != "na" || got.RefreshToken != "nr" {
		t.Fatalf("refreshed = %+v", got)
	}
}

func TestNormalizeIRCToken(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"  abc  ":      "oauth:abc",
		"oauth:abc":    "oauth:abc",
		"\toauth:xyz ": "oauth:xyz",
	}
	for in, want := range cases {
		if got := NormalizeIRCToken(in); got != want {
			t.Errorf("NormalizeIRCToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReloadRecreatesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Credentials{AccessToken: "acc", RefreshToken: "ref"}
	if err := s.Set(core.PlatformTwitch, want); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := s.Reload(); err != nil {
		t.Fatalf("Reload after corruption: %v", err)
	}
	if got, ok := s.Get(core.PlatformTwitch); !ok || got != want {
		t.Errorf("in-memory credentials lost: %+v ok=%t", got, ok)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	onDisk := make(map[string]Credentials)
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("file was not recreated as valid JSON: %v", err)
	}
	if onDisk["twitch"] != want {
		t.Errorf("recreated file = %+v", onDisk)
	}
}

func TestOpenStoreRecoversCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore on corrupt file: %v", err)
	}
	if _, ok := s.Get(core.PlatformTwitch); ok {
		t.Error("corrupt file produced credentials")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &map[string]Credentials{}); err != nil {
		t.Fatalf("file was not recreated as valid JSON: %v", err)
	}
}
