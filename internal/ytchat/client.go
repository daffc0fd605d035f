package ytchat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const userAgent = "Mozilla/5.0 (compatible; streamops/1.0)"

// run is the adapter's poll loop. It bootstraps innertube credentials from
// the live page, then polls get_live_chat with the returned continuation,
// re-bootstrapping with exponential backoff on any failure.
func (a *Adapter) run(ctx context.Context) error {
	liveURL := strings.TrimSpace(a.cfg.LiveURL)

	backoff := time.Second
	const maxBackoff = 60 * time.Second

	var (
		apiKey        string
		clientVersion string
		continuation  string
		totalItems    int
		lastLog       = time.Now()
	)

	bootstrap := func() bool {
		var err error
		apiKey, clientVersion, continuation, err = a.bootstrap(ctx, liveURL)
		if err != nil {
			log.Printf("ytchat: bootstrap failed: %v", err)
			if !sleepContext(ctx, backoff) {
				return false
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			return false
		}
		log.Printf("ytchat: bootstrap succeeded (version=%s)", clientVersion)
		backoff = time.Second
		return true
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if apiKey == "" || clientVersion == "" || continuation == "" {
			if !bootstrap() {
				continue
			}
		}

		items, nextContinuation, timeout, err := a.poll(ctx, apiKey, clientVersion, continuation)
		if err != nil {
			log.Printf("ytchat: poll error: %v", err)
			if !sleepContext(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			apiKey, clientVersion, continuation = "", "", ""
			continue
		}

		for _, item := range items {
			a.handleItem(item)
		}

		totalItems += len(items)
		if time.Since(lastLog) >= 10*time.Second {
			log.Printf("ytchat: received %d items (total %d)", len(items), totalItems)
			lastLog = time.Now()
		}

		continuation = nextContinuation
		if continuation == "" {
			log.Printf("ytchat: missing continuation, re-bootstrap")
			apiKey, clientVersion, continuation = "", "", ""
		}

		delay := time.Duration(timeout) * time.Millisecond
		if delay <= 0 {
			delay = a.cfg.PollDelay
		}
		if !sleepContext(ctx, delay) {
			return ctx.Err()
		}
	}
}

// bootstrap fetches the live page and scrapes the innertube API key, client
// version, and initial live-chat continuation out of the embedded config.
func (a *Adapter) bootstrap(ctx context.Context, liveURL string) (apiKey, clientVersion, continuation string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, liveURL, nil)
	if err != nil {
		return "", "", "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.http.Do(req)
	if err != nil {
		return "", "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return "", "", "", err
	}
	text := string(body)

	apiKey = extractString(text, `"INNERTUBE_API_KEY":"`)
	clientVersion = extractString(text, `"INNERTUBE_CLIENT_VERSION":"`)

	if apiKey == "" || clientVersion == "" {
		return "", "", "", errors.New("ytchat: could not locate api key or client version")
	}

	var initJSON string
	markers := []string{
		`ytInitialData"] = `,
		`ytInitialData" = `,
		`ytInitialData":`,
		`ytInitialData = `,
		`window["ytInitialData"] = `,
	}
	for _, marker := range markers {
		initJSON = extractJSONObject(text, marker)
		if initJSON != "" {
			break
		}
	}
	if initJSON == "" {
		return "", "", "", errors.New("ytchat: could not locate initial data")
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(initJSON), &data); err != nil {
		return "", "", "", fmt.Errorf("ytchat: parse initial data: %w", err)
	}

	continuation = findInitialContinuation(data)
	if continuation == "" {
		return "", "", "", errors.New("ytchat: continuation not found in initial data")
	}

	return apiKey, clientVersion, continuation, nil
}

func (a *Adapter) poll(ctx context.Context, apiKey, clientVersion, continuation string) ([]chatItem, string, int, error) {
	endpoint := fmt.Sprintf("%s/youtubei/v1/live_chat/get_live_chat?key=%s", a.cfg.InnertubeBase, url.QueryEscape(apiKey))

	payload := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    "WEB",
				"clientVersion": clientVersion,
				"hl":            "en",
			},
		},
		"continuation": continuation,
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, continuation, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, continuation, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, continuation, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, continuation, 0, fmt.Errorf("ytchat: poll status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, continuation, 0, err
	}

	var payloadResp map[string]any
	if err := json.Unmarshal(body, &payloadResp); err != nil {
		return nil, continuation, 0, fmt.Errorf("ytchat: decode poll response: %w", err)
	}

	nextContinuation, timeout := extractContinuation(payloadResp)
	items := extractItems(payloadResp)
	return items, nextContinuation, timeout, nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
