package streamdetect

import (
	"context"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/you/streamops/internal/config"
	"github.com/you/streamops/internal/core"
)

// PageProbe fetches the platform's configured live page and scans the markup
// for live-broadcast indicators. It needs no API credentials, which is why
// it is the default probe for platforms without an official live endpoint.
type PageProbe struct {
	Platform core.Platform
	Client   *http.Client
}

func NewPageProbe(p core.Platform, client *http.Client) *PageProbe {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PageProbe{Platform: p, Client: client}
}

func (p *PageProbe) IsLive(ctx context.Context, cfg *config.Service) (bool, error) {
	raw := cfg.Str(string(p.Platform), "liveUrl", "")
	if strings.TrimSpace(raw) == "" {
		return false, errors.Errorf("%s: liveUrl is not configured", p.Platform)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return false, errors.Wrap(err, "create probe request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; streamops-livedetect/1.0)")

	resp, err := p.Client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "probe request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false, errors.Errorf("probe status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return false, errors.Wrap(err, "read probe response")
	}
	return containsLiveIndicator(decodePage(string(body))), nil
}

func decodePage(body string) string {
	text := strings.ReplaceAll(body, "\\/", "/")
	text = strings.ReplaceAll(text, "\\u0026", "&")
	return html.UnescapeString(text)
}

func containsLiveIndicator(body string) bool {
	lowered := strings.ToLower(body)
	switch {
	case strings.Contains(lowered, "\"islivenow\":true"):
		return true
	case strings.Contains(lowered, "\"islive\":true"):
		return true
	case strings.Contains(lowered, "\"islivecontent\":true"):
		return true
	case strings.Contains(lowered, "livechatrenderer"):
		return true
	case strings.Contains(lowered, "\"islivebroadcast\":true"):
		return true
	}
	return false
}
