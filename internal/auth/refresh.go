package auth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const twitchTokenURL = "https://id.twitch.tv/oauth2/token"

type refreshResp struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	Scope        []string `json:"scope"`
	TokenType    string   `json:"token_type"`
}

// TwitchRefresher exchanges a refresh token for a new token pair against the
// Twitch OAuth endpoint.
type TwitchRefresher struct {
	ClientID     string
	ClientSecret string
	// Endpoint overrides the token URL, for tests.
	Endpoint string
	Client   *http.Client
}

func (r *TwitchRefresher) Refresh(ctx context.Context, cur Credentials) (Credentials, error) {
	refresh := strings.TrimSpace(cur.RefreshToken)
	if refresh == "" {
		return Credentials{}, errors.New("empty refresh token")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refresh)
	form.Set("client_id", strings.TrimSpace(r.ClientID))
	form.Set("client_secret", strings.TrimSpace(r.ClientSecret))

	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = twitchTokenURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Credentials{}, errors.Wrap(err, "create refresh request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "refresh request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "read refresh response")
	}
	if resp.StatusCode/100 != 2 {
		return Credentials{}, errors.Errorf("refresh status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var rr refreshResp
	if err := json.Unmarshal(body, &rr); err != nil {
		return Credentials{}, errors.Wrap(err, "decode refresh response")
	}
	if rr.AccessToken == "" || rr.RefreshToken == "" {
		return Credentials{}, errors.New("refresh returned empty tokens")
	}

	return Credentials{
		AccessToken:  strings.TrimSpace(rr.AccessToken),
		RefreshToken: strings.TrimSpace(rr.RefreshToken),
	}, nil
}

// NormalizeIRCToken ensures a Twitch chat token carries the "oauth:" prefix.
func NormalizeIRCToken(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "oauth:") {
		return trimmed
	}
	return "oauth:" + trimmed
}
