package obsws

import (
	"context"

	"github.com/pkg/errors"

	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/vfx"
)

// EffectsEngine adapts the websocket client to the VFX trigger surface:
// starting playback is synchronous, completion is reported on the returned
// channel.
type EffectsEngine struct {
	client *Client
}

func NewEffectsEngine(client *Client) *EffectsEngine {
	return &EffectsEngine{client: client}
}

func (e *EffectsEngine) Trigger(ctx context.Context, desc core.VFXConfig, _ vfx.ExecContext) (<-chan error, error) {
	if desc.FilePath == "" {
		return nil, errors.New("effect descriptor has no file path")
	}
	e.client.mu.Lock()
	connected := e.client.conn != nil
	e.client.mu.Unlock()
	if !connected {
		return nil, errors.New("broadcasting engine is not connected")
	}

	done := make(chan error, 1)
	go func() {
		done <- e.client.PlayMedia(ctx, desc.MediaSource, desc.FilePath, desc.Duration)
	}()
	return done, nil
}
