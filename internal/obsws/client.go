// Package obsws is the broadcasting-engine client: an obs-websocket v5
// connection used for text-source updates, scene-item visibility, and media
// playback for VFX effects.
package obsws

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// obs-websocket v5 opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opRequest         = 6
	opRequestResponse = 7
)

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
	RPCVersion int `json:"rpcVersion"`
}

type requestBody struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type responseBody struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

type Config struct {
	URL      string
	Password string
	// Scene is the scene holding the notification and VFX sources.
	Scene string
}

type Client struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan responseBody
	// sceneItemIds caches source name to scene item id lookups.
	sceneItemIDs map[string]int
	closed       bool
}

func New(cfg Config) *Client {
	return &Client{
		cfg:          cfg,
		logger:       slog.Default().With("component", "obsws"),
		pending:      make(map[string]chan responseBody),
		sceneItemIDs: make(map[string]int),
	}
}

// Connect dials the websocket and completes the Hello/Identify handshake.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial obs")
	}
	conn.SetReadLimit(1 << 20)

	var hello envelope
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return errors.Wrap(err, "read hello")
	}
	if hello.Op != opHello {
		_ = conn.Close(websocket.StatusProtocolError, "expected hello")
		return errors.Errorf("expected hello opcode, got %d", hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return errors.Wrap(err, "decode hello")
	}

	identify := map[string]any{"rpcVersion": 1}
	if hd.Authentication != nil {
		identify["authentication"] = authResponse(c.cfg.Password, hd.Authentication.Salt, hd.Authentication.Challenge)
	}
	if err := wsjson.Write(ctx, conn, map[string]any{"op": opIdentify, "d": identify}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return errors.Wrap(err, "send identify")
	}

	var identified envelope
	if err := wsjson.Read(ctx, conn, &identified); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return errors.Wrap(err, "read identified")
	}
	if identified.Op != opIdentified {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication rejected")
		return errors.New("obs rejected identification")
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readLoop(conn)
	c.logger.Info("connected to broadcasting engine", "url", c.cfg.URL)
	return nil
}

// authResponse computes base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	b64Secret := base64.StdEncoding.EncodeToString(secret[:])
	final := sha256.Sum256([]byte(b64Secret + challenge))
	return base64.StdEncoding.EncodeToString(final[:])
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env envelope
		if err := wsjson.Read(context.Background(), conn, &env); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Error("obs read loop ended", "err", err)
			}
			return
		}
		if env.Op != opRequestResponse {
			continue
		}
		var resp responseBody
		if err := json.Unmarshal(env.D, &resp); err != nil {
			c.logger.Error("decode obs response", "err", err)
			continue
		}
		c.mu.Lock()
		ch := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		if ch != nil {
			ch <- resp
		}
	}
}

func (c *Client) request(ctx context.Context, reqType string, data any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, errors.New("obs: not connected")
	}

	id := uuid.NewString()
	ch := make(chan responseBody, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	body := requestBody{RequestType: reqType, RequestID: id, RequestData: data}
	if err := wsjson.Write(ctx, conn, map[string]any{"op": opRequest, "d": body}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, errors.Wrapf(err, "send %s", reqType)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if !resp.RequestStatus.Result {
			return nil, errors.Errorf("%s failed: code %d %s", reqType, resp.RequestStatus.Code, resp.RequestStatus.Comment)
		}
		return resp.ResponseData, nil
	}
}

// UpdateText sets a text source's content.
func (c *Client) UpdateText(ctx context.Context, source, text string) error {
	_, err := c.request(ctx, "SetInputSettings", map[string]any{
		"inputName":     source,
		"inputSettings": map[string]any{"text": text},
		"overlay":       true,
	})
	return err
}

// SetSourceVisible toggles a scene item's enabled flag.
func (c *Client) SetSourceVisible(ctx context.Context, source string, visible bool) error {
	itemID, err := c.sceneItemID(ctx, source)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        c.cfg.Scene,
		"sceneItemId":      itemID,
		"sceneItemEnabled": visible,
	})
	return err
}

func (c *Client) sceneItemID(ctx context.Context, source string) (int, error) {
	c.mu.Lock()
	if id, ok := c.sceneItemIDs[source]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	data, err := c.request(ctx, "GetSceneItemId", map[string]any{
		"sceneName":  c.cfg.Scene,
		"sourceName": source,
	})
	if err != nil {
		return 0, err
	}
	var out struct {
		SceneItemID int `json:"sceneItemId"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, errors.Wrap(err, "decode scene item id")
	}

	c.mu.Lock()
	c.sceneItemIDs[source] = out.SceneItemID
	c.mu.Unlock()
	return out.SceneItemID, nil
}

// PlayMedia points a media source at a file and shows it for the given
// window, then hides it again. Used by the VFX effects engine.
func (c *Client) PlayMedia(ctx context.Context, source, filePath string, duration time.Duration) error {
	if _, err := c.request(ctx, "SetInputSettings", map[string]any{
		"inputName":     source,
		"inputSettings": map[string]any{"local_file": filePath},
		"overlay":       true,
	}); err != nil {
		return err
	}
	if err := c.SetSourceVisible(ctx, source, true); err != nil {
		return err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	hideCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.SetSourceVisible(hideCtx, source, false)
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "shutdown")
}

func (c *Client) String() string {
	return fmt.Sprintf("obsws.Client{%s}", c.cfg.URL)
}
