// Package source implements the streaming source client: it authenticates as
// a virtual playback device, drives transport control through the service's
// REST player API, and receives playback events (JSON text messages) plus
// encoded audio frames (binary messages) over one websocket.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soundcord/soundcord/internal/config"
	"github.com/soundcord/soundcord/internal/core"
)

const (
	pingPeriod   = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// Client implements core.SourceClient. One instance per session per
// connection; sessions build a fresh one on reconnect.
type Client struct {
	cfg      config.SourceConfig
	token    core.Token
	device   string
	interval time.Duration

	http   *http.Client
	logger zerolog.Logger

	deviceID string

	writeMu sync.Mutex
	ws      *websocket.Conn

	frames chan core.AudioFrame
	events chan core.PlaybackEvent
	seq    atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc

	failOnce sync.Once
	failErr  error
	dead     chan struct{}
}

func New(cfg config.SourceConfig, token core.Token, deviceName string, frameInterval time.Duration) *Client {
	return &Client{
		cfg:      cfg,
		token:    token,
		device:   deviceName,
		interval: frameInterval,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   log.With().Str("module", "source").Str("device", deviceName).Logger(),
		frames:   make(chan core.AudioFrame, 16),
		events:   make(chan core.PlaybackEvent, 16),
		dead:     make(chan struct{}),
	}
}

// NewFactory returns a core.SourceFactory bound to the service endpoints.
func NewFactory(cfg config.SourceConfig, frameInterval time.Duration) core.SourceFactory {
	return func(token core.Token, deviceName string) (core.SourceClient, error) {
		return New(cfg, token, deviceName, frameInterval), nil
	}
}

// Connect registers the virtual device and opens the event socket.
func (c *Client) Connect(ctx context.Context) error {
	var reg struct {
		DeviceID string `json:"device_id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/connect/devices", map[string]string{
		"name": c.device,
		"type": "speaker",
	}, &reg)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	c.deviceID = reg.DeviceID

	u := fmt.Sprintf("%s/v1/connect?device_id=%s", c.cfg.EventsURL, url.QueryEscape(c.deviceID))
	header := http.Header{"Authorization": []string{"Bearer " + c.token.AccessToken}}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("event socket: %w", err)
	}
	c.ws = ws
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.readPump()
	go c.pingLoop()

	c.logger.Info().Str("device_id", c.deviceID).Msg("source connected")
	return nil
}

// SendControl maps an engine command onto the player REST API.
func (c *Client) SendControl(ctx context.Context, cmd core.Command) error {
	switch cmd.Kind {
	case core.CommandPlay:
		if cmd.TrackRef != "" {
			return c.do(ctx, http.MethodPut, "/v1/me/player/play?device_id="+c.deviceID, map[string]any{
				"uris": []string{cmd.TrackRef},
			}, nil)
		}
		// No track given: pull the identity's playback onto this device.
		return c.do(ctx, http.MethodPut, "/v1/me/player", map[string]any{
			"device_ids": []string{c.deviceID},
			"play":       true,
		}, nil)
	case core.CommandResume:
		return c.do(ctx, http.MethodPut, "/v1/me/player/play?device_id="+c.deviceID, nil, nil)
	case core.CommandPause:
		return c.do(ctx, http.MethodPut, "/v1/me/player/pause?device_id="+c.deviceID, nil, nil)
	case core.CommandSkip:
		return c.do(ctx, http.MethodPost, "/v1/me/player/next?device_id="+c.deviceID, nil, nil)
	case core.CommandSetVolume:
		path := fmt.Sprintf("/v1/me/player/volume?volume_percent=%d&device_id=%s", cmd.Volume, c.deviceID)
		return c.do(ctx, http.MethodPut, path, nil, nil)
	default:
		return fmt.Errorf("control %s not supported by source", cmd.Kind)
	}
}

func (c *Client) NextFrame(ctx context.Context) (core.AudioFrame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-ctx.Done():
		return core.AudioFrame{}, ctx.Err()
	case <-c.dead:
		return core.AudioFrame{}, c.failErr
	}
}

func (c *Client) NextEvent(ctx context.Context) (core.PlaybackEvent, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-ctx.Done():
		return core.PlaybackEvent{}, ctx.Err()
	case <-c.dead:
		return core.PlaybackEvent{}, c.failErr
	}
}

func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.ws != nil {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
		c.writeMu.Unlock()
		return c.ws.Close()
	}
	return nil
}

// readPump demuxes the event socket: binary messages are audio frames, text
// messages are playback events. Frames get local sequence numbers in arrival
// order; arrival order is emission order on one socket.
func (c *Client) readPump() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.fail(err)
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			seq := c.seq.Add(1)
			frame := core.AudioFrame{
				Seq:       seq,
				Timestamp: time.Duration(seq) * c.interval,
				Payload:   data,
			}
			select {
			case c.frames <- frame:
			case <-c.ctx.Done():
				return
			}
		case websocket.TextMessage:
			ev, ok := translateEvent(data)
			if !ok {
				continue
			}
			select {
			case c.events <- ev:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Client) fail(err error) {
	c.failOnce.Do(func() {
		c.logger.Error().Err(err).Msg("event socket failed")
		c.failErr = err
		close(c.dead)
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
