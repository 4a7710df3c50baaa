package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
)

// WSChannel wraps a gorilla/websocket connection as a Channel. It is used
// both for connections the gateway accepts (via UpgradeWS) and for
// connections a participant runtime dials out (via DialWS).
//
// It follows the read-loop half of a common pattern for long-lived,
// JSON-framed WebSocket clients (there is no reconnect or correlation
// here): a dedicated read goroutine decodes frames and pushes
// them onto a channel, while writes are serialized behind a mutex because
// gorilla/websocket forbids concurrent writers on one connection.
type WSChannel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	inbound chan *envelope.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// UpgradeWS upgrades an inbound HTTP request to a WebSocket and wraps it
// as a Channel. Callers are expected to have already authenticated the
// request (join token) before upgrading.
func UpgradeWS(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*WSChannel, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket upgrade: %w", err)
	}
	return newWSChannel(conn, logger), nil
}

// DialWS opens a WebSocket connection to url and wraps it as a Channel,
// for use by a participant runtime connecting out to the gateway.
func DialWS(ctx context.Context, url string, logger *slog.Logger) (*WSChannel, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return newWSChannel(conn, logger), nil
}

func newWSChannel(conn *websocket.Conn, logger *slog.Logger) *WSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &WSChannel{
		conn:    conn,
		logger:  logger.With("component", "transport.ws"),
		inbound: make(chan *envelope.Envelope, 64),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *WSChannel) readLoop() {
	defer close(c.inbound)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("read loop ending", "error", err)
			return
		}
		var env envelope.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		select {
		case c.inbound <- &env:
		case <-c.closed:
			return
		}
	}
}

func (c *WSChannel) Send(env *envelope.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (c *WSChannel) Inbound() <-chan *envelope.Envelope {
	return c.inbound
}

func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
