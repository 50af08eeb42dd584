// Package conn is the client's websocket transport: dial with the
// identity token, typed frame sends, and a receive loop fanning decoded
// frames into a handler.
package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/protocol"
)

const closeWait = time.Second

// Conn is one live connection to the messaging server. Send is safe for
// concurrent use; Listen owns the read side.
type Conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	logger logging.Logger
}

// Dial connects to serverURL presenting token as a Bearer credential.
func Dial(ctx context.Context, serverURL, token string, logger logging.Logger) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, serverURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", serverURL, err)
	}
	return &Conn{ws: ws, logger: logger}, nil
}

// Send encodes payload under the given event name and writes one frame.
func (c *Conn) Send(event string, payload any) error {
	frame, err := protocol.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}
	return nil
}

// Handler consumes one decoded server frame.
type Handler func(event string, data json.RawMessage)

// Listen reads frames until the connection drops or ctx is cancelled,
// dispatching each to handler on the read goroutine. Malformed frames
// are logged and skipped.
func (c *Conn) Listen(ctx context.Context, handler Handler) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.ws.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		f, err := protocol.DecodeFrame(raw)
		if err != nil {
			c.logger.Warn(ctx, "dropping malformed frame", "error", err)
			continue
		}
		handler(f.Event, f.Data)
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
	return c.ws.Close()
}
