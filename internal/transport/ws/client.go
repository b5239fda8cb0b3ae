package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"envgrid.ai/internal/protocol"
)

// Client is a synchronous environment client: one request in flight at a
// time, one response per request.
type Client struct {
	conn    *websocket.Conn
	Timeout time.Duration
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn, Timeout: 30 * time.Second}, nil
}

func (c *Client) Call(req protocol.Request) (protocol.Response, error) {
	var resp protocol.Response
	b, err := json.Marshal(req)
	if err != nil {
		return resp, err
	}
	if err := c.WriteRaw(b); err != nil {
		return resp, err
	}
	return c.ReadResponse()
}

// WriteRaw sends b as one text frame without validation.
func (c *Client) WriteRaw(b []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) ReadResponse() (protocol.Response, error) {
	var resp protocol.Response
	if c.Timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.Timeout))
	}
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(msg, &resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
