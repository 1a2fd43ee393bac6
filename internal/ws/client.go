package ws

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single frame write. A subscriber that cannot drain
// deployment events within it gets dropped.
const writeWait = 10 * time.Second

// Client adapts a websocket connection to the hub's Subscriber surface.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger
}

func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger}
}

// Send pushes one deployment event frame. A failed write closes the
// connection; the hub unsubscribes the client on the returned error.
func (c *Client) Send(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("deployment stream write failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close tears the connection down.
func (c *Client) Close() {
	_ = c.conn.Close()
}
