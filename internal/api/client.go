package api

import (
	"log/slog"

	"github.com/gorilla/websocket"
)

// wsClient wraps a websocket connection as a hub Subscriber.
type wsClient struct {
	conn *websocket.Conn
	log  *slog.Logger
}

func newWSClient(conn *websocket.Conn, logger *slog.Logger) *wsClient {
	return &wsClient{conn: conn, log: logger}
}

// Send writes a message to the websocket connection.
func (c *wsClient) Send(payload []byte) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *wsClient) Close() {
	_ = c.conn.Close()
}
