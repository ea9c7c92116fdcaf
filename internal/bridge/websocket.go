package bridge

import (
	"context"
	"time"

	"golang.org/x/net/websocket"
)

// maxFrameBytes bounds a single inbound message.
const maxFrameBytes = 50 << 20

// WSChannel is a Channel over a websocket connection carrying JSON text
// frames.
type WSChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWSChannel wraps conn.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	conn.MaxPayloadBytes = maxFrameBytes
	return &WSChannel{conn: conn, writeTimeout: 10 * time.Second}
}

// Receive blocks for the next message. Cancelling ctx closes the connection.
func (c *WSChannel) Receive(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	var msg Message
	if err := websocket.JSON.Receive(c.conn, &msg); err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		return Message{}, err
	}
	return msg, nil
}

// Send writes msg as one JSON frame.
func (c *WSChannel) Send(ctx context.Context, msg Message) error {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return websocket.JSON.Send(c.conn, msg)
}
