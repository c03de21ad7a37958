package handlers

import (
	"github.com/gorilla/websocket"
)

type FeedClient struct {
	Conn   *websocket.Conn
	SendCh chan []byte
}

func NewFeedClient(conn *websocket.Conn) *FeedClient {
	return &FeedClient{
		Conn:   conn,
		SendCh: make(chan []byte, 32),
	}
}

// Send drops the message when the buffer is full.
func (c *FeedClient) Send(payload []byte) {
	select {
	case c.SendCh <- payload:
	default:
	}
}

func (c *FeedClient) WritePump() {
	for msg := range c.SendCh {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
