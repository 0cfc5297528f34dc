package main

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024

	// Outbound queue depth per client.
	sendBuffer = 32
)

// pingSignal is a sentinel placed on a client's send channel when the
// liveness sweep wants a ping control frame written.
type pingSignal struct{}

// Client wraps a single websocket connection. The role, roomID, alive and
// closed fields are session metadata owned by the Hub and must only be
// touched while holding the Hub's lock.
type Client struct {
	conn *websocket.Conn
	send chan any

	role   Role
	roomID string
	alive  bool
	closed bool
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn:  conn,
		send:  make(chan any, sendBuffer),
		alive: true,
	}
}

// readPump reads messages from the websocket and hands them to the hub.
// It runs in a per-connection goroutine; all reads happen here.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		h.markAlive(c)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(c, data)
	}
}

// writePump drains the send channel to the websocket. Closing the send
// channel terminates the pump, which closes the connection and thereby
// unblocks readPump.
func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

		var err error
		if _, ok := msg.(pingSignal); ok {
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		} else {
			err = c.conn.WriteJSON(msg)
		}
		if err != nil {
			return
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
