package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Time allowed to write a frame to the peer.
const writeWait = 10 * time.Second

var ErrClientClosed = errors.New("client connection closed")

// Transport is the part of *websocket.Conn a Client needs.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one live websocket attached to a room. AccessExp is the expiry
// of the access token it was admitted with; it is checked on every send.
type Client struct {
	Conn      Transport
	UserID    string
	AccessExp time.Time

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func NewClient(conn Transport, userID string, accessExp time.Time) *Client {
	return &Client{Conn: conn, UserID: userID, AccessExp: accessExp}
}

// Send writes one text frame.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// SendJSON marshals v and sends it as a text frame.
func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Read blocks for the next text frame. Binary frames are skipped.
func (c *Client) Read() ([]byte, error) {
	for {
		messageType, data, err := c.Conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close sends a close frame with code and reason, then drops the
// transport. Only the first call has an effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closed = true
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.Conn.Close()
	})
}

// IsClosed reports whether Close has run.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
