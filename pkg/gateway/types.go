package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aldrin/coursedesk/pkg/state"
)

// Frame types exchanged over the WebSocket.
const (
	FrameChat  = "chat"  // inbound: one user message
	FrameReply = "reply" // outbound: the agent's answer
	FrameState = "state" // outbound: session state snapshot after the turn
	FrameError = "error" // outbound: turn or protocol failure
)

// Frame is the JSON message exchanged with chat clients.
type Frame struct {
	Type    string          `json:"type"`
	Session string          `json:"session,omitempty"`
	Text    string          `json:"text,omitempty"`
	Agent   string          `json:"agent,omitempty"`
	State   *state.Snapshot `json:"state,omitempty"`
}

// Client represents one connected chat client.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string

	// Gorilla connections allow one concurrent writer
	writeMu sync.Mutex
}

// WriteFrame sends a frame to the client.
func (c *Client) WriteFrame(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(frame)
}

func (c *Client) writeControl(messageType int, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteControl(messageType, nil, deadline)
}

// ClientInfo is the externally visible view of a connected client.
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address"`
	Idle         bool      `json:"idle"`
}
