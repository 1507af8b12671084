// Package realtime implements the C4 real-time fabric: long-lived
// subscriber connections over a push-stream (SSE) or bidirectional-frame
// (WebSocket) transport, targeted broadcast, heartbeats, and connection
// caps. Grounded on the connection-table/subscription-index pattern from
// a production trading-platform WebSocket server and the Hub
// register/unregister loop from a fleet-management dashboard.
package realtime

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is a connection's position in its lifecycle. No transitions are
// defined out of Terminal.
type State int

const (
	StateHandshaking State = iota
	StateAuthenticated
	StateActive
	StateTerminal
)

// Transport names which wire protocol a connection uses.
type Transport string

const (
	TransportPushStream       Transport = "push_stream"
	TransportBidirectionalFrame Transport = "bidirectional_frame"
)

// Frame is one outbound message, framed identically regardless of
// transport (SSE encodes it as a data: line, WebSocket as a text frame).
type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Connection is one registered subscriber. TenantID/SiteID/UserID come
// from the handshake's query parameters; Subscriptions is mutated by
// subscribe/unsubscribe frames.
type Connection struct {
	ID        string
	TenantID  string
	SiteID    string
	UserID    string
	Transport Transport

	send chan Frame

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos

	subsMu        sync.RWMutex
	subscriptions map[string]struct{}

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewConnection constructs a Connection in the Handshaking state with a
// buffered outbound queue sized for bursty broadcast fanout.
func NewConnection(id, tenantID, siteID, userID string, transport Transport) *Connection {
	c := &Connection{
		ID:            id,
		TenantID:      tenantID,
		SiteID:        siteID,
		UserID:        userID,
		Transport:     transport,
		send:          make(chan Frame, 256),
		subscriptions: make(map[string]struct{}),
	}
	c.state.Store(int32(StateHandshaking))
	c.touch()
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// SetState advances the connection's state. No-op once Terminal.
func (c *Connection) SetState(s State) {
	if c.State() == StateTerminal {
		return
	}
	c.state.Store(int32(s))
}

// Touch records activity now, resetting the heartbeat timeout clock.
func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Touch is the exported form, called on any received frame or pong.
func (c *Connection) Touch() { c.touch() }

// IdleSince returns how long it has been since the last recorded activity.
func (c *Connection) IdleSince() time.Duration {
	last := c.lastActivity.Load()
	return time.Since(time.Unix(0, last))
}

// Send enqueues a frame for delivery without blocking; returns false if
// the connection is closed or its outbound buffer is full (a slow
// consumer, per the fabric's no-single-slow-client-blocks-broadcast
// discipline). Recovers from the send-after-Close race: Close() may run
// between the closed.Load() check and the channel send.
func (c *Connection) Send(f Frame) (sent bool) {
	if c.closed.Load() {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// Outbound exposes the send queue for the transport's write loop.
func (c *Connection) Outbound() <-chan Frame { return c.send }

// Close marks the connection Terminal and closes its outbound queue
// exactly once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.SetState(StateTerminal)
		close(c.send)
	})
}

// Subscribe adds channel to the connection's subscription set.
func (c *Connection) Subscribe(channel string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subscriptions[channel] = struct{}{}
}

// Unsubscribe removes channel from the connection's subscription set.
func (c *Connection) Unsubscribe(channel string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subscriptions, channel)
}

// HasSubscription reports whether the connection is subscribed to channel.
func (c *Connection) HasSubscription(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// authorizedChannelPrefix reports whether a subscribe/unsubscribe request
// for channel is authorized for this connection: it must start with
// "org:<tenant>", "site:<site>", or "user:<user>" matching the connection.
func (c *Connection) authorizedChannelPrefix(channel string) bool {
	switch {
	case hasPrefix(channel, "org:"+c.TenantID):
		return true
	case c.SiteID != "" && hasPrefix(channel, "site:"+c.SiteID):
		return true
	case c.UserID != "" && hasPrefix(channel, "user:"+c.UserID):
		return true
	default:
		return false
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
