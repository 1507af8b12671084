package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/notifyhub/internal/processor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Config parameterizes the fabric's heartbeat cadence, timeout, and
// connection cap
type Config struct {
	PingInterval      time.Duration
	ConnectionTimeout time.Duration
	MaxConnections    int
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		ConnectionTimeout: 60 * time.Second,
		MaxConnections:    10000,
	}
}

// ErrAtCapacity is returned by Handshake when the active connection count
// is at or above MaxConnections.
type ErrAtCapacity struct{}

func (ErrAtCapacity) Error() string { return "realtime: at connection capacity" }

// Fabric is the C4 real-time fabric: a connection table, an authenticator,
// and the heartbeat loop that evicts idle connections.
type Fabric struct {
	cfg  Config
	auth Authenticator
	tbl  *Table

	stopCh chan struct{}

	rejectedCounter metric.Int64Counter
}

// NewFabric constructs a Fabric. auth may be nil, in which case
// DefaultAuthenticator is used.
func NewFabric(cfg Config, auth Authenticator) *Fabric {
	if auth == nil {
		auth = DefaultAuthenticator{}
	}
	meter := otel.GetMeterProvider().Meter("notifyhub/realtime")
	rejected, _ := meter.Int64Counter("notifyhub_realtime_connections_rejected_total")

	return &Fabric{
		cfg:             cfg,
		auth:            auth,
		tbl:             NewTable(),
		stopCh:          make(chan struct{}),
		rejectedCounter: rejected,
	}
}

// Table exposes the underlying connection table (transports need it to
// register/unregister connections as they accept/close them).
func (f *Fabric) Table() *Table { return f.tbl }

// Authenticator exposes the configured authenticator for transport
// handshakes.
func (f *Fabric) Authenticator() Authenticator { return f.auth }

// AtCapacity reports whether a new handshake should be rejected.
func (f *Fabric) AtCapacity(ctx context.Context) bool {
	if f.cfg.MaxConnections <= 0 {
		return false
	}
	atCap := f.tbl.Count() >= f.cfg.MaxConnections
	if atCap {
		f.rejectedCounter.Add(ctx, 1)
	}
	return atCap
}

// NewConnectionID generates a connection identifier for a handshake.
func NewConnectionID() string { return uuid.New().String() }

// Start launches the heartbeat/timeout loop.
func (f *Fabric) Start(ctx context.Context) {
	go f.heartbeatLoop(ctx)
}

// Stop halts the heartbeat loop.
func (f *Fabric) Stop() { close(f.stopCh) }

func (f *Fabric) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

func (f *Fabric) tick() {
	for _, conn := range f.tbl.Snapshot() {
		if conn.IdleSince() > f.cfg.ConnectionTimeout {
			conn.Send(Frame{Type: "close", Payload: map[string]string{"reason": "timeout"}})
			conn.Close()
			f.tbl.Unregister(conn)
			continue
		}
		conn.Send(Frame{Type: "ping", Payload: map[string]interface{}{
			"connection_id": conn.ID,
			"server_time":   time.Now().UTC(),
		}})
	}
}

// Broadcast sends message to every connection for which filter returns
// true, reporting the count actually enqueued (a full outbound buffer on
// a slow connection does not count as sent)
func (f *Fabric) Broadcast(message Frame, filter func(*Connection) bool) int {
	sent := 0
	for _, conn := range f.tbl.Snapshot() {
		if !filter(conn) {
			continue
		}
		if conn.Send(message) {
			sent++
		}
	}
	return sent
}

func (f *Fabric) broadcastSet(conns []*Connection, message Frame) int {
	sent := 0
	for _, conn := range conns {
		if conn.Send(message) {
			sent++
		}
	}
	return sent
}

// SendToOrganization broadcasts to every connection for tenantID. Combined
// with SendToSite and SendToUser, this satisfies processor.Broadcaster.
func (f *Fabric) SendToOrganization(ctx context.Context, tenantID string, msg processor.Message) (int, error) {
	return f.broadcastSet(f.tbl.ByTenant(tenantID), messageFrame(msg)), nil
}

// SendToSite broadcasts to every connection for (tenantID, siteID). The
// site index alone already narrows correctly since site IDs are not
// reused across tenants.
func (f *Fabric) SendToSite(ctx context.Context, tenantID, siteID string, msg processor.Message) (int, error) {
	return f.broadcastSet(f.tbl.BySite(siteID), messageFrame(msg)), nil
}

// SendToUser broadcasts to every connection for (tenantID, userID).
func (f *Fabric) SendToUser(ctx context.Context, tenantID, userID string, msg processor.Message) (int, error) {
	return f.broadcastSet(f.tbl.ByUser(userID), messageFrame(msg)), nil
}

// SendToChannel broadcasts to every connection subscribed to channel.
func (f *Fabric) SendToChannel(ctx context.Context, channel string, msg processor.Message) (int, error) {
	return f.broadcastSet(f.tbl.ByChannel(channel), messageFrame(msg)), nil
}

func messageFrame(msg processor.Message) Frame {
	return Frame{Type: "notification", Payload: msg}
}

// HandleSubscribe processes a subscribe frame from an active connection,
// authorization rule.
func (f *Fabric) HandleSubscribe(ctx context.Context, conn *Connection, channel string) error {
	if !f.tbl.Subscribe(conn, channel) {
		conn.Send(Frame{Type: "error", Payload: map[string]string{"message": "unauthorized channel subscription"}})
		return ErrUnauthorizedChannel{Channel: channel}
	}
	return nil
}

// HandleUnsubscribe removes a connection's subscription to channel.
func (f *Fabric) HandleUnsubscribe(conn *Connection, channel string) {
	f.tbl.Unsubscribe(conn, channel)
}

// ErrUnauthorizedChannel is returned when a connection requests a
// subscribe/unsubscribe for a channel it isn't entitled to.
type ErrUnauthorizedChannel struct{ Channel string }

func (e ErrUnauthorizedChannel) Error() string {
	return "realtime: unauthorized channel subscription: " + e.Channel
}

// Stats is the aggregate connection snapshot served by GET /sse/stats.
type Stats struct {
	TotalConnections int            `json:"totalConnections"`
	ByTransport      map[string]int `json:"byTransport"`
	MaxConnections   int            `json:"maxConnections"`
}

// GetStats reports the current connection counts, broken down by
// transport.
func (f *Fabric) GetStats() Stats {
	conns := f.tbl.Snapshot()
	byTransport := map[string]int{}
	for _, c := range conns {
		byTransport[string(c.Transport)]++
	}
	return Stats{
		TotalConnections: len(conns),
		ByTransport:      byTransport,
		MaxConnections:   f.cfg.MaxConnections,
	}
}
