package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/irfndi/notifyhub/internal/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFabric_SendToOrganizationReachesAllTenantConnections(t *testing.T) {
	f := NewFabric(DefaultConfig(), nil)
	c1 := NewConnection("c1", "tenant-a", "", "u1", TransportPushStream)
	c2 := NewConnection("c2", "tenant-a", "", "u2", TransportPushStream)
	c3 := NewConnection("c3", "tenant-b", "", "u3", TransportPushStream)
	f.Table().Register(c1)
	f.Table().Register(c2)
	f.Table().Register(c3)

	sent, err := f.SendToOrganization(context.Background(), "tenant-a", processor.Message{ID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
}

func TestFabric_SendToUserTargetsOnlyThatUser(t *testing.T) {
	f := NewFabric(DefaultConfig(), nil)
	c1 := NewConnection("c1", "tenant-a", "", "u1", TransportPushStream)
	c2 := NewConnection("c2", "tenant-a", "", "u2", TransportPushStream)
	f.Table().Register(c1)
	f.Table().Register(c2)

	sent, err := f.SendToUser(context.Background(), "tenant-a", "u1", processor.Message{ID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestFabric_SendToSiteTargetsOnlyThatSite(t *testing.T) {
	f := NewFabric(DefaultConfig(), nil)
	c1 := NewConnection("c1", "tenant-a", "site-1", "", TransportPushStream)
	c2 := NewConnection("c2", "tenant-a", "site-2", "", TransportPushStream)
	f.Table().Register(c1)
	f.Table().Register(c2)

	sent, err := f.SendToSite(context.Background(), "tenant-a", "site-1", processor.Message{ID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestFabric_AtCapacityRejectsNewHandshakes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	f := NewFabric(cfg, nil)
	f.Table().Register(NewConnection("c1", "tenant-a", "", "", TransportPushStream))

	assert.True(t, f.AtCapacity(context.Background()))
}

func TestFabric_TickClosesIdleConnections(t *testing.T) {
	cfg := Config{PingInterval: time.Hour, ConnectionTimeout: 1 * time.Millisecond, MaxConnections: 100}
	f := NewFabric(cfg, nil)
	conn := NewConnection("c1", "tenant-a", "", "", TransportPushStream)
	f.Table().Register(conn)

	time.Sleep(5 * time.Millisecond)
	f.tick()

	assert.Equal(t, 0, f.Table().Count())
	assert.Equal(t, StateTerminal, conn.State())
}

func TestFabric_HandleSubscribeRejectsUnauthorized(t *testing.T) {
	f := NewFabric(DefaultConfig(), nil)
	conn := NewConnection("c1", "tenant-a", "", "", TransportPushStream)
	f.Table().Register(conn)

	err := f.HandleSubscribe(context.Background(), conn, "org:tenant-b")
	assert.Error(t, err)
}

func TestDefaultAuthenticator_RejectsMissingTenant(t *testing.T) {
	auth := DefaultAuthenticator{}
	err := auth.Authenticate(HandshakeParams{}, nil)
	assert.Error(t, err)

	err = auth.Authenticate(HandshakeParams{TenantID: "tenant-a"}, nil)
	assert.NoError(t, err)
}
