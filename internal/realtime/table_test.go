package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_RegisterIndexesByTenantSiteUser(t *testing.T) {
	tbl := NewTable()
	conn := NewConnection("c1", "tenant-a", "site-1", "user-1", TransportPushStream)
	tbl.Register(conn)

	assert.Equal(t, 1, tbl.Count())
	assert.Contains(t, tbl.ByTenant("tenant-a"), conn)
	assert.Contains(t, tbl.BySite("site-1"), conn)
	assert.Contains(t, tbl.ByUser("user-1"), conn)
}

func TestTable_UnregisterRemovesFromAllIndices(t *testing.T) {
	tbl := NewTable()
	conn := NewConnection("c1", "tenant-a", "site-1", "user-1", TransportPushStream)
	tbl.Register(conn)
	require.True(t, tbl.Subscribe(conn, "org:tenant-a"))

	tbl.Unregister(conn)

	assert.Equal(t, 0, tbl.Count())
	assert.Empty(t, tbl.ByTenant("tenant-a"))
	assert.Empty(t, tbl.BySite("site-1"))
	assert.Empty(t, tbl.ByUser("user-1"))
	assert.Empty(t, tbl.ByChannel("org:tenant-a"))
}

func TestTable_SubscribeRejectsUnauthorizedChannel(t *testing.T) {
	tbl := NewTable()
	conn := NewConnection("c1", "tenant-a", "", "", TransportPushStream)
	tbl.Register(conn)

	ok := tbl.Subscribe(conn, "org:tenant-b")
	assert.False(t, ok)
	assert.Empty(t, tbl.ByChannel("org:tenant-b"))
}

func TestTable_SubscribeAllowsMatchingOrgChannel(t *testing.T) {
	tbl := NewTable()
	conn := NewConnection("c1", "tenant-a", "", "", TransportPushStream)
	tbl.Register(conn)

	ok := tbl.Subscribe(conn, "org:tenant-a")
	assert.True(t, ok)
	assert.Contains(t, tbl.ByChannel("org:tenant-a"), conn)
}

func TestIndex_AddIsIdempotentAndCopyOnWrite(t *testing.T) {
	idx := newIndex()
	conn := NewConnection("c1", "tenant-a", "", "", TransportPushStream)

	idx.add("k", conn)
	first := idx.get("k")
	idx.add("k", conn) // duplicate add should not grow the set

	assert.Len(t, idx.get("k"), 1)
	assert.Equal(t, first, idx.get("k"))
}

func TestIndex_RemoveDeletesEmptyKey(t *testing.T) {
	idx := newIndex()
	conn := NewConnection("c1", "tenant-a", "", "", TransportPushStream)
	idx.add("k", conn)
	idx.remove("k", conn)

	assert.Nil(t, idx.get("k"))
	assert.Equal(t, 0, idx.count("k"))
}
