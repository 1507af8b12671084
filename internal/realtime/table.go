package realtime

import (
	"sync"
	"sync/atomic"
)

// index is a copy-on-write reverse index from a string key (tenant, site,
// user, or subscription channel) to its set of connections. Writes take a
// lock and install a new immutable slice; reads take the lock only long
// enough to fetch the atomic.Value, then load it lock-free — the hot path
// during broadcast. Grounded on a production WebSocket server's
// SubscriptionIndex.
type index struct {
	mu   sync.RWMutex
	sets map[string]*atomic.Value
}

func newIndex() *index {
	return &index{sets: make(map[string]*atomic.Value)}
}

func (idx *index) add(key string, conn *Connection) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	val := idx.sets[key]
	if val == nil {
		val = &atomic.Value{}
		idx.sets[key] = val
	}

	var current []*Connection
	if v := val.Load(); v != nil {
		current = v.([]*Connection)
	}
	for _, existing := range current {
		if existing == conn {
			return
		}
	}
	next := make([]*Connection, len(current)+1)
	copy(next, current)
	next[len(current)] = conn
	val.Store(next)
}

func (idx *index) remove(key string, conn *Connection) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	val, ok := idx.sets[key]
	if !ok {
		return
	}
	v := val.Load()
	if v == nil {
		return
	}
	current := v.([]*Connection)
	for i, existing := range current {
		if existing == conn {
			next := make([]*Connection, len(current)-1)
			copy(next, current[:i])
			copy(next[i:], current[i+1:])
			if len(next) == 0 {
				delete(idx.sets, key)
			} else {
				val.Store(next)
			}
			return
		}
	}
}

func (idx *index) get(key string) []*Connection {
	idx.mu.RLock()
	val, ok := idx.sets[key]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}
	v := val.Load()
	if v == nil {
		return nil
	}
	return v.([]*Connection)
}

func (idx *index) count(key string) int {
	return len(idx.get(key))
}

// Table holds every active connection plus the tenant/site/user/channel
// reverse indices the fabric's broadcast filters use.
type Table struct {
	mu      sync.RWMutex
	byID    map[string]*Connection
	tenants *index
	sites   *index
	users   *index
	channels *index
}

// NewTable builds an empty Table.
func NewTable() *Table {
	return &Table{
		byID:     make(map[string]*Connection),
		tenants:  newIndex(),
		sites:    newIndex(),
		users:    newIndex(),
		channels: newIndex(),
	}
}

// Register adds conn to the table and its tenant/site/user indices.
func (t *Table) Register(conn *Connection) {
	t.mu.Lock()
	t.byID[conn.ID] = conn
	t.mu.Unlock()

	t.tenants.add(conn.TenantID, conn)
	if conn.SiteID != "" {
		t.sites.add(conn.SiteID, conn)
	}
	if conn.UserID != "" {
		t.users.add(conn.UserID, conn)
	}
}

// Unregister removes conn from the table and every index it appears in,
// including every channel it was subscribed to.
func (t *Table) Unregister(conn *Connection) {
	t.mu.Lock()
	delete(t.byID, conn.ID)
	t.mu.Unlock()

	t.tenants.remove(conn.TenantID, conn)
	if conn.SiteID != "" {
		t.sites.remove(conn.SiteID, conn)
	}
	if conn.UserID != "" {
		t.users.remove(conn.UserID, conn)
	}
	conn.subsMu.RLock()
	subs := make([]string, 0, len(conn.subscriptions))
	for ch := range conn.subscriptions {
		subs = append(subs, ch)
	}
	conn.subsMu.RUnlock()
	for _, ch := range subs {
		t.channels.remove(ch, conn)
	}
}

// Subscribe authorizes and records channel for conn, indexing it for
// send_to_channel broadcasts.
func (t *Table) Subscribe(conn *Connection, channel string) bool {
	if !conn.authorizedChannelPrefix(channel) {
		return false
	}
	conn.Subscribe(channel)
	t.channels.add(channel, conn)
	return true
}

// Unsubscribe removes channel from conn's subscription set and index.
func (t *Table) Unsubscribe(conn *Connection, channel string) {
	conn.Unsubscribe(channel)
	t.channels.remove(channel, conn)
}

// Count returns the total number of registered connections.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Get looks up a registered connection by ID.
func (t *Table) Get(id string) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byID[id]
	return c, ok
}

// Snapshot returns every registered connection. Safe to iterate
// concurrently with Register/Unregister: the lock is only held to copy the
// map's values out.
func (t *Table) Snapshot() []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Connection, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, c)
	}
	return out
}

// ByTenant, BySite, ByUser, and ByChannel return the indexed connection
// set for a key — a read lock held only to fetch the atomic.Value, then an
// atomic load on the hot broadcast path.
func (t *Table) ByTenant(tenantID string) []*Connection { return t.tenants.get(tenantID) }
func (t *Table) BySite(siteID string) []*Connection      { return t.sites.get(siteID) }
func (t *Table) ByUser(userID string) []*Connection      { return t.users.get(userID) }
func (t *Table) ByChannel(channel string) []*Connection  { return t.channels.get(channel) }
