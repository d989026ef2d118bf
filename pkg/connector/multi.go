package connector

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ronrpc/ronrpc/pkg/rpc"
)

// clientKeyCeiling bounds the range of keys a MultiConnector hands out
// to connections it dials itself; keys at or above it are reserved for
// connections an Acceptor hands it (accepted, not dialed), keeping the
// two id spaces from ever colliding within one process.
const clientKeyCeiling = 30

// ErrUnknownKey marks a lookup against a key the MultiConnector has no
// entry for.
var ErrUnknownKey = errors.New("connector: unknown key")

// MultiConnector manages several named outbound connections, each
// addressable by a small integer key. Keys below clientKeyCeiling are
// assigned to connections it dials itself (Add); keys at or above it
// are reserved for connections registered on its behalf by a server
// Acceptor (Adopt), so a process that is both a client of some peers
// and a server to others never double-assigns a key.
type MultiConnector struct {
	mu       sync.RWMutex
	byKey    map[int]*Connector
	nextKey  int
	registry *rpc.Registry
	cfg      rpc.Config
}

// NewMulti returns an empty MultiConnector. registry is shared by every
// connection it dials, so all peers see the same local handler set.
func NewMulti(cfg rpc.Config, registry *rpc.Registry) *MultiConnector {
	if registry == nil {
		registry = rpc.NewRegistry()
	}
	return &MultiConnector{
		byKey:    make(map[int]*Connector),
		registry: registry,
		cfg:      cfg,
	}
}

// Add dials addr, assigns it the next free client-range key, and
// returns that key along with the connected Connector.
func (m *MultiConnector) Add(ctx context.Context, addr string, timeout time.Duration) (int, *Connector, error) {
	m.mu.Lock()
	if m.nextKey >= clientKeyCeiling {
		m.mu.Unlock()
		return 0, nil, errors.Errorf("connector: client key space [0,%d) exhausted", clientKeyCeiling)
	}
	key := m.nextKey
	m.nextKey++
	m.mu.Unlock()

	conn := New(addr, m.cfg, m.registry)
	if err := conn.Connect(ctx, timeout); err != nil {
		return 0, nil, err
	}

	m.mu.Lock()
	m.byKey[key] = conn
	m.mu.Unlock()
	return key, conn, nil
}

// Adopt registers an already-connected Connector (typically one an
// Acceptor built around an accepted *rpc.Conn) under the caller-chosen
// server-range key; it fails if key is below clientKeyCeiling.
func (m *MultiConnector) Adopt(key int, conn *Connector) error {
	if key < clientKeyCeiling {
		return errors.Errorf("connector: adopted key %d must be >= %d", key, clientKeyCeiling)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[key] = conn
	return nil
}

// Get returns the Connector registered under key.
func (m *MultiConnector) Get(key int) (*Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byKey[key]
	if !ok {
		return nil, ErrUnknownKey
	}
	return c, nil
}

// Remove closes and forgets the connection under key, if any.
func (m *MultiConnector) Remove(key int) error {
	m.mu.Lock()
	c, ok := m.byKey[key]
	delete(m.byKey, key)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

// Keys returns every currently-registered key.
func (m *MultiConnector) Keys() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]int, 0, len(m.byKey))
	for k := range m.byKey {
		keys = append(keys, k)
	}
	return keys
}

// CloseAll closes every managed connection.
func (m *MultiConnector) CloseAll() {
	m.mu.Lock()
	conns := make([]*Connector, 0, len(m.byKey))
	for _, c := range m.byKey {
		conns = append(conns, c)
	}
	m.byKey = make(map[int]*Connector)
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
