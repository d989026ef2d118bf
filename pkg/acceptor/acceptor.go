// Package acceptor implements the server side of the protocol: a TCP
// accept loop that wraps every incoming connection in its own
// rpc.Conn, tracks them in a mutex-guarded client table, and exposes
// the connection currently driving an inbound handler (via context) so
// a Handler can call back into its own caller without threading a
// connection reference through every function signature.
package acceptor

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/ronrpc/ronrpc/pkg/connector"
	"github.com/ronrpc/ronrpc/pkg/rlog"
	"github.com/ronrpc/ronrpc/pkg/rpc"
)

// clientKeyFloor is the first key the server range hands out,
// matching connector.clientKeyCeiling so client- and server-assigned
// keys never collide within one process running both roles.
const clientKeyFloor = 30

type client struct {
	id   string
	key  int
	conn *connector.Connector
}

// Acceptor owns a listening socket and the set of peers currently
// connected to it.
type Acceptor struct {
	listener net.Listener
	cfg      rpc.Config
	registry *rpc.Registry

	mu      sync.RWMutex
	clients map[string]*client
	byKey   map[int]*client
	nextKey int
	closed  bool
}

// Listen opens addr and returns a ready-to-run Acceptor. registry is
// shared by every accepted connection, so all peers see the same
// server-side handler set.
func Listen(addr string, cfg rpc.Config, registry *rpc.Registry) (*Acceptor, error) {
	if registry == nil {
		registry = rpc.NewRegistry()
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "acceptor: listen")
	}
	return &Acceptor{
		listener: l,
		cfg:      cfg,
		registry: registry,
		clients:  make(map[string]*client),
		byKey:    make(map[int]*client),
		nextKey:  clientKeyFloor,
	}, nil
}

// Addr returns the bound listen address.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Serve accepts connections in a loop until Close is called or the
// listener errors. It blocks the calling goroutine (cmd/rpcd calls it
// as the last step of its command; tests run it in a goroutine).
func (a *Acceptor) Serve() error {
	for {
		nc, err := a.listener.Accept()
		if err != nil {
			a.mu.RLock()
			closed := a.closed
			a.mu.RUnlock()
			if closed {
				return nil
			}
			return errors.Wrap(err, "acceptor: accept")
		}
		go a.handleAccepted(nc)
	}
}

func (a *Acceptor) handleAccepted(nc net.Conn) {
	peerAddr := nc.RemoteAddr().String()

	// id must be rconn.ID(): handleInboundCall stamps that same id into
	// every inbound handler's context via rpc.WithConnID, and GetCurrent
	// resolves it straight back through a.Get — a separately minted id
	// here would make GetCurrent unable to ever find this client.
	var id string
	var cl *client
	rconn, err := rpc.Accept(nc, a.cfg, a.registry, func() {
		a.removeClient(id)
	})
	if err != nil {
		rlog.Error("acceptor: handshake with %v failed: %v", peerAddr, err)
		return
	}
	id = rconn.ID()

	conn := connector.FromAccepted(rconn)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		rconn.Close()
		return
	}
	key := a.nextKey
	a.nextKey++
	cl = &client{id: id, key: key, conn: conn}
	a.clients[id] = cl
	a.byKey[key] = cl
	a.mu.Unlock()

	rlog.Info("acceptor: accepted %v from %v (key %d)", id, peerAddr, key)
}

func (a *Acceptor) removeClient(id string) {
	a.mu.Lock()
	if cl, ok := a.clients[id]; ok {
		delete(a.byKey, cl.key)
	}
	delete(a.clients, id)
	a.mu.Unlock()
	rlog.Info("acceptor: client %v disconnected", id)
}

// Get returns the Connector for a previously-accepted client id.
func (a *Acceptor) Get(id string) (*connector.Connector, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cl, ok := a.clients[id]
	if !ok {
		return nil, false
	}
	return cl.conn, true
}

// GetByKey returns the Connector registered under the server-range key
// assigned to it at accept time (spec's `[30,∞)` server range).
func (a *Acceptor) GetByKey(key int) (*connector.Connector, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cl, ok := a.byKey[key]
	if !ok {
		return nil, false
	}
	return cl.conn, true
}

// Clients returns a snapshot of currently-connected client ids.
func (a *Acceptor) Clients() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.clients))
	for id := range a.clients {
		ids = append(ids, id)
	}
	return ids
}

// Close stops accepting new connections and closes every currently
// accepted connection.
func (a *Acceptor) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	clients := make([]*client, 0, len(a.clients))
	for _, cl := range a.clients {
		clients = append(clients, cl)
	}
	a.clients = make(map[string]*client)
	a.byKey = make(map[int]*client)
	a.mu.Unlock()

	err := a.listener.Close()
	for _, cl := range clients {
		cl.conn.Close()
	}
	return err
}

// GetCurrent resolves the connection currently executing the calling
// goroutine's inbound handler, the idiomatic substitute for the
// teacher's absence of real thread-locals: rpc.Conn stamps its own id
// into the context it hands every Handler, via rpc.WithConnID.
func (a *Acceptor) GetCurrent(ctx context.Context) (*connector.Connector, bool) {
	id, ok := rpc.ConnIDFromContext(ctx)
	if !ok {
		return nil, false
	}
	return a.Get(id)
}
