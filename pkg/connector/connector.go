// Package connector provides the client-facing facade over pkg/rpc: a
// single named endpoint that owns one Conn, with connect/close
// lifecycle management and a typed Call entry point. It is the layer
// application code is expected to hold onto, rather than a raw
// *rpc.Conn.
package connector

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ronrpc/ronrpc/pkg/rlog"
	"github.com/ronrpc/ronrpc/pkg/rpc"
	"github.com/ronrpc/ronrpc/pkg/wire"
)

// ErrNotConnected marks a Call/Close attempted before Connect succeeded
// or after the connection has already gone down.
var ErrNotConnected = errors.New("connector: not connected")

// Connector owns a single outbound connection to one remote endpoint.
// Call, CallValue and Close may be used from many goroutines at once.
// Connect stores the new connection without locking, so a Connect that
// runs concurrently with any other method is a data race.
type Connector struct {
	addr     string
	cfg      rpc.Config
	registry *rpc.Registry

	conn *rpc.Conn
}

// New returns an unconnected Connector bound to addr. registry supplies
// the handlers this endpoint exposes to the peer; pass rpc.NewRegistry()
// for a connector that only calls out and never serves inbound calls.
func New(addr string, cfg rpc.Config, registry *rpc.Registry) *Connector {
	if registry == nil {
		registry = rpc.NewRegistry()
	}
	return &Connector{addr: addr, cfg: cfg, registry: registry}
}

// FromAccepted wraps an already-connected *rpc.Conn (built by an
// Acceptor around an accepted socket) in a Connector, so server-side
// code gets the same Call/CallValue facade a dialing client uses.
func FromAccepted(conn *rpc.Conn) *Connector {
	return &Connector{
		addr:     conn.PeerAddr(),
		registry: conn.Registry(),
		conn:     conn,
	}
}

// Connect dials the remote endpoint, performing the handshake
// configured in cfg. If timeout is non-zero, the dial (not the
// subsequent lifetime of the connection) is bounded by it.
func (c *Connector) Connect(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := rpc.Dial(ctx, c.addr, c.cfg, c.registry)
	if err != nil {
		return err
	}
	c.conn = conn
	rlog.Info("connector: connected to %v (%v)", c.addr, conn.ID())
	return nil
}

// Close shuts the underlying connection down. It is safe to call on an
// already-closed or never-connected Connector.
func (c *Connector) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// IsConnected reports whether the underlying connection is live.
func (c *Connector) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Call invokes name on the remote peer and blocks for its result,
// reentrantly servicing any nested calls the peer makes back into this
// process in the meantime (see rpc.Conn.Call).
func (c *Connector) Call(ctx context.Context, name string, args []wire.Value, kwargs map[string]wire.Value) (rpc.Result, error) {
	if c.conn == nil {
		return rpc.Result{}, ErrNotConnected
	}
	return c.conn.Call(ctx, name, args, kwargs)
}

// CallValue is the common case of Call where the result is never a
// file.
func (c *Connector) CallValue(ctx context.Context, name string, args []wire.Value, kwargs map[string]wire.Value) (wire.Value, error) {
	if c.conn == nil {
		return wire.Value{}, ErrNotConnected
	}
	return c.conn.CallValue(ctx, name, args, kwargs)
}

// Registry returns the handler table this connector serves to its peer.
func (c *Connector) Registry() *rpc.Registry {
	return c.registry
}

// Conn exposes the underlying connection for callers that need direct
// access (e.g. PeerAddr, ID).
func (c *Connector) Conn() *rpc.Conn {
	return c.conn
}
