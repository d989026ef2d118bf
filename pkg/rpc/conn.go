// Package rpc implements the per-connection I/O engine, correlation
// bookkeeping, and the reentrant call dispatcher: the heart of the
// bidirectional RPC protocol. One Conn wraps one net.Conn and may be
// driven from either the client or server role — the wire protocol and
// the dispatcher are symmetric.
package rpc

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ronrpc/ronrpc/pkg/rlog"
	"github.com/ronrpc/ronrpc/pkg/rpccrypto"
	"github.com/ronrpc/ronrpc/pkg/wire"
)

// Conn is one live connection: socket, correlation state, inbox
// routing, and the reentrant dispatcher, all scoped to this peer.
type Conn struct {
	id       string
	netConn  net.Conn
	cfg      Config
	registry *Registry

	corr *correlationManager

	writeMu sync.Mutex
	cipher  *rpccrypto.Cipher // nil until/unless the handshake negotiates one

	waitersMu       sync.Mutex
	responseWaiters map[int32]chan wire.Packet
	waiterStack     []chan wire.Packet // LIFO of blocked Call() goroutines, for reentrant routing

	workerSem chan struct{} // nil means unbounded

	shutdownCh chan struct{}
	closeOnce  sync.Once
	closed     atomic.Bool
	onClose    func()

	peerAddr string
	inbound  bool // true if accepted, false if dialed
	dialAddr string

	readerDone      chan struct{}
	activeFileWrite *fileWrite
}

// fileWrite tracks an in-progress FileMeta body being streamed
// straight to disk by the reader loop (§4.3/§4.6): pending is the
// FileMeta packet itself, with DstPath resolved to wherever the bytes
// are actually landing, routed once the transfer completes.
type fileWrite struct {
	file    *os.File
	pending wire.Packet
}

// newConn builds an unstarted Conn around an already-established
// net.Conn.
func newConn(nc net.Conn, cfg Config, registry *Registry, inbound bool, dialAddr string) *Conn {
	if registry == nil {
		registry = NewRegistry()
	}

	var sem chan struct{}
	if cfg.WorkerPoolSize > 0 {
		sem = make(chan struct{}, cfg.WorkerPoolSize)
	}

	c := &Conn{
		id:              uuid.NewString(),
		netConn:         nc,
		cfg:             cfg,
		registry:        registry,
		corr:            newCorrelationManager(),
		responseWaiters: make(map[int32]chan wire.Packet),
		workerSem:       sem,
		shutdownCh:      make(chan struct{}),
		readerDone:      make(chan struct{}),
		inbound:         inbound,
		dialAddr:        dialAddr,
	}
	if nc != nil {
		c.peerAddr = nc.RemoteAddr().String()
	}
	return c
}

// Dial connects to addr and performs the optional crypto handshake
// before returning a ready-to-use Conn. The client role always
// initiates the RSA half of the handshake (§4.5 step 1).
func Dial(ctx context.Context, addr string, cfg Config, registry *Registry) (*Conn, error) {
	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(ErrConnectionRefused, err.Error())
	}

	c := newConn(nc, cfg, registry, false, addr)
	if cfg.Encrypt {
		if err := c.handshakeClient(); err != nil {
			nc.Close()
			return nil, err
		}
	}
	c.start()
	return c, nil
}

// Accept wraps an already-accepted net.Conn (from a Server Acceptor)
// and performs the server-role half of the handshake.
func Accept(nc net.Conn, cfg Config, registry *Registry, onClose func()) (*Conn, error) {
	c := newConn(nc, cfg, registry, true, "")
	c.onClose = onClose

	if cfg.Encrypt {
		if err := c.handshakeServer(); err != nil {
			nc.Close()
			return nil, err
		}
	}
	c.start()
	return c, nil
}

// ID returns the connection's process-unique identifier.
func (c *Conn) ID() string { return c.id }

// PeerAddr returns the remote address captured at connect/accept time.
func (c *Conn) PeerAddr() string { return c.peerAddr }

// IsConnected reports whether the connection is still live.
func (c *Conn) IsConnected() bool { return !c.closed.Load() }

// Registry returns the handler registry backing inbound calls on this
// connection.
func (c *Conn) Registry() *Registry { return c.registry }

func (c *Conn) start() {
	go c.readLoop()
}

// readChunk returns "the next chunk of plaintext frame bytes",
// which is either a raw socket read or one opened Fernet envelope,
// depending on whether the handshake negotiated encryption.
func (c *Conn) readChunk() ([]byte, error) {
	if c.cipher != nil {
		return c.cipher.ReadEnvelope(c.netConn)
	}
	buf := make([]byte, c.cfg.ChunkSize)
	n, err := c.netConn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// writeChunk writes one logical frame's worth of plaintext bytes,
// enveloping it with Fernet first if encryption is active.
func (c *Conn) writeChunk(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cipher != nil {
		return c.cipher.WriteEnvelope(c.netConn, b)
	}
	return writeFull(c.netConn, b)
}

func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.Wrap(ErrConnectionLost, "write returned 0")
		}
		b = b[n:]
	}
	return nil
}

// readLoop is the single dedicated reader goroutine for this
// connection: it decodes frames, writes in-band file bodies straight
// to disk, and routes completed packets to either a waiting caller or
// a freshly-spawned handler worker.
func (c *Conn) readLoop() {
	defer close(c.readerDone)
	defer c.teardown(nil)

	builder := wire.NewBuilder()

	for {
		select {
		case <-c.shutdownCh:
			return
		default:
		}

		chunk, err := c.readChunk()
		if err != nil {
			if c.tryReconnect() {
				builder = wire.NewBuilder()
				continue
			}
			return
		}

		builder.Feed(chunk)

		for {
			if builder.InFileBody() {
				if err := c.drainFileBody(builder); err != nil {
					rlog.Error("%v: file body: %v", c.id, err)
					return
				}
				continue
			}

			pkt, ok, err := builder.Next()
			if err != nil {
				rlog.Error("%v: protocol violation: %v", c.id, err)
				continue // drop the offending frame, keep the connection
			}
			if !ok {
				break // need more bytes
			}

			if pkt.Header.Kind == wire.KindFileMeta {
				if err := c.beginFileWrite(pkt); err != nil {
					rlog.Error("%v: file meta: %v", c.id, err)
					return
				}
				if !builder.InFileBody() {
					// zero-length file body: nothing to drain.
					w := c.activeFileWrite
					c.activeFileWrite = nil
					w.file.Close()
					c.route(w.pending)
				}
				continue
			}

			c.route(pkt)
		}
	}
}

// tryReconnect attempts a fixed-backoff reconnect for outbound
// connections configured with AutoReconnect, per §4.6/§7. It returns
// true if a new socket is in place and reading should resume.
func (c *Conn) tryReconnect() bool {
	if c.inbound || !c.cfg.AutoReconnect || c.closed.Load() {
		return false
	}

	rlog.Warn("%v: connection lost to %v, reconnecting", c.id, c.dialAddr)
	for {
		select {
		case <-c.shutdownCh:
			return false
		case <-time.After(c.cfg.ReconnectDelay):
		}

		d := net.Dialer{Timeout: c.cfg.ReconnectDelay}
		nc, err := d.Dial("tcp", c.dialAddr)
		if err != nil {
			rlog.Debug("%v: reconnect attempt failed: %v", c.id, err)
			continue
		}

		c.netConn.Close()
		c.netConn = nc
		c.cipher = nil
		if c.cfg.Encrypt {
			if err := c.handshakeClient(); err != nil {
				rlog.Error("%v: reconnect handshake failed: %v", c.id, err)
				nc.Close()
				continue
			}
		}
		rlog.Info("%v: reconnected to %v", c.id, c.dialAddr)
		return true
	}
}

// beginFileWrite opens the destination for an incoming FileMeta's raw
// body, creating a temp file when the sender left DstPath unset, and
// records the now-resolved path on the packet that will be routed once
// the transfer completes.
func (c *Conn) beginFileWrite(pkt wire.Packet) error {
	var (
		f   *os.File
		err error
		dst string
	)

	if pkt.File.DstPath != nil && *pkt.File.DstPath != "" {
		dst = *pkt.File.DstPath
		f, err = os.Create(dst)
	} else {
		f, err = os.CreateTemp("", "ronrpc-recv-*")
		if f != nil {
			dst = f.Name()
		}
	}
	if err != nil {
		return errors.Wrap(err, "creating file transfer destination")
	}

	pkt.File.DstPath = &dst
	c.activeFileWrite = &fileWrite{file: f, pending: pkt}
	return nil
}

// drainFileBody pulls whatever is left of an in-flight FileMeta body
// out of builder and appends it to the destination file, blocking
// (reading more raw chunks as needed) until the declared size is fully
// consumed, since interleaved frames are not permitted mid-transfer
// (invariant 4).
func (c *Conn) drainFileBody(builder *wire.Builder) error {
	w := c.activeFileWrite
	if w == nil {
		return errors.New("rpc: file body in flight with no destination writer")
	}

	for builder.InFileBody() {
		chunk, done, err := builder.NextFileChunk(2 * c.cfg.ChunkSize)
		if err != nil {
			return err
		}
		if len(chunk) > 0 {
			if _, err := w.file.Write(chunk); err != nil {
				w.file.Close()
				return errors.Wrap(err, "writing file body")
			}
		}
		if done {
			w.file.Close()
			c.activeFileWrite = nil
			c.route(w.pending)
			return nil
		}
		if len(chunk) == 0 {
			// exhausted buffered bytes; read more from the socket.
			more, err := c.readChunk()
			if err != nil {
				w.file.Close()
				return err
			}
			builder.Feed(more)
		}
	}
	return nil
}

// Close idempotently shuts the connection down: it marks the shutdown
// signal and closes the socket. The reader loop then exits and its
// teardown wakes every waiter and invokes the on-close callback once;
// correlation state is not reset.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.shutdownCh)
		c.netConn.Close()
	})
	return nil
}

// teardown runs once the reader loop exits for any reason: it closes
// the connection (idempotent) and wakes every blocked waiter with a
// Cancelled/ConnectionLost error.
func (c *Conn) teardown(cause error) {
	c.Close()

	c.waitersMu.Lock()
	waiters := c.responseWaiters
	c.responseWaiters = make(map[int32]chan wire.Packet)
	c.waiterStack = nil
	c.waitersMu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}

	if c.onClose != nil {
		c.onClose()
	}
}
