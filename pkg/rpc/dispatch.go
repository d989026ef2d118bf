package rpc

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ronrpc/ronrpc/pkg/rlog"
	"github.com/ronrpc/ronrpc/pkg/wire"
)

// sendPacket serializes and writes a complete frame.
func (c *Conn) sendPacket(pkt wire.Packet) error {
	buf, err := pkt.Pack()
	if err != nil {
		return errors.Wrap(ErrUnsupportedType, err.Error())
	}
	if err := c.writeChunk(buf); err != nil {
		return errors.Wrap(ErrConnectionLost, err.Error())
	}
	return nil
}

// Call invokes a named remote procedure and blocks until its response
// arrives, reentrantly executing any inbound calls the peer makes on
// this same connection while we wait (§4.7). The result is either an
// ordinary value or a file handle, mirroring the two response payload
// kinds (DataReturn, FileMeta).
func (c *Conn) Call(ctx context.Context, name string, args []wire.Value, kwargs map[string]wire.Value) (Result, error) {
	if c.closed.Load() {
		return Result{}, ErrClosed
	}

	fid, gid := c.corr.BeginCall()

	ch := make(chan wire.Packet, 8)
	c.waitersMu.Lock()
	c.responseWaiters[fid] = ch
	c.waiterStack = append(c.waiterStack, ch)
	c.waitersMu.Unlock()

	cleanup := func() {
		c.waitersMu.Lock()
		delete(c.responseWaiters, fid)
		for i := len(c.waiterStack) - 1; i >= 0; i-- {
			if c.waiterStack[i] == ch {
				c.waiterStack = append(c.waiterStack[:i], c.waiterStack[i+1:]...)
				break
			}
		}
		c.waitersMu.Unlock()
	}

	call := wire.Packet{
		Header: wire.Header{FunctionID: fid, GlobalID: gid, Kind: wire.KindFunctionCall},
		Call:   &wire.FunctionCall{Name: name, Positional: args, Named: kwargs},
	}
	if err := c.sendPacket(call); err != nil {
		cleanup()
		return Result{}, err
	}

	var timerCh <-chan time.Time
	if deadline, ok := callDeadline(ctx, c.cfg.CallTimeout); ok {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			cleanup()
			if ctx.Err() == context.DeadlineExceeded {
				return Result{}, ErrTimeout
			}
			return Result{}, errors.Wrap(ErrCancelled, ctx.Err().Error())
		case <-c.shutdownCh:
			cleanup()
			return Result{}, ErrCancelled
		case <-timerCh:
			cleanup()
			return Result{}, ErrTimeout
		case pkt, ok := <-ch:
			if !ok {
				return Result{}, ErrConnectionLost
			}
			if pkt.Header.Kind == wire.KindFunctionCall {
				// reentrant inbound call: execute inline on this
				// blocked goroutine, then keep waiting for our own
				// response (§4.7 step 3).
				c.handleInboundCall(ctx, pkt)
				continue
			}
			cleanup()
			return resultFromResponse(pkt)
		}
	}
}

// CallValue is a convenience wrapper around Call for handlers that
// never return a file.
func (c *Conn) CallValue(ctx context.Context, name string, args []wire.Value, kwargs map[string]wire.Value) (wire.Value, error) {
	r, err := c.Call(ctx, name, args, kwargs)
	if err != nil {
		return wire.Value{}, err
	}
	if r.isFile() {
		return wire.Value{}, errors.New("rpc: call returned a file, use Call instead of CallValue")
	}
	return r.Value, nil
}

func callDeadline(ctx context.Context, fallback time.Duration) (time.Time, bool) {
	if d, ok := ctx.Deadline(); ok {
		return d, true
	}
	if fallback > 0 {
		return time.Now().Add(fallback), true
	}
	return time.Time{}, false
}

func resultFromResponse(pkt wire.Packet) (Result, error) {
	switch pkt.Header.Kind {
	case wire.KindDataReturn:
		ret, ok := pkt.Ret.Fields["return"]
		if !ok {
			ret = wire.Null()
		}
		if ret.IsException() {
			return Result{}, &RemoteError{
				Type:    ret.Map[wire.ExceptionTypeKey].Str,
				Message: ret.Map[wire.ExceptionMessageKey].Str,
			}
		}
		return ValueResult(ret), nil
	case wire.KindFileMeta:
		path := ""
		if pkt.File.DstPath != nil {
			path = *pkt.File.DstPath
		}
		return FileResult(path), nil
	}
	return Result{}, errors.Errorf("rpc: unexpected response kind %v", pkt.Header.Kind)
}

// route dispatches one fully-decoded packet that is not a FileMeta
// (those are finalized by beginFileWrite/drainFileBody first): mirror
// the correlation stack update, then either hand a response to its
// waiting caller or an inbound call to the innermost blocked waiter
// (reentrant path) or a fresh worker (top-level auto-execute path).
func (c *Conn) route(pkt wire.Packet) {
	switch pkt.Header.Kind {
	case wire.KindDataReturn, wire.KindFileMeta:
		if err := c.corr.MirrorReceiveResponse(pkt.Header.FunctionID, pkt.Header.GlobalID); err != nil {
			rlog.Warn("%v: %v", c.id, err)
		}

		c.waitersMu.Lock()
		ch, ok := c.responseWaiters[pkt.Header.FunctionID]
		if ok {
			delete(c.responseWaiters, pkt.Header.FunctionID)
		}
		c.waitersMu.Unlock()

		if !ok {
			rlog.Warn("%v: unmatched response for function_id %d", c.id, pkt.Header.FunctionID)
			return
		}
		ch <- pkt

	case wire.KindFunctionCall:
		if err := c.corr.MirrorReceiveCall(pkt.Header.FunctionID, pkt.Header.GlobalID); err != nil {
			rlog.Warn("%v: %v", c.id, err)
		}

		c.waitersMu.Lock()
		var top chan wire.Packet
		if n := len(c.waiterStack); n > 0 {
			top = c.waiterStack[n-1]
		}
		c.waitersMu.Unlock()

		if top != nil {
			top <- pkt
			return
		}

		c.spawnWorker(pkt)

	default:
		rlog.Warn("%v: protocol violation: unknown packet kind %v", c.id, pkt.Header.Kind)
	}
}

// spawnWorker auto-executes an unsolicited inbound FunctionCall on a
// fresh goroutine so the reader loop is never blocked by a long-running
// handler (§5). Pool size is bounded by cfg.WorkerPoolSize when set.
func (c *Conn) spawnWorker(pkt wire.Packet) {
	go func() {
		if c.workerSem != nil {
			c.workerSem <- struct{}{}
			defer func() { <-c.workerSem }()
		}
		c.handleInboundCall(context.Background(), pkt)
	}()
}

// handleInboundCall resolves pkt.Call.Name against the registry,
// invokes it, and sends back the appropriate response: a DataReturn
// carrying either the result or a serialized RemoteException, or (for
// a file-sentinel result) a FileMeta followed by the streamed body.
func (c *Conn) handleInboundCall(ctx context.Context, pkt wire.Packet) {
	ctx = WithConnID(ctx, c.id)
	call := pkt.Call
	handler, ok := c.registry.Lookup(call.Name)
	if !ok {
		c.respondError(pkt.Header.FunctionID, "AttributeError", "no such function: "+call.Name)
		return
	}

	result, err := handler(ctx, call.Positional, call.Named)
	if err != nil {
		c.respondError(pkt.Header.FunctionID, "RemoteError", err.Error())
		return
	}

	if result.isFile() {
		if err := c.sendFile(pkt.Header.FunctionID, result.FilePath); err != nil {
			rlog.Error("%v: send file: %v", c.id, err)
		}
		return
	}

	c.respondValue(pkt.Header.FunctionID, result.Value)
}

func (c *Conn) respondValue(functionID int32, v wire.Value) {
	gid, anomalous, err := c.corr.PopID(functionID)
	if err != nil {
		rlog.Error("%v: %v", c.id, err)
		return
	}
	if anomalous {
		rlog.Warn("%v: response for %d popped out of LIFO order", c.id, functionID)
	}

	pkt := wire.Packet{
		Header: wire.Header{FunctionID: functionID, GlobalID: gid, Kind: wire.KindDataReturn},
		Ret:    &wire.DataReturn{Fields: map[string]wire.Value{"return": v}},
	}
	if err := c.sendPacket(pkt); err != nil {
		rlog.Error("%v: sending return: %v", c.id, err)
	}
}

func (c *Conn) respondError(functionID int32, excType, message string) {
	c.respondValue(functionID, wire.Exception(excType, message))
}

// connIDKeyType is the context key carrying the id of the Conn
// currently driving an inbound handler call. Exported accessors let a
// higher-level package (e.g. the server Acceptor) resolve "the
// connection that is calling me right now" without rpc depending on
// that package — the idiomatic substitute for the thread-locals Go
// doesn't have.
type connIDKeyType struct{}

var connIDKey = connIDKeyType{}

// WithConnID annotates ctx with a connection id.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey, id)
}

// ConnIDFromContext recovers the id set by WithConnID, if any.
func ConnIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(connIDKey).(string)
	return id, ok
}
