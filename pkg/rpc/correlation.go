package rpc

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/ronrpc/ronrpc/pkg/rlog"
)

// ErrProtocolViolation marks a correlation-id mismatch or other
// wire-level inconsistency. Per the error table this is logged and the
// offending frame is dropped, but the connection survives.
var ErrProtocolViolation = errors.New("rpc: protocol violation")

// correlationManager assigns and mirrors the per-connection
// (function_id, global_id) pairs described by the wire format. Both
// peers run an identical manager and mutate it identically for every
// frame that crosses the connection in either direction, so their
// views of the call stack never diverge (§4.4).
type correlationManager struct {
	mu sync.Mutex

	nextFunctionID int32
	nextGlobalID   int32

	// LIFO stack of function ids with an in-flight call/response pair.
	stack []int32

	// last global id observed from the peer, for monotonicity checks.
	lastGlobalID   int32
	haveLastGlobal bool
}

func newCorrelationManager() *correlationManager {
	return &correlationManager{}
}

// BeginCall assigns ids for a new locally-initiated FunctionCall: a
// fresh function_id is pushed onto the stack and both counters
// advance.
func (c *correlationManager) BeginCall() (functionID, globalID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	functionID = c.nextFunctionID
	globalID = c.nextGlobalID
	c.stack = append(c.stack, functionID)
	c.nextFunctionID++
	c.nextGlobalID++
	return
}

// EndCall assigns ids for a locally-produced DataReturn/FileMeta: the
// id is popped from the top of the stack and the global counter
// advances.
func (c *correlationManager) EndCall() (functionID, globalID int32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.stack) == 0 {
		return 0, 0, errors.Wrap(ErrProtocolViolation, "EndCall with empty stack")
	}
	top := len(c.stack) - 1
	functionID = c.stack[top]
	c.stack = c.stack[:top]
	globalID = c.nextGlobalID
	c.nextGlobalID++
	return functionID, globalID, nil
}

// PopID assigns a global id for a locally-produced response to a
// specific function_id, which is removed from the stack wherever it
// sits. The strict LIFO model in §4.4 assumes single in-order
// processing; concurrently-executing inbound handlers (one per
// auto-spawned worker) can finish out of push order, so this searches
// for id rather than assuming it is exactly at the top, logging a
// protocol anomaly when it isn't (mirrors the "log the anomaly, keep
// going" disposition in §4.4/§7).
func (c *correlationManager) PopID(id int32) (globalID int32, anomalous bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.stack) == 0 {
		return 0, false, errors.Wrapf(ErrProtocolViolation, "pop %d with empty stack", id)
	}

	top := len(c.stack) - 1
	idx := -1
	for i := top; i >= 0; i-- {
		if c.stack[i] == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return 0, false, errors.Wrapf(ErrProtocolViolation, "pop %d: not on stack", id)
	}

	c.stack = append(c.stack[:idx], c.stack[idx+1:]...)
	globalID = c.nextGlobalID
	c.nextGlobalID++
	return globalID, idx != top, nil
}

// MirrorReceiveCall mirrors an inbound FunctionCall: the peer's
// function_id is pushed onto our own stack copy so both sides agree on
// depth, and the observed global id is checked for monotonicity.
func (c *correlationManager) MirrorReceiveCall(functionID, globalID int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stack = append(c.stack, functionID)
	return c.checkGlobalIDLocked(globalID)
}

// MirrorReceiveResponse mirrors an inbound DataReturn/FileMeta: the top
// of our stack must match the response's function_id.
func (c *correlationManager) MirrorReceiveResponse(functionID, globalID int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.stack) == 0 {
		return errors.Wrapf(ErrProtocolViolation, "response for %d with empty stack", functionID)
	}
	top := len(c.stack) - 1
	if c.stack[top] != functionID {
		// log-and-continue per the error table; the top is popped
		// anyway to avoid permanently wedging the stack.
		err := errors.Wrapf(ErrProtocolViolation, "response function_id %d does not match stack top %d", functionID, c.stack[top])
		c.stack = c.stack[:top]
		c.checkGlobalIDLocked(globalID)
		return err
	}
	c.stack = c.stack[:top]
	return c.checkGlobalIDLocked(globalID)
}

// checkGlobalIDLocked is advisory/diagnostic only (§5: "detect and log
// out-of-order global ids but do not reorder") — it never fails the
// call, just tracks the last id seen from the peer and logs a
// regression.
func (c *correlationManager) checkGlobalIDLocked(observed int32) error {
	if c.haveLastGlobal && observed <= c.lastGlobalID {
		rlog.Warn("rpc: out-of-order global_id: observed %d after %d", observed, c.lastGlobalID)
	}
	c.lastGlobalID = observed
	c.haveLastGlobal = true
	return nil
}

// Depth returns the current stack depth.
func (c *correlationManager) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stack)
}

// reserveHandshakeSlot pushes a placeholder function id for the crypto
// handshake, before any ordinary FunctionCall traffic exists to push
// one naturally. Two calls reserve the two slots required by §4.5.
func (c *correlationManager) reserveHandshakeSlot() (functionID, globalID int32) {
	return c.BeginCall()
}

// releaseHandshakeSlot pops a handshake placeholder, mirroring EndCall
// without requiring an actual DataReturn payload to have been built
// through the normal call path.
func (c *correlationManager) releaseHandshakeSlot() (functionID, globalID int32, err error) {
	return c.EndCall()
}
