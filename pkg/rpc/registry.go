package rpc

import (
	"context"
	"sync"

	"github.com/ronrpc/ronrpc/pkg/wire"
)

// Result is what a Handler returns: either an ordinary Value, or a
// FilePath marking "this is a file at this path" (the file sentinel of
// §9 GLOSSARY), which triggers the FileMeta+body sub-protocol instead
// of an ordinary DataReturn.
type Result struct {
	Value    wire.Value
	FilePath string // non-empty selects the file-transfer path
}

// ValueResult wraps an ordinary Value result.
func ValueResult(v wire.Value) Result {
	return Result{Value: v}
}

// FileResult marks path as a file to be streamed back to the caller
// via FileMeta instead of being returned as an ordinary value.
func FileResult(path string) Result {
	return Result{FilePath: path}
}

func (r Result) isFile() bool {
	return r.FilePath != ""
}

// Handler is the signature every exact-match-registered remote
// procedure must implement.
type Handler func(ctx context.Context, positional []wire.Value, named map[string]wire.Value) (Result, error)

// Registry is a connection's local_functions table: the set of names a
// peer may invoke on it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler bound to name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup resolves name against the registry, exact match only.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}
