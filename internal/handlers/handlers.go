// Package handlers provides a small demo handler set — add, echo,
// greet, a file-transfer demo, and a bcrypt login check — registered
// on a *rpc.Registry. These back the example rpcd/rpcc binaries and
// exercise every response shape the protocol supports (plain value,
// RemoteError, file).
package handlers

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/ronrpc/ronrpc/pkg/rpc"
	"github.com/ronrpc/ronrpc/pkg/wire"
)

// Register installs the demo handler set into reg.
func Register(reg *rpc.Registry) {
	reg.Register("add", add)
	reg.Register("echo", echo)
	reg.Register("greet", greet)
	reg.Register("send_file", sendFile)
	reg.Register("login", login)
}

func add(_ context.Context, positional []wire.Value, _ map[string]wire.Value) (rpc.Result, error) {
	if len(positional) != 2 || positional[0].Tag != wire.TagInt || positional[1].Tag != wire.TagInt {
		return rpc.Result{}, fmt.Errorf("add: expected two int arguments")
	}
	return rpc.ValueResult(wire.Int(positional[0].Int + positional[1].Int)), nil
}

func echo(_ context.Context, positional []wire.Value, _ map[string]wire.Value) (rpc.Result, error) {
	if len(positional) != 1 {
		return rpc.Result{}, fmt.Errorf("echo: expected exactly one argument")
	}
	return rpc.ValueResult(positional[0]), nil
}

func greet(_ context.Context, positional []wire.Value, named map[string]wire.Value) (rpc.Result, error) {
	name := "world"
	if len(positional) > 0 && positional[0].Tag == wire.TagString {
		name = positional[0].Str
	} else if v, ok := named["name"]; ok && v.Tag == wire.TagString {
		name = v.Str
	}
	return rpc.ValueResult(wire.String("hello, " + name)), nil
}

// sendFile streams back whatever path the caller names, exercising the
// FileMeta response path. A real deployment would confine this to an
// allow-listed directory; this handler exists to demonstrate the
// wire mechanics, not to be exposed unauthenticated.
func sendFile(_ context.Context, positional []wire.Value, _ map[string]wire.Value) (rpc.Result, error) {
	if len(positional) != 1 || positional[0].Tag != wire.TagString {
		return rpc.Result{}, fmt.Errorf("send_file: expected one string path argument")
	}
	return rpc.FileResult(positional[0].Str), nil
}

// PasswordEntry is one bcrypt-hashed credential the login handler
// checks against.
type PasswordEntry struct {
	Username string
	Hash     []byte
}

var passwords []PasswordEntry

// SetPasswords installs the credential table login checks against.
func SetPasswords(entries []PasswordEntry) {
	passwords = entries
}

func login(_ context.Context, _ []wire.Value, named map[string]wire.Value) (rpc.Result, error) {
	username, ok := named["username"]
	if !ok || username.Tag != wire.TagString {
		return rpc.Result{}, fmt.Errorf("login: missing username")
	}
	password, ok := named["password"]
	if !ok || password.Tag != wire.TagString {
		return rpc.Result{}, fmt.Errorf("login: missing password")
	}

	for _, entry := range passwords {
		if entry.Username != username.Str {
			continue
		}
		if err := bcrypt.CompareHashAndPassword(entry.Hash, []byte(password.Str)); err != nil {
			return rpc.ValueResult(wire.Bool(false)), nil
		}
		return rpc.ValueResult(wire.Bool(true)), nil
	}
	return rpc.ValueResult(wire.Bool(false)), nil
}
