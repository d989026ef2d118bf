package connector_test

import (
	"context"
	"testing"
	"time"

	"github.com/ronrpc/ronrpc/pkg/acceptor"
	"github.com/ronrpc/ronrpc/pkg/connector"
	"github.com/ronrpc/ronrpc/pkg/rpc"
	"github.com/ronrpc/ronrpc/pkg/wire"
)

func TestConnectorConnectCallClose(t *testing.T) {
	serverReg := rpc.NewRegistry()
	serverReg.Register("greet", func(_ context.Context, positional []wire.Value, _ map[string]wire.Value) (rpc.Result, error) {
		return rpc.ValueResult(wire.String("hello " + positional[0].Str)), nil
	})

	a, err := acceptor.Listen("127.0.0.1:0", rpc.DefaultConfig(), serverReg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer a.Close()
	go a.Serve()

	c := connector.New(a.Addr().String(), rpc.DefaultConfig(), rpc.NewRegistry())
	if c.IsConnected() {
		t.Fatal("a freshly built Connector must not report itself connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("IsConnected() must be true right after a successful Connect")
	}

	got, err := c.CallValue(ctx, "greet", []wire.Value{wire.String("world")}, nil)
	if err != nil {
		t.Fatalf("CallValue: %v", err)
	}
	if got.Str != "hello world" {
		t.Fatalf("CallValue result = %q, want %q", got.Str, "hello world")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.IsConnected() {
		t.Fatal("IsConnected() must be false after Close")
	}
	// Close on an already-closed Connector must be a harmless no-op.
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestConnectorCallBeforeConnectFails(t *testing.T) {
	c := connector.New("127.0.0.1:1", rpc.DefaultConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.CallValue(ctx, "anything", nil, nil); err != connector.ErrNotConnected {
		t.Fatalf("CallValue before Connect = %v, want ErrNotConnected", err)
	}
}

func TestConnectorFromAccepted(t *testing.T) {
	serverReg := rpc.NewRegistry()
	a, err := acceptor.Listen("127.0.0.1:0", rpc.DefaultConfig(), serverReg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer a.Close()
	go a.Serve()

	client := connector.New(a.Addr().String(), rpc.DefaultConfig(), rpc.NewRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(2 * time.Second)
	var ids []string
	for time.Now().Before(deadline) {
		ids = a.Clients()
		if len(ids) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(ids) != 1 {
		t.Fatalf("Clients() = %v, want exactly one accepted client", ids)
	}

	accepted, ok := a.Get(ids[0])
	if !ok {
		t.Fatalf("Get(%q) missing", ids[0])
	}
	if accepted.Conn() == nil {
		t.Fatal("Connector built via FromAccepted must expose the underlying *rpc.Conn")
	}
}
