package acceptor_test

import (
	"context"
	"testing"
	"time"

	"github.com/ronrpc/ronrpc/pkg/acceptor"
	"github.com/ronrpc/ronrpc/pkg/connector"
	"github.com/ronrpc/ronrpc/pkg/rpc"
	"github.com/ronrpc/ronrpc/pkg/wire"
)

func TestAcceptorServesRegisteredHandler(t *testing.T) {
	serverReg := rpc.NewRegistry()
	serverReg.Register("double", func(_ context.Context, positional []wire.Value, _ map[string]wire.Value) (rpc.Result, error) {
		return rpc.ValueResult(wire.Int(positional[0].Int * 2)), nil
	})

	a, err := acceptor.Listen("127.0.0.1:0", rpc.DefaultConfig(), serverReg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer a.Close()

	go a.Serve()

	conn := connector.New(a.Addr().String(), rpc.DefaultConfig(), rpc.NewRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := conn.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	got, err := conn.CallValue(ctx, "double", []wire.Value{wire.Int(21)}, nil)
	if err != nil {
		t.Fatalf("CallValue: %v", err)
	}
	if got.Int != 42 {
		t.Fatalf("double(21) = %d, want 42", got.Int)
	}
}

// TestAcceptorGetCurrentResolvesCallingConnection exercises the §4.9
// "current connection" feature: a handler invoked on an accepted
// connection calls acceptor.GetCurrent(ctx) and must resolve back to
// that same connection, not (nil, false).
func TestAcceptorGetCurrentResolvesCallingConnection(t *testing.T) {
	serverReg := rpc.NewRegistry()

	var a *acceptor.Acceptor
	resolved := make(chan bool, 1)

	serverReg.Register("whoami", func(ctx context.Context, _ []wire.Value, _ map[string]wire.Value) (rpc.Result, error) {
		_, ok := a.GetCurrent(ctx)
		resolved <- ok
		return rpc.ValueResult(wire.Bool(ok)), nil
	})

	var err error
	a, err = acceptor.Listen("127.0.0.1:0", rpc.DefaultConfig(), serverReg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer a.Close()
	go a.Serve()

	conn := connector.New(a.Addr().String(), rpc.DefaultConfig(), rpc.NewRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	got, err := conn.CallValue(ctx, "whoami", nil, nil)
	if err != nil {
		t.Fatalf("CallValue: %v", err)
	}
	if !got.Bool {
		t.Fatal("whoami handler's own GetCurrent(ctx) call must resolve, got Bool=false")
	}

	select {
	case ok := <-resolved:
		if !ok {
			t.Fatal("GetCurrent(ctx) inside the handler returned (nil, false)")
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestAcceptorTracksClientsAndRemovesOnDisconnect(t *testing.T) {
	a, err := acceptor.Listen("127.0.0.1:0", rpc.DefaultConfig(), rpc.NewRegistry())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer a.Close()

	go a.Serve()

	conn := connector.New(a.Addr().String(), rpc.DefaultConfig(), rpc.NewRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := conn.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(a.Clients()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(a.Clients()) != 1 {
		t.Fatalf("Clients() = %v, want exactly one accepted client", a.Clients())
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for len(a.Clients()) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(a.Clients()) != 0 {
		t.Fatalf("Clients() after disconnect = %v, want none", a.Clients())
	}
}
