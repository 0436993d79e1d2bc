package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartapp-rpc/args"
	"smartapp-rpc/codec"
	"smartapp-rpc/discovery"
	"smartapp-rpc/exception"
	"smartapp-rpc/loadbalance"
	"smartapp-rpc/message"
	"smartapp-rpc/rpc"
	"smartapp-rpc/smartapp"
	"smartapp-rpc/transport"
)

type sumArgs struct {
	First, Second int
}

var sumSchema = args.NewSchema(func(v args.Values) sumArgs {
	return sumArgs{First: v.Int("first"), Second: v.Int("second")}
},
	args.Required("first", args.Int),
	args.Required("second", args.Int),
)

var errNotEnoughMoney = message.DeclaredError{ID: "NOT_ENOUGH_MONEY", Reason: "Not enough money"}

// startServer serves one router and returns the server's address. name
// tags the result of "whoami" so tests can tell instances apart.
func startServer(t *testing.T, reg discovery.Registry, name string, methods ...string) *transport.Server {
	t.Helper()
	r := rpc.NewRouter()
	for _, m := range methods {
		switch m {
		case "sum":
			require.NoError(t, rpc.Register(r, "sum", sumSchema, func(_ context.Context, _ *smartapp.SmartApp, a sumArgs) (message.Response, error) {
				return message.NewResult(a.First + a.Second), nil
			}))
		case "whoami":
			require.NoError(t, r.HandleNoArgs("whoami", func(context.Context, *smartapp.SmartApp) (message.Response, error) {
				return message.NewResult(name), nil
			}))
		case "pay":
			require.NoError(t, r.HandleNoArgs("pay", func(context.Context, *smartapp.SmartApp) (message.Response, error) {
				return nil, exception.Declared(errNotEnoughMoney, nil)
			}, rpc.WithErrors(errNotEnoughMoney)))
		}
	}
	app, err := rpc.New([]*rpc.Router{r}, rpc.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	svr := transport.NewServer(app, transport.WithServerLogger(zap.NewNop()), transport.WithServiceName("bank"))
	go svr.ServeListener(l, "", reg)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	require.Eventually(t, func() bool {
		if svr.Addr() == nil {
			return false
		}
		instances, _ := reg.Discover(context.Background(), "bank")
		for _, in := range instances {
			if in.Addr == svr.Addr().String() {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	return svr
}

func newClient(t *testing.T, reg discovery.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	t.Helper()
	c := NewClient(reg, bal, append([]Option{WithServiceName("bank"), WithLogger(zap.NewNop())}, opts...)...)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientCall(t *testing.T) {
	reg := discovery.NewMemoryRegistry()
	startServer(t, reg, "a", "sum")
	c := newClient(t, reg, &loadbalance.RoundRobinBalancer{})

	// Call sum(1, 2) = 3
	var got int
	require.NoError(t, c.CallResult(context.Background(), "sum", map[string]any{"first": 1, "second": 2}, &got))
	assert.Equal(t, 3, got)

	// Call again: sum(10, 20) = 30, reusing the pooled transport
	require.NoError(t, c.CallResult(context.Background(), "sum", map[string]any{"first": 10, "second": 20}, &got))
	assert.Equal(t, 30, got)
}

func TestClientCallErrorEnvelope(t *testing.T) {
	reg := discovery.NewMemoryRegistry()
	startServer(t, reg, "a", "sum", "pay")
	c := newClient(t, reg, &loadbalance.RoundRobinBalancer{})

	env, err := c.Call(context.Background(), "pay", nil)
	require.NoError(t, err)
	assert.Equal(t, message.StatusError, env.Status)

	err = c.CallResult(context.Background(), "pay", nil, nil)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.True(t, callErr.Has("NOT_ENOUGH_MONEY"))
	assert.Equal(t, "client: pay failed: NOT_ENOUGH_MONEY", callErr.Error())

	err = c.CallResult(context.Background(), "sum", map[string]any{"first": "x"}, nil)
	require.ErrorAs(t, err, &callErr)
	assert.True(t, callErr.Has("TYPE_ERROR"))
	assert.True(t, callErr.Has("VALUE_ERROR"))
}

func TestClientRoutesByMethod(t *testing.T) {
	reg := discovery.NewMemoryRegistry()
	startServer(t, reg, "a", "whoami")
	startServer(t, reg, "b", "whoami", "sum")
	c := newClient(t, reg, &loadbalance.RoundRobinBalancer{})

	// Only b serves sum.
	for i := 0; i < 4; i++ {
		var got int
		require.NoError(t, c.CallResult(context.Background(), "sum", map[string]any{"first": i, "second": 1}, &got))
		assert.Equal(t, i+1, got)
	}

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		var who string
		require.NoError(t, c.CallResult(context.Background(), "whoami", nil, &who))
		seen[who] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)

	_, err := c.Call(context.Background(), "transfer", nil)
	assert.ErrorIs(t, err, loadbalance.ErrNoInstances)
}

func TestClientChatAffinity(t *testing.T) {
	reg := discovery.NewMemoryRegistry()
	startServer(t, reg, "a", "whoami")
	startServer(t, reg, "b", "whoami")
	startServer(t, reg, "c", "whoami")
	c := newClient(t, reg, loadbalance.NewConsistentHashBalancer(), WithIdentity(uuid.New(), uuid.New()), WithPoolSize(2))

	var first string
	require.NoError(t, c.CallResult(context.Background(), "whoami", nil, &first))
	for i := 0; i < 5; i++ {
		var who string
		require.NoError(t, c.CallResult(context.Background(), "whoami", nil, &who))
		assert.Equal(t, first, who)
	}
}

func TestClientRedialsBrokenTransport(t *testing.T) {
	reg := discovery.NewMemoryRegistry()
	startServer(t, reg, "a", "sum")
	c := newClient(t, reg, &loadbalance.RoundRobinBalancer{})

	var got int
	require.NoError(t, c.CallResult(context.Background(), "sum", map[string]any{"first": 1, "second": 1}, &got))

	// Break the pooled connection behind the client's back.
	for _, pool := range c.transports {
		tr := <-pool
		tr.Conn().Close()
		<-tr.Done()
		pool <- tr
	}

	require.NoError(t, c.CallResult(context.Background(), "sum", map[string]any{"first": 2, "second": 2}, &got))
	assert.Equal(t, 4, got)
}

func TestClientStaticRegistry(t *testing.T) {
	reg := discovery.NewMemoryRegistry()
	svr := startServer(t, reg, "a", "sum")

	static := discovery.Static("bank", discovery.ServiceInstance{Addr: svr.Addr().String()})
	c := newClient(t, static, &loadbalance.WeightedRandomBalancer{}, WithCodec(codec.CodecTypeCBOR))
	var got int
	require.NoError(t, c.CallResult(context.Background(), "sum", map[string]any{"first": 2, "second": 3}, &got))
	assert.Equal(t, 5, got)
}

func TestClientDialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	c := newClient(t, discovery.Static("bank", discovery.ServiceInstance{Addr: addr}), &loadbalance.RoundRobinBalancer{})
	_, err = c.Call(context.Background(), "sum", nil)
	require.Error(t, err)
	assert.Empty(t, c.transports)
}

func TestClientClosed(t *testing.T) {
	reg := discovery.NewMemoryRegistry()
	startServer(t, reg, "a", "sum")
	c := newClient(t, reg, &loadbalance.RoundRobinBalancer{})
	require.NoError(t, c.CallResult(context.Background(), "sum", map[string]any{"first": 1, "second": 1}, nil))

	require.NoError(t, c.Close())
	_, err := c.Call(context.Background(), "sum", nil)
	assert.True(t, errors.Is(err, ErrClosed))
}

func benchClient(b *testing.B, ct codec.CodecType, poolSize int) *Client {
	b.Helper()
	r := rpc.NewRouter()
	rpc.MustRegister(r, "sum", sumSchema, func(_ context.Context, _ *smartapp.SmartApp, a sumArgs) (message.Response, error) {
		return message.NewResult(a.First + a.Second), nil
	})
	app, err := rpc.New([]*rpc.Router{r}, rpc.WithLogger(zap.NewNop()))
	require.NoError(b, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(b, err)
	svr := transport.NewServer(app, transport.WithServerLogger(zap.NewNop()))
	go svr.ServeListener(l, "", nil)
	b.Cleanup(func() { svr.Shutdown(time.Second) })

	c := NewClient(discovery.Static("smartapp-rpc", discovery.ServiceInstance{Addr: l.Addr().String()}),
		&loadbalance.RoundRobinBalancer{}, WithCodec(ct), WithPoolSize(poolSize), WithLogger(zap.NewNop()))
	b.Cleanup(func() { c.Close() })
	return c
}

// ---- 串行调用 ----

func BenchmarkCallJSON(b *testing.B) {
	c := benchClient(b, codec.CodecTypeJSON, 1)
	params := map[string]any{"first": 1, "second": 2}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.CallResult(context.Background(), "sum", params, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCallCBOR(b *testing.B) {
	c := benchClient(b, codec.CodecTypeCBOR, 1)
	params := map[string]any{"first": 1, "second": 2}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.CallResult(context.Background(), "sum", params, nil); err != nil {
			b.Fatal(err)
		}
	}
}

// ---- 并发调用（连接池）----

func BenchmarkCallParallel(b *testing.B) {
	c := benchClient(b, codec.CodecTypeJSON, 4)
	params := map[string]any{"first": 1, "second": 2}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := c.CallResult(context.Background(), "sum", params, nil); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
