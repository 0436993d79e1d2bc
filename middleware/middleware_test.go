package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"smartapp-rpc/exception"
	"smartapp-rpc/message"
	"smartapp-rpc/smartapp"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(_ context.Context, _ *smartapp.SmartApp, a any) (message.Response, error) {
	return message.NewResult(a), nil
}

func newSmartApp() *smartapp.SmartApp {
	return smartapp.New(nil, uuid.New(), uuid.New(), nil)
}

func recordingMiddleware(trace *[]int, n int) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, sa *smartapp.SmartApp, a any) (message.Response, error) {
			*trace = append(*trace, n)
			resp, err := next(ctx, sa, a)
			*trace = append(*trace, -n)
			return resp, err
		}
	}
}

func TestChainOrder(t *testing.T) {
	var trace []int
	h := Chain(recordingMiddleware(&trace, 1), recordingMiddleware(&trace, 2), recordingMiddleware(&trace, 3))(echoHandler)

	resp, err := h(context.Background(), newSmartApp(), "x")
	require.NoError(t, err)
	assert.Equal(t, message.StatusOK, resp.Status())
	assert.Equal(t, []int{1, 2, 3, -3, -2, -1}, trace)
}

func TestChainShortCircuit(t *testing.T) {
	var reached bool
	stop := func(HandlerFunc) HandlerFunc {
		return func(context.Context, *smartapp.SmartApp, any) (message.Response, error) {
			return message.NewResult("stopped"), nil
		}
	}
	h := Chain(stop)(func(context.Context, *smartapp.SmartApp, any) (message.Response, error) {
		reached = true
		return message.NewResult("handler"), nil
	})

	resp, err := h(context.Background(), newSmartApp(), nil)
	require.NoError(t, err)
	assert.Equal(t, "stopped", resp.(*message.ResultResponse).Value)
	assert.False(t, reached)
}

func TestChainCallsNextTwice(t *testing.T) {
	var calls int
	twice := func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, sa *smartapp.SmartApp, a any) (message.Response, error) {
			if _, err := next(ctx, sa, a); err != nil {
				return nil, err
			}
			return next(ctx, sa, a)
		}
	}
	h := Chain(twice)(func(context.Context, *smartapp.SmartApp, any) (message.Response, error) {
		calls++
		return message.NewResult(calls), nil
	})
	resp, err := h(context.Background(), newSmartApp(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.(*message.ResultResponse).Value)
}

func TestAdaptShapes(t *testing.T) {
	withArgs := Adapt(HandlerWithArgs(echoHandler))
	resp, err := withArgs(context.Background(), newSmartApp(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, resp.(*message.ResultResponse).Value)

	var got any = "unset"
	noArgs := Adapt(HandlerNoArgs(func(_ context.Context, sa *smartapp.SmartApp) (message.Response, error) {
		got = sa.State["seen"]
		return message.NewResult("pong"), nil
	}))
	sa := newSmartApp()
	sa.State["seen"] = true
	resp, err = noArgs(context.Background(), sa, 7)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.(*message.ResultResponse).Value)
	assert.Equal(t, true, got)

	assert.Equal(t, WithArgs, HandlerWithArgs(echoHandler).Shape())
	assert.True(t, Handler{}.IsZero())
}

func TestAdaptNilResponse(t *testing.T) {
	h := Adapt(HandlerNoArgs(func(context.Context, *smartapp.SmartApp) (message.Response, error) {
		var r *message.ResultResponse
		return r, nil
	}))
	_, err := h(context.Background(), newSmartApp(), nil)
	assert.ErrorIs(t, err, exception.ErrNilResponse)
}

func TestExceptionsMiddleware(t *testing.T) {
	keyHandled := func(context.Context, error, *smartapp.SmartApp) (*message.ErrorResponse, error) {
		return message.NewError(message.NewErrorDetail("key", "KEY_HANDLED", nil)), nil
	}
	table := exception.NewTable(zap.NewNop(), exception.Handlers{exception.KeyError: keyHandled})
	exc := Exceptions(table, zap.NewNop())

	cases := []struct {
		name    string
		handler HandlerFunc
		ids     []string
	}{
		{
			name: "kinded error",
			handler: func(context.Context, *smartapp.SmartApp, any) (message.Response, error) {
				return nil, exception.New(exception.KeyError, "k")
			},
			ids: []string{"KEY_HANDLED"},
		},
		{
			name: "plain error",
			handler: func(context.Context, *smartapp.SmartApp, any) (message.Response, error) {
				return nil, errors.New("boom")
			},
			ids: []string{"ERRORSTRING"},
		},
		{
			name: "panic",
			handler: func(context.Context, *smartapp.SmartApp, any) (message.Response, error) {
				panic("boom")
			},
			ids: []string{"PANIC"},
		},
		{
			name: "nil response",
			handler: func(context.Context, *smartapp.SmartApp, any) (message.Response, error) {
				return nil, nil
			},
			ids: []string{"RUNTIMEERROR"},
		},
		{
			name: "declared error",
			handler: func(context.Context, *smartapp.SmartApp, any) (message.Response, error) {
				return nil, exception.Raise(message.NewErrorDetail("Not enough money", "NOT_ENOUGH_MONEY", nil))
			},
			ids: []string{"NOT_ENOUGH_MONEY"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := exc(tc.handler)(context.Background(), newSmartApp(), nil)
			require.NoError(t, err)
			require.IsType(t, &message.ErrorResponse{}, resp)
			assert.Equal(t, tc.ids, resp.(*message.ErrorResponse).IDs())
		})
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Logging(zap.New(core))(echoHandler)

	ctx := WithMethod(context.Background(), "sum")
	resp, err := h(ctx, newSmartApp(), 1)
	require.NoError(t, err)
	require.NotNil(t, resp)

	entries := logs.FilterMessage("rpc call").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "sum", entries[0].ContextMap()["method"])
	assert.Equal(t, "ok", entries[0].ContextMap()["status"])
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	now := time.Unix(1_700_000_000, 0)
	limiter := newChatLimiter(1, 2, time.Minute)
	h := rateLimit(limiter, func() time.Time { return now })(echoHandler)

	sa := newSmartApp()
	for i := 0; i < 2; i++ {
		resp, err := h(context.Background(), sa, nil)
		require.NoError(t, err)
		assert.Equal(t, message.StatusOK, resp.Status(), "request %d should pass", i)
	}

	resp, err := h(context.Background(), sa, nil)
	require.NoError(t, err)
	require.Equal(t, message.StatusError, resp.Status())
	assert.Equal(t, []string{IDRateLimitExceeded}, resp.(*message.ErrorResponse).IDs())

	// Another chat has its own bucket.
	resp, err = h(context.Background(), newSmartApp(), nil)
	require.NoError(t, err)
	assert.Equal(t, message.StatusOK, resp.Status())

	now = now.Add(time.Second)
	resp, err = h(context.Background(), sa, nil)
	require.NoError(t, err)
	assert.Equal(t, message.StatusOK, resp.Status())
}

func TestRateLimitEvictsIdleChats(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := newChatLimiter(100, 100, time.Minute)
	stale := uuid.New()
	limiter.allow(stale, now)

	now = now.Add(2 * time.Minute)
	active := uuid.New()
	for i := 0; i < 511; i++ {
		limiter.allow(active, now)
	}
	assert.Equal(t, 1, limiter.size())
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0, 0, 0)(echoHandler)
	for i := 0; i < 10; i++ {
		resp, err := h(context.Background(), newSmartApp(), nil)
		require.NoError(t, err)
		assert.Equal(t, message.StatusOK, resp.Status())
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	failing := func(context.Context, *smartapp.SmartApp, any) (message.Response, error) {
		return nil, errors.New("boom")
	}
	ok := Metrics(reg)(echoHandler)
	bad := Metrics(reg)(failing)

	ctx := WithMethod(context.Background(), "sum")
	_, _ = ok(ctx, newSmartApp(), nil)
	_, _ = ok(ctx, newSmartApp(), nil)
	_, _ = bad(ctx, newSmartApp(), nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{"smartapp_rpc_requests_total", "smartapp_rpc_request_duration_seconds"}, names)

	n, err := testutil.GatherAndCount(reg, "smartapp_rpc_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPanicsAreObserved(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	reg := prometheus.NewRegistry()
	table := exception.NewTable(zap.NewNop(), nil)
	panicking := func(context.Context, *smartapp.SmartApp, any) (message.Response, error) {
		panic("boom")
	}
	h := Chain(Exceptions(table, zap.NewNop()), Logging(zap.New(core)), Metrics(reg))(panicking)

	resp, err := h(WithMethod(context.Background(), "sum"), newSmartApp(), nil)
	require.NoError(t, err)
	require.IsType(t, &message.ErrorResponse{}, resp)
	assert.Equal(t, []string{"PANIC"}, resp.(*message.ErrorResponse).IDs())

	entries := logs.FilterMessage("rpc call panicked").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "sum", entries[0].ContextMap()["method"])

	families, err := reg.Gather()
	require.NoError(t, err)
	statuses := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "smartapp_rpc_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" {
					statuses[l.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"panic": 1}, statuses)
}

func TestMetricsSharesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := Metrics(reg)(echoHandler)
	second := Metrics(reg)(echoHandler)

	ctx := WithMethod(context.Background(), "sum")
	_, _ = first(ctx, newSmartApp(), nil)
	_, _ = second(ctx, newSmartApp(), nil)

	n, err := testutil.GatherAndCount(reg, "smartapp_rpc_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
