package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"smartapp-rpc/message"
	"smartapp-rpc/smartapp"
)

// Metrics records call counts by method and status, and call durations by
// method, on reg. Calls ending in a Go error count with status "exception"
// and calls that panic with status "panic".
func Metrics(reg prometheus.Registerer) Middleware {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartapp",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "RPC calls by method and response status.",
	}, []string{"method", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "smartapp",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "RPC call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	requests = registerOrExisting(reg, requests)
	duration = registerOrExisting(reg, duration)

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, sa *smartapp.SmartApp, a any) (resp message.Response, err error) {
			method := MethodFrom(ctx)
			start := time.Now()
			status := "panic"
			defer func() {
				duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
				requests.WithLabelValues(method, status).Inc()
			}()
			resp, err = next(ctx, sa, a)

			status = "exception"
			if err == nil && resp != nil {
				status = string(resp.Status())
			}
			return resp, err
		}
	}
}

// registerOrExisting lets several chains share one set of collectors.
func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
