// Package discovery publishes serving instances and the RPC methods they
// expose, and lets clients find them.
package discovery

import (
	"context"
	"slices"
)

// ServiceInstance is one serving process.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version,omitempty"`
	Codec   string `json:"codec,omitempty"`

	// Methods lists the RPC methods the instance serves. Empty means the
	// instance did not publish them.
	Methods []string `json:"methods,omitempty"`
}

// Serves reports whether the instance serves method.
func (s ServiceInstance) Serves(method string) bool {
	return len(s.Methods) == 0 || slices.Contains(s.Methods, method)
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}

// Serving filters instances down to those serving method.
func Serving(instances []ServiceInstance, method string) []ServiceInstance {
	out := make([]ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Serves(method) {
			out = append(out, inst)
		}
	}
	return out
}
