// Package client calls SmartApp RPC methods on remote servers: it discovers
// instances serving a method, picks one with a load balancer, and sends the
// call as a SmartApp event over a pooled multiplexed transport.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"smartapp-rpc/codec"
	"smartapp-rpc/discovery"
	"smartapp-rpc/loadbalance"
	"smartapp-rpc/message"
	"smartapp-rpc/transport"
)

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("client: closed")

// CallError is returned by CallResult when the server answers with an
// error envelope.
type CallError struct {
	Method string
	Errors []message.ErrorDetail
}

func (e *CallError) Error() string {
	ids := make([]string, len(e.Errors))
	for i, d := range e.Errors {
		ids[i] = d.ID
	}
	return fmt.Sprintf("client: %s failed: %s", e.Method, strings.Join(ids, ", "))
}

// Has reports whether the envelope carried an error with id.
func (e *CallError) Has(id string) bool {
	for _, d := range e.Errors {
		if d.ID == id {
			return true
		}
	}
	return false
}

type options struct {
	serviceName string
	codec       codec.CodecType
	poolSize    int
	botID       uuid.UUID
	chatID      uuid.UUID
	dialTimeout time.Duration
	logger      *zap.Logger
}

type Option func(*options)

func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}

func WithCodec(ct codec.CodecType) Option {
	return func(o *options) { o.codec = ct }
}

// WithPoolSize sets the number of connections kept per instance.
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithIdentity sets the bot and chat the calls are made as. The chat id is
// also the load balancing key.
func WithIdentity(botID, chatID uuid.UUID) Option {
	return func(o *options) {
		o.botID = botID
		o.chatID = chatID
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

type Client struct {
	registry   discovery.Registry // find service instance from registry
	balancer   loadbalance.Balancer
	opts       options
	transports map[string]chan *transport.ClientTransport // transport pool for each service instance
	mu         sync.Mutex
	closed     bool
}

func NewClient(reg discovery.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	o := options{
		serviceName: "smartapp-rpc",
		poolSize:    1,
		botID:       uuid.New(),
		chatID:      uuid.New(),
		dialTimeout: 5 * time.Second,
		logger:      zap.L(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		registry:   reg,
		balancer:   bal,
		opts:       o,
		transports: make(map[string]chan *transport.ClientTransport),
	}
}

func (c *Client) dial(ctx context.Context, addr string) (*transport.ClientTransport, error) {
	d := net.Dialer{Timeout: c.opts.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	t, err := transport.NewClientTransport(conn, c.opts.codec, transport.WithTransportLogger(c.opts.logger))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

func (c *Client) getTransport(ctx context.Context, addr string) (*transport.ClientTransport, error) {
	// Check if transport pool exists for the address
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	pool, ok := c.transports[addr]
	if !ok {
		// No pool exists, create one
		pool = make(chan *transport.ClientTransport, c.opts.poolSize)
		c.transports[addr] = pool
	}
	c.mu.Unlock()

	if !ok {
		// Create initial transports and fill the pool
		var dialed []*transport.ClientTransport
		for i := 0; i < c.opts.poolSize; i++ {
			t, err := c.dial(ctx, addr)
			if err != nil {
				for _, t := range dialed {
					t.Close()
				}
				c.mu.Lock()
				delete(c.transports, addr)
				c.mu.Unlock()
				return nil, fmt.Errorf("client: dial %s: %w", addr, err)
			}
			dialed = append(dialed, t)
		}
		for _, t := range dialed {
			pool <- t
		}
	}

	var t *transport.ClientTransport
	select {
	case t = <-pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-t.Done():
		// Broken connection, replace it in the pool.
		c.opts.logger.Debug("redial broken transport", zap.String("addr", addr), zap.Error(t.Err()))
		fresh, err := c.dial(ctx, addr)
		if err != nil {
			pool <- t // keep the slot so later calls retry the dial
			return nil, fmt.Errorf("client: dial %s: %w", addr, err)
		}
		return fresh, nil
	default:
		return t, nil
	}
}

func (c *Client) putTransport(addr string, t *transport.ClientTransport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool, ok := c.transports[addr]
	if c.closed || !ok {
		t.Close()
		return
	}
	pool <- t
}

// Call invokes method with params and returns the response envelope. An
// error envelope is a successful call; the error return is for failures
// to reach the server.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (*message.Envelope, error) {
	// Get service instances from registry
	instances, err := c.registry.Discover(ctx, c.opts.serviceName)
	if err != nil {
		return nil, err
	}

	// Select an instance using load balancer
	instance, err := c.balancer.Pick(discovery.Serving(instances, method), c.opts.chatID.String())
	if err != nil {
		return nil, fmt.Errorf("client: %s: %w", method, err)
	}

	// Get the transport for the selected instance
	t, err := c.getTransport(ctx, instance.Addr)
	if err != nil {
		return nil, err
	}
	defer c.putTransport(instance.Addr, t)

	data := map[string]any{"method": method, "type": message.RPCType}
	if params != nil {
		data["params"] = params
	}
	reply, err := t.Call(ctx, &transport.EventFrame{
		Ref:    uuid.New(),
		BotID:  c.opts.botID,
		ChatID: c.opts.chatID,
		Data:   data,
	})
	if err != nil {
		return nil, err
	}
	return reply.Envelope()
}

// CallResult is Call that decodes the result into out. An error envelope
// is returned as *CallError.
func (c *Client) CallResult(ctx context.Context, method string, params map[string]any, out any) error {
	env, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if env.Status == message.StatusError {
		return &CallError{Method: method, Errors: env.Errors}
	}
	if out == nil {
		return nil
	}
	return env.DecodeResult(out)
}

// Close closes every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	for addr, pool := range c.transports {
	drain:
		for {
			select {
			case t := <-pool:
				err = multierr.Append(err, t.Close())
			default:
				break drain
			}
		}
		delete(c.transports, addr)
	}
	return err
}
