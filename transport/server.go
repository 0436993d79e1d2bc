// Package transport carries SmartApp events over TCP.
//
// Server is a development stand-in for the chat platform: each connection
// plays the role of the bot, events arrive as frames and replies go back on
// the same connection. ClientTransport is the other end.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each event: go handleEvent (parallel processing)
//	    → Codec.Decode → EventHandler (RPC dispatch) → Bot.SendSmartAppEvent → write reply
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"smartapp-rpc/codec"
	"smartapp-rpc/discovery"
	"smartapp-rpc/message"
	"smartapp-rpc/protocol"
	"smartapp-rpc/smartapp"
)

// EventHandler handles one SmartApp event and sends its reply through bot.
// *rpc.SmartAppRPC implements it.
type EventHandler interface {
	HandleSmartAppEvent(ctx context.Context, event *smartapp.Event, bot smartapp.Bot) error
	MethodNames() []string
}

// Server serves SmartApp events over TCP.
type Server struct {
	handler EventHandler
	opts    serverOptions

	mu            sync.Mutex         // Guards listener, registry and advertiseAddr
	listener      net.Listener       // TCP listener
	wg            sync.WaitGroup     // Tracks in-flight events for graceful shutdown
	shutdown      atomic.Bool        // Set to true during shutdown to suppress Accept errors
	conns         sync.Map           // net.Conn → struct{}, closed on shutdown
	registry      discovery.Registry // Service registry, nil if not using discovery
	advertiseAddr string             // Address registered in the registry (e.g., "127.0.0.1:8080")
	// Different from listen address (":8080") because the registry needs a routable IP

	ctx    context.Context // Parent of every event context, cancelled on shutdown
	cancel context.CancelFunc
}

type serverOptions struct {
	logger      *zap.Logger
	serviceName string
	idleTimeout time.Duration
	weight      int
	version     string
	ttl         int64
	codec       codec.CodecType
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// WithServiceName sets the name instances are registered under.
func WithServiceName(name string) ServerOption {
	return func(o *serverOptions) { o.serviceName = name }
}

// WithIdleTimeout closes connections that send nothing, heartbeats
// included, for d. Zero disables it.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.idleTimeout = d }
}

// WithRegistration sets the weight, version and lease TTL published to the
// registry.
func WithRegistration(weight int, version string, ttl int64) ServerOption {
	return func(o *serverOptions) {
		o.weight = weight
		o.version = version
		o.ttl = ttl
	}
}

// WithPreferredCodec sets the codec advertised to clients. Replies always
// use the codec of the event they answer.
func WithPreferredCodec(c codec.CodecType) ServerOption {
	return func(o *serverOptions) { o.codec = c }
}

// NewServer creates a server dispatching events to handler.
func NewServer(handler EventHandler, opts ...ServerOption) *Server {
	o := serverOptions{
		logger:      zap.L(),
		serviceName: "smartapp-rpc",
		idleTimeout: 90 * time.Second,
		weight:      1,
		ttl:         10,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{handler: handler, opts: o, ctx: ctx, cancel: cancel}
}

// Serve starts the server: listens on the given address, optionally registers
// with the registry, and enters the Accept loop to handle incoming connections.
//
// Parameters:
//   - advertiseAddr: the address to register (e.g., "127.0.0.1:8080").
//     This differs from the listen address because ":8080" resolves to "[::]:8080" locally.
//   - reg: the registry implementation. Pass nil to skip service discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg discovery.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg discovery.Registry) error {
	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	svr.mu.Lock()
	svr.listener = listener
	svr.advertiseAddr = advertiseAddr
	svr.mu.Unlock()

	if reg != nil {
		svr.mu.Lock()
		svr.registry = reg
		svr.mu.Unlock()
		instance := discovery.ServiceInstance{
			Addr:    advertiseAddr,
			Weight:  svr.opts.weight,
			Version: svr.opts.version,
			Codec:   svr.opts.codec.String(),
			Methods: svr.handler.MethodNames(),
		}
		// TTL in seconds, KeepAlive renews automatically
		if err := reg.Register(svr.ctx, svr.opts.serviceName, instance, svr.opts.ttl); err != nil {
			listener.Close()
			return fmt.Errorf("transport: register %s: %w", advertiseAddr, err)
		}
	}
	svr.opts.logger.Info("serving smartapp rpc", zap.String("addr", listener.Addr().String()), zap.String("advertise", advertiseAddr))

	// Accept loop: one goroutine per connection
	for {
		conn, err := listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			// Check the shutdown flag to distinguish intentional close from real errors.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

func (svr *Server) registeredWith() discovery.Registry {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	return svr.registry
}

// Addr returns the listener address once serving.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// handleConn processes a single TCP connection.
// It runs a read loop in a single goroutine (reads must be sequential to parse frame boundaries),
// but dispatches each event to its own goroutine for parallel processing.
func (svr *Server) handleConn(conn net.Conn) {
	svr.conns.Store(conn, struct{}{})
	defer svr.conns.Delete(conn)
	defer conn.Close()

	sc := &serverConn{conn: conn, logger: svr.opts.logger.With(zap.String("remote", conn.RemoteAddr().String()))}
	for {
		if svr.opts.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(svr.opts.idleTimeout))
		}
		// Read one complete frame (sequential, single reader per connection)
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !svr.shutdown.Load() && !errors.Is(err, net.ErrClosed) {
				sc.logger.Debug("connection closed", zap.Error(err))
			}
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			// Heartbeats only keep the read deadline moving.
			continue
		case protocol.MsgTypeEvent:
			if svr.shutdown.Load() {
				return
			}
			svr.wg.Add(1)
			// Without `go`, a slow handler on one event would block all
			// subsequent events on the same connection.
			go svr.handleEvent(sc, header, body)
		default:
			sc.logger.Warn("unexpected frame from client", zap.Stringer("type", header.MsgType))
		}
	}
}

// handleEvent decodes one event and hands it to the handler together with
// a Bot bound to this connection and sequence number.
func (svr *Server) handleEvent(sc *serverConn, header *protocol.Header, body []byte) {
	defer svr.wg.Done()

	c, err := codec.GetCodec(codec.CodecType(header.CodecType))
	if err != nil {
		sc.logger.Warn("reject event", zap.Uint32("seq", header.Seq), zap.Error(err))
		fallback, _ := codec.GetCodec(codec.CodecTypeJSON)
		sc.reject(fallback, header.Seq, "unsupported codec")
		return
	}
	var frame EventFrame
	if err := c.Decode(body, &frame); err != nil {
		sc.logger.Warn("reject malformed event", zap.Uint32("seq", header.Seq), zap.Error(err))
		sc.reject(c, header.Seq, "malformed event frame")
		return
	}
	if frame.Data == nil {
		frame.Data = map[string]any{}
	}

	event := &smartapp.Event{
		Ref:    frame.Ref,
		BotID:  frame.BotID,
		ChatID: frame.ChatID,
		Data:   frame.Data,
		Files:  frame.Files,
	}
	bot := &connBot{conn: sc, codec: c, seq: header.Seq, ref: frame.Ref}
	if err := svr.handler.HandleSmartAppEvent(svr.ctx, event, bot); err != nil {
		sc.logger.Warn("send reply", zap.Uint32("seq", header.Seq), zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (clients stop routing to this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight events to finish (with timeout)
//  5. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	var err error
	svr.mu.Lock()
	listener, advertiseAddr := svr.listener, svr.advertiseAddr
	svr.mu.Unlock()

	// Step 1: Deregister FIRST: so clients stop sending new events
	if reg := svr.registeredWith(); reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = multierr.Append(err, reg.Deregister(ctx, svr.opts.serviceName, advertiseAddr))
		cancel()
	}

	// Step 2: Set shutdown flag BEFORE closing listener
	// If we close first, the Accept error fires before the flag is set,
	// and Serve() would return a real error instead of nil
	svr.shutdown.Store(true)
	if listener != nil {
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}

	// Step 3: Wait for in-flight events with timeout
	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		err = multierr.Append(err, fmt.Errorf("timeout waiting for ongoing requests to finish"))
	}
	svr.cancel()

	svr.conns.Range(func(key, _ any) bool {
		key.(net.Conn).Close()
		return true
	})
	return err
}

// serverConn serializes frame writes on one connection. A per-connection
// write mutex is shared among all event goroutines on the connection.
// This prevents frame interleaving when several replies are written concurrently.
type serverConn struct {
	conn    net.Conn
	writeMu sync.Mutex
	logger  *zap.Logger
}

func (sc *serverConn) write(c codec.Codec, msgType protocol.MsgType, seq uint32, v any) error {
	body, err := c.Encode(v)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", msgType, err)
	}
	header := protocol.Header{
		CodecType: byte(c.Type()),
		MsgType:   msgType,
		Seq:       seq, // Same seq as the event: this is how multiplexing works
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return protocol.Encode(sc.conn, &header, body)
}

// reject answers an event that never reached the handler with an
// invalid request error on its seq.
func (sc *serverConn) reject(c codec.Codec, seq uint32, reason string) {
	resp := message.NewError(message.NewErrorDetail("Invalid RPC request: "+reason, "VALUE_ERROR", map[string]any{"field": "data"}))
	data, err := json.Marshal(resp)
	if err == nil {
		err = sc.write(c, protocol.MsgTypeReply, seq, &ReplyFrame{Data: data, Encrypted: resp.IsEncrypted()})
	}
	if err != nil {
		sc.logger.Warn("send rejection", zap.Uint32("seq", seq), zap.Error(err))
	}
}

// connBot is the smartapp.Bot of one event. The reply to the event goes
// out as a Reply frame with the event's seq; everything else becomes a
// Notification frame.
type connBot struct {
	conn  *serverConn
	codec codec.Codec
	seq   uint32
	ref   uuid.UUID

	replied atomic.Bool
}

func (b *connBot) SendSmartAppEvent(ctx context.Context, event *smartapp.OutgoingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame := &ReplyFrame{
		Ref:       event.Ref,
		BotID:     event.BotID,
		ChatID:    event.ChatID,
		Data:      event.Data,
		Encrypted: event.Encrypted,
		Files:     event.Files,
	}
	if event.Ref != nil && *event.Ref == b.ref && b.replied.CompareAndSwap(false, true) {
		return b.conn.write(b.codec, protocol.MsgTypeReply, b.seq, frame)
	}
	return b.conn.write(b.codec, protocol.MsgTypeNotification, 0, &NotificationFrame{
		Kind:   NotifyEvent,
		BotID:  event.BotID,
		ChatID: event.ChatID,
		Event:  frame,
	})
}

func (b *connBot) SendSmartAppNotification(ctx context.Context, botID, chatID uuid.UUID, counter int, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.conn.write(b.codec, protocol.MsgTypeNotification, 0, &NotificationFrame{
		Kind:    NotifyPush,
		BotID:   botID,
		ChatID:  chatID,
		Counter: counter,
		Body:    body,
	})
}

func (b *connBot) SendSmartAppCustomNotification(ctx context.Context, n *smartapp.CustomNotification) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	syncID := uuid.New()
	err := b.conn.write(b.codec, protocol.MsgTypeNotification, 0, &NotificationFrame{
		Kind:            NotifyCustom,
		BotID:           n.BotID,
		ChatID:          n.GroupChatID,
		SyncID:          syncID,
		Title:           n.Title,
		Body:            n.Body,
		Meta:            n.Meta,
		WaitCallback:    n.WaitCallback,
		CallbackTimeout: n.CallbackTimeout,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return syncID, nil
}
