package transport

// ClientTransport enables multiple concurrent RPC calls over a single TCP connection.
// Each event gets a unique sequence ID, and a background goroutine (recvLoop)
// continuously reads replies and routes them to the correct caller via pending channels.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── reply(seq=2) → pending[2] chan ← reply → goroutine-2 wakes up
//	           ←── notification(seq=0) → Notifications()

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"smartapp-rpc/codec"
	"smartapp-rpc/protocol"
)

// ErrTransportClosed is delivered to pending callers when the connection
// goes away.
var ErrTransportClosed = errors.New("transport: connection closed")

// Reply is what a pending caller receives: the reply frame, or the error
// that broke the connection.
type Reply struct {
	Frame *ReplyFrame
	Err   error
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn    // Underlying TCP connection
	codec   codec.Codec // Serialization format for events sent on this transport
	seq     uint32      // Monotonically increasing sequence number (protected by sending mutex)
	pending sync.Map    // map[uint32]chan *Reply: each event waits on its own channel
	sending sync.Mutex  // Write lock: multiple goroutines share one conn, writes must be serialized
	//                     to prevent frame interleaving (event A's header + event B's body = corruption)

	notifications chan *NotificationFrame
	logger        *zap.Logger
	heartbeat     time.Duration

	closed atomic.Bool
	done   chan struct{}
	err    error // set before done is closed
}

type ClientTransportOption func(*ClientTransport)

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) ClientTransportOption {
	return func(t *ClientTransport) { t.heartbeat = d }
}

// WithNotificationBuffer sets how many unread notifications are kept.
// Notifications arriving while the buffer is full are dropped.
func WithNotificationBuffer(n int) ClientTransportOption {
	return func(t *ClientTransport) { t.notifications = make(chan *NotificationFrame, n) }
}

func WithTransportLogger(l *zap.Logger) ClientTransportOption {
	return func(t *ClientTransport) { t.logger = l }
}

// NewClientTransport creates a transport for the given connection and starts two background goroutines:
//   - recvLoop: continuously reads frames from the connection and dispatches to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames so the server keeps the connection open
func NewClientTransport(conn net.Conn, codecType codec.CodecType, opts ...ClientTransportOption) (*ClientTransport, error) {
	cdc, err := codec.GetCodec(codecType)
	if err != nil {
		return nil, err
	}
	t := &ClientTransport{
		conn:          conn,
		codec:         cdc,
		notifications: make(chan *NotificationFrame, 64),
		logger:        zap.L(),
		heartbeat:     30 * time.Second,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.recvLoop()
	if t.heartbeat > 0 {
		go t.heartbeatLoop(t.heartbeat)
	}
	return t, nil
}

// Send serializes and sends an event over the connection.
// Returns the sequence number and a channel that will receive the reply.
//
// Thread safety: the sending mutex ensures that the entire frame (header + body)
// is written atomically.
func (t *ClientTransport) Send(event *EventFrame) (uint32, <-chan *Reply, error) {
	if t.closed.Load() {
		return 0, nil, ErrTransportClosed
	}
	body, err := t.codec.Encode(event)
	if err != nil {
		return 0, nil, fmt.Errorf("transport: encode event: %w", err)
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	// Assign a unique sequence number for this event. Zero is reserved
	// for notifications.
	t.seq++
	if t.seq == 0 {
		t.seq++
	}
	seq := t.seq

	header := protocol.Header{
		CodecType: byte(t.codec.Type()),
		MsgType:   protocol.MsgTypeEvent,
		Seq:       seq,
	}

	// Register a reply channel BEFORE sending (avoid race with recvLoop)
	replyChan := make(chan *Reply, 1) // Buffered to prevent recvLoop from blocking
	t.pending.Store(seq, replyChan)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq) // Clean up on failure
		return 0, nil, err
	}
	return seq, replyChan, nil
}

// Call sends event and waits for its reply or for ctx.
func (t *ClientTransport) Call(ctx context.Context, event *EventFrame) (*ReplyFrame, error) {
	seq, ch, err := t.Send(event)
	if err != nil {
		return nil, err
	}
	select {
	case reply := <-ch:
		if reply.Err != nil {
			return nil, reply.Err
		}
		return reply.Frame, nil
	case <-t.done:
		select {
		case reply := <-ch:
			if reply.Err == nil {
				return reply.Frame, nil
			}
		default:
			t.pending.Delete(seq)
		}
		return nil, t.err
	case <-ctx.Done():
		// A late reply finds no pending entry and is dropped.
		t.pending.Delete(seq)
		return nil, ctx.Err()
	}
}

// Notifications returns the frames the server sent outside of replies.
// The channel is closed when the connection goes away.
func (t *ClientTransport) Notifications() <-chan *NotificationFrame {
	return t.notifications
}

// recvLoop runs in a dedicated goroutine, continuously reading frames from the connection.
// Replies are routed by sequence number; notifications go to the notification channel.
// TCP is a byte stream, so reads must be sequential to parse frame boundaries.
func (t *ClientTransport) recvLoop() {
	defer close(t.notifications)
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			// Connection broken: notify all pending callers
			t.closeAllPending(err)
			return
		}

		cdc, err := codec.GetCodec(codec.CodecType(header.CodecType))
		if err != nil {
			t.logger.Warn("drop frame", zap.Stringer("type", header.MsgType), zap.Error(err))
			continue
		}

		switch header.MsgType {
		case protocol.MsgTypeReply:
			var frame ReplyFrame
			reply := &Reply{Frame: &frame}
			if err := cdc.Decode(body, &frame); err != nil {
				reply = &Reply{Err: fmt.Errorf("transport: decode reply: %w", err)}
			}
			// Route the reply to the correct caller using the sequence number
			if channel, ok := t.pending.LoadAndDelete(header.Seq); ok {
				channel.(chan *Reply) <- reply
			}
		case protocol.MsgTypeNotification:
			var frame NotificationFrame
			if err := cdc.Decode(body, &frame); err != nil {
				t.logger.Warn("drop malformed notification", zap.Error(err))
				continue
			}
			select {
			case t.notifications <- &frame:
			default:
				t.logger.Warn("notification buffer full, dropping", zap.String("kind", frame.Kind))
			}
		case protocol.MsgTypeHeartbeat:
		default:
			t.logger.Warn("unexpected frame from server", zap.Stringer("type", header.MsgType))
		}
	}
}

// closeAllPending is called when the connection breaks. It sends an error to
// every pending caller so they don't block forever waiting for a reply.
func (t *ClientTransport) closeAllPending(err error) {
	if t.closed.Load() || errors.Is(err, net.ErrClosed) {
		err = ErrTransportClosed
	} else {
		err = fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}
	t.closed.Store(true)
	t.err = err
	close(t.done)

	t.pending.Range(func(key, value any) bool {
		value.(chan *Reply) <- &Reply{Err: err}
		return true
	})
	t.pending.Clear()
}

// Done is closed once the connection is unusable.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns the error that closed the transport, after Done is closed.
func (t *ClientTransport) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// Close closes the connection. Pending callers receive ErrTransportClosed.
func (t *ClientTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection alive.
// The server closes connections that stay silent past its idle timeout.
// Heartbeat frames have MsgType=Heartbeat and no body, so they're very lightweight.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			MsgType: protocol.MsgTypeHeartbeat,
		}
		// Heartbeat writes also need the sending lock to avoid frame interleaving
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			return // Connection broken, exit heartbeat loop
		}
	}
}
