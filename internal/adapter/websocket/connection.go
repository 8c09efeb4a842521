package websocket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/domain"
	"github.com/pscheid92/deskpulse/internal/protocol"
)

// State is a connection's lifecycle position. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Disconnect reasons used as metric labels.
const (
	reasonClientClosed     = "client_closed"
	reasonTransportError   = "transport_error"
	reasonHeartbeatTimeout = "heartbeat_timeout"
	reasonProtocolErrors   = "protocol_errors"
	reasonRateLimited      = "rate_limited"
	reasonSlowConsumer     = "slow_consumer"
	reasonMessageTooLarge  = "message_too_large"
	reasonServerShutdown   = "server_shutdown"
	reasonServerClosed     = "server_closed"
)

// Connection is one authenticated client socket. Its topic set lives in the
// subscription registry.
type Connection struct {
	id        string
	principal domain.Principal
	conn      *websocket.Conn
	clock     clockwork.Clock
	createdAt time.Time

	state        atomic.Int32
	lastActivity atomic.Int64
	queue        *sendQueue

	heartbeat    time.Duration
	writeTimeout time.Duration

	closeOnce   sync.Once
	closeCh     chan struct{}
	closeCode   int
	closeReason string
	closeLabel  string
	done        chan struct{}

	// protocolErrors is only touched by the read loop.
	protocolErrors int

	onDropped func(reason string)
	onSent    func()
}

var _ protocol.Session = (*Connection)(nil)

func newConnection(id string, principal domain.Principal, conn *websocket.Conn, clock clockwork.Clock, cfg Config) *Connection {
	c := &Connection{
		id:           id,
		principal:    principal,
		conn:         conn,
		clock:        clock,
		createdAt:    clock.Now(),
		queue:        newSendQueue(cfg.SendQueueSize),
		heartbeat:    cfg.HeartbeatInterval,
		writeTimeout: cfg.WriteTimeout,
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
		onDropped:    func(string) {},
		onSent:       func() {},
	}
	c.state.Store(int32(StateConnecting))
	c.touch()
	return c
}

func (c *Connection) ID() string                  { return c.id }
func (c *Connection) Principal() domain.Principal { return c.principal }
func (c *Connection) CreatedAt() time.Time        { return c.createdAt }
func (c *Connection) State() State                { return State(c.state.Load()) }

// LastActivity is the time of the most recent inbound frame or pong.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Done is closed once the connection has been torn down and cleaned up.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) touch() {
	c.lastActivity.Store(c.clock.Now().UnixNano())
}

// advance moves the state forward to s. It never moves backwards.
func (c *Connection) advance(s State) bool {
	for {
		cur := c.state.Load()
		if cur >= int32(s) {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

func (c *Connection) enqueue(payload []byte, critical bool) (bool, error) {
	if c.State() >= StateClosing {
		return false, domain.ErrConnectionClosed
	}

	res, err := c.queue.push(outbound{payload: payload, critical: critical})
	switch {
	case errors.Is(err, errQueueFull):
		c.onDropped(reasonSlowConsumer)
		c.requestClose(websocket.ClosePolicyViolation, "slow consumer", reasonSlowConsumer)
		return false, domain.ErrConnectionClosed
	case err != nil:
		return false, domain.ErrConnectionClosed
	case res != pushQueued:
		c.onDropped("queue_overflow")
	}
	return res != pushDropped, nil
}

// requestClose asks the writer to flush, send a close frame and tear the
// socket down. Only the first request wins.
func (c *Connection) requestClose(code int, reason, label string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.closeLabel = label
		c.advance(StateClosing)
		close(c.closeCh)
	})
}

func (c *Connection) configureHandlers() {
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	c.conn.SetPingHandler(func(data string) error {
		c.touch()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
}

// writeLoop is the only goroutine writing data frames to the socket.
func (c *Connection) writeLoop(overflowNotice func(dropped int) []byte) {
	ticker := c.clock.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.queue.ready:
			if err := c.flush(overflowNotice); err != nil {
				c.requestClose(websocket.CloseAbnormalClosure, "write failed", reasonTransportError)
				c.shutdownSocket(false)
				return
			}
		case <-ticker.Chan():
			if c.clock.Since(c.LastActivity()) >= 2*c.heartbeat {
				c.requestClose(websocket.CloseGoingAway, "heartbeat timeout", reasonHeartbeatTimeout)
				continue
			}
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.requestClose(websocket.CloseAbnormalClosure, "ping failed", reasonTransportError)
				c.shutdownSocket(false)
				return
			}
		case <-c.closeCh:
			c.queue.close()
			_ = c.flush(overflowNotice)
			c.shutdownSocket(true)
			return
		}
	}
}

func (c *Connection) flush(overflowNotice func(dropped int) []byte) error {
	items, dropped := c.queue.drain()
	if dropped > 0 {
		items = append([]outbound{{payload: overflowNotice(dropped), critical: true}}, items...)
	}

	for _, it := range items {
		c.setWriteDeadline()
		if err := c.conn.WriteMessage(websocket.TextMessage, it.payload); err != nil {
			return err
		}
		c.onSent()
	}
	return nil
}

func (c *Connection) shutdownSocket(sendClose bool) {
	if sendClose && c.closeCode != websocket.CloseAbnormalClosure {
		msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	}
	_ = c.conn.Close()
}

func (c *Connection) setWriteDeadline() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
}
