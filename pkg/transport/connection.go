package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/a-essam23/chatrelay/internal/metrics"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	ErrShutdown = errors.New("server shutting down")
	ErrCycled   = errors.New("connection cycled by new connection")
)

// Origin identifies who sent an inbound frame and over which request.
type Origin struct {
	ConnID uuid.UUID
	UserID int64
	IP     string
	Scheme string
	Host   string
}

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, origin Origin, msg []byte)

type OnCloseHandler func(conn *Connection, err error)

type ConnectionConfig struct {
	// PingInterval <= 0 disables keepalive pings. A ping that is not answered
	// within WriteTimeout closes the connection.
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	// RatePerSecond <= 0 disables inbound rate limiting.
	RatePerSecond float64
	RateBurst     int
}

// Connection represents a single, thread-safe WebSocket connection owned by one user.
type Connection struct {
	id        uuid.UUID
	origin    Origin
	conn      *websocket.Conn
	config    ConnectionConfig
	send      chan []byte
	limiter   *rate.Limiter
	createdAt time.Time

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closing   atomic.Bool
	closeOnce sync.Once

	logger *slog.Logger
}

// NewConnection wraps an accepted websocket. The connection counts against wg
// until Close returns, so every constructed connection must be run or closed.
func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, origin Origin, logger *slog.Logger) *Connection {
	id := uuid.New()
	origin.ConnID = id
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()), slog.Int64("userID", origin.UserID))

	buf := config.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	var limiter *rate.Limiter
	if config.RatePerSecond > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), burst)
	}
	if wg != nil {
		wg.Add(1)
	}

	return &Connection{
		id:        id,
		origin:    origin,
		conn:      conn,
		config:    config,
		send:      make(chan []byte, buf),
		limiter:   limiter,
		createdAt: time.Now(),
		done:      make(chan struct{}),
		wg:        wg,
		ctx:       connCtx,
		cancel:    cancel,
		logger:    connLogger,
	}
}

func (c *Connection) Run() {
	if c.conn != nil && c.config.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.config.MaxMessageSize)
	}
	go c.readPump()
	go c.writePump()

	c.logger.Info("connection established")
}

// readPump reads one frame at a time and hands it to the message handler
// synchronously, so frames from one connection are handled in arrival order.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	// Reads run on the connection context; a listen-only client is kept
	// honest by the write pump's pings, not by a read deadline.
	for {
		_, message, err := c.conn.Read(c.ctx)
		if err != nil {
			readErr = err
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
			c.logger.Warn("Inbound frame rate exceeded, dropping frame")
			continue
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.origin, message)
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
// and pings the peer every PingInterval.
func (c *Connection) writePump() {
	var writeErr error
	var tick <-chan time.Time
	if c.config.PingInterval > 0 {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			writeCtx, cancel := c.ctx, context.CancelFunc(func() {})
			if c.config.WriteTimeout > 0 {
				writeCtx, cancel = context.WithTimeout(c.ctx, c.config.WriteTimeout)
			}
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				writeErr = err
				return
			}
		case <-tick:
			if err := c.ping(); err != nil {
				c.logger.Warn("Keepalive ping failed", slog.Any("error", err))
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// ping waits for the pong, which the read pump receives.
func (c *Connection) ping() error {
	timeout := c.config.WriteTimeout
	if timeout <= 0 {
		timeout = c.config.PingInterval
	}
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	return c.conn.Ping(ctx)
}

// Send queues a message for the write pump. It never blocks: a closed
// connection or a full queue drops the message and reports false.
func (c *Connection) Send(message []byte) bool {
	if !c.IsOpen() {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		c.logger.Warn("Send queue full, dropping outbound frame")
		return false
	}
}

// IsOpen reports whether the connection still accepts outbound frames.
func (c *Connection) IsOpen() bool {
	return !c.closing.Load() && c.ctx.Err() == nil
}

// Close shuts down the connection and its resources. Safe to call more than once
// and from any goroutine; only the first call has an effect.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		status, reason := closeStatus(err)
		c.logger.Info("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		if c.conn != nil {
			_ = c.conn.Close(status, reason)
		}
		c.cancel() // Signal goroutines to stop.
		if c.onClose != nil {
			c.onClose(c, err)
		}
		if c.wg != nil {
			c.wg.Done()
		}
		close(c.done)
		c.logger.Info("Connection closed")
	})
}

func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case errors.Is(err, ErrShutdown):
		return websocket.StatusGoingAway, "server shutting down"
	case errors.Is(err, ErrCycled):
		return websocket.StatusPolicyViolation, "connection cycled"
	default:
		return websocket.StatusNormalClosure, ""
	}
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) UserID() int64 {
	return c.origin.UserID
}

func (c *Connection) Origin() Origin {
	return c.origin
}

func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
