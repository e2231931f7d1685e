package connection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"okxfeed/internal/codec"
	"okxfeed/internal/metrics"
	"okxfeed/logger"
	"okxfeed/models"
)

// Handler receives every inbound text frame in wire order. It runs on the
// reader goroutine; ctx is cancelled when the transport closes so a blocked
// handler can give up.
type Handler func(ctx context.Context, data []byte, receivedAt time.Time)

// Transport is one live websocket session. It is never reopened: after Done
// fires the owner dials a new one.
type Transport interface {
	ID() string
	// Send queues a control frame without blocking.
	Send(frame []byte) error
	// Ping queues the liveness probe ahead of pending control frames.
	Ping() error
	// Close starts teardown without waiting for the goroutines.
	Close()
	// Done is closed once the session has ended for any reason.
	Done() <-chan struct{}
	// Err reports why the session ended.
	Err() error
	// Wait blocks until the reader and writer goroutines have exited.
	Wait()
}

// DialFunc opens a transport. Implementations must not retry.
type DialFunc func(ctx context.Context, url string, handler Handler) (Transport, error)

// Conn is the gorilla/websocket backed Transport. A reader goroutine feeds
// the handler and a writer goroutine drains the outbound queue, so callers
// never wait on socket back-pressure.
type Conn struct {
	id     string
	source models.Visibility
	ws     *websocket.Conn

	sendq        chan []byte
	pingq        chan struct{}
	limiter      *rate.Limiter
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	wg        sync.WaitGroup

	log *logger.Entry
}

type connOptions struct {
	source       models.Visibility
	sendBuffer   int
	limiter      *rate.Limiter
	writeTimeout time.Duration
	log          *logger.Log
}

func newConn(ws *websocket.Conn, handler Handler, opts connOptions) *Conn {
	if opts.sendBuffer <= 0 {
		opts.sendBuffer = 64
	}
	if opts.writeTimeout <= 0 {
		opts.writeTimeout = 5 * time.Second
	}
	if opts.log == nil {
		opts.log = logger.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:           uuid.NewString(),
		source:       opts.source,
		ws:           ws,
		sendq:        make(chan []byte, opts.sendBuffer),
		pingq:        make(chan struct{}, 1),
		limiter:      opts.limiter,
		writeTimeout: opts.writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	c.log = opts.log.WithComponent(opts.source.String() + "_conn").WithField("conn_id", c.id)

	c.wg.Add(2)
	go c.readLoop(handler)
	go c.writeLoop()
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return &models.SendError{Err: models.ErrNotConnected}
	default:
	}
	select {
	case c.sendq <- frame:
		return nil
	default:
		return &models.SendError{Err: models.ErrQueueFull}
	}
}

func (c *Conn) Ping() error {
	select {
	case <-c.done:
		return &models.SendError{Err: models.ErrNotConnected}
	default:
	}
	select {
	case c.pingq <- struct{}{}:
	default:
		// one ping already pending
	}
	return nil
}

func (c *Conn) Close() { c.shutdown(models.ErrClosed) }

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) Wait() { c.wg.Wait() }

// shutdown records the first cause and tears the socket down. Closing the
// socket unblocks the reader; cancelling ctx stops the writer.
func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		c.cancel()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.ws.Close()
		close(c.done)
		c.log.WithError(cause).Debug("transport closed")
	})
}

func (c *Conn) readLoop(handler Handler) {
	defer c.wg.Done()
	for {
		_, data, err := c.ws.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				c.log.WithError(err).Warn("read failed")
			}
			c.shutdown(err)
			return
		}
		metrics.RecordFrame(c.source, metrics.Inbound, len(data))
		if handler != nil {
			handler(c.ctx, data, receivedAt)
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		// pings go first so a throttled subscribe burst cannot starve them
		select {
		case <-c.ctx.Done():
			return
		case <-c.pingq:
			if !c.write([]byte(codec.PingFrame)) {
				return
			}
			continue
		default:
		}

		select {
		case <-c.ctx.Done():
			return
		case <-c.pingq:
			if !c.write([]byte(codec.PingFrame)) {
				return
			}
		case frame := <-c.sendq:
			if !c.awaitToken() || !c.write(frame) {
				return
			}
		}
	}
}

// awaitToken waits for the op limiter while still serving pings.
func (c *Conn) awaitToken() bool {
	if c.limiter == nil {
		return true
	}
	r := c.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-c.ctx.Done():
			r.Cancel()
			return false
		case <-c.pingq:
			if !c.write([]byte(codec.PingFrame)) {
				return false
			}
		case <-timer.C:
			return true
		}
	}
}

func (c *Conn) write(frame []byte) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.log.WithError(err).Warn("write failed")
		c.shutdown(&models.SendError{Err: err})
		return false
	}
	metrics.RecordFrame(c.source, metrics.Outbound, len(frame))
	return true
}
