// Package stream is the consumer facing client. It keeps a public market
// data connection and, when credentials are configured, a private account
// connection alive, and delivers their events through one bounded queue.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"okxfeed/config"
	"okxfeed/internal/connection"
	"okxfeed/internal/dispatch"
	"okxfeed/internal/heartbeat"
	"okxfeed/internal/registry"
	"okxfeed/internal/signer"
	"okxfeed/internal/supervisor"
	"okxfeed/logger"
	"okxfeed/models"
)

type Option func(*Client)

// WithLogger replaces the process wide logger.
func WithLogger(log *logger.Log) Option {
	return func(c *Client) { c.log = log }
}

// WithSigner replaces the built in HMAC signer, e.g. with one backed by a
// key vault.
func WithSigner(s signer.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithDialFunc replaces the websocket dialer of one connection.
func WithDialFunc(v models.Visibility, dial connection.DialFunc) Option {
	return func(c *Client) { c.dialers[v] = dial }
}

type Client struct {
	id         string
	cfg        *config.Config
	log        *logger.Log
	signer     signer.Signer
	dialers    [2]connection.DialFunc
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher

	mu       sync.Mutex
	sups     [2]*supervisor.Supervisor
	hbCancel context.CancelFunc
	hbDone   chan struct{}
	closed   bool
}

// New builds a client from cfg. Nothing is dialed until Connect.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	policy, err := dispatch.ParsePolicy(cfg.Channels.OverflowPolicy)
	if err != nil {
		return nil, err
	}

	c := &Client{
		id:         uuid.NewString(),
		cfg:        cfg,
		log:        logger.GetLogger(),
		signer:     signer.HMAC{},
		registry:   registry.New(),
		dispatcher: dispatch.New(cfg.Channels.EventBuffer, policy),
	}
	for _, opt := range opts {
		opt(c)
	}

	limiter := connection.NewConnectLimiter(cfg.RateLimit.ConnectsPerSecond)
	for _, v := range models.Visibilities {
		if c.dialers[v] != nil {
			continue
		}
		c.dialers[v] = connection.NewDialer(connection.DialerConfig{
			Source:           v,
			LocalIP:          cfg.Stream.LocalIP,
			HandshakeTimeout: cfg.Stream.HandshakeTimeout,
			ReadLimit:        cfg.Stream.ReadLimit,
			SendBuffer:       cfg.Channels.SendBuffer,
			OpsPerHour:       cfg.RateLimit.OpsPerHour,
			OpsBurst:         cfg.RateLimit.OpsBurst,
			UserAgent:        cfg.Okxfeed.Name + "/" + cfg.Okxfeed.Version,
		}, limiter, c.log).Dial
	}

	c.log.WithComponent("client").WithFields(logger.Fields{
		"client_id":   c.id,
		"public_url":  cfg.Stream.PublicURL,
		"private_url": cfg.Stream.PrivateURL,
		"private":     c.privateEnabled(),
		"credentials": cfg.Credentials.String(),
	}).Info("client created")
	return c, nil
}

func (c *Client) privateEnabled() bool { return c.cfg.Credentials.Complete() }

// Connect dials both connections (the private one only with credentials)
// and waits for their first dial. Reconnects after that are automatic.
// Calling it again after a Failed state starts a new episode.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.ErrClosed
	}
	if c.sups[models.Public] == nil {
		c.start()
	}
	sups := c.active()
	c.mu.Unlock()

	errs := make([]error, len(sups))
	var wg sync.WaitGroup
	for i, s := range sups {
		wg.Add(1)
		go func(i int, s *supervisor.Supervisor) {
			defer wg.Done()
			if err := s.Connect(ctx); err != nil {
				errs[i] = fmt.Errorf("%s connection: %w", s.Source(), err)
			}
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// start creates the supervisors and the heartbeat monitor. c.mu is held.
func (c *Client) start() {
	stream := c.cfg.Stream
	urls := [2]string{stream.PublicURL, stream.PrivateURL}

	var targets []heartbeat.Target
	for _, v := range models.Visibilities {
		if v == models.Private && !c.privateEnabled() {
			continue
		}
		c.sups[v] = supervisor.New(supervisor.Config{
			Source:      v,
			URL:         urls[v],
			Dial:        c.dialers[v],
			Registry:    c.registry,
			Publisher:   c.dispatcher,
			Credentials: c.cfg.Credentials,
			Signer:      c.signer,
			Backoff: supervisor.BackoffConfig{
				Base:       c.cfg.Reconnect.BaseDelay,
				Max:        c.cfg.Reconnect.MaxDelay,
				Multiplier: c.cfg.Reconnect.Multiplier,
				Jitter:     c.cfg.Reconnect.Jitter,
			},
			MaxAttempts:     c.maxAttempts(),
			LoginTimeout:    stream.LoginTimeout,
			MaxArgsPerFrame: stream.MaxArgsPerFrame,
			Logger:          c.log,
		})
		targets = append(targets, c.sups[v])
	}

	monitor := heartbeat.NewMonitor(c.cfg.Heartbeat.Interval, c.cfg.Heartbeat.PongTimeout, c.log, targets...)
	ctx, cancel := context.WithCancel(context.Background())
	c.hbCancel = cancel
	c.hbDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		monitor.Run(ctx)
	}(c.hbDone)
}

func (c *Client) maxAttempts() int {
	if c.cfg.Reconnect.Unlimited {
		return supervisor.UnlimitedAttempts
	}
	return c.cfg.Reconnect.MaxAttempts
}

func (c *Client) active() []*supervisor.Supervisor {
	var out []*supervisor.Supervisor
	for _, s := range c.sups {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) supervisor(v models.Visibility) *supervisor.Supervisor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sups[v]
}

// Disconnect closes both connections, cancels pending reconnects and joins
// every goroutine. Subscriptions are kept for the next Connect. c.mu is only
// held to detach the supervisors, so State and Subscribe stay responsive
// while they shut down.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sups := c.active()
	hbCancel, hbDone := c.hbCancel, c.hbDone
	c.sups = [2]*supervisor.Supervisor{}
	c.hbCancel, c.hbDone = nil, nil
	c.mu.Unlock()

	if len(sups) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, s := range sups {
		wg.Add(1)
		go func(s *supervisor.Supervisor) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()

	if hbCancel != nil {
		hbCancel()
		<-hbDone
	}
	c.log.WithComponent("client").WithField("client_id", c.id).Info("client disconnected")
}

// Close disconnects and closes the event queue. Events already queued can
// still be read; NextEvent returns ErrClosed afterwards.
func (c *Client) Close() error {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.dispatcher.Close()
	return nil
}

// Subscribe adds keys to the desired set and sends the new ones on their
// connection if it is ready. Keys already subscribed cause no traffic.
func (c *Client) Subscribe(ctx context.Context, keys ...models.SubscriptionKey) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if !c.privateEnabled() {
		for _, k := range keys {
			if k.Channel.Visibility() == models.Private {
				return fmt.Errorf("subscribe %s: %w", k, models.ErrNoCredentials)
			}
		}
	}
	delta, err := c.registry.Add(keys...)
	if err != nil {
		return err
	}
	if delta.Empty() {
		return nil
	}
	c.log.WithComponent("registry").WithFields(logger.Fields{
		"public":  len(delta.Public),
		"private": len(delta.Private),
	}).Info("subscriptions added")
	return c.sync(ctx, delta)
}

// Unsubscribe removes keys; keys that were not subscribed are ignored.
func (c *Client) Unsubscribe(ctx context.Context, keys ...models.SubscriptionKey) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	delta := c.registry.Remove(keys...)
	if delta.Empty() {
		return nil
	}
	c.log.WithComponent("registry").WithFields(logger.Fields{
		"public":  len(delta.Public),
		"private": len(delta.Private),
	}).Info("subscriptions removed")
	return c.sync(ctx, delta)
}

// UnsubscribeAll empties the desired set.
func (c *Client) UnsubscribeAll(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	delta := c.registry.Clear()
	if delta.Empty() {
		return nil
	}
	c.log.WithComponent("registry").WithField("removed", delta.Len()).Info("all subscriptions removed")
	return c.sync(ctx, delta)
}

func (c *Client) sync(ctx context.Context, delta registry.Delta) error {
	var errs []error
	for _, v := range models.Visibilities {
		if len(delta.For(v)) == 0 {
			continue
		}
		s := c.supervisor(v)
		if s == nil {
			continue
		}
		if err := s.Sync(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s connection: %w", v, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return models.ErrClosed
	}
	return nil
}

// NextEvent blocks until an event is available, ctx ends or the client is
// closed.
func (c *Client) NextEvent(ctx context.Context) (models.Event, error) {
	return c.dispatcher.Next(ctx)
}

// Events exposes data and control events for select loops. Pair it with
// Lifecycle and Done.
func (c *Client) Events() <-chan models.Event { return c.dispatcher.Events() }

// Lifecycle carries StateChange, ConnectionLost and AuthFailure events.
// NextEvent already returns them ahead of queued data.
func (c *Client) Lifecycle() <-chan models.Event { return c.dispatcher.Lifecycle() }

// Done is closed by Close.
func (c *Client) Done() <-chan struct{} { return c.dispatcher.Done() }

// State reports the state of one connection. A connection that was never
// started, or has no credentials, is Disconnected.
func (c *Client) State(v models.Visibility) models.ConnectionState {
	if s := c.supervisor(v); s != nil {
		return s.State()
	}
	return models.Disconnected
}

// Snapshot returns the desired subscription set.
func (c *Client) Snapshot() *registry.Snapshot { return c.registry.Snapshot() }

func (c *Client) Stats() dispatch.Stats { return c.dispatcher.GetStats() }

// Dispatcher exposes the event queue for metrics reporting.
func (c *Client) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }

// ReportFields summarizes the client for the periodic runtime report.
func (c *Client) ReportFields() logger.Fields {
	stats := c.Stats()
	return logger.Fields{
		"client_id":         c.id,
		"public_state":      c.State(models.Public).String(),
		"private_state":     c.State(models.Private).String(),
		"subscriptions":     c.registry.Snapshot().Len(),
		"events_delivered":  stats.Delivered,
		"events_dropped":    stats.Public.Dropped + stats.Private.Dropped,
		"event_buffer_used": stats.Len,
	}
}
