// Package supervisor owns one logical connection: it dials, logs in,
// replays subscriptions and reconnects with backoff. All connection state
// lives on a single event-loop goroutine; everything else talks to it by
// message.
package supervisor

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"okxfeed/internal/codec"
	"okxfeed/internal/connection"
	"okxfeed/internal/heartbeat"
	"okxfeed/internal/metrics"
	"okxfeed/internal/registry"
	"okxfeed/internal/signer"
	"okxfeed/logger"
	"okxfeed/models"
)

const (
	DefaultLoginTimeout = 10 * time.Second
	DefaultMaxAttempts  = 20

	// UnlimitedAttempts as Config.MaxAttempts retries forever.
	UnlimitedAttempts = -1

	component   = "supervisor"
	inboxSize   = 64
	maxLogFrame = 256
)

// Publisher receives every event the connection produces.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

type Config struct {
	Source    models.Visibility
	URL       string
	Dial      connection.DialFunc
	Registry  *registry.Registry
	Publisher Publisher

	// Credentials and Signer are only used on the private connection.
	Credentials models.Credentials
	Signer      signer.Signer

	Backoff BackoffConfig
	// MaxAttempts bounds reconnect attempts per episode. Zero means
	// DefaultMaxAttempts; UnlimitedAttempts retries forever.
	MaxAttempts     int
	LoginTimeout    time.Duration
	MaxArgsPerFrame int
	Logger          *logger.Log
}

type Supervisor struct {
	cfg   Config
	log   *logger.Log
	now   func() time.Time
	state atomic.Int32
	hb    heartbeat.State

	inbox    chan any
	ctx      context.Context
	cancel   context.CancelFunc
	exited   chan struct{}
	stopOnce sync.Once
	dials    sync.WaitGroup

	// cur mirrors the live transport for the heartbeat monitor.
	curMu  sync.Mutex
	curGen int
	cur    connection.Transport

	// owned by run
	transport    connection.Transport
	gen          int
	authed       bool
	sent         map[models.SubscriptionKey]struct{}
	attempt      int
	reconnecting bool
	bo           *backoff.Backoff
	retry        *time.Timer
	login        *time.Timer
	pending      []chan error
	emitCtx      context.Context
}

type (
	connectMsg struct{ reply chan error }
	syncMsg    struct{ reply chan error }
	stopMsg    struct{}
	dialResult struct {
		gen int
		t   connection.Transport
		err error
	}
	authMsg struct {
		gen int
		err *models.AuthError
	}
	staleMsg struct {
		gen int
		err *models.TimeoutError
	}
)

// New starts the supervisor's event loop in Disconnected. Call Stop to
// release it.
func New(cfg Config) *Supervisor {
	if cfg.Signer == nil {
		cfg.Signer = signer.HMAC{}
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxArgsPerFrame <= 0 {
		cfg.MaxArgsPerFrame = codec.DefaultMaxArgsPerFrame
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:     cfg,
		log:     cfg.Logger,
		now:     time.Now,
		inbox:   make(chan any, inboxSize),
		ctx:     ctx,
		cancel:  cancel,
		exited:  make(chan struct{}),
		bo:      newBackoff(cfg.Backoff),
		emitCtx: ctx,
	}
	metrics.SetState(cfg.Source, models.Disconnected)
	go s.run()
	return s
}

func (s *Supervisor) Source() models.Visibility { return s.cfg.Source }

func (s *Supervisor) State() models.ConnectionState {
	return models.ConnectionState(s.state.Load())
}

// Connect starts an episode and waits for its first dial. It returns nil
// once Connected and a *models.ConnectError if the first dial fails. Login
// runs afterwards; its failure is reported as an AuthFailure event.
func (s *Supervisor) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, connectMsg{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.exited:
		return models.ErrClosed
	}
}

// Sync sends whatever subscribe or unsubscribe frames are needed to make
// the live connection match the registry. It is a no-op while not ready;
// the next (re)connect replays the registry anyway.
func (s *Supervisor) Sync(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, syncMsg{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.exited:
		return models.ErrClosed
	}
}

// Stop cancels dials and timers, closes the socket and joins every
// goroutine the supervisor started. It is safe to call more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		select {
		case s.inbox <- stopMsg{}:
		case <-s.exited:
		}
	})
	<-s.exited
}

// Heartbeat implements heartbeat.Target.
func (s *Supervisor) Heartbeat() (*heartbeat.State, bool) {
	return &s.hb, s.State() == models.Connected
}

// SendPing implements heartbeat.Target.
func (s *Supervisor) SendPing() error {
	s.curMu.Lock()
	t := s.cur
	s.curMu.Unlock()
	if t == nil {
		return models.ErrNotConnected
	}
	return t.Ping()
}

// MarkStale implements heartbeat.Target. A report that does not fit in the
// inbox is dropped; the next tick reports again.
func (s *Supervisor) MarkStale(err *models.TimeoutError) {
	s.curMu.Lock()
	gen := s.curGen
	s.curMu.Unlock()
	select {
	case s.inbox <- staleMsg{gen: gen, err: err}:
	default:
	}
}

func (s *Supervisor) post(ctx context.Context, msg any) error {
	select {
	case s.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.exited:
		return models.ErrClosed
	case <-s.ctx.Done():
		return models.ErrClosed
	}
}

func (s *Supervisor) entry() *logger.Entry {
	return s.log.WithComponent(component).WithField("source", s.cfg.Source.String())
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// EVENT LOOP /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

func (s *Supervisor) run() {
	defer close(s.exited)
	for {
		var transportDone <-chan struct{}
		if s.transport != nil {
			transportDone = s.transport.Done()
		}

		select {
		case msg := <-s.inbox:
			if _, ok := msg.(stopMsg); ok {
				s.teardown()
				return
			}
			s.handle(msg)
		case <-transportDone:
			s.lose(TriggerSocketClosed, s.transport.Err())
		case <-timerC(s.retry):
			s.retry = nil
			if s.move(TriggerBackoffElapsed, nil) {
				s.startDial()
			}
		case <-timerC(s.login):
			s.login = nil
			if s.State() == models.Connected && !s.authed {
				timeout := s.cfg.LoginTimeout
				s.entry().WithField("timeout", timeout.String()).Warn("login not acknowledged in time")
				s.lose(TriggerLoginTimeout, &models.TimeoutError{Elapsed: timeout, Limit: timeout})
			}
		}
	}
}

func (s *Supervisor) handle(msg any) {
	switch m := msg.(type) {
	case connectMsg:
		s.onConnect(m.reply)
	case syncMsg:
		m.reply <- s.syncIfReady()
	case dialResult:
		s.onDialResult(m)
	case authMsg:
		s.onAuth(m)
	case staleMsg:
		if m.gen == s.gen && s.State() == models.Connected && s.transport != nil {
			s.lose(TriggerStale, m.err)
		}
	default:
		s.entry().Errorf("unexpected message %T", msg)
	}
}

func (s *Supervisor) onConnect(reply chan error) {
	switch s.State() {
	case models.Connected:
		reply <- nil
		return
	case models.Connecting, models.Reconnecting:
		s.pending = append(s.pending, reply)
		return
	}

	s.pending = append(s.pending, reply)
	s.reconnecting = false
	s.attempt = 0
	s.bo.Reset()
	if s.move(TriggerConnect, nil) {
		s.startDial()
	}
}

func (s *Supervisor) startDial() {
	s.gen++
	gen := s.gen
	s.dials.Add(1)
	go func() {
		defer s.dials.Done()
		t, err := s.cfg.Dial(s.ctx, s.cfg.URL, s.handler(gen))
		select {
		case s.inbox <- dialResult{gen: gen, t: t, err: err}:
		case <-s.ctx.Done():
			if t != nil {
				t.Close()
				t.Wait()
			}
		}
	}()
}

func (s *Supervisor) onDialResult(r dialResult) {
	if r.gen != s.gen || s.State() != models.Connecting {
		if r.t != nil {
			r.t.Close()
			r.t.Wait()
		}
		return
	}

	if r.err != nil {
		if s.reconnecting {
			s.move(TriggerRedialFailed, r.err)
			s.scheduleRetry(r.err)
			return
		}
		s.move(TriggerDialFailed, r.err)
		s.resolvePending(r.err)
		return
	}

	s.hb.Reset(s.now())
	s.setTransport(r.gen, r.t)
	s.sent = make(map[models.SubscriptionKey]struct{})
	s.authed = false
	s.move(TriggerDialOK, nil)
	s.entry().WithFields(logger.Fields{"conn_id": r.t.ID(), "attempt": s.attempt}).Info("connected")

	s.reconnecting = false
	s.attempt = 0
	s.bo.Reset()
	s.resolvePending(nil)

	if s.cfg.Source == models.Private {
		s.sendLogin()
		return
	}
	if err := s.sync(); err != nil {
		s.entry().WithError(err).Warn("subscription replay incomplete")
	}
}

func (s *Supervisor) sendLogin() {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	sign, err := s.cfg.Signer.Sign(codec.LoginMessage(ts), s.cfg.Credentials)
	if err != nil {
		var authErr *models.AuthError
		if !errors.As(err, &authErr) {
			authErr = &models.AuthError{Err: err}
		}
		s.authFailed(authErr)
		return
	}
	frame, err := codec.EncodeLogin(s.cfg.Credentials, ts, sign)
	if err != nil {
		s.authFailed(&models.AuthError{Err: err})
		return
	}
	if err := s.transport.Send(frame); err != nil {
		s.entry().WithError(err).Warn("login frame not sent, dropping transport")
		s.transport.Close()
		return
	}
	s.login = time.NewTimer(s.cfg.LoginTimeout)
	s.entry().WithField("credentials", s.cfg.Credentials.String()).Info("login sent")
}

func (s *Supervisor) onAuth(m authMsg) {
	pending := s.cfg.Source == models.Private &&
		s.State() == models.Connected &&
		!s.authed &&
		s.login != nil
	if m.gen != s.gen || !pending {
		return
	}
	stopTimer(&s.login)

	if m.err != nil {
		s.authFailed(m.err)
		return
	}
	s.authed = true
	s.entry().Info("login accepted")
	if err := s.sync(); err != nil {
		s.entry().WithError(err).Warn("subscription replay incomplete")
	}
}

func (s *Supervisor) authFailed(err *models.AuthError) {
	stopTimer(&s.login)
	s.closeTransport()
	s.move(TriggerAuthFailed, err)
	s.emit(models.AuthFailure{Header: s.header(), Err: err})
	s.entry().WithError(err).Error("authentication failed, private connection stopped")
}

// lose handles the end of a Connected session and schedules a redial.
func (s *Supervisor) lose(trigger Trigger, cause error) {
	stopTimer(&s.login)
	s.closeTransport()
	if !s.move(trigger, cause) {
		return
	}
	s.entry().WithError(cause).WithField("trigger", trigger.String()).Warn("connection lost, reconnecting")
	s.reconnecting = true
	s.scheduleRetry(cause)
}

func (s *Supervisor) scheduleRetry(cause error) {
	s.attempt++
	if limit := s.cfg.MaxAttempts; limit > 0 && s.attempt > limit {
		lost := &models.ConnectionLostError{Attempts: limit, Err: cause}
		s.move(TriggerAttemptsExhausted, lost)
		s.reconnecting = false
		s.emit(models.ConnectionLost{Header: s.header(), Err: lost})
		s.resolvePending(lost)
		s.entry().WithError(lost).Error("reconnect attempts exhausted")
		return
	}

	delay := s.bo.Duration()
	metrics.IncReconnect(s.cfg.Source)
	s.retry = time.NewTimer(delay)
	s.entry().WithFields(logger.Fields{
		"attempt": s.attempt,
		"delay":   delay.String(),
	}).Info("reconnect scheduled")
}

func (s *Supervisor) teardown() {
	s.cancel()
	stopTimer(&s.retry)
	stopTimer(&s.login)
	s.closeTransport()
	s.dials.Wait()

	// results that raced the cancel still own a transport
	for {
		select {
		case msg := <-s.inbox:
			switch m := msg.(type) {
			case dialResult:
				if m.t != nil {
					m.t.Close()
					m.t.Wait()
				}
			case connectMsg:
				m.reply <- models.ErrClosed
			case syncMsg:
				m.reply <- models.ErrClosed
			}
			continue
		default:
		}
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.emitCtx = ctx
	s.move(TriggerDisconnect, nil)
	s.resolvePending(models.ErrClosed)
	s.entry().Info("supervisor stopped")
}

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////// SUBSCRIPTIONS ///////////////////////////////
/////////////////////////////////////////////////////////////////////////////

func (s *Supervisor) syncIfReady() error {
	if s.State() != models.Connected || s.transport == nil {
		return nil
	}
	if s.cfg.Source == models.Private && !s.authed {
		return nil
	}
	return s.sync()
}

// sync diffs the registry partition against the keys already sent on the
// current transport, so every key goes out once per transport.
func (s *Supervisor) sync() error {
	want := s.cfg.Registry.Snapshot().Keys(s.cfg.Source)
	wanted := make(map[models.SubscriptionKey]struct{}, len(want))
	var add []models.SubscriptionKey
	for _, k := range want {
		wanted[k] = struct{}{}
		if _, ok := s.sent[k]; !ok {
			add = append(add, k)
		}
	}
	var remove []models.SubscriptionKey
	for k := range s.sent {
		if _, ok := wanted[k]; !ok {
			remove = append(remove, k)
		}
	}
	sort.Slice(remove, func(i, j int) bool { return remove[i].String() < remove[j].String() })

	errRemove := s.sendTopics(codec.OpUnsubscribe, remove, func(k models.SubscriptionKey) { delete(s.sent, k) })
	errAdd := s.sendTopics(codec.OpSubscribe, add, func(k models.SubscriptionKey) { s.sent[k] = struct{}{} })
	return errors.Join(errRemove, errAdd)
}

func (s *Supervisor) sendTopics(op codec.Op, keys []models.SubscriptionKey, mark func(models.SubscriptionKey)) error {
	size := s.cfg.MaxArgsPerFrame
	for start := 0; start < len(keys); start += size {
		chunk := keys[start:min(start+size, len(keys))]
		frames, err := codec.EncodeTopics(op, chunk, size)
		if err != nil {
			return err
		}
		for _, frame := range frames {
			if err := s.transport.Send(frame); err != nil {
				return err
			}
		}
		for _, k := range chunk {
			mark(k)
		}
		s.entry().WithFields(logger.Fields{"op": string(op), "topics": len(chunk)}).Info("topics sent")
	}
	return nil
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// INBOUND //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// handler runs on the transport's reader goroutine. Events are published
// from here so wire order is kept; only login outcomes go through the loop.
func (s *Supervisor) handler(gen int) connection.Handler {
	return func(ctx context.Context, data []byte, receivedAt time.Time) {
		msg, err := codec.Decode(data, s.cfg.Source, receivedAt)
		if err != nil {
			metrics.IncParseError(s.cfg.Source)
			s.entry().WithError(err).WithField("frame", truncate(data)).Warn("dropping undecodable frame")
			return
		}
		if msg.Pong {
			s.hb.MarkPong(receivedAt)
			return
		}

		for _, ev := range msg.Events {
			switch e := ev.(type) {
			case models.LoginAck:
				var authErr *models.AuthError
				if !e.Success() {
					authErr = &models.AuthError{Code: e.Code, Msg: e.Msg}
				}
				s.deliver(ctx, authMsg{gen: gen, err: authErr})
			case models.ProtocolError:
				metrics.ReportLimitFromError(s.log, component, e)
				if e.IsLoginFailure() {
					s.deliver(ctx, authMsg{gen: gen, err: &models.AuthError{Code: e.Code, Msg: e.Msg}})
				}
				s.entry().WithError(e.Err()).Warn("server error")
			case models.Notice:
				s.entry().WithFields(logger.Fields{"code": e.Code, "msg": e.Msg}).Warn("server notice")
			}

			if err := s.cfg.Publisher.Publish(ctx, ev); err != nil {
				s.entry().WithError(err).Debug("event not published")
				return
			}
		}
	}
}

func (s *Supervisor) deliver(ctx context.Context, msg any) {
	select {
	case s.inbox <- msg:
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// HELPERS //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// move applies trigger and emits a StateChange when the state changes.
func (s *Supervisor) move(trigger Trigger, cause error) bool {
	from := s.State()
	to, err := Transition(from, trigger)
	if err != nil {
		s.entry().WithError(err).Error("illegal transition")
		return false
	}
	s.state.Store(int32(to))
	metrics.SetState(s.cfg.Source, to)
	if from == to {
		return true
	}

	s.entry().WithFields(logger.Fields{
		"from":    from.String(),
		"to":      to.String(),
		"trigger": trigger.String(),
		"attempt": s.attempt,
	}).Info("state changed")
	s.emit(models.StateChange{Header: s.header(), From: from, To: to, Attempt: s.attempt, Err: cause})
	return true
}

func (s *Supervisor) emit(ev models.Event) {
	if err := s.cfg.Publisher.Publish(s.emitCtx, ev); err != nil {
		s.entry().WithError(err).WithField("event", models.EventName(ev)).Debug("lifecycle event not published")
	}
}

func (s *Supervisor) header() models.Header {
	return models.Header{Source: s.cfg.Source, ReceivedAt: s.now()}
}

func (s *Supervisor) resolvePending(err error) {
	for _, reply := range s.pending {
		reply <- err
	}
	s.pending = nil
}

func (s *Supervisor) setTransport(gen int, t connection.Transport) {
	s.transport = t
	s.curMu.Lock()
	s.curGen = gen
	s.cur = t
	s.curMu.Unlock()
}

// closeTransport closes and joins the live transport. Joining from the loop
// is safe because the reader gives up on the inbox once its ctx is cancelled.
func (s *Supervisor) closeTransport() {
	if s.transport == nil {
		return
	}
	t := s.transport
	s.setTransport(s.gen, nil)
	s.sent = nil
	s.authed = false
	t.Close()
	t.Wait()
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func truncate(data []byte) string {
	if len(data) > maxLogFrame {
		return string(data[:maxLogFrame]) + "..."
	}
	return string(data)
}
