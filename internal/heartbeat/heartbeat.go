package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"okxfeed/logger"
	"okxfeed/models"
)

const (
	DefaultInterval    = 20 * time.Second
	DefaultPongTimeout = 30 * time.Second
)

// State holds the liveness timestamps of one connection. It is written by
// the read loop and the monitor without locks.
type State struct {
	lastPing atomic.Int64
	lastPong atomic.Int64
}

// Reset starts a fresh session: both timestamps become now so a new
// connection gets a full pong timeout before it can be judged stale.
func (s *State) Reset(now time.Time) {
	s.lastPing.Store(now.UnixNano())
	s.lastPong.Store(now.UnixNano())
}

func (s *State) MarkPing(now time.Time) { s.lastPing.Store(now.UnixNano()) }

func (s *State) MarkPong(now time.Time) { s.lastPong.Store(now.UnixNano()) }

func (s *State) LastPing() time.Time { return time.Unix(0, s.lastPing.Load()) }

func (s *State) LastPong() time.Time { return time.Unix(0, s.lastPong.Load()) }

// Expired reports whether more than timeout has passed since the last pong.
func (s *State) Expired(now time.Time, timeout time.Duration) (time.Duration, bool) {
	elapsed := now.Sub(s.LastPong())
	return elapsed, elapsed > timeout
}

// Target is a connection the monitor watches.
type Target interface {
	Source() models.Visibility
	// Heartbeat returns the liveness state and whether the target is
	// currently Connected.
	Heartbeat() (*State, bool)
	SendPing() error
	// MarkStale must not block.
	MarkStale(err *models.TimeoutError)
}

// Monitor drives one ticker over every target. It only pings and reports;
// closing sockets is left to the targets.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	targets  []Target
	now      func() time.Time
	log      *logger.Log
}

func NewMonitor(interval, pongTimeout time.Duration, log *logger.Log, targets ...Target) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if pongTimeout <= 0 {
		pongTimeout = DefaultPongTimeout
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Monitor{
		interval: interval,
		timeout:  pongTimeout,
		targets:  targets,
		now:      time.Now,
		log:      log,
	}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.WithComponent("heartbeat").WithFields(logger.Fields{
		"interval":     m.interval.String(),
		"pong_timeout": m.timeout.String(),
		"targets":      len(m.targets),
	}).Info("heartbeat monitor started")

	for {
		select {
		case <-ctx.Done():
			m.log.WithComponent("heartbeat").Info("heartbeat monitor stopped")
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick checks every Connected target once: a target whose last pong is older
// than the timeout is marked stale, every other one is pinged.
func (m *Monitor) Tick() {
	now := m.now()
	for _, t := range m.targets {
		state, connected := t.Heartbeat()
		if !connected || state == nil {
			continue
		}
		log := m.log.WithComponent("heartbeat").WithField("source", t.Source().String())

		if elapsed, expired := state.Expired(now, m.timeout); expired {
			log.WithFields(logger.Fields{
				"last_pong": state.LastPong(),
				"elapsed":   elapsed.String(),
			}).Warn("no pong within timeout, connection stale")
			t.MarkStale(&models.TimeoutError{Elapsed: elapsed, Limit: m.timeout})
			continue
		}

		if err := t.SendPing(); err != nil {
			log.WithError(err).Debug("ping not sent")
			continue
		}
		state.MarkPing(now)
	}
}
