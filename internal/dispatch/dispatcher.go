package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"okxfeed/internal/metrics"
	"okxfeed/logger"
	"okxfeed/models"
)

// Policy decides what Publish does when the buffer is full.
type Policy int

const (
	// DropOldest evicts the oldest queued event to make room.
	DropOldest Policy = iota
	// DropNewest discards the event being published.
	DropNewest
	// Block waits for room, for ctx to end or for Close.
	Block
)

func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop_newest"
	case Block:
		return "block"
	default:
		return "drop_oldest"
	}
}

// ParsePolicy maps a config value onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "drop_oldest", "":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	case "block":
		return Block, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
	}
}

type SourceStats struct {
	Published int64
	Dropped   int64
}

type Stats struct {
	Public    SourceStats
	Private   SourceStats
	Delivered int64
	Len       int
	Cap       int
}

const (
	lifecycleBuffer = 64
	// slots of the lifecycle queue only ConnectionLost and AuthFailure may use
	fatalReserve = 8
)

// Dispatcher is the single conduit from both connections to the consumer.
// It has one reader and any number of writers; each writer's events keep
// their order.
//
// Lifecycle events (StateChange, ConnectionLost, AuthFailure) travel on a
// separate queue that Next drains first and that the overflow policy never
// evicts from. ConnectionLost and AuthFailure are never dropped.
type Dispatcher struct {
	ch        chan models.Event
	lifecycle chan models.Event
	policy    Policy

	closed    chan struct{}
	closeOnce sync.Once

	stats        Stats
	pendingDrops [2]int64
	statsMutex   sync.Mutex
	log          *logger.Log
}

func New(size int, policy Policy) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	log := logger.GetLogger()
	d := &Dispatcher{
		ch:        make(chan models.Event, size),
		lifecycle: make(chan models.Event, lifecycleBuffer),
		policy:    policy,
		closed:    make(chan struct{}),
		log:       log,
	}

	log.WithComponent("dispatcher").WithFields(logger.Fields{
		"buffer_size": size,
		"policy":      policy.String(),
	}).Info("dispatcher initialized")

	return d
}

// Publish queues ev according to the overflow policy. It returns ErrClosed
// after Close and ctx.Err() when a blocking publish is abandoned. A dropped
// event is not an error.
func (d *Dispatcher) Publish(ctx context.Context, ev models.Event) error {
	select {
	case <-d.closed:
		return models.ErrClosed
	default:
	}

	src := ev.Meta().Source
	if isLifecycle(ev) {
		if err := d.publishLifecycle(ctx, ev); err != nil {
			return err
		}
		d.published(ev)
		return nil
	}

	switch d.policy {
	case Block:
		select {
		case d.ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		case <-d.closed:
			return models.ErrClosed
		}
	case DropNewest:
		select {
		case d.ch <- ev:
		default:
			d.recordDrop(src)
			return nil
		}
	default:
		for !d.tryPush(ev) {
			d.evictOldest()
		}
	}

	d.published(ev)
	return nil
}

// publishLifecycle waits for room for fatal events under every policy. A
// StateChange only waits under Block; otherwise it is dropped once the
// queue is down to the fatal reserve.
func (d *Dispatcher) publishLifecycle(ctx context.Context, ev models.Event) error {
	if !isFatal(ev) && d.policy != Block {
		if len(d.lifecycle) >= cap(d.lifecycle)-fatalReserve {
			d.recordDrop(ev.Meta().Source)
			return nil
		}
		select {
		case d.lifecycle <- ev:
		default:
			d.recordDrop(ev.Meta().Source)
		}
		return nil
	}

	select {
	case d.lifecycle <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.closed:
		return models.ErrClosed
	}
}

func (d *Dispatcher) published(ev models.Event) {
	d.statsMutex.Lock()
	d.sourceStats(ev.Meta().Source).Published++
	d.statsMutex.Unlock()
	metrics.IncEvent(ev)
}

func isLifecycle(ev models.Event) bool {
	switch ev.(type) {
	case models.StateChange, models.ConnectionLost, models.AuthFailure:
		return true
	}
	return false
}

func isFatal(ev models.Event) bool {
	switch ev.(type) {
	case models.ConnectionLost, models.AuthFailure:
		return true
	}
	return false
}

func (d *Dispatcher) tryPush(ev models.Event) bool {
	select {
	case d.ch <- ev:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) evictOldest() {
	select {
	case old := <-d.ch:
		d.recordDrop(old.Meta().Source)
	default:
	}
}

// Next blocks until an event is available, lifecycle events first. Events
// queued before Close are still delivered; after that Next returns
// ErrClosed.
func (d *Dispatcher) Next(ctx context.Context) (models.Event, error) {
	if ev, ok := d.poll(); ok {
		return ev, nil
	}

	select {
	case ev := <-d.lifecycle:
		d.delivered()
		return ev, nil
	case ev := <-d.ch:
		d.delivered()
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.closed:
		if ev, ok := d.poll(); ok {
			return ev, nil
		}
		return nil, models.ErrClosed
	}
}

func (d *Dispatcher) poll() (models.Event, bool) {
	select {
	case ev := <-d.lifecycle:
		d.delivered()
		return ev, true
	default:
	}
	select {
	case ev := <-d.ch:
		d.delivered()
		return ev, true
	default:
		return nil, false
	}
}

// Events exposes the data and control buffer for select loops. The channel
// is never closed; pair it with Lifecycle and Done.
func (d *Dispatcher) Events() <-chan models.Event { return d.ch }

// Lifecycle exposes the StateChange, ConnectionLost and AuthFailure queue.
func (d *Dispatcher) Lifecycle() <-chan models.Event { return d.lifecycle }

// Done is closed by Close.
func (d *Dispatcher) Done() <-chan struct{} { return d.closed }

func (d *Dispatcher) Len() int { return len(d.ch) + len(d.lifecycle) }

func (d *Dispatcher) Cap() int { return cap(d.ch) + cap(d.lifecycle) }

func (d *Dispatcher) Policy() Policy { return d.policy }

// Close stops accepting events. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
		d.flushDrops()
		d.log.WithComponent("dispatcher").Info("dispatcher closed")
	})
}

func (d *Dispatcher) GetStats() Stats {
	d.statsMutex.Lock()
	defer d.statsMutex.Unlock()
	s := d.stats
	s.Len = d.Len()
	s.Cap = d.Cap()
	return s
}

// StartMetricsReporting logs statistics and emits aggregated drop metrics
// every interval until ctx is cancelled.
func (d *Dispatcher) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.closed:
				return
			case <-ticker.C:
				d.flushDrops()
				d.logStats()
			}
		}
	}()
}

func (d *Dispatcher) logStats() {
	s := d.GetStats()
	d.log.WithComponent("dispatcher").WithFields(logger.Fields{
		"public_published":  s.Public.Published,
		"public_dropped":    s.Public.Dropped,
		"private_published": s.Private.Published,
		"private_dropped":   s.Private.Dropped,
		"delivered":         s.Delivered,
		"buffer_len":        s.Len,
		"buffer_cap":        s.Cap,
	}).Info("dispatcher statistics")
}

func (d *Dispatcher) flushDrops() {
	d.statsMutex.Lock()
	pending := d.pendingDrops
	d.pendingDrops = [2]int64{}
	d.statsMutex.Unlock()

	for _, v := range models.Visibilities {
		metrics.EmitDropMetric(d.log, v, d.policy.String(), pending[v])
	}
}

func (d *Dispatcher) recordDrop(src models.Visibility) {
	d.statsMutex.Lock()
	d.sourceStats(src).Dropped++
	d.pendingDrops[src]++
	d.statsMutex.Unlock()
}

func (d *Dispatcher) delivered() {
	d.statsMutex.Lock()
	d.stats.Delivered++
	d.statsMutex.Unlock()
}

func (d *Dispatcher) sourceStats(src models.Visibility) *SourceStats {
	if src == models.Private {
		return &d.stats.Private
	}
	return &d.stats.Public
}
