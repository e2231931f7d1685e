package metrics

import (
	"context"
	"time"

	"okxfeed/logger"
)

// Sizer reports the occupancy of a bounded buffer.
type Sizer interface {
	Len() int
	Cap() int
}

// StartQueueMetrics emits the dispatcher buffer occupancy every interval
// until ctx is cancelled. When interval <= 0, a one-second cadence is used.
func StartQueueMetrics(ctx context.Context, q Sizer, interval time.Duration) {
	if q == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := q.Len()
				eventBufferLength.Set(float64(n))
				EmitMetric(log, "dispatcher", "event_buffer_length", n, "gauge", logger.Fields{
					"capacity": q.Cap(),
					"unit":     "count",
				})
			}
		}
	}()
}
