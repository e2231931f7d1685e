package metrics

import (
	"okxfeed/logger"
	"okxfeed/models"
)

// DropMetric is the metric name emitted when the dispatcher discards events.
const DropMetric = "events_dropped"

// EmitDropMetric records count dropped events from source under the given
// overflow policy. Callers aggregate drops and report them periodically.
func EmitDropMetric(log *logger.Log, source models.Visibility, policy string, count int64) {
	if count <= 0 {
		return
	}
	eventsDropped.WithLabelValues(source.String(), policy).Add(float64(count))
	EmitMetric(log, "dispatcher", DropMetric, count, "counter", logger.Fields{
		"source": source.String(),
		"policy": policy,
		"unit":   "count",
	})
}
