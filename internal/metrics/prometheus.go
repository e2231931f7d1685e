// Registers on the default Prometheus registry:
//
//	#okxfeed_connection_state
//	#okxfeed_reconnect_attempts_total
//	#okxfeed_dial_duration_seconds
//	#okxfeed_frames_total
//	#okxfeed_frame_bytes_total
//	#okxfeed_parse_errors_total
//	#okxfeed_events_total
//	#okxfeed_events_dropped_total
//	#okxfeed_rate_limited_total
//	#okxfeed_event_buffer_length
//	#okxfeed_runtime (after ExportReportMetrics)
//
// Serve exposes them, with the go_* and process_* collectors, on /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"okxfeed/logger"
	"okxfeed/models"
)

var (
	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "okxfeed_connection_state",
		Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed)",
	}, []string{"source"})

	reconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "okxfeed_reconnect_attempts_total",
		Help: "Reconnect attempts started per connection",
	}, []string{"source"})

	dialDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "okxfeed_dial_duration_seconds",
		Help:    "Websocket dial latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"source", "result"})

	frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "okxfeed_frames_total",
		Help: "Websocket frames by direction",
	}, []string{"source", "direction"})

	frameBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "okxfeed_frame_bytes_total",
		Help: "Websocket payload bytes by direction",
	}, []string{"source", "direction"})

	parseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "okxfeed_parse_errors_total",
		Help: "Inbound frames that could not be decoded",
	}, []string{"source"})

	events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "okxfeed_events_total",
		Help: "Events handed to the dispatcher",
	}, []string{"source", "event"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "okxfeed_events_dropped_total",
		Help: "Events dropped by the dispatcher overflow policy",
	}, []string{"source", "policy"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "okxfeed_rate_limited_total",
		Help: "Server reported rate limit errors",
	}, []string{"source", "code"})

	eventBufferLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "okxfeed_event_buffer_length",
		Help: "Events waiting in the dispatcher buffer",
	})

	runtimeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "okxfeed_runtime",
		Help: "Process figures from the periodic runtime report",
	}, []string{"name"})
)

func SetState(source models.Visibility, state models.ConnectionState) {
	connectionState.WithLabelValues(source.String()).Set(float64(state))
}

func IncReconnect(source models.Visibility) {
	reconnectAttempts.WithLabelValues(source.String()).Inc()
}

func ObserveDial(source models.Visibility, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	dialDuration.WithLabelValues(source.String(), result).Observe(elapsed.Seconds())
}

// Frame directions.
const (
	Inbound  = "in"
	Outbound = "out"
)

func RecordFrame(source models.Visibility, direction string, size int) {
	frames.WithLabelValues(source.String(), direction).Inc()
	frameBytes.WithLabelValues(source.String(), direction).Add(float64(size))
}

func IncParseError(source models.Visibility) {
	parseErrors.WithLabelValues(source.String()).Inc()
}

func IncEvent(ev models.Event) {
	events.WithLabelValues(ev.Meta().Source.String(), models.EventName(ev)).Inc()
}

// ExportReportMetrics mirrors the gauges of the runtime report into
// okxfeed_runtime. Pass the id to UnregisterMetricHandler to stop.
func ExportReportMetrics() MetricHandlerID {
	return RegisterMetricHandler(func(m Metric) {
		if m.Component != reportComponent || m.Type != "gauge" {
			return
		}
		if v, ok := toFloat64(m.Value); ok {
			runtimeGauge.WithLabelValues(m.Name).Set(v)
		}
	})
}

// Serve runs the /metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.GetLogger().WithComponent("metrics").WithFields(logger.Fields{"addr": addr}).Info("serving prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
