package metrics

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"okxfeed/logger"
)

func contextWithCleanup(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, cancel
}

func stubPublisher(t *testing.T, interval time.Duration, start time.Time) (*[][]cwtypes.MetricDatum, *time.Time) {
	t.Helper()
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: &cloudwatch.Client{}, namespace: "OKXFeed"})
	t.Cleanup(func() { cwState.Store(prevState) })

	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = interval
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	now := start
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(_ context.Context, _ *cloudWatchState, data []cwtypes.MetricDatum) {
		batches = append(batches, append([]cwtypes.MetricDatum(nil), data...))
	}
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })
	return &batches, &now
}

func TestPublishMetricDatumThrottlesToInterval(t *testing.T) {
	base := time.Now()
	batches, now := stubPublisher(t, 50*time.Millisecond, base)

	m := Metric{Component: "dispatcher", Name: DropMetric, Timestamp: base, Fields: logger.Fields{"unit": "count", "source": "public"}}
	publishMetricDatum(m, 1)

	*now = base.Add(25 * time.Millisecond)
	publishMetricDatum(m, 2)

	if len(*batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(*batches))
	}
	datum := (*batches)[0][0]
	if datum.MetricName == nil || *datum.MetricName != DropMetric || *datum.Value != 1 {
		t.Fatalf("unexpected datum: %+v", datum)
	}
	if len(datum.Dimensions) != 2 {
		t.Fatalf("expected component and source dimensions, got %d", len(datum.Dimensions))
	}

	*now = base.Add(75 * time.Millisecond)
	publishMetricDatum(m, 3)
	if len(*batches) != 2 || *(*batches)[1][0].Value != 3 {
		t.Fatalf("expected second publish after interval, got %d batches", len(*batches))
	}
}

func TestPublishMetricDatumWithoutClient(t *testing.T) {
	prev := cwState.Load()
	cwState.Store(&cloudWatchState{})
	t.Cleanup(func() { cwState.Store(prev) })

	called := false
	publishMetricsFunc = func(context.Context, *cloudWatchState, []cwtypes.MetricDatum) { called = true }
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })

	publishMetricDatum(Metric{Component: "c", Name: "n"}, 1)
	if called {
		t.Fatalf("publish should be skipped without a client")
	}
}

func TestRenderDashboard(t *testing.T) {
	body, err := renderDashboard("Feed-Prod", "ap-south-1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !json.Valid([]byte(body)) {
		t.Fatalf("rendered dashboard is not valid json")
	}
	if strings.Contains(body, `"OKXFeed"`) || !strings.Contains(body, `"Feed-Prod"`) || !strings.Contains(body, `"ap-south-1"`) {
		t.Fatalf("substitution failed: %s", body)
	}
}
