package metrics

import (
	"bytes"
	"encoding/json"
	"testing"

	"okxfeed/logger"
)

func TestLogReportIncludesRuntimeAndSources(t *testing.T) {
	resetMetricHandlers()
	log := logger.Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	fields := logReport(log, []ReportSource{func() logger.Fields {
		return logger.Fields{"public_state": "connected"}
	}})
	if fields["public_state"] != "connected" {
		t.Fatalf("source fields missing: %v", fields)
	}

	line, err := buf.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read report line: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("failed to unmarshal log entry: %v", err)
	}
	for _, k := range []string{"cpu_percent", "memory_mb", "goroutines", "public_state"} {
		if _, ok := entry[k]; !ok {
			t.Errorf("%s field missing", k)
		}
	}
	if entry["message"] != "runtime report" {
		t.Errorf("unexpected message %v", entry["message"])
	}
}
