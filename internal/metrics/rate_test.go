package metrics

import (
	"testing"

	"okxfeed/models"
)

func TestDetectLimit(t *testing.T) {
	cases := []struct {
		code string
		msg  string
		rate bool
		ban  bool
	}{
		{"60014", "Requests too frequent.", true, false},
		{"50011", "", true, false},
		{"", "Too Many Requests", true, false},
		{"", "IP has been blocked for 60 seconds", false, true},
		{"60012", "Invalid request", false, false},
	}
	for _, c := range cases {
		rl, ban := detectLimit(models.ProtocolError{Code: c.code, Msg: c.msg})
		if rl != c.rate || ban != c.ban {
			t.Errorf("code %q msg %q: got rate=%v ban=%v", c.code, c.msg, rl, ban)
		}
	}
}

func TestReportLimitFromError(t *testing.T) {
	got := capture(t)
	log := quietLogger()

	ev := models.ProtocolError{Header: models.Header{Source: models.Private}, Code: "60014", Msg: "Requests too frequent."}
	if !ReportLimitFromError(log, "private_conn", ev) {
		t.Fatalf("expected rate limit to be reported")
	}
	m := <-got
	if m.Name != "rate_limit_exceeded" || m.Fields["source"] != "private" || m.Fields["code"] != "60014" {
		t.Fatalf("unexpected metric: %+v", m)
	}

	if ReportLimitFromError(log, "private_conn", models.ProtocolError{Code: "60012", Msg: "bad request"}) {
		t.Fatalf("plain api error should not be reported as a limit")
	}
}
