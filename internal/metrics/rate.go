package metrics

import (
	"errors"
	"strings"

	"okxfeed/logger"
	"okxfeed/models"
)

// detectLimit decides from the error code, falling back to the message
// wording, whether the server throttled us or blocked the IP.
func detectLimit(ev models.ProtocolError) (rateLimit bool, ipBan bool) {
	var rle *models.RateLimitError
	if errors.As(ev.Err(), &rle) {
		return true, false
	}
	lowerMsg := strings.ToLower(ev.Msg)
	rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "frequency limit")
	ipBan = strings.Contains(lowerMsg, "ip") && (strings.Contains(lowerMsg, "blocked") || strings.Contains(lowerMsg, "ban"))
	return
}

// ReportLimitFromError inspects a server error event and records the rate
// limit or IP ban metric it signals. It reports whether anything matched.
func ReportLimitFromError(log *logger.Log, component string, ev models.ProtocolError) bool {
	rl, ban := detectLimit(ev)
	if !rl && !ban {
		return false
	}
	source := ev.Source.String()
	fields := logger.Fields{"source": source, "code": ev.Code}
	rateLimited.WithLabelValues(source, ev.Code).Inc()
	if rl {
		EmitMetric(log, component, "rate_limit_exceeded", int64(1), "counter", fields)
		log.WithComponent(component).WithFields(fields).Warn("rate limit exceeded")
	}
	if ban {
		EmitMetric(log, component, "ip_ban", int64(1), "counter", fields)
		log.WithComponent(component).WithFields(fields).Error("ip banned")
	}
	return true
}
