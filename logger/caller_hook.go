package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const maxCallerDepth = 16

// callerHook points entry.Caller at the first frame outside logrus and this
// package, so the "file" key names the real call site.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	if frame, ok := callerFrame(); ok {
		entry.Caller = &frame
	}
	return nil
}

func callerFrame() (runtime.Frame, bool) {
	pcs := make([]uintptr, maxCallerDepth)
	// runtime.Callers, callerFrame, Fire and the logrus hook dispatch
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isLoggingFrame(frame.Function) {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func isLoggingFrame(fn string) bool {
	return strings.Contains(fn, "sirupsen/logrus") || strings.Contains(fn, "okxfeed/logger.")
}
