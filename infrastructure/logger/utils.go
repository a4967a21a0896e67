package logger

import (
	"fmt"
	"time"
)

// LogElapsed logs at debug level that the operation described by format
// started. The returned function logs its end and how long it took.
func LogElapsed(log *Logger, format string, args ...interface{}) (onEnd func()) {
	operation := fmt.Sprintf(format, args...)
	start := time.Now()
	log.Debugf("%s started", operation)
	return func() {
		log.Debugf("%s done in %s", operation, time.Since(start))
	}
}
