package observability

import (
	"runtime/debug"
)

// RecoverPanic logs a recovered panic with its stack and lets the caller
// return normally. Call it directly in a defer inside background goroutines
// so a single failed tick does not take down the server.
func RecoverPanic(logger *Logger, component string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":     r,
			"stack":     string(debug.Stack()),
			"component": component,
		}).Error("panic recovered")
	}
}
