package assets

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var loggerPtr atomic.Pointer[zap.Logger]

func init() {
	loggerPtr.Store(zap.NewNop())
}

// Logger returns the assets package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	return loggerPtr.Load()
}

// SetLogger configures the assets package's logger.
// Pass nil to restore the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	loggerPtr.Store(l)
}
