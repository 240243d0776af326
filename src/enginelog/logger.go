// Package enginelog wraps the engine-wide *zap.SugaredLogger so every
// component logs with the same fields instead of each owning its own
// logger construction.
package enginelog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	global *zap.SugaredLogger
)

// Get returns the process-wide logger, building a sane development
// logger the first time it is called.
func Get() *zap.SugaredLogger {
	once.Do(func() {
		l, err := zap.NewDevelopment()
		if err != nil {
			l = zap.NewNop()
		}
		global = l.Sugar()
	})
	return global
}

// Named returns a child logger tagged with component, e.g.
// enginelog.Named("pagecache").
func Named(component string) *zap.SugaredLogger {
	return Get().Named(component)
}

// SetGlobal overrides the process-wide logger; used by tests and by
// hosts that want to route engine logs into their own sink.
func SetGlobal(l *zap.SugaredLogger) {
	// Consume the once so a later first Get does not replace l.
	once.Do(func() {})
	global = l
}
