package amserial

import (
	"log"
	"sync/atomic"
)

// pkgLogger holds the *log.Logger background workers report fatal
// errors to. Stored as an atomic.Value so SetLogger can be called
// concurrently with running workers.
var pkgLogger atomic.Value

func init() {
	pkgLogger.Store(log.Default())
}

// SetLogger overrides the logger background workers use to report
// read/write failures that have no other channel back to the caller.
// Passing nil restores log.Default().
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.Default()
	}
	pkgLogger.Store(l)
}

func logger() *log.Logger {
	return pkgLogger.Load().(*log.Logger)
}
