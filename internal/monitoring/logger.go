package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be replaced by SetLogger, e.g. to mute pipelines in tests.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// EveryN logs only every Nth call. Used for per-message failures that would
// otherwise flood the log under a misbehaving sender.
type EveryN struct {
	n       uint64
	counter atomic.Uint64
}

func NewEveryN(n int) *EveryN {
	if n < 1 {
		n = 1
	}
	return &EveryN{n: uint64(n)}
}

func (e *EveryN) Printf(format string, args ...any) {
	if e.counter.Add(1)%e.n == 1 || e.n == 1 {
		Logf(format, args...)
	}
}
