package common

import (
	"fmt"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

var recoveredPanics atomic.Int64

// PanicCount returns how many goroutine panics Recover has absorbed since start
func PanicCount() int64 {
	return recoveredPanics.Load()
}

// SafeGo runs fn in its own goroutine. A panic is logged under name and counted,
// the process keeps running.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover must be deferred directly. It absorbs a panic, logs it with the stack
// and counts it.
func Recover(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}
	recoveredPanics.Add(1)

	if logger == nil {
		logger = GetLogger()
	}
	logger.Error().
		Str("goroutine", name).
		Str("panic", fmt.Sprint(r)).
		Str("stack", GetStackTrace()).
		Msg("Recovered panic")
}
