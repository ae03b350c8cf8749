package common

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/ternarybob/arbor"
)

// SafeGo starts fn on its own goroutine under the given name.
// Panics are logged but don't crash the process.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer recoverGoroutine(logger, name)
		fn()
	}()
}

func recoverGoroutine(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}
	stack := string(debug.Stack())
	if logger == nil {
		fmt.Fprintf(os.Stderr, "panic in %s: %v\n%s\n", name, r, stack)
		return
	}
	logger.Error().
		Str("goroutine", name).
		Str("panic", fmt.Sprint(r)).
		Str("stack", stack).
		Msg("Goroutine panicked")
}
