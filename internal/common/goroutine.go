// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"sync"

	"github.com/ternarybob/arbor"
)

// SafeGo runs a function in a goroutine with panic recovery.
// Panics are logged but don't crash the service.
//
// Example:
//
//	common.SafeGo(logger, "purgeStaleSessions", func() {
//	    cleaner.Purge(ctx, keep)
//	})
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
	stackTrace := GetStackTrace()
	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic in goroutine - continuing service operation")
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
}

// TaskGroup runs fire-and-forget tasks through SafeGo and lets callers wait
// for the ones still in flight (shutdown, tests).
type TaskGroup struct {
	logger arbor.ILogger
	wg     sync.WaitGroup
}

// NewTaskGroup creates a TaskGroup logging panics to logger
func NewTaskGroup(logger arbor.ILogger) *TaskGroup {
	return &TaskGroup{logger: logger}
}

// Go starts fn in the background
func (g *TaskGroup) Go(name string, fn func()) {
	g.wg.Add(1)
	SafeGo(g.logger, name, func() {
		defer g.wg.Done()
		fn()
	})
}

// Wait blocks until every started task has returned
func (g *TaskGroup) Wait() {
	g.wg.Wait()
}
