package fetchengine

import (
	"runtime/debug"
	"sync"

	"github.com/katello/grinder/pkg/logger"
)

// safeGo runs fn in a goroutine with panic recovery, used for long-running
// background goroutines (WorkerPool's worker loop) where an unrecovered
// panic would otherwise leave the pool's WaitGroup permanently undecremented
// and WaitForFinish blocked forever.
//
// If wg is non-nil, it's decremented on completion (normal or panic).
// If l is non-nil, panics are logged with stack traces.
// If onPanic is non-nil, it's called with the recovered value.
func safeGo(l logger.Logger, wg *sync.WaitGroup, context string, onPanic func(r interface{}), fn func()) {
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		defer func() {
			if r := recover(); r != nil {
				if l != nil {
					l.Error("PANIC [%s]: %v\n%s", context, r, debug.Stack())
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
