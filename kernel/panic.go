package kernel

import (
	"sync"
	"sync/atomic"
)

// PanicInfo contains details about a recovered task panic.
type PanicInfo struct {
	TaskID TaskID
	Task   string
	Value  any
	Stack  []byte
}

// haltSignal unwinds nested dispatches after a task panic.
type haltSignal struct{}

var (
	panicActive atomic.Bool
	panicOnce   sync.Once

	panicHandler atomic.Value // func(PanicInfo)
)

// InPanicMode reports whether any kernel in the process has halted on a
// task panic.
func InPanicMode() bool {
	return panicActive.Load()
}

// SetPanicHandler installs a process-wide panic handler.
//
// The handler is invoked at most once (on the first panic). It must not panic.
func SetPanicHandler(fn func(PanicInfo)) {
	panicHandler.Store(fn)
}

func (k *Kernel) halt(info PanicInfo) {
	k.state = stateHalted
	k.logf("kernel: task %s panicked: %v", info.Task, info.Value)
	triggerPanic(info)
}

func triggerPanic(info PanicInfo) {
	panicOnce.Do(func() {
		panicActive.Store(true)
		info.Stack = taskStack()
		if v := panicHandler.Load(); v != nil {
			if fn, ok := v.(func(PanicInfo)); ok && fn != nil {
				fn(info)
			}
		}
	})
}

// recoverHalt is deferred by the entry points that dispatch tasks. It turns
// the unwinding halt into ErrHalted and leaves the core outside any task.
func (k *Kernel) recoverHalt(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if _, ok := r.(haltSignal); !ok {
		panic(r)
	}
	k.depth = 0
	k.running, k.current = 0, NoTask
	*err = ErrHalted
}
