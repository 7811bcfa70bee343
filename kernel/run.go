package kernel

import (
	"context"
	"fmt"
)

// Run is the core loop. It must be called from the goroutine that owns the
// kernel, after a successful Start. Between activations it runs the idle
// body, one call per iteration, or sleeps until the next Pend or Tick when
// there is no idle body.
//
// Run returns ctx.Err() after shutting the kernel down, or ErrHalted if a
// task panicked.
func (k *Kernel) Run(ctx context.Context) (err error) {
	if k.state != stateRunning {
		return fmt.Errorf("%w (state %s)", ErrNotStarted, k.state)
	}
	defer k.recoverHalt(&err)

	k.runDone = ctx.Done()
	idleID, hasIdle := k.plan.Idle()
	var idle func(*Context)
	if hasIdle {
		idle = k.tasks[idleID].body
	}

	for {
		if ctx.Err() != nil {
			k.Shutdown()
			return ctx.Err()
		}
		k.poll()

		if idle == nil {
			select {
			case <-k.wake:
			case <-ctx.Done():
			}
			continue
		}

		k.current = idleID
		k.tasks[idleID].runs++
		k.invoke(&k.tasks[idleID], &k.ctx[idleID])
		k.current = NoTask
	}
}

// Wait parks the idle task until the next Pend or Tick, like a
// wait-for-interrupt instruction, then delivers what arrived. Only the idle
// task may wait.
func (cx *Context) Wait() {
	cx.enter()
	k := cx.k
	if !k.tasks[cx.task].info.Idle {
		panic(fmt.Sprintf("kernel: task %s cannot wait", cx.Name()))
	}
	k.poll()
	select {
	case <-k.wake:
	case <-k.runDone:
	}
	k.poll()
}
