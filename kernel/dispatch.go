package kernel

import (
	"fmt"
	"math/bits"

	"spire/config"
)

// Context is the per-task accessor handed to a task body. It is only valid
// while its task is the one executing; storing it and using it from another
// task panics.
type Context struct {
	k    *Kernel
	task TaskID
	prio config.Priority
}

// Task returns the task's ID.
func (cx *Context) Task() TaskID { return cx.task }

// Priority returns the task's static priority.
func (cx *Context) Priority() config.Priority { return cx.prio }

// Name returns the task's name.
func (cx *Context) Name() string { return cx.k.tasks[cx.task].info.Name }

// Now returns the last tick the core observed.
func (cx *Context) Now() uint64 { return cx.k.now }

// Pend marks task id runnable. If id outranks everything currently running
// and masked, it runs before Pend returns.
func (cx *Context) Pend(id TaskID) {
	cx.enter()
	cx.k.setPending(id)
	cx.k.poll()
}

// Preempt is an explicit preemption point. Activations from other
// goroutines and due timers are only delivered when the core enters the
// kernel, so long stretches of task code without kernel calls should call
// Preempt to let higher-priority tasks in.
func (cx *Context) Preempt() {
	cx.enter()
	cx.k.poll()
}

// Logf writes one log line prefixed with the task name.
func (cx *Context) Logf(format string, args ...any) {
	if cx.k.log == nil {
		return
	}
	cx.k.log.WriteLineString(cx.Name() + ": " + fmt.Sprintf(format, args...))
}

func (cx *Context) enter() {
	if cx.k.current != cx.task {
		panic(fmt.Sprintf("kernel: context of task %s used while %s runs", cx.Name(), cx.k.taskName(cx.k.current)))
	}
}

// Pend marks task id runnable from any goroutine. The activation is
// delivered at the core's next preemption point. Pending is a single bit
// per task, so pends that arrive before the task starts coalesce.
func (k *Kernel) Pend(id TaskID) {
	if int(id) >= len(k.plan.Tasks) || k.tasks[id].info.Idle {
		return
	}
	bit := uint64(1) << id
	for {
		old := k.asyncPending.Load()
		if old&bit != 0 || k.asyncPending.CompareAndSwap(old, old|bit) {
			break
		}
	}
	k.wakeup()
}

// Tick publishes the current time from any goroutine. Ticks never move
// backwards.
func (k *Kernel) Tick(now uint64) {
	for {
		old := k.asyncNow.Load()
		if now <= old || k.asyncNow.CompareAndSwap(old, now) {
			break
		}
	}
	k.wakeup()
}

func (k *Kernel) wakeup() {
	select {
	case k.wake <- struct{}{}:
	default:
	}
}

// Step delivers pending activations and runs every task that is runnable
// at the current priority. It returns the number of dispatches, and
// ErrHalted if a task panicked. Step must be called from the core
// goroutine, outside any task.
func (k *Kernel) Step() (n int, err error) {
	switch k.state {
	case stateRunning:
	case stateHalted:
		return 0, ErrHalted
	default:
		return 0, fmt.Errorf("%w (state %s)", ErrNotStarted, k.state)
	}
	before := k.stats.Dispatches
	defer func() { n = int(k.stats.Dispatches - before) }()
	defer k.recoverHalt(&err)
	k.poll()
	return 0, nil
}

func (k *Kernel) setPending(id TaskID) {
	if int(id) >= len(k.plan.Tasks) {
		panic(fmt.Sprintf("kernel: pend of unknown task %d", id))
	}
	if k.tasks[id].info.Idle {
		panic("kernel: idle cannot be pended")
	}
	k.pending |= 1 << id
}

// collect folds asynchronous pends and ticks into core state.
func (k *Kernel) collect() {
	if p := k.asyncPending.Swap(0); p != 0 {
		k.pending |= p
	}
	if now := k.asyncNow.Load(); now > k.now {
		k.now = now
		k.expireTimers()
	}
}

// threshold is the priority a pending task must exceed to start.
func (k *Kernel) threshold() config.Priority {
	th := k.running
	if m := config.Priority(k.mask.Level()); m > th {
		th = m
	}
	return th
}

// next picks the highest pending priority above the threshold. Ties go to
// the lowest task ID. During init only boot tasks are eligible and the mask
// does not hold them off.
func (k *Kernel) next() (TaskID, bool) {
	var th config.Priority
	switch k.state {
	case stateRunning:
		th = k.threshold()
	case stateInit:
		th = k.running
	default:
		return 0, false
	}

	best := -1
	for p := k.pending; p != 0; p &= p - 1 {
		id := bits.TrailingZeros64(p)
		t := &k.tasks[id].info
		if k.state == stateInit && !t.Boot {
			continue
		}
		if t.Priority <= th {
			continue
		}
		if best < 0 || t.Priority > k.tasks[best].info.Priority {
			best = id
		}
	}
	if best < 0 {
		return 0, false
	}
	return TaskID(best), true
}

// poll is the preemption point: it runs, nested on the current stack,
// every pending task that outranks the running priority and the mask.
func (k *Kernel) poll() {
	k.collect()
	for {
		id, ok := k.next()
		if !ok {
			return
		}
		k.dispatch(id)
		k.collect()
	}
}

func (k *Kernel) dispatch(id TaskID) {
	t := &k.tasks[id]
	k.pending &^= 1 << id

	prevRunning, prevTask := k.running, k.current
	if k.depth > 0 || prevTask != NoTask {
		k.stats.Preemptions++
	}
	k.running, k.current = t.info.Priority, id
	k.depth++
	if k.depth > k.stats.MaxDepth {
		k.stats.MaxDepth = k.depth
	}
	k.stats.Dispatches++
	t.runs++

	k.trace(Event{Kind: EventTaskBegin, Task: id, Level: uint8(t.info.Priority)})
	k.invoke(t, &k.ctx[id])
	k.trace(Event{Kind: EventTaskEnd, Task: id, Level: uint8(t.info.Priority)})

	k.depth--
	k.running, k.current = prevRunning, prevTask
}

func (k *Kernel) invoke(t *taskSlot, cx *Context) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(haltSignal); ok {
				panic(r)
			}
			k.halt(PanicInfo{TaskID: t.info.ID, Task: t.info.Name, Value: r})
			panic(haltSignal{})
		}
	}()
	t.body(cx)
}

func (k *Kernel) taskName(id TaskID) string {
	if id == NoTask || int(id) >= len(k.plan.Tasks) {
		return "<none>"
	}
	return k.tasks[id].info.Name
}
