package kernel

import (
	"math"

	"github.com/google/btree"
)

// ScheduleResult describes the outcome of a schedule request.
type ScheduleResult uint8

const (
	ScheduleOK ScheduleResult = iota
	ScheduleQueueFull
	ScheduleUnknownTask
)

func (r ScheduleResult) String() string {
	switch r {
	case ScheduleOK:
		return "ok"
	case ScheduleQueueFull:
		return "timer queue full"
	case ScheduleUnknownTask:
		return "unknown task"
	default:
		return "unknown"
	}
}

type timerEntry struct {
	at   uint64
	seq  uint64
	task TaskID
}

func lessTimer(a, b timerEntry) bool {
	if a.at != b.at {
		return a.at < b.at
	}
	return a.seq < b.seq
}

// timerQueue holds future activations ordered by instant, then by the
// order they were queued. Its nodes come from a free list sized for the
// queue bound.
type timerQueue struct {
	tree  *btree.BTreeG[timerEntry]
	slots int
	seq   uint64
}

func newTimerQueue(slots int) timerQueue {
	fl := btree.NewFreeListG[timerEntry](slots)
	return timerQueue{
		tree:  btree.NewWithFreeListG(8, lessTimer, fl),
		slots: slots,
	}
}

func (q *timerQueue) len() int { return q.tree.Len() }

func (q *timerQueue) push(at uint64, task TaskID) bool {
	if q.tree.Len() >= q.slots {
		return false
	}
	q.tree.ReplaceOrInsert(timerEntry{at: at, seq: q.seq, task: task})
	q.seq++
	return true
}

func (q *timerQueue) popDue(now uint64) (timerEntry, bool) {
	e, ok := q.tree.Min()
	if !ok || e.at > now {
		return timerEntry{}, false
	}
	q.tree.DeleteMin()
	return e, true
}

// Schedule queues an activation of id delay ticks from now. A zero delay
// pends immediately.
func (cx *Context) Schedule(id TaskID, delay uint64) ScheduleResult {
	cx.enter()
	if delay == 0 {
		if int(id) >= len(cx.k.plan.Tasks) || cx.k.tasks[id].info.Idle {
			return ScheduleUnknownTask
		}
		cx.Pend(id)
		return ScheduleOK
	}
	return cx.k.schedule(id, deadline(cx.k.now, delay))
}

// deadline is now+delay, saturated at the last representable tick.
func deadline(now, delay uint64) uint64 {
	if delay > math.MaxUint64-now {
		return math.MaxUint64
	}
	return now + delay
}

// ScheduleAt queues an activation of id at tick at. It must be called from
// the core goroutine outside any task; an instant that already passed pends
// the task for the next Step.
func (k *Kernel) ScheduleAt(id TaskID, at uint64) ScheduleResult {
	if k.current != NoTask {
		panic("kernel: ScheduleAt called from a task, use Context.Schedule")
	}
	return k.schedule(id, at)
}

func (k *Kernel) schedule(id TaskID, at uint64) ScheduleResult {
	if int(id) >= len(k.plan.Tasks) || k.tasks[id].info.Idle {
		return ScheduleUnknownTask
	}
	if at <= k.now {
		k.setPending(id)
		return ScheduleOK
	}
	if !k.timers.push(at, id) {
		return ScheduleQueueFull
	}
	return ScheduleOK
}

// expireTimers moves every entry due at k.now into the pending set.
func (k *Kernel) expireTimers() {
	for {
		e, ok := k.timers.popDue(k.now)
		if !ok {
			return
		}
		k.setPending(e.task)
	}
}

// NextTimer returns the instant of the earliest queued activation.
func (k *Kernel) NextTimer() (uint64, bool) {
	e, ok := k.timers.tree.Min()
	return e.at, ok
}
