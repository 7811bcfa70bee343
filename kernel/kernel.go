// Package kernel is the runtime core: a static-priority preemptive
// dispatcher plus the ceiling lock engine that lets tasks at different
// priorities share resources without blocking.
//
// A Kernel is built from an analysis.Plan. Task bodies run on the core
// goroutine only; other goroutines interact through Pend and Tick.
package kernel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"spire/analysis"
	"spire/config"
	"spire/hal"
)

type (
	TaskID     = analysis.TaskID
	ResourceID = analysis.ResourceID
)

// NoTask is the current task while nothing, not even idle, is running.
const NoTask TaskID = 0xFF

const defaultTimerSlots = 32

var (
	ErrAlreadyStarted            = errors.New("kernel already started")
	ErrNotStarted                = errors.New("kernel not started")
	ErrUnknownTask               = errors.New("unknown task")
	ErrUnboundTask               = errors.New("task has no body")
	ErrUnknownResource           = errors.New("unknown resource")
	ErrUndeclaredResource        = errors.New("resource has no storage")
	ErrResourceKind              = errors.New("resource declared with the wrong kind")
	ErrUninitializedLateResource = errors.New("late resource not initialized")
	ErrHalted                    = errors.New("kernel halted after task panic")
)

type state uint8

const (
	statePreStart state = iota
	stateInit
	stateRunning
	stateHalted
	stateStopped
)

func (s state) String() string {
	switch s {
	case statePreStart:
		return "pre-start"
	case stateInit:
		return "init"
	case stateRunning:
		return "running"
	case stateHalted:
		return "halted"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats are counters maintained by the core.
type Stats struct {
	Dispatches  uint64
	Preemptions uint64
	MaskWrites  uint64
	MaxDepth    int
	TimerQueued int
}

type taskSlot struct {
	info analysis.TaskInfo
	body func(*Context)
	runs uint64
}

type resourceSlot struct {
	declared bool
	late     bool
	ready    bool
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger routes kernel lifecycle lines to l.
func WithLogger(l hal.Logger) Option {
	return func(k *Kernel) { k.log = l }
}

// WithTracer installs a trace hook.
func WithTracer(t Tracer) Option {
	return func(k *Kernel) { k.tracer = t }
}

// WithTimerSlots bounds the timer queue.
func WithTimerSlots(n int) Option {
	return func(k *Kernel) {
		if n > 0 {
			k.timerSlots = n
		}
	}
}

// Kernel is the single runtime context: resource bookkeeping, the pending
// set, the current running priority and the mask register.
type Kernel struct {
	_ [0]func() // prevent accidental copying.

	plan   *analysis.Plan
	mask   hal.Mask
	log    hal.Logger
	tracer Tracer

	tasks     [analysis.MaxTasks]taskSlot
	ctx       [analysis.MaxTasks]Context
	resources [analysis.MaxResources]resourceSlot

	state   state
	running config.Priority
	current TaskID
	depth   int
	pending uint64

	asyncPending atomic.Uint64
	asyncNow     atomic.Uint64
	wake         chan struct{}
	runDone      <-chan struct{}

	now        uint64
	timerSlots int
	timers     timerQueue

	stats Stats

	shutdownOnce sync.Once
	shutdown     []func()
}

// New builds a kernel for plan on top of mask.
func New(plan *analysis.Plan, mask hal.Mask, opts ...Option) *Kernel {
	k := &Kernel{
		plan:       plan,
		mask:       mask,
		current:    NoTask,
		wake:       make(chan struct{}, 1),
		timerSlots: defaultTimerSlots,
	}
	for _, opt := range opts {
		opt(k)
	}
	for i, t := range plan.Tasks {
		k.tasks[i].info = t
		k.ctx[i] = Context{k: k, task: t.ID, prio: t.Priority}
	}
	for i, r := range plan.Resources {
		k.resources[i].late = r.Late
	}
	k.timers = newTimerQueue(k.timerSlots)
	return k
}

// Plan returns the plan the kernel was built from.
func (k *Kernel) Plan() *analysis.Plan { return k.plan }

// TaskID resolves a task name.
func (k *Kernel) TaskID(name string) (TaskID, bool) {
	t, ok := k.plan.TaskByName(name)
	return t.ID, ok
}

// Bind installs the body of a task. Bodies must be bound before Start.
func (k *Kernel) Bind(name string, body func(*Context)) error {
	if k.state != statePreStart {
		return ErrAlreadyStarted
	}
	t, ok := k.plan.TaskByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	k.tasks[t.ID].body = body
	return nil
}

// OnShutdown registers fn to run once when the kernel shuts down.
func (k *Kernel) OnShutdown(fn func()) {
	k.shutdown = append(k.shutdown, fn)
}

// Shutdown unmasks, runs the shutdown hooks in reverse registration order
// and stops the kernel. It is safe to call more than once, from the core
// goroutine or after Run returned.
func (k *Kernel) Shutdown() {
	k.shutdownOnce.Do(func() {
		if k.state != stateHalted {
			k.state = stateStopped
		}
		if k.mask.Level() != 0 {
			k.setMask(0)
		}
		for i := len(k.shutdown) - 1; i >= 0; i-- {
			k.shutdown[i]()
		}
		k.logf("kernel: shutdown after %d dispatches", k.stats.Dispatches)
	})
}

// Stats returns a snapshot of the core counters. Call it from the core
// goroutine or after Run returned.
func (k *Kernel) Stats() Stats {
	s := k.stats
	s.TimerQueued = k.timers.len()
	return s
}

// Runs returns how many times task id has been dispatched.
func (k *Kernel) Runs(id TaskID) uint64 {
	return k.tasks[id].runs
}

// Now returns the last tick the core observed.
func (k *Kernel) Now() uint64 { return k.now }

func (k *Kernel) setMask(level uint8) {
	k.mask.Set(level)
	k.stats.MaskWrites++
	k.trace(Event{Kind: EventMask, Task: k.current, Level: level})
}

func (k *Kernel) logf(format string, args ...any) {
	if k.log == nil {
		return
	}
	k.log.WriteLineString(fmt.Sprintf(format, args...))
}

func (k *Kernel) trace(ev Event) {
	if k.tracer == nil {
		return
	}
	ev.Depth = uint8(k.depth)
	k.tracer.Trace(ev)
}
