// Package config describes a static application: its tasks, its resources
// and which task touches which resource in which mode.
//
// An App is plain data. It is checked and classified by package analysis
// before any kernel is built from it.
package config

// Priority is a static task priority. Larger values preempt smaller ones.
// Priority 0 belongs to the idle task.
type Priority uint8

// DefaultPriorities is the number of hardware priority levels assumed when
// App.Priorities is zero (3 NVIC priority bits).
const DefaultPriorities = 8

// IdleName is the task name reserved for the idle task.
const IdleName = "idle"

// Mode is the access a task requests on a resource.
type Mode uint8

const (
	Exclusive Mode = iota + 1
	Shared
	LockFree
	TaskLocal
)

func (m Mode) String() string {
	switch m {
	case Exclusive:
		return "exclusive"
	case Shared:
		return "shared"
	case LockFree:
		return "lock_free"
	case TaskLocal:
		return "task_local"
	default:
		return "unknown"
	}
}

// ParseMode accepts the canonical mode names plus the short forms used in
// app descriptions.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "exclusive", "lock":
		return Exclusive, true
	case "shared", "read":
		return Shared, true
	case "lock_free", "lockfree":
		return LockFree, true
	case "task_local", "local":
		return TaskLocal, true
	default:
		return 0, false
	}
}

// Access is one task's claim on one resource.
type Access struct {
	Resource string
	Mode     Mode
}

// Task is a unit of work bound to one activation source.
type Task struct {
	Name     string
	Priority Priority
	// Binds names the activation source (interrupt line). Empty means the
	// task is only activated by software pends.
	Binds string
	// Boot marks a task whose source is live before init completes.
	Boot   bool
	Access []Access
}

// Resource is a named static storage slot.
type Resource struct {
	Name string
	// Late resources get their value from the init hook.
	Late bool
	// Size is the static storage footprint in bytes; 0 means not declared.
	Size int64
}

// Idle is the background task. It runs at priority 0 whenever nothing
// else is runnable.
type Idle struct {
	Access []Access
}

// App is a complete static configuration.
type App struct {
	// Priorities is the number of hardware priority levels; tasks may use
	// 1..Priorities. Zero means DefaultPriorities.
	Priorities int
	// Memory is the static storage budget in bytes. Zero means unlimited.
	Memory    int64
	Resources []Resource
	Tasks     []Task
	Idle      *Idle
}

// Levels returns the effective number of priority levels.
func (a *App) Levels() int {
	if a.Priorities <= 0 {
		return DefaultPriorities
	}
	return a.Priorities
}
