package analysis

import "spire/config"

// Table limits. Task IDs index a 64-bit pending word.
const (
	MaxTasks     = 64
	MaxResources = 64
)

type (
	TaskID     uint8
	ResourceID uint8
)

// Class is the access strategy assigned to a resource.
type Class uint8

const (
	Unused Class = iota
	ExclusiveLocked
	SharedUnlocked
	LockFreeSamePriority
	TaskLocal
)

func (c Class) String() string {
	switch c {
	case Unused:
		return "unused"
	case ExclusiveLocked:
		return "exclusive-locked"
	case SharedUnlocked:
		return "shared-unlocked"
	case LockFreeSamePriority:
		return "lock-free-same-priority"
	case TaskLocal:
		return "task-local"
	default:
		return "unknown"
	}
}

// Accessor is one task's claim on a resource, resolved to IDs.
type Accessor struct {
	Task     TaskID
	Priority config.Priority
	Mode     config.Mode
}

// ResourceInfo is the classified view of one resource.
type ResourceInfo struct {
	ID        ResourceID
	Name      string
	Late      bool
	Size      int64
	Class     Class
	Ceiling   config.Priority
	Accessors []Accessor
}

// TaskInfo is the resolved view of one task. The idle task, if declared,
// has the highest ID and priority 0.
type TaskInfo struct {
	ID       TaskID
	Name     string
	Priority config.Priority
	Binds    string
	Boot     bool
	Idle     bool
}

// Plan is the output of Classify. It is read-only after construction.
type Plan struct {
	Levels    int
	Memory    int64
	Used      int64
	Tasks     []TaskInfo
	Resources []ResourceInfo

	access    [MaxTasks][MaxResources]config.Mode
	taskIndex map[string]TaskID
	resIndex  map[string]ResourceID
	idle      TaskID
	hasIdle   bool
}

// Access returns the mode task t declared on resource r, or 0 if none.
func (p *Plan) Access(t TaskID, r ResourceID) config.Mode {
	if int(t) >= MaxTasks || int(r) >= MaxResources {
		return 0
	}
	return p.access[t][r]
}

// TaskByName resolves a task name. The idle task is found under config.IdleName.
func (p *Plan) TaskByName(name string) (TaskInfo, bool) {
	id, ok := p.taskIndex[name]
	if !ok {
		return TaskInfo{}, false
	}
	return p.Tasks[id], true
}

// ResourceByName resolves a resource name.
func (p *Plan) ResourceByName(name string) (ResourceInfo, bool) {
	id, ok := p.resIndex[name]
	if !ok {
		return ResourceInfo{}, false
	}
	return p.Resources[id], true
}

// Idle returns the idle task's ID.
func (p *Plan) Idle() (TaskID, bool) {
	return p.idle, p.hasIdle
}

// Ceiling returns the ceiling priority of r.
func (p *Plan) Ceiling(r ResourceID) config.Priority {
	return p.Resources[r].Ceiling
}

// Canonical sorts ids into the global acquisition order (ascending ID) in
// place and reports whether they were already in that order. It does not
// allocate.
func Canonical(ids []ResourceID) bool {
	sorted := true
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
			sorted = false
		}
	}
	return sorted
}
