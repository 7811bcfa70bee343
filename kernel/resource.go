package kernel

import (
	"fmt"

	"spire/analysis"
	"spire/config"
)

// Resource is the static storage of one declared resource.
//
// Tasks never copy it: they borrow its value through Get, Lock and friends,
// and a borrowed pointer is valid only until the borrowing call returns
// (Lock) or the task body returns (Get). Get never hands out a pointer whose
// safety depends on a mask some other critical section holds.
type Resource[T any] struct {
	_     [0]func() // prevent accidental copying.
	k     *Kernel
	id    ResourceID
	value T
}

// ID returns the resource's ID in the plan.
func (r *Resource[T]) ID() ResourceID { return r.id }

func (r *Resource[T]) resourceID() ResourceID { return r.id }

// Declare binds storage with an initial value to the plan entry name.
func Declare[T any](k *Kernel, name string, value T) (*Resource[T], error) {
	id, err := k.declare(name, false)
	if err != nil {
		return nil, err
	}
	return &Resource[T]{k: k, id: id, value: value}, nil
}

// DeclareLate binds storage to the late plan entry name. Its value is
// assigned by the init hook through InitLate.
func DeclareLate[T any](k *Kernel, name string) (*Resource[T], error) {
	id, err := k.declare(name, true)
	if err != nil {
		return nil, err
	}
	return &Resource[T]{k: k, id: id}, nil
}

func (k *Kernel) declare(name string, late bool) (ResourceID, error) {
	if k.state != statePreStart {
		return 0, ErrAlreadyStarted
	}
	info, ok := k.plan.ResourceByName(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	slot := &k.resources[info.ID]
	if slot.declared {
		return 0, fmt.Errorf("%w: %s declared twice", ErrResourceKind, name)
	}
	if info.Late != late {
		want := "early"
		if info.Late {
			want = "late"
		}
		return 0, fmt.Errorf("%w: %s is %s", ErrResourceKind, name, want)
	}
	slot.declared = true
	return info.ID, nil
}

// Get borrows r directly. It is the access path for task-local,
// lock-free-same-priority and shared resources, and for exclusive resources
// when the task's own priority is at the resource's ceiling. A mask raised
// by an enclosing Lock does not count: it ends before the task body does,
// so such access goes through Lock or Ref. Tasks holding only shared access
// must not write through the pointer.
func Get[T any](cx *Context, r *Resource[T]) *T {
	info := cx.claim(r.k, r.id)
	if info.Class == analysis.ExclusiveLocked && cx.prio < info.Ceiling {
		panic(fmt.Sprintf("kernel: task %s needs Lock for resource %s (ceiling %d)", cx.Name(), info.Name, info.Ceiling))
	}
	return &r.value
}

// Peek copies the value of r for inspection between steps. It must be
// called from the core goroutine while no task runs.
func Peek[T any](r *Resource[T]) T {
	if r.k.current != NoTask {
		panic("kernel: Peek while a task runs")
	}
	return r.value
}

// claim validates that the running task may touch resource id and returns
// its plan entry.
func (cx *Context) claim(owner *Kernel, id ResourceID) *analysis.ResourceInfo {
	cx.enter()
	k := cx.k
	if owner != k {
		panic("kernel: resource belongs to another kernel")
	}
	info := &k.plan.Resources[id]
	if k.plan.Access(cx.task, id) == 0 {
		panic(fmt.Sprintf("kernel: task %s did not declare resource %s", cx.Name(), info.Name))
	}
	return info
}

func (cx *Context) mode(id ResourceID) config.Mode {
	return cx.k.plan.Access(cx.task, id)
}
