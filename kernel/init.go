package kernel

import (
	"errors"
	"fmt"

	"spire/analysis"
	"spire/hal"
)

// InitContext is handed to the init hook. It is valid only during Start.
type InitContext struct {
	k    *Kernel
	live bool
}

// Pend marks a task runnable. Non-boot tasks start once init completes,
// in priority order; boot tasks may run right away.
func (ic *InitContext) Pend(id TaskID) {
	ic.check()
	ic.k.setPending(id)
	ic.k.poll()
}

// Schedule queues an activation of id at tick at.
func (ic *InitContext) Schedule(id TaskID, at uint64) ScheduleResult {
	ic.check()
	return ic.k.schedule(id, at)
}

// TaskID resolves a task name.
func (ic *InitContext) TaskID(name string) (TaskID, bool) {
	return ic.k.TaskID(name)
}

func (ic *InitContext) check() {
	if !ic.live {
		panic("kernel: init context used after init returned")
	}
}

// InitLate assigns the value of a late resource. It may only be called
// from the init hook.
func InitLate[T any](ic *InitContext, r *Resource[T], value T) {
	ic.check()
	if r.k != ic.k {
		panic("kernel: resource belongs to another kernel")
	}
	slot := &ic.k.resources[r.id]
	if !slot.late {
		panic(fmt.Sprintf("kernel: %s is not a late resource", ic.k.plan.Resources[r.id].Name))
	}
	r.value = value
	slot.ready = true
}

// Start checks that every task has a body and every used resource has
// storage, runs init once with all activations masked, and verifies that
// init assigned every late resource. On success the kernel is running and
// activations pended during init are delivered at the first preemption point.
//
// Any error is fatal: the kernel stays stopped.
func (k *Kernel) Start(init func(*InitContext) error) (err error) {
	if k.state != statePreStart {
		return ErrAlreadyStarted
	}
	defer k.recoverHalt(&err)
	if err := k.checkBindings(); err != nil {
		k.state = stateStopped
		return err
	}

	k.state = stateInit
	prev := k.mask.Level()
	k.setMask(hal.MaxLevel)
	k.logf("kernel: init (%d tasks, %d resources)", len(k.plan.Tasks), len(k.plan.Resources))

	if init != nil {
		ic := &InitContext{k: k, live: true}
		initErr := init(ic)
		ic.live = false
		if initErr != nil {
			k.state = stateStopped
			k.setMask(prev)
			return fmt.Errorf("init: %w", initErr)
		}
	}

	var errs []error
	for i, r := range k.plan.Resources {
		slot := &k.resources[i]
		if slot.late && slot.declared && !slot.ready {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUninitializedLateResource, r.Name))
		}
	}
	if len(errs) > 0 {
		k.state = stateStopped
		k.setMask(prev)
		return errors.Join(errs...)
	}

	k.state = stateRunning
	k.setMask(prev)
	k.logf("kernel: start")
	return nil
}

func (k *Kernel) checkBindings() error {
	var errs []error
	for i, t := range k.plan.Tasks {
		if t.Idle {
			continue
		}
		if k.tasks[i].body == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnboundTask, t.Name))
		}
	}
	for i, r := range k.plan.Resources {
		if r.Class != analysis.Unused && !k.resources[i].declared {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUndeclaredResource, r.Name))
		}
	}
	return errors.Join(errs...)
}
