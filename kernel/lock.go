package kernel

import (
	"fmt"

	"spire/analysis"
	"spire/config"
)

// maxLockSet bounds how many resources one LockMany call may hold.
const maxLockSet = 8

// Lockable is implemented by every *Resource.
type Lockable interface {
	resourceID() ResourceID
	owner() *Kernel
}

// held is what a single acquisition must undo.
type held struct {
	prev   uint8
	raised bool
}

// Lock runs fn with exclusive access to r's value.
//
// The mask is raised to r's ceiling for the duration of fn and then
// restored to exactly the level it had before, so nested locks compose.
// When the caller already runs at or above the ceiling, fn runs directly and
// the mask is never written. Lock never blocks and never fails. The pointer
// passed to fn must not outlive the call.
func Lock[T any](cx *Context, r *Resource[T], fn func(*T)) {
	k := cx.k
	ceiling := cx.lockable(r.k, r.id)
	h := k.acquire(r.id, ceiling)
	fn(&r.value)
	k.release(r.id, h)
}

// With is Lock for critical sections that produce a value.
func With[T, R any](cx *Context, r *Resource[T], fn func(*T) R) R {
	k := cx.k
	ceiling := cx.lockable(r.k, r.id)
	h := k.acquire(r.id, ceiling)
	out := fn(&r.value)
	k.release(r.id, h)
	return out
}

// Lock2 locks a and b together. Acquisition follows ascending resource ID
// regardless of argument order, and release is the exact reverse.
func Lock2[A, B any](cx *Context, a *Resource[A], b *Resource[B], fn func(*A, *B)) {
	k := cx.k
	ca := cx.lockable(a.k, a.id)
	cb := cx.lockable(b.k, b.id)
	if a.id == b.id {
		panic("kernel: Lock2 of the same resource twice")
	}

	first, second := a.id, b.id
	c1, c2 := ca, cb
	if second < first {
		first, second = second, first
		c1, c2 = c2, c1
	}
	h1 := k.acquire(first, c1)
	h2 := k.acquire(second, c2)
	fn(&a.value, &b.value)
	k.release(second, h2)
	k.release(first, h1)
}

// Lock3 locks a, b and c together in canonical order.
func Lock3[A, B, C any](cx *Context, a *Resource[A], b *Resource[B], c *Resource[C], fn func(*A, *B, *C)) {
	k := cx.k
	var ids [3]ResourceID
	var ceilings [analysis.MaxResources]config.Priority
	ids[0], ids[1], ids[2] = a.id, b.id, c.id
	ceilings[a.id] = cx.lockable(a.k, a.id)
	ceilings[b.id] = cx.lockable(b.k, b.id)
	ceilings[c.id] = cx.lockable(c.k, c.id)
	analysis.Canonical(ids[:])
	if ids[0] == ids[1] || ids[1] == ids[2] {
		panic("kernel: Lock3 of the same resource twice")
	}

	var hs [3]held
	for i, id := range ids {
		hs[i] = k.acquire(id, ceilings[id])
	}
	fn(&a.value, &b.value, &c.value)
	for i := len(ids) - 1; i >= 0; i-- {
		k.release(ids[i], hs[i])
	}
}

// Section is the token handed to a LockMany callback. It grants access to
// the locked resources through Ref and is dead once the callback returns.
type Section struct {
	_    [0]func() // prevent accidental copying.
	k    *Kernel
	ids  [maxLockSet]ResourceID
	n    int
	live bool
}

// LockMany locks every resource in rs in canonical order, runs fn, and
// releases them in reverse order.
func LockMany(cx *Context, fn func(*Section), rs ...Lockable) {
	k := cx.k
	if len(rs) > maxLockSet {
		panic(fmt.Sprintf("kernel: LockMany of %d resources, at most %d", len(rs), maxLockSet))
	}

	sec := Section{k: k, n: len(rs)}
	var ceilings [analysis.MaxResources]config.Priority
	for i, r := range rs {
		id := r.resourceID()
		ceilings[id] = cx.lockable(r.owner(), id)
		sec.ids[i] = id
	}
	ids := sec.ids[:sec.n]
	analysis.Canonical(ids)
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			panic("kernel: LockMany of the same resource twice")
		}
	}

	var hs [maxLockSet]held
	for i, id := range ids {
		hs[i] = k.acquire(id, ceilings[id])
	}
	sec.live = true
	fn(&sec)
	sec.live = false
	for i := len(ids) - 1; i >= 0; i-- {
		k.release(ids[i], hs[i])
	}
}

// Ref borrows r inside a LockMany section that holds it.
func Ref[T any](s *Section, r *Resource[T]) *T {
	if !s.live {
		panic("kernel: section used after its critical section ended")
	}
	if r.k != s.k {
		panic("kernel: resource belongs to another kernel")
	}
	for _, id := range s.ids[:s.n] {
		if id == r.id {
			return &r.value
		}
	}
	panic(fmt.Sprintf("kernel: resource %s is not held by this section", s.k.plan.Resources[r.id].Name))
}

func (r *Resource[T]) owner() *Kernel { return r.k }

// lockable validates a lock request and returns the resource's ceiling.
func (cx *Context) lockable(owner *Kernel, id ResourceID) config.Priority {
	info := cx.claim(owner, id)
	if cx.mode(id) == config.Shared {
		panic(fmt.Sprintf("kernel: task %s has read-only access to %s", cx.Name(), info.Name))
	}
	return info.Ceiling
}

func (k *Kernel) acquire(id ResourceID, ceiling config.Priority) held {
	k.poll()
	h := held{prev: k.mask.Level()}
	if ceiling > k.threshold() {
		k.setMask(uint8(ceiling))
		h.raised = true
	}
	k.trace(Event{Kind: EventLockEnter, Task: k.current, Resource: id, Level: k.mask.Level()})
	return h
}

func (k *Kernel) release(id ResourceID, h held) {
	k.trace(Event{Kind: EventLockExit, Task: k.current, Resource: id, Level: h.prev})
	if h.raised {
		k.setMask(h.prev)
		k.poll()
	}
}
