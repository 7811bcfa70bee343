package kernel

import (
	"errors"
	"math/rand"
	"testing"

	"spire/config"
)

func threeTaskApp() *config.App {
	return &config.App{
		Resources: []config.Resource{{Name: "shared"}},
		Tasks: []config.Task{
			{Name: "low", Priority: 1, Binds: "UART0", Access: acc("shared", config.Exclusive)},
			{Name: "mid", Priority: 2, Binds: "UART1", Access: acc("shared", config.Exclusive)},
			{Name: "high", Priority: 3, Binds: "TIMER0"},
		},
	}
}

func TestLockCeilingScenario(t *testing.T) {
	r := newRig(t, threeTaskApp())
	shared := declare(t, r.k, "shared", 0)
	low, mid, high := r.id(t, "low"), r.id(t, "mid"), r.id(t, "high")

	var log []string
	var highSawMask uint8
	r.bind(t, "low", func(cx *Context) {
		Lock(cx, shared, func(v *int) {
			log = append(log, "low:cs-begin")
			cx.Pend(high)
			cx.Pend(mid)
			*v++
			log = append(log, "low:cs-end")
		})
		log = append(log, "low:done")
	})
	r.bind(t, "mid", func(cx *Context) {
		Lock(cx, shared, func(v *int) {
			log = append(log, "mid:cs")
			*v += 10
		})
	})
	r.bind(t, "high", func(cx *Context) {
		highSawMask = r.mask.Level()
		log = append(log, "high")
	})
	r.start(t, nil)
	startWrites := r.mask.Writes()

	r.k.Pend(low)
	if n := r.step(t); n != 3 {
		t.Fatalf("Step() = %d dispatches, want 3", n)
	}

	want := []string{"low:cs-begin", "high", "low:cs-end", "mid:cs", "low:done"}
	if !equalStrings(log, want) {
		t.Fatalf("order = %v, want %v", log, want)
	}
	if highSawMask != 2 {
		t.Fatalf("mask seen by high = %d, want 2", highSawMask)
	}
	if shared.value != 11 {
		t.Fatalf("shared = %d, want 11", shared.value)
	}
	// low raises and restores once; mid runs at the ceiling and writes nothing.
	if got := r.mask.Writes() - startWrites; got != 2 {
		t.Fatalf("mask writes = %d, want 2", got)
	}
	if got := r.mask.Level(); got != 0 {
		t.Fatalf("mask after step = %d, want 0", got)
	}
}

func TestLockHolderAtCeilingRunsToCompletion(t *testing.T) {
	r := newRig(t, threeTaskApp())
	shared := declare(t, r.k, "shared", 0)
	low, mid := r.id(t, "low"), r.id(t, "mid")

	var log []string
	r.bind(t, "low", func(cx *Context) {
		Lock(cx, shared, func(v *int) { log = append(log, "low:cs") })
	})
	r.bind(t, "mid", func(cx *Context) {
		Lock(cx, shared, func(v *int) {
			cx.Pend(low)
			log = append(log, "mid:cs")
		})
		log = append(log, "mid:done")
	})
	r.bind(t, "high", func(cx *Context) {})
	r.start(t, nil)

	r.k.Pend(mid)
	r.step(t)
	want := []string{"mid:cs", "mid:done", "low:cs"}
	if !equalStrings(log, want) {
		t.Fatalf("order = %v, want %v", log, want)
	}
}

func TestNestedLocksRestoreSymmetry(t *testing.T) {
	app := &config.App{
		Resources: []config.Resource{{Name: "a"}, {Name: "b"}},
		Tasks: []config.Task{
			{Name: "low", Priority: 1, Access: acc("a", config.Exclusive, "b", config.Exclusive)},
			{Name: "mid", Priority: 2, Access: acc("a", config.Exclusive)},
			{Name: "high", Priority: 3, Access: acc("b", config.Exclusive)},
		},
	}
	r := newRig(t, app)
	a := declare(t, r.k, "a", 0)
	b := declare(t, r.k, "b", 0)

	var levels []uint8
	record := func() { levels = append(levels, r.mask.Level()) }
	r.bind(t, "low", func(cx *Context) {
		record()
		Lock(cx, a, func(*int) {
			record()
			Lock(cx, b, func(*int) { record() })
			record()
		})
		record()
		Lock(cx, b, func(*int) {
			record()
			Lock(cx, a, func(*int) { record() })
			record()
		})
		record()
		Lock2(cx, b, a, func(*int, *int) { record() })
		record()
		LockMany(cx, func(*Section) { record() }, b, a)
		record()
		got := With(cx, a, func(v *int) uint8 { return r.mask.Level() })
		levels = append(levels, got)
		record()
	})
	r.bind(t, "mid", func(cx *Context) {})
	r.bind(t, "high", func(cx *Context) {})
	r.start(t, nil)
	startWrites := r.mask.Writes()

	r.k.Pend(r.id(t, "low"))
	r.step(t)

	want := []uint8{0, 2, 3, 2, 0, 3, 3, 3, 0, 3, 0, 3, 0, 2, 0}
	if len(levels) != len(want) {
		t.Fatalf("levels = %v, want %v", levels, want)
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Fatalf("levels = %v, want %v", levels, want)
		}
	}
	if got := r.mask.Writes() - startWrites; got != 4+2+4+4+2 {
		t.Fatalf("mask writes = %d, want 16", got)
	}
}

func TestTaskAboveCeilingNeverMasked(t *testing.T) {
	r := newRig(t, threeTaskApp())
	shared := declare(t, r.k, "shared", 0)
	high := r.id(t, "high")

	var highRuns, highInsideCS int
	inCS := false
	r.bind(t, "low", func(cx *Context) {
		Lock(cx, shared, func(*int) {
			inCS = true
			for i := 0; i < 5; i++ {
				cx.Pend(high)
			}
			inCS = false
		})
	})
	r.bind(t, "mid", func(cx *Context) {})
	r.bind(t, "high", func(cx *Context) {
		highRuns++
		if inCS {
			highInsideCS++
		}
	})
	r.start(t, nil)

	r.k.Pend(r.id(t, "low"))
	r.step(t)
	if highRuns != 5 || highInsideCS != 5 {
		t.Fatalf("high ran %d times, %d inside the critical section; want 5 and 5", highRuns, highInsideCS)
	}
}

type marker struct {
	task  TaskID
	begin bool
}

func TestExclusiveSectionsSerialize(t *testing.T) {
	app := &config.App{
		Resources: []config.Resource{{Name: "shared"}},
		Tasks: []config.Task{
			{Name: "t1", Priority: 1, Access: acc("shared", config.Exclusive)},
			{Name: "t2", Priority: 2, Access: acc("shared", config.Exclusive)},
			{Name: "t3", Priority: 3, Access: acc("shared", config.Exclusive)},
			{Name: "t4", Priority: 4},
		},
	}
	r := newRig(t, app)
	shared := declare(t, r.k, "shared", 0)
	ids := []TaskID{r.id(t, "t1"), r.id(t, "t2"), r.id(t, "t3"), r.id(t, "t4")}

	rng := rand.New(rand.NewSource(1))
	budget := 5000
	var markers []marker
	sections := 0
	maybePend := func(cx *Context) {
		if budget > 0 && rng.Intn(2) == 0 {
			budget--
			cx.Pend(ids[rng.Intn(len(ids))])
		}
	}
	for _, name := range []string{"t1", "t2", "t3"} {
		r.bind(t, name, func(cx *Context) {
			maybePend(cx)
			Lock(cx, shared, func(v *int) {
				if lvl := r.mask.Level(); cx.Priority() < 3 && lvl < 3 {
					t.Errorf("mask inside section = %d, want >= 3", lvl)
				}
				markers = append(markers, marker{task: cx.Task(), begin: true})
				old := *v
				maybePend(cx)
				maybePend(cx)
				*v = old + 1
				markers = append(markers, marker{task: cx.Task()})
				sections++
			})
			maybePend(cx)
		})
	}
	r.bind(t, "t4", func(cx *Context) { maybePend(cx) })
	r.start(t, nil)

	for budget > 0 {
		budget--
		r.k.Pend(ids[rng.Intn(len(ids))])
		r.step(t)
	}
	r.step(t)

	if sections == 0 {
		t.Fatal("no critical sections ran")
	}
	if shared.value != sections {
		t.Fatalf("shared = %d after %d sections, lost updates", shared.value, sections)
	}
	for i, m := range markers {
		if m.begin != (i%2 == 0) {
			t.Fatalf("marker %d = %+v, sections overlap", i, m)
		}
		if !m.begin && markers[i-1].task != m.task {
			t.Fatalf("section begun by task %d ended by task %d", markers[i-1].task, m.task)
		}
	}
	if r.mask.Level() != 0 {
		t.Fatalf("mask after run = %d, want 0", r.mask.Level())
	}
}

func TestLockFreeSamePriorityIssuesNoMasking(t *testing.T) {
	app := &config.App{
		Resources: []config.Resource{{Name: "counter"}},
		Tasks: []config.Task{
			{Name: "a", Priority: 2, Access: acc("counter", config.LockFree)},
			{Name: "b", Priority: 2, Access: acc("counter", config.Exclusive)},
			{Name: "bg", Priority: 1},
		},
	}
	r := newRig(t, app)
	counter := declare(t, r.k, "counter", uint32(0))
	a, b := r.id(t, "a"), r.id(t, "b")

	var log []string
	first := true
	r.bind(t, "a", func(cx *Context) {
		log = append(log, "a:begin")
		*Get(cx, counter)++
		if first {
			first = false
			cx.Pend(b)
		}
		Lock(cx, counter, func(v *uint32) { *v++ })
		log = append(log, "a:end")
	})
	r.bind(t, "b", func(cx *Context) {
		log = append(log, "b:begin")
		Lock(cx, counter, func(v *uint32) { *v += 10 })
		cx.Pend(a)
		log = append(log, "b:end")
	})
	r.bind(t, "bg", func(cx *Context) {})
	r.start(t, nil)
	startWrites := r.mask.Writes()

	r.k.Pend(a)
	r.step(t)

	want := []string{"a:begin", "a:end", "b:begin", "b:end", "a:begin", "a:end"}
	if !equalStrings(log, want) {
		t.Fatalf("order = %v, want %v", log, want)
	}
	if counter.value != 14 {
		t.Fatalf("counter = %d, want 14", counter.value)
	}
	if got := r.mask.Writes() - startWrites; got != 0 {
		t.Fatalf("mask writes = %d, want 0", got)
	}
	if got := r.k.Stats().MaxDepth; got != 1 {
		t.Fatalf("MaxDepth = %d, want 1", got)
	}
}

func TestMultiLockCanonicalOrder(t *testing.T) {
	app := &config.App{
		Resources: []config.Resource{{Name: "x"}, {Name: "y"}, {Name: "z"}},
		Tasks: []config.Task{
			{Name: "a", Priority: 1, Access: acc("x", config.Exclusive, "y", config.Exclusive, "z", config.Exclusive)},
			{Name: "b", Priority: 2, Access: acc("x", config.Exclusive, "y", config.Exclusive, "z", config.Exclusive)},
		},
	}
	r := newRig(t, app)
	x := declare(t, r.k, "x", 0)
	y := declare(t, r.k, "y", 0)
	z := declare(t, r.k, "z", 0)
	a, b := r.id(t, "a"), r.id(t, "b")

	r.bind(t, "a", func(cx *Context) {
		Lock2(cx, x, y, func(px, py *int) {
			cx.Pend(b)
			*px++
			*py++
		})
		Lock3(cx, z, x, y, func(pz, px, py *int) { *pz++ })
	})
	r.bind(t, "b", func(cx *Context) {
		Lock2(cx, y, x, func(py, px *int) {
			*py += 10
			*px += 10
		})
		LockMany(cx, func(s *Section) {
			*Ref(s, z) += 10
			*Ref(s, x) += 10
		}, z, y, x)
	})
	r.start(t, nil)

	r.k.Pend(a)
	r.step(t)
	if r.k.Runs(a) != 1 || r.k.Runs(b) != 1 {
		t.Fatalf("runs a=%d b=%d, want 1 and 1", r.k.Runs(a), r.k.Runs(b))
	}
	if x.value != 21 || y.value != 11 || z.value != 11 {
		t.Fatalf("x=%d y=%d z=%d, want 21 11 11", x.value, y.value, z.value)
	}

	// Every run of enters within one task must ascend by resource ID and
	// every run of exits must descend.
	var last *Event
	for i, ev := range r.rec.Events() {
		ev := ev
		if ev.Kind != EventLockEnter && ev.Kind != EventLockExit {
			last = nil
			continue
		}
		if last != nil && last.Kind == ev.Kind && last.Task == ev.Task {
			if ev.Kind == EventLockEnter && ev.Resource <= last.Resource {
				t.Fatalf("event %d: lock of %d after %d, not canonical", i, ev.Resource, last.Resource)
			}
			if ev.Kind == EventLockExit && ev.Resource >= last.Resource {
				t.Fatalf("event %d: unlock of %d after %d, not reverse order", i, ev.Resource, last.Resource)
			}
		}
		last = &ev
	}

	// b was pended inside a's section and must start only after a released both.
	events := r.rec.Events()
	bBegin, aLastExit := -1, -1
	for i, ev := range events {
		if ev.Kind == EventTaskBegin && ev.Task == b && bBegin < 0 {
			bBegin = i
		}
		if ev.Kind == EventLockExit && ev.Task == a && ev.Resource == x.ID() && aLastExit < 0 {
			aLastExit = i
		}
	}
	if bBegin < aLastExit {
		t.Fatalf("b began at event %d, before a released x at %d", bBegin, aLastExit)
	}
}

func TestProgrammingErrorsHaltTheKernel(t *testing.T) {
	cases := map[string]func(r *rig, shared *Resource[int], table *Resource[int]) func(*Context){
		"get without lock": func(r *rig, shared, _ *Resource[int]) func(*Context) {
			return func(cx *Context) { _ = Get(cx, shared) }
		},
		"lock shared resource": func(r *rig, _, table *Resource[int]) func(*Context) {
			return func(cx *Context) { Lock(cx, table, func(*int) {}) }
		},
		"section used after release": func(r *rig, shared, _ *Resource[int]) func(*Context) {
			return func(cx *Context) {
				var keep *Section
				LockMany(cx, func(s *Section) { keep = s }, shared)
				_ = Ref(keep, shared)
			}
		},
		"lock same resource twice": func(r *rig, shared, _ *Resource[int]) func(*Context) {
			return func(cx *Context) { Lock2(cx, shared, shared, func(*int, *int) {}) }
		},
	}
	for name, mk := range cases {
		app := &config.App{
			Resources: []config.Resource{{Name: "shared"}, {Name: "table"}, {Name: "private"}},
			Tasks: []config.Task{
				{Name: "low", Priority: 1, Access: acc("shared", config.Exclusive, "table", config.Shared)},
				{Name: "mid", Priority: 2, Access: acc("shared", config.Exclusive, "table", config.Shared)},
			},
		}
		r := newRig(t, app)
		shared := declare(t, r.k, "shared", 0)
		table := declare(t, r.k, "table", 0)
		r.bind(t, "low", mk(r, shared, table))
		r.bind(t, "mid", func(cx *Context) {})
		r.start(t, nil)

		r.k.Pend(r.id(t, "low"))
		if _, err := r.k.Step(); !errors.Is(err, ErrHalted) {
			t.Fatalf("%s: Step() error = %v, want ErrHalted", name, err)
		}
		if _, err := r.k.Step(); !errors.Is(err, ErrHalted) {
			t.Fatalf("%s: second Step() error = %v, want ErrHalted", name, err)
		}
		if !InPanicMode() {
			t.Fatalf("%s: InPanicMode() = false after halt", name)
		}
	}
}

func TestUndeclaredAccessHalts(t *testing.T) {
	app := &config.App{
		Resources: []config.Resource{{Name: "mine"}},
		Tasks: []config.Task{
			{Name: "owner", Priority: 1, Access: acc("mine", config.TaskLocal)},
			{Name: "thief", Priority: 2},
		},
	}
	r := newRig(t, app)
	mine := declare(t, r.k, "mine", 0)
	r.bind(t, "owner", func(cx *Context) { *Get(cx, mine)++ })
	r.bind(t, "thief", func(cx *Context) { *Get(cx, mine)++ })
	r.start(t, nil)

	r.k.Pend(r.id(t, "owner"))
	r.step(t)
	if mine.value != 1 {
		t.Fatalf("mine = %d, want 1", mine.value)
	}

	r.k.Pend(r.id(t, "thief"))
	if _, err := r.k.Step(); !errors.Is(err, ErrHalted) {
		t.Fatalf("Step() error = %v, want ErrHalted", err)
	}
	if mine.value != 1 {
		t.Fatalf("mine = %d after rejected access, want 1", mine.value)
	}
}

func TestEscapedContextHalts(t *testing.T) {
	app := &config.App{
		Tasks: []config.Task{
			{Name: "a", Priority: 1},
			{Name: "b", Priority: 2},
		},
	}
	r := newRig(t, app)
	var stolen *Context
	r.bind(t, "a", func(cx *Context) { stolen = cx })
	r.bind(t, "b", func(cx *Context) { stolen.Pend(cx.Task()) })
	r.start(t, nil)

	r.k.Pend(r.id(t, "a"))
	r.step(t)
	r.k.Pend(r.id(t, "b"))
	if _, err := r.k.Step(); !errors.Is(err, ErrHalted) {
		t.Fatalf("Step() error = %v, want ErrHalted", err)
	}
}

func TestGetUnderEnclosingLockHalts(t *testing.T) {
	app := &config.App{
		Resources: []config.Resource{{Name: "a"}, {Name: "b"}},
		Tasks: []config.Task{
			{Name: "low", Priority: 1, Access: acc("a", config.Exclusive, "b", config.Exclusive)},
			{Name: "mid", Priority: 2, Access: acc("a", config.Exclusive)},
			{Name: "high", Priority: 3, Access: acc("b", config.Exclusive)},
		},
	}
	r := newRig(t, app)
	a := declare(t, r.k, "a", 0)
	b := declare(t, r.k, "b", 0)
	mid := r.id(t, "mid")

	var escaped *int
	r.bind(t, "low", func(cx *Context) {
		Lock(cx, b, func(*int) {
			// The mask is at 3 here, above a's ceiling, but only until b is
			// released.
			escaped = Get(cx, a)
		})
		old := *escaped
		cx.Pend(mid)
		*escaped = old + 1
	})
	r.bind(t, "mid", func(cx *Context) { *Get(cx, a) += 100 })
	r.bind(t, "high", func(cx *Context) {})
	r.start(t, nil)

	r.k.Pend(r.id(t, "low"))
	if _, err := r.k.Step(); !errors.Is(err, ErrHalted) {
		t.Fatalf("Step() error = %v, want ErrHalted", err)
	}
	if escaped != nil {
		t.Fatal("Get returned a pointer that outlives the enclosing lock")
	}
	if a.value != 0 {
		t.Fatalf("a = %d, want 0", a.value)
	}
}

func TestGetAtOwnCeiling(t *testing.T) {
	r := newRig(t, threeTaskApp())
	shared := declare(t, r.k, "shared", 0)
	r.bind(t, "low", func(cx *Context) {})
	r.bind(t, "mid", func(cx *Context) { *Get(cx, shared) += 5 })
	r.bind(t, "high", func(cx *Context) {})
	r.start(t, nil)

	r.k.Pend(r.id(t, "mid"))
	r.step(t)
	if shared.value != 5 {
		t.Fatalf("shared = %d, want 5", shared.value)
	}
}
