package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"spire/analysis"
	"spire/config"
	"spire/hal"
	"spire/kernel"
)

var errQuit = errors.New("quit")

// sim is a kernel whose resources are counters and whose tasks touch every
// resource they declared. It is driven by Step from the console goroutine,
// so idle never runs.
type sim struct {
	plan     *analysis.Plan
	k        *kernel.Kernel
	mask     *hal.SimMask
	rec      *kernel.Recorder
	counters []*kernel.Resource[uint64]
	out      io.Writer
	session  string
}

func newSim(plan *analysis.Plan, out io.Writer, log hal.Logger) (*sim, error) {
	s := &sim{
		plan:    plan,
		mask:    hal.NewSimMask(),
		rec:     &kernel.Recorder{},
		out:     out,
		session: uuid.NewString(),
	}
	s.k = kernel.New(plan, s.mask, kernel.WithLogger(log), kernel.WithTracer(s.rec))

	var late []*kernel.Resource[uint64]
	for _, r := range plan.Resources {
		var (
			c   *kernel.Resource[uint64]
			err error
		)
		if r.Late {
			c, err = kernel.DeclareLate[uint64](s.k, r.Name)
			late = append(late, c)
		} else {
			c, err = kernel.Declare[uint64](s.k, r.Name, 0)
		}
		if err != nil {
			return nil, err
		}
		s.counters = append(s.counters, c)
	}
	for _, t := range plan.Tasks {
		if t.Idle {
			continue
		}
		if err := s.k.Bind(t.Name, s.body(t)); err != nil {
			return nil, err
		}
	}
	err := s.k.Start(func(ic *kernel.InitContext) error {
		for _, c := range late {
			kernel.InitLate(ic, c, 0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sim) body(t analysis.TaskInfo) func(*kernel.Context) {
	type touch struct {
		c    *kernel.Resource[uint64]
		mode config.Mode
		lock bool
	}
	var touches []touch
	for _, r := range s.plan.Resources {
		mode := s.plan.Access(t.ID, r.ID)
		if mode == 0 {
			continue
		}
		touches = append(touches, touch{
			c:    s.counters[r.ID],
			mode: mode,
			lock: r.Class == analysis.ExclusiveLocked,
		})
	}
	return func(cx *kernel.Context) {
		for _, tc := range touches {
			switch {
			case tc.lock:
				kernel.Lock(cx, tc.c, func(v *uint64) { *v++ })
			case tc.mode == config.Shared:
				_ = *kernel.Get(cx, tc.c)
			default:
				*kernel.Get(cx, tc.c)++
			}
		}
	}
}

// exec runs one console command.
func (s *sim) exec(line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	switch words[0] {
	case "pend":
		if len(words) != 2 {
			return errors.New("usage: pend TASK")
		}
		id, err := s.task(words[1])
		if err != nil {
			return err
		}
		s.k.Pend(id)
		return s.step()
	case "at":
		if len(words) != 3 {
			return errors.New("usage: at TASK TICK")
		}
		id, err := s.task(words[1])
		if err != nil {
			return err
		}
		at, err := strconv.ParseUint(words[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid tick %q", words[2])
		}
		if res := s.k.ScheduleAt(id, at); res != kernel.ScheduleOK {
			return fmt.Errorf("at: %s", res)
		}
		return nil
	case "tick":
		n, err := count(words)
		if err != nil {
			return err
		}
		s.k.Tick(s.k.Now() + n)
		return s.step()
	case "run":
		n, err := count(words)
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			s.k.Tick(s.k.Now() + 1)
			if err := s.step(); err != nil {
				return err
			}
		}
		return nil
	case "mask":
		fmt.Fprintf(s.out, "mask level %d, %d writes\n", s.mask.Level(), s.mask.Writes())
	case "stats":
		s.printStats()
	case "trace":
		fmt.Fprintf(s.out, "session %s trace\n", s.session)
		for _, ev := range s.rec.Events() {
			fmt.Fprintln(s.out, s.describe(ev))
		}
		if n := s.rec.Dropped(); n > 0 {
			fmt.Fprintf(s.out, "(%d events dropped)\n", n)
		}
		s.rec.Reset()
	case "counters":
		for i, r := range s.plan.Resources {
			fmt.Fprintf(s.out, "%s = %d\n", r.Name, kernel.Peek(s.counters[i]))
		}
	case "help":
		fmt.Fprintln(s.out, "pend TASK | at TASK TICK | tick [N] | run [N] | mask | stats | trace | counters | quit")
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", words[0])
	}
	return nil
}

func count(words []string) (uint64, error) {
	if len(words) == 1 {
		return 1, nil
	}
	n, err := strconv.ParseUint(words[1], 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid count %q", words[1])
	}
	return n, nil
}

func (s *sim) task(name string) (kernel.TaskID, error) {
	id, ok := s.k.TaskID(name)
	if !ok || name == config.IdleName {
		return 0, fmt.Errorf("%w: %s", kernel.ErrUnknownTask, name)
	}
	return id, nil
}

func (s *sim) step() error {
	n, err := s.k.Step()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "tick %d: %d dispatched\n", s.k.Now(), n)
	return nil
}

func (s *sim) printStats() {
	st := s.k.Stats()
	fmt.Fprintf(s.out, "session %s: dispatches %d, preemptions %d, mask writes %d, max depth %d, timers queued %d\n",
		s.session, st.Dispatches, st.Preemptions, st.MaskWrites, st.MaxDepth, st.TimerQueued)
}

func (s *sim) describe(ev kernel.Event) string {
	task := "-"
	if int(ev.Task) < len(s.plan.Tasks) {
		task = s.plan.Tasks[ev.Task].Name
	}
	switch ev.Kind {
	case kernel.EventLockEnter, kernel.EventLockExit:
		return fmt.Sprintf("%*s%s %s %s level=%d", int(ev.Depth)*2, "", ev.Kind, task, s.plan.Resources[ev.Resource].Name, ev.Level)
	default:
		return fmt.Sprintf("%*s%s %s level=%d", int(ev.Depth)*2, "", ev.Kind, task, ev.Level)
	}
}
