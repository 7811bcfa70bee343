// Package app wires the bundled demo application onto a HAL: it parses the
// embedded description, classifies it, declares storage and binds bodies.
package app

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"spire/analysis"
	"spire/config"
	"spire/hal"
	"spire/kernel"
)

//go:embed demo.app
var demoDescription string

const (
	samplePeriod   = 10
	watchdogPeriod = 50
	sampleSlots    = 16
)

type Config struct {
	// Trace records kernel events; read them with System.Trace.
	Trace bool
}

type sampleBuf struct {
	n    int
	data [sampleSlots]uint16
	lost int
}

// System is the demo application bound to one kernel.
type System struct {
	h   hal.HAL
	k   *kernel.Kernel
	rec *kernel.Recorder

	shared  *kernel.Resource[uint32]
	l1      *kernel.Resource[uint32]
	e1      *kernel.Resource[uint32]
	l2      *kernel.Resource[uint32]
	e2      *kernel.Resource[uint32]
	samples *kernel.Resource[sampleBuf]
	beats   *kernel.Resource[uint64]

	uart0, uart1, report, sampler, watchdog kernel.TaskID

	idleReported bool
	adc          uint16
}

// Plan parses and classifies the bundled description.
func Plan() (*analysis.Plan, error) {
	app, err := config.Parse(strings.NewReader(demoDescription))
	if err != nil {
		return nil, fmt.Errorf("demo description: %w", err)
	}
	return analysis.Classify(app)
}

// New builds the demo on h. The kernel is not started yet.
func New(h hal.HAL, cfg Config) (*System, error) {
	plan, err := Plan()
	if err != nil {
		return nil, err
	}

	installPanicHandler(h)
	s := &System{h: h}
	opts := []kernel.Option{kernel.WithLogger(h.Logger())}
	if cfg.Trace {
		s.rec = &kernel.Recorder{}
		opts = append(opts, kernel.WithTracer(s.rec))
	}
	s.k = kernel.New(plan, h.Mask(), opts...)

	if err := s.declare(); err != nil {
		return nil, err
	}
	if err := s.bind(); err != nil {
		return nil, err
	}
	return s, nil
}

// Kernel returns the underlying kernel.
func (s *System) Kernel() *kernel.Kernel { return s.k }

// Trace returns the recorded events, or nil when tracing is off.
func (s *System) Trace() []kernel.Event {
	if s.rec == nil {
		return nil
	}
	return s.rec.Events()
}

func (s *System) declare() error {
	var errs []error
	decl := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	s.shared, err = kernel.Declare[uint32](s.k, "shared", 0)
	decl(err)
	s.l1, err = kernel.Declare[uint32](s.k, "l1", 1)
	decl(err)
	s.e1, err = kernel.Declare[uint32](s.k, "e1", 1)
	decl(err)
	s.l2, err = kernel.DeclareLate[uint32](s.k, "l2")
	decl(err)
	s.e2, err = kernel.DeclareLate[uint32](s.k, "e2")
	decl(err)
	s.samples, err = kernel.Declare(s.k, "samples", sampleBuf{})
	decl(err)
	s.beats, err = kernel.Declare[uint64](s.k, "beats", 0)
	decl(err)
	return errors.Join(errs...)
}

func (s *System) bind() error {
	bodies := map[string]func(*kernel.Context){
		"uart0":         s.runUART0,
		"uart1":         s.runUART1,
		"report":        s.runReport,
		"sampler":       s.runSampler,
		"watchdog":      s.runWatchdog,
		config.IdleName: s.runIdle,
	}
	for name, body := range bodies {
		if err := s.k.Bind(name, body); err != nil {
			return err
		}
	}
	ids := map[string]*kernel.TaskID{
		"uart0":    &s.uart0,
		"uart1":    &s.uart1,
		"report":   &s.report,
		"sampler":  &s.sampler,
		"watchdog": &s.watchdog,
	}
	for name, dst := range ids {
		id, ok := s.k.TaskID(name)
		if !ok {
			return fmt.Errorf("%w: %s", kernel.ErrUnknownTask, name)
		}
		*dst = id
	}
	return nil
}

// Start runs init: late resources get their values, both UART handlers are
// pended and the periodic tasks are scheduled.
func (s *System) Start() error {
	return s.k.Start(func(ic *kernel.InitContext) error {
		kernel.InitLate(ic, s.l2, 2)
		kernel.InitLate(ic, s.e2, 2)
		ic.Pend(s.uart0)
		ic.Pend(s.uart1)
		if res := ic.Schedule(s.sampler, samplePeriod); res != kernel.ScheduleOK {
			return fmt.Errorf("schedule sampler: %s", res)
		}
		if res := ic.Schedule(s.watchdog, watchdogPeriod); res != kernel.ScheduleOK {
			return fmt.Errorf("schedule watchdog: %s", res)
		}
		return nil
	})
}

// Run starts the system, feeds HAL ticks to the kernel and runs the core
// loop until ctx is done.
func (s *System) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	if ht := s.h.Time(); ht != nil {
		if ch := ht.Ticks(); ch != nil {
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case seq := <-ch:
						s.k.Tick(seq)
					}
				}
			}()
		}
	}
	return s.k.Run(ctx)
}

// Run builds and runs the demo forever (TinyGo entrypoint).
func Run(h hal.HAL) {
	s, err := New(h, Config{})
	if err != nil {
		h.Logger().WriteLineString("spire: " + err.Error())
		select {}
	}
	if err := s.Run(context.Background()); err != nil {
		h.Logger().WriteLineString("spire: " + err.Error())
	}
	select {}
}
