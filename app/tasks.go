package app

import "spire/kernel"

func (s *System) runUART0(cx *kernel.Context) {
	shared := kernel.Get(cx, s.shared)
	*shared++
	e1 := kernel.Get(cx, s.e1)
	*e1 += 10
	cx.Logf("shared = %d", *shared)
	cx.Logf("l2 = %d", *kernel.Get(cx, s.l2))
	cx.Logf("e1 = %d", *e1)
}

func (s *System) runUART1(cx *kernel.Context) {
	shared := kernel.Get(cx, s.shared)
	*shared++
	cx.Logf("shared = %d", *shared)
	cx.Logf("e1 = %d", *kernel.Get(cx, s.e1))
}

// runSampler stores one reading and hands the buffer to report.
func (s *System) runSampler(cx *kernel.Context) {
	s.adc = s.adc*31 + 7
	v := s.adc
	kernel.Lock(cx, s.samples, func(b *sampleBuf) {
		if b.n == len(b.data) {
			b.lost++
			return
		}
		b.data[b.n] = v
		b.n++
	})
	cx.Pend(s.report)
	cx.Schedule(cx.Task(), samplePeriod)
}

// runReport drains the sample buffer, then sums the copy outside the
// critical section with a preemption point per sample so the watchdog and
// the sampler are not held off.
func (s *System) runReport(cx *kernel.Context) {
	var batch [sampleSlots]uint16
	var n, lost int
	kernel.Lock(cx, s.samples, func(b *sampleBuf) {
		n = copy(batch[:], b.data[:b.n])
		lost = b.lost
		b.n, b.lost = 0, 0
	})
	if n == 0 {
		return
	}
	var sum uint32
	for _, v := range batch[:n] {
		sum += uint32(v)
		cx.Preempt()
	}
	cx.Logf("%d samples at tick %d, sum %d, lost %d", n, cx.Now(), sum, lost)
}

func (s *System) runWatchdog(cx *kernel.Context) {
	beats := kernel.Get(cx, s.beats)
	*beats++
	cx.Logf("alive at tick %d (beat %d)", cx.Now(), *beats)
	cx.Schedule(cx.Task(), watchdogPeriod)
}

func (s *System) runIdle(cx *kernel.Context) {
	if !s.idleReported {
		s.idleReported = true
		cx.Logf("l1 = %d", *kernel.Get(cx, s.l1))
		cx.Logf("e2 = %d", *kernel.Get(cx, s.e2))
	}
	cx.Wait()
}
