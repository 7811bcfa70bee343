//go:build !tinygo

package hal

import "time"

const hostTickDur = time.Millisecond

type hostTime struct {
	ch  chan uint64
	seq uint64

	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 16)}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// advance converts wall-clock progress since the last call into whole ticks.
// The first call always emits one tick.
func (t *hostTime) advance(now time.Time) {
	if t.last.IsZero() {
		t.last = now
		t.acc = 0
		t.emit(1)
		return
	}

	t.acc += now.Sub(t.last)
	t.last = now

	ticks := uint64(t.acc / hostTickDur)
	if ticks == 0 {
		return
	}
	t.acc = t.acc % hostTickDur
	t.emit(ticks)
}

// emit advances the count by n and publishes it. Readers only need the
// newest count, so a full channel gives up its oldest entry.
func (t *hostTime) emit(n uint64) {
	t.seq += n
	for {
		select {
		case t.ch <- t.seq:
			return
		default:
		}
		select {
		case <-t.ch:
		default:
		}
	}
}
