//go:build tinygo && baremetal

package hal

import "runtime/interrupt"

// irqMask maps mask levels onto TinyGo's global interrupt disable.
//
// TinyGo exposes no per-level register, so any nonzero level masks every
// line. That is stricter than a ceiling and therefore still sound.
type irqMask struct {
	level  uint8
	masked bool
	state  interrupt.State
}

func (m *irqMask) Level() uint8 { return m.level }

func (m *irqMask) Set(level uint8) {
	if level > 0 {
		if !m.masked {
			m.state = interrupt.Disable()
			m.masked = true
		}
		m.level = level
		return
	}
	m.level = 0
	if m.masked {
		m.masked = false
		interrupt.Restore(m.state)
	}
}
