package hal

import "sync/atomic"

// SimMask is a software mask register for hosts and tests.
//
// It counts every write so callers can check that a code path issued no
// masking at all.
type SimMask struct {
	level  atomic.Uint32
	writes atomic.Uint64
}

// NewSimMask returns an unmasked register.
func NewSimMask() *SimMask {
	return &SimMask{}
}

func (m *SimMask) Level() uint8 { return uint8(m.level.Load()) }

func (m *SimMask) Set(level uint8) {
	m.level.Store(uint32(level))
	m.writes.Add(1)
}

// Writes returns the number of Set calls so far.
func (m *SimMask) Writes() uint64 { return m.writes.Load() }
