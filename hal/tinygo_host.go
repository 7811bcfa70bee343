//go:build tinygo && !baremetal

package hal

import "runtime"

type tinyGoHostHAL struct {
	logger *printLogger
	mask   *SimMask
	t      *tinyGoTime
}

// New returns a TinyGo-on-host HAL implementation.
//
// This is used by `tinygo run` targets like linux/wasm where there are no
// interrupt lines; the mask is simulated.
func New() HAL {
	l := &printLogger{}
	l.WriteLineString("hal: tinygo/" + runtime.GOOS + " simulated mask")
	return &tinyGoHostHAL{
		logger: l,
		mask:   NewSimMask(),
		t:      newTinyGoTime(),
	}
}

func (h *tinyGoHostHAL) Logger() Logger { return h.logger }
func (h *tinyGoHostHAL) Mask() Mask     { return h.mask }
func (h *tinyGoHostHAL) Time() Time     { return h.t }

type printLogger struct{}

func (l *printLogger) WriteLineString(s string) {
	println(s)
}

func (l *printLogger) WriteLineBytes(b []byte) {
	println(string(b))
}
