package hal

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// MaxLevel is the highest mask level any platform supports.
const MaxLevel = 255

// Mask is the interrupt priority mask register.
//
// While Level is m, no activation at priority <= m may start. Level 0 masks
// nothing. Set takes effect before it returns.
type Mask interface {
	Level() uint8
	Set(level uint8)
}

// Time provides a base tick stream.
//
// The tick duration is platform-defined; higher-level timers live in the kernel.
type Time interface {
	Ticks() <-chan uint64
}

// HAL provides the only contact point between the kernel and the outside world.
type HAL interface {
	Logger() Logger
	Mask() Mask
	Time() Time
}
