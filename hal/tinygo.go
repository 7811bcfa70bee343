//go:build tinygo && baremetal

package hal

import "machine"

type tinyGoHAL struct {
	logger *uartLogger
	mask   *irqMask
	t      *tinyGoTime
}

// New returns a Cortex-M HAL implementation.
//
// UART: UART0 on the board default pins, 115200 8N1.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{BaudRate: 115200})

	return &tinyGoHAL{
		logger: &uartLogger{uart: uart},
		mask:   &irqMask{},
		t:      newTinyGoTime(),
	}
}

func (h *tinyGoHAL) Logger() Logger { return h.logger }
func (h *tinyGoHAL) Mask() Mask     { return h.mask }
func (h *tinyGoHAL) Time() Time     { return h.t }
