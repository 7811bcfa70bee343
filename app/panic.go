package app

import (
	"fmt"
	"strings"

	"spire/hal"
	"spire/kernel"
)

func installPanicHandler(h hal.HAL) {
	kernel.SetPanicHandler(func(info kernel.PanicInfo) {
		l := h.Logger()
		if l == nil {
			return
		}
		for _, line := range panicLines(info) {
			l.WriteLineString(line)
		}
	})
}

func panicLines(info kernel.PanicInfo) []string {
	lines := []string{
		"Spire Panic:",
		fmt.Sprintf("task: %s (%d)", info.Task, info.TaskID),
		fmt.Sprintf("panic: %v", info.Value),
	}
	if len(info.Stack) == 0 {
		return append(lines, "stack: unavailable")
	}
	lines = append(lines, "stack:")
	for _, line := range strings.Split(string(info.Stack), "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
