//go:build !tinygo

package kernel

import "runtime"

const maxStackBytes = 16 << 10

// taskStack returns the core goroutine's stack, truncated to maxStackBytes.
func taskStack() []byte {
	buf := make([]byte, maxStackBytes)
	return buf[:runtime.Stack(buf, false)]
}
