//go:build tinygo

package kernel

func taskStack() []byte {
	return nil
}
