//go:build arm64 && !purego

package dpkernel

import "golang.org/x/sys/cpu"

func detectExtension() string {
	if cpu.ARM64.HasASIMD {
		return "neon"
	}
	return "scalar"
}
