//go:build amd64 && !purego

package dpkernel

import "golang.org/x/sys/cpu"

// detectExtension names the widest vector extension available on this
// core. The forward-fill arithmetic itself is portable Go regardless
// of the answer; this is only reported in Result.Extension, for
// diagnostics, so a slow run can be explained.
func detectExtension() string {
	switch {
	case cpu.X86.HasAVX512F:
		return "avx512"
	case cpu.X86.HasAVX2:
		return "avx2"
	case cpu.X86.HasSSE41:
		return "sse4.1"
	default:
		return "scalar"
	}
}
