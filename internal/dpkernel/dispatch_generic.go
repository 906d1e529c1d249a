//go:build (!amd64 && !arm64) || purego

package dpkernel

func detectExtension() string {
	return "scalar"
}
