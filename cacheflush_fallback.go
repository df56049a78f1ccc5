//go:build !arm64 && !ppc64 && !ppc64le

package wxpatch

// Instruction fetch is coherent with stores on amd64, so there's nothing to
// do there.
func cacheflush(patch, exec uintptr, n int) {}
