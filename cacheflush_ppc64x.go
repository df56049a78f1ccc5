//go:build ppc64 || ppc64le

package wxpatch

// flushLine writes the data cache block holding patch back to memory and
// invalidates the instruction cache block holding exec.
func flushLine(patch, exec uintptr)

// cacheflush runs the store/flush/invalidate sequence for each word that was
// written. The data block is cleaned through the address that was stored to,
// the instruction block is invalidated through the address that runs.
func cacheflush(patch, exec uintptr, n int) {
	for off := uintptr(0); off < uintptr(n); off += 4 {
		flushLine(patch+off, exec+off)
	}
}
