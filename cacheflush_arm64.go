//go:build arm64

package wxpatch

import "unsafe"

/*
static void cacheflush(char *start, char *end) {
	__builtin___clear_cache(start, end);
}
*/
import "C"

// cacheflush makes n bytes written through patch visible to instruction
// fetch at exec. Both addresses map the same memory, and the data cache is
// physically tagged, so cleaning by the exec address is enough.
func cacheflush(patch, exec uintptr, n int) {
	start := unsafe.Pointer(exec)
	end := unsafe.Pointer(exec + uintptr(n))
	C.cacheflush((*C.char)(start), (*C.char)(end))
}
