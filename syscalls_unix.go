//go:build unix

package wxpatch

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	protNone = unix.PROT_NONE
	protRX   = unix.PROT_READ | unix.PROT_EXEC
	protRW   = unix.PROT_READ | unix.PROT_WRITE
)

var pageSize = uintptr(unix.Getpagesize())

func mprotect(buf []byte, prot int) error {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))

	// Round address down to page boundary.
	// Example: addr=4196 with pageSize=4096 becomes 4096.
	pageStart := addr &^ (pageSize - 1)

	// Cover the offset from pageStart to addr as well as the buffer, and
	// round up to complete pages.
	regionSize := (addr - pageStart + uintptr(cap(buf)) + pageSize - 1) &^ (pageSize - 1)

	region := unsafe.Slice((*byte)(unsafe.Pointer(pageStart)), regionSize)
	return unix.Mprotect(region, prot)
}

func mmapAnon(size int, prot int) ([]byte, error) {
	size = roundPage(size)
	return unix.Mmap(-1, 0, size, prot, unix.MAP_PRIVATE|unix.MAP_ANON)
}

// release returns the pages of buf to the OS. buf must be a whole mapping.
// Later access faults.
func release(buf []byte) error {
	return unix.Munmap(buf)
}

// releaseRange unmaps n bytes at addr, which may be part of a larger mapping.
func releaseRange(addr, n uintptr) error {
	return unix.MunmapPtr(unsafe.Pointer(addr), n)
}

func closeFD(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

func roundPage(size int) int {
	return (size + int(pageSize) - 1) &^ (int(pageSize) - 1)
}
