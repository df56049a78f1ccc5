//go:build windows

package wxpatch

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	protNone = windows.PAGE_NOACCESS
	protRX   = windows.PAGE_EXECUTE_READ
	protRW   = windows.PAGE_READWRITE
)

var pageSize = uintptr(syscall.Getpagesize())

func mprotect(buf []byte, prot int) error {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))

	// Round address down to page boundary.
	pageStart := addr &^ (pageSize - 1)

	// Round up to cover complete pages.
	regionSize := (addr - pageStart + uintptr(cap(buf)) + pageSize - 1) &^ (pageSize - 1)

	var oldFlags uint32
	return windows.VirtualProtect(pageStart, regionSize, uint32(prot), &oldFlags)
}

func mmapAnon(size int, prot int) ([]byte, error) {
	size = roundPage(size)
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, uint32(prot))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// release decommits the pages of buf. Later access faults.
func release(buf []byte) error {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	return windows.VirtualFree(addr, uintptr(len(buf)), windows.MEM_DECOMMIT)
}

// releaseRange decommits n bytes at addr.
func releaseRange(addr, n uintptr) error {
	return windows.VirtualFree(addr, n, windows.MEM_DECOMMIT)
}

func closeFD(fd int) error {
	return nil
}

func roundPage(size int) int {
	return (size + int(pageSize) - 1) &^ (int(pageSize) - 1)
}
