package wxpatch

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const aliasSupported = true

// reserveScratch claims [addr, addr+size) with an inaccessible mapping. The
// slot stays reserved for the life of the process.
func reserveScratch(addr, size uintptr) error {
	ret, err := unix.MmapPtr(-1, 0, unsafe.Pointer(addr), size, protNone,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|_MAP_FIXED_NOREPLACE)
	if errors.Is(err, unix.EEXIST) {
		return errScratchTaken
	}
	if err != nil {
		return err
	}

	if uintptr(ret) != addr {
		unix.MunmapPtr(ret, size)
		return errScratchTaken
	}

	return nil
}

// mapScratch replaces the reserved slot with a writable mapping of f.
func mapScratch(addr, size uintptr, f Frame) error {
	ret, err := unix.MmapPtr(f.FD, f.Offset, unsafe.Pointer(addr), size, protRW,
		unix.MAP_SHARED|unix.MAP_FIXED)
	if err != nil {
		return fmt.Errorf("mmap scratch: %w", err)
	}
	if uintptr(ret) != addr {
		return fmt.Errorf("mmap scratch: mapped at %#x instead of %#x", uintptr(ret), addr)
	}
	return nil
}

// unmapScratch puts the inaccessible reservation back. Replacing the mapping
// drops the old translation from the TLB before mmap returns.
func unmapScratch(addr, size uintptr) error {
	_, err := unix.MmapPtr(-1, 0, unsafe.Pointer(addr), size, protNone,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED)
	if err != nil {
		return dropScratch(addr, size, fmt.Errorf("unmap scratch: %w", err))
	}
	return nil
}

// dropScratch removes the alias at addr after the reservation couldn't be
// put back over it, and tries to reserve the slot again. cause is returned
// along with errScratchLost if the slot is gone.
func dropScratch(addr, size uintptr, cause error) error {
	err := unix.MunmapPtr(unsafe.Pointer(addr), size)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("munmap scratch: %w", err), errScratchLost)
	}

	err = reserveScratch(addr, size)
	if err != nil {
		return errors.Join(cause, errScratchLost)
	}
	return cause
}
