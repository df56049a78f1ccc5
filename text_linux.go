package wxpatch

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapText maps size bytes of a new memfd read/execute. The file is filled
// with code before it's mapped, so the mapping never needs to be writable.
func mapText(size int, code []byte) ([]byte, int, error) {
	fd, err := unix.MemfdCreate("wxpatch-text", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, -1, fmt.Errorf("memfd_create: %w", err)
	}

	err = fillText(fd, size, code)
	if err != nil {
		unix.Close(fd)
		return nil, -1, err
	}

	mem, err := unix.Mmap(fd, 0, size, protRX, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, -1, fmt.Errorf("mmap: %w", err)
	}

	return mem, fd, nil
}

func fillText(fd int, size int, code []byte) error {
	err := unix.Ftruncate(fd, int64(size))
	if err != nil {
		return fmt.Errorf("ftruncate: %w", err)
	}

	for off := 0; off < len(code); {
		n, err := unix.Pwrite(fd, code[off:], int64(off))
		if err != nil {
			return fmt.Errorf("pwrite: %w", err)
		}
		off += n
	}

	return nil
}
