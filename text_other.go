//go:build !linux && (unix || windows)

package wxpatch

import "fmt"

// mapText maps size bytes of anonymous memory. It's writable only until the
// code has been copied in.
func mapText(size int, code []byte) ([]byte, int, error) {
	mem, err := mmapAnon(size, protRW)
	if err != nil {
		return nil, -1, fmt.Errorf("mmap: %w", err)
	}

	copy(mem, code)

	err = mprotect(mem, protRX)
	if err != nil {
		release(mem)
		return nil, -1, fmt.Errorf("mprotect: %w", err)
	}

	return mem, -1, nil
}
