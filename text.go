package wxpatch

import (
	"errors"
	"fmt"
	"unsafe"
)

// Text is a region of executable memory. It is never writable through its
// own address; use a Patcher to change it.
type Text struct {
	mem  []byte
	addr uintptr
	size int

	// fd backs mem so it can be mapped a second time. It is -1 where the
	// region is anonymous memory.
	fd int
}

// NewText returns a Text of at least size bytes, rounded up to whole pages.
// The contents are zero.
func NewText(size int) (*Text, error) {
	return newText(size, nil)
}

// LoadText returns a Text holding a copy of code.
func LoadText(code []byte) (*Text, error) {
	return newText(len(code), code)
}

func newText(size int, code []byte) (*Text, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid text size %d", size)
	}

	mem, fd, err := mapText(roundPage(size), code)
	if err != nil {
		return nil, fmt.Errorf("unable to map text: %w", err)
	}

	t := &Text{
		mem:  mem,
		addr: uintptr(unsafe.Pointer(unsafe.SliceData(mem))),
		size: len(mem),
		fd:   fd,
	}
	texts.add(t)
	return t, nil
}

// Addr returns the address of the first byte.
func (t *Text) Addr() uintptr {
	return t.addr
}

// Len returns the size of the region in bytes.
func (t *Text) Len() int {
	return t.size
}

// Bytes returns the region's memory. Writing to it faults.
func (t *Text) Bytes() []byte {
	return t.mem
}

// Contains reports whether [addr, addr+n) is inside the region.
func (t *Text) Contains(addr uintptr, n int) bool {
	end := addr + uintptr(n)
	return addr >= t.Addr() && end >= addr && end <= t.end()
}

func (t *Text) end() uintptr {
	return t.addr + uintptr(t.size)
}

// Release gives the pages covering [off, off+n) back to the OS. off must be
// page aligned. Patches to released memory are skipped.
func (t *Text) Release(off, n int) error {
	if uintptr(off)&(pageSize-1) != 0 {
		return fmt.Errorf("release offset %#x is not page aligned", off)
	}
	n = roundPage(n)
	if off < 0 || n <= 0 || off+n > len(t.mem) {
		return fmt.Errorf("release range [%#x, %#x) is outside the text", off, off+n)
	}

	start := t.Addr() + uintptr(off)

	// Mark first so nothing patches the pages while they go away.
	texts.reclaim(start, start+uintptr(n))

	err := releaseRange(start, uintptr(n))
	if err != nil {
		return fmt.Errorf("release [%#x, %#x): %w", start, start+uintptr(n), err)
	}
	return nil
}

// Close releases the whole region, including pages that were already
// released.
func (t *Text) Close() error {
	if t.mem == nil {
		return nil
	}

	start, end := t.Addr(), t.end()
	texts.reclaim(start, end)
	texts.remove(t)

	err := errors.Join(release(t.mem), closeFD(t.fd))
	t.mem = nil
	t.fd = -1
	return err
}

// frame returns the backing of the page containing addr.
func (t *Text) frame(addr uintptr) Frame {
	if t.fd < 0 {
		return Frame{FD: -1}
	}
	page := (addr &^ (pageSize - 1)) - t.Addr()
	return Frame{FD: t.fd, Offset: int64(page)}
}
