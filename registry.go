package wxpatch

import (
	"slices"
	"sync"
)

// Frame is the memory backing a page: a file descriptor that can be mapped
// and the page's offset within it. FD is -1 for memory that can't be mapped a
// second time.
type Frame struct {
	FD     int
	Offset int64
}

// FrameResolver finds the Frame for a page.
type FrameResolver interface {
	// Frame returns the backing of the page containing addr. ok is false
	// for memory the resolver knows nothing about.
	Frame(addr uintptr) (f Frame, ok bool)
}

// Reclaimer reports memory that has been given back and must not be
// patched.
type Reclaimer interface {
	Reclaimed(addr uintptr, n int) bool
}

type span struct {
	start, end uintptr
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// registry tracks every Text in the process, and the address ranges that
// were released.
type registry struct {
	mu        sync.RWMutex
	texts     []*Text // sorted by address
	reclaimed []span
}

var texts = &registry{}

func (r *registry) add(t *Text) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, _ := slices.BinarySearchFunc(r.texts, t.Addr(), func(e *Text, addr uintptr) int {
		switch {
		case e.Addr() < addr:
			return -1
		case e.Addr() > addr:
			return 1
		}
		return 0
	})
	r.texts = slices.Insert(r.texts, i, t)

	// The OS handed the addresses out again, so they're live.
	r.reclaimed = subtract(r.reclaimed, span{t.Addr(), t.end()})
}

func (r *registry) remove(t *Text) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.texts = slices.DeleteFunc(r.texts, func(e *Text) bool {
		return e == t
	})
}

func (r *registry) reclaim(start, end uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reclaimed = append(subtract(r.reclaimed, span{start, end}), span{start, end})
}

// lookup returns the Text containing addr. The caller must hold mu.
func (r *registry) lookup(addr uintptr) *Text {
	i, found := slices.BinarySearchFunc(r.texts, addr, func(e *Text, addr uintptr) int {
		switch {
		case e.end() <= addr:
			return -1
		case e.Addr() > addr:
			return 1
		}
		return 0
	})
	if !found {
		return nil
	}
	return r.texts[i]
}

func (r *registry) isReclaimed(s span) bool {
	for _, rs := range r.reclaimed {
		if rs.overlaps(s) {
			return true
		}
	}
	return false
}

// Frame implements FrameResolver.
func (r *registry) Frame(addr uintptr) (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.isReclaimed(span{addr, addr + 1}) {
		return Frame{}, false
	}

	t := r.lookup(addr)
	if t == nil {
		return Frame{}, false
	}
	return t.frame(addr), true
}

// Reclaimed implements Reclaimer.
func (r *registry) Reclaimed(addr uintptr, n int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.isReclaimed(span{addr, addr + uintptr(n)})
}

// subtract returns spans with the addresses in s removed.
func subtract(spans []span, s span) []span {
	out := spans[:0]
	var tail []span
	for _, e := range spans {
		if !e.overlaps(s) {
			out = append(out, e)
			continue
		}
		if e.start < s.start {
			out = append(out, span{e.start, s.start})
		}
		if e.end > s.end {
			tail = append(tail, span{s.end, e.end})
		}
	}
	return append(out, tail...)
}
