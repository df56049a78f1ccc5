package wxpatch

// maxBreakpoints is the most breakpoint slots that are saved while patching.
// Saving is done into a fixed array so nothing is allocated under the lock.
const maxBreakpoints = 2

// Breakpoint is a hardware breakpoint or watchpoint. A zero Type means the
// slot is unused.
type Breakpoint struct {
	Address uintptr
	Type    uint8
	Len     uint8
}

// BreakpointUnit is the set of hardware breakpoint slots of the current
// processor.
type BreakpointUnit interface {
	Slots() int
	Breakpoint(i int) Breakpoint
	SetBreakpoint(i int, bp Breakpoint)
}

// tempSpace holds what has to be put back after a patch: the breakpoints
// that were turned off so the write through the alias doesn't trigger them.
type tempSpace struct {
	bps   BreakpointUnit
	saved [maxBreakpoints]Breakpoint
	n     int
}

func (s *tempSpace) use() {
	s.saved = [maxBreakpoints]Breakpoint{}
	s.n = 0
	if s.bps == nil {
		return
	}

	s.n = min(s.bps.Slots(), maxBreakpoints)
	for i := 0; i < s.n; i++ {
		s.saved[i] = s.bps.Breakpoint(i)
		if s.saved[i].Type != 0 {
			s.bps.SetBreakpoint(i, Breakpoint{})
		}
	}
}

func (s *tempSpace) unuse() {
	for i := 0; i < s.n; i++ {
		if s.saved[i].Type != 0 {
			s.bps.SetBreakpoint(i, s.saved[i])
		}
	}
}
