package wxpatch

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/pboyd/wxpatch/ppcinst"
)

// ErrSelfTest is wrapped by every failure SelfTest reports.
var ErrSelfTest = errors.New("self-test failed")

// SelfTest checks the branch encoder and the patch path of p against real
// executable memory. p must be initialized with the default frame resolver.
// The result joins one error per failed check.
func SelfTest(p *Patcher) error {
	if !p.Initialized() {
		return fmt.Errorf("%w: patcher is not initialized", ErrSelfTest)
	}

	s := &selfTest{p: p}
	s.branchIForm()
	s.branchBForm()
	s.functionCall()
	s.translateBranch()
	s.prefixedPatching()

	if len(s.errs) == 0 {
		p.log.Debug("code patching self-tests passed")
		return nil
	}
	p.log.WithField("failures", len(s.errs)).Error("code patching self-tests failed")
	return errors.Join(s.errs...)
}

type selfTest struct {
	p    *Patcher
	errs []error
}

func (s *selfTest) check(name string, ok bool) {
	if ok {
		return
	}
	s.p.log.WithField("check", name).Error("self-test failed")
	s.errs = append(s.errs, fmt.Errorf("%w: %s", ErrSelfTest, name))
}

func (s *selfTest) fail(name string, err error) {
	s.p.log.WithField("check", name).WithError(err).Error("self-test failed")
	s.errs = append(s.errs, fmt.Errorf("%w: %s: %w", ErrSelfTest, name, err))
}

func (s *selfTest) load(addr uintptr) ppcinst.Inst {
	inst, err := ppcinst.Load(addr)
	if err != nil {
		s.fail("load", err)
	}
	return inst
}

// branchesTo reports whether the instruction in memory at addr branches to
// target.
func (s *selfTest) branchesTo(addr, target uintptr) bool {
	return ppcinst.IsBranchToAddr(s.load(addr), addr, target)
}

func (s *selfTest) created(name string, inst ppcinst.Inst, err error, addr, target uintptr) {
	if err != nil {
		s.fail(name, err)
		return
	}
	s.check(name, ppcinst.IsBranchToAddr(inst, addr, target))
}

func (s *selfTest) branchIForm() {
	isIForm := func(w uint32) bool {
		return ppcinst.Classify(ppcinst.New(w)) == ppcinst.Unconditional
	}

	s.check("iform: branch to self", isIForm(0x48000000))
	s.check("iform: all target bits and flags", isIForm(0x4bffffff))
	s.check("iform: high opcode bit", !isIForm(0xcbffffff))
	s.check("iform: middle opcode bits", !isIForm(0x7bffffff))
	s.check("iform: branch to self with link", isIForm(0x48000001))
	s.check("iform: all target bits with link", isIForm(0x4bfffffd))
	s.check("iform: some target bits", isIForm(0x4bff00fd))
	s.check("iform: invalid with link", !isIForm(0x7bfffffd))

	var slot uint32
	addr := addrOf(&slot)
	to := func(w uint32, target uintptr) bool {
		return ppcinst.IsBranchToAddr(ppcinst.New(w), addr, target)
	}

	s.check("iform: absolute to 0x100", to(0x48000103, 0x100))
	s.check("iform: absolute to 0x420fc", to(0x480420ff, 0x420fc))
	s.check("iform: max positive", to(0x49fffffc, addr+0x1fffffc))
	s.check("iform: smallest negative", to(0x4bfffffc, addr-4))
	s.check("iform: largest negative", to(0x4a000000, addr-0x2000000))

	inst, err := ppcinst.CreateBranch(addr, addr, ppcinst.BranchSetLink)
	s.created("iform: create to self", inst, err, addr, addr)
	inst, err = ppcinst.CreateBranch(addr, addr-0x100, ppcinst.BranchSetLink)
	s.created("iform: create to self-0x100", inst, err, addr, addr-0x100)
	inst, err = ppcinst.CreateBranch(addr, addr+0x100, 0)
	s.created("iform: create to self+0x100", inst, err, addr, addr+0x100)
	inst, err = ppcinst.CreateBranch(addr, addr-0x2000000, ppcinst.BranchSetLink)
	s.created("iform: create max negative", inst, err, addr, addr-0x2000000)

	_, err = ppcinst.CreateBranch(addr, addr-0x2000004, ppcinst.BranchSetLink)
	s.check("iform: out of range negative", errors.Is(err, ppcinst.ErrBranchRange))
	_, err = ppcinst.CreateBranch(addr, addr+0x2000000, ppcinst.BranchSetLink)
	s.check("iform: out of range positive", errors.Is(err, ppcinst.ErrBranchRange))
	_, err = ppcinst.CreateBranch(addr, addr+3, ppcinst.BranchSetLink)
	s.check("iform: unaligned target", errors.Is(err, ppcinst.ErrBranchRange))

	inst, err = ppcinst.CreateBranch(addr, addr, 0xfffffffc)
	s.created("iform: flags masked", inst, err, addr, addr)
	s.check("iform: flags masked encoding", inst.Equal(ppcinst.New(0x48000000)))
}

func (s *selfTest) branchBForm() {
	isBForm := func(w uint32) bool {
		return ppcinst.Classify(ppcinst.New(w)) == ppcinst.Conditional
	}

	s.check("bform: branch to self", isBForm(0x40000000))
	s.check("bform: all target bits and flags", isBForm(0x43ffffff))
	s.check("bform: high opcode bit", !isBForm(0xc3ffffff))
	s.check("bform: middle opcode bits", !isBForm(0x7bffffff))

	var slot uint32
	addr := addrOf(&slot)
	to := func(w uint32, target uintptr) bool {
		return ppcinst.IsBranchToAddr(ppcinst.New(w), addr, target)
	}

	s.check("bform: absolute to 0x100", to(0x43ff0103, 0x100))
	s.check("bform: absolute to 0x20fc", to(0x43ff20ff, 0x20fc))
	s.check("bform: max positive", to(0x43ff7ffc, addr+0x7ffc))
	s.check("bform: smallest negative", to(0x43fffffc, addr-4))
	s.check("bform: largest negative", to(0x43ff8000, addr-0x8000))

	// All condition bits and link.
	flags := uint32(0x3ff000 | ppcinst.BranchSetLink)

	inst, err := ppcinst.CreateCondBranch(addr, addr, flags)
	s.created("bform: create to self", inst, err, addr, addr)
	inst, err = ppcinst.CreateCondBranch(addr, addr-0x100, flags)
	s.created("bform: create to self-0x100", inst, err, addr, addr-0x100)
	inst, err = ppcinst.CreateCondBranch(addr, addr+0x100, flags)
	s.created("bform: create to self+0x100", inst, err, addr, addr+0x100)
	inst, err = ppcinst.CreateCondBranch(addr, addr-0x8000, flags)
	s.created("bform: create max negative", inst, err, addr, addr-0x8000)

	_, err = ppcinst.CreateCondBranch(addr, addr-0x8004, flags)
	s.check("bform: out of range negative", errors.Is(err, ppcinst.ErrBranchRange))
	_, err = ppcinst.CreateCondBranch(addr, addr+0x8000, flags)
	s.check("bform: out of range positive", errors.Is(err, ppcinst.ErrBranchRange))
	_, err = ppcinst.CreateCondBranch(addr, addr+3, flags)
	s.check("bform: unaligned target", errors.Is(err, ppcinst.ErrBranchRange))

	inst, err = ppcinst.CreateCondBranch(addr, addr, 0xfffffffc)
	s.created("bform: flags masked", inst, err, addr, addr)
	s.check("bform: flags masked encoding", inst.Equal(ppcinst.New(0x43ff0000)))
}

// functionCall patches a call from one routine in a Text to another.
func (s *selfTest) functionCall() {
	t, err := LoadText(nops(int(pageSize)))
	if err != nil {
		s.fail("function call: text", err)
		return
	}
	defer t.Close()

	trampoline := t.Addr() + 0x100
	dest := t.Addr() + 0x800

	err = s.p.PatchBranch(trampoline, dest, ppcinst.BranchSetLink)
	if err != nil {
		s.fail("function call: patch", err)
		return
	}
	s.check("function call", s.branchesTo(trampoline, dest))
}

func (s *selfTest) translateBranch() {
	t, err := NewText(0x2000000 + 1)
	if err != nil {
		s.fail("translate: text", err)
		return
	}
	defer t.Close()

	buf := t.Addr()

	// translate moves the branch at from to to.
	translate := func(name string, to, from uintptr) {
		inst, err := ppcinst.TranslateBranch(to, from, s.load(from))
		if err != nil {
			s.fail(name, err)
			return
		}
		err = s.p.Patch(to, inst)
		if err != nil {
			s.fail(name, err)
		}
	}
	branch := func(name string, at, target uintptr, flags uint32) {
		err := s.p.PatchBranch(at, target, flags)
		if err != nil {
			s.fail(name, err)
		}
	}
	condBranch := func(name string, at, target uintptr, flags uint32) {
		inst, err := ppcinst.CreateCondBranch(at, target, flags)
		if err == nil {
			err = s.p.Patch(at, inst)
		}
		if err != nil {
			s.fail(name, err)
		}
	}
	both := func(name string, p, q, addr uintptr) {
		s.check(name+": original", s.branchesTo(p, addr))
		s.check(name+": translated", s.branchesTo(q, addr))
	}

	cases := []struct {
		name     string
		cond     bool
		p, q     uintptr
		target   uintptr
		flags    uint32
		expected uint32 // 0 to skip the encoding check
	}{
		{name: "b to self moved a little", p: buf, q: buf + 4, target: buf},
		{name: "b max negative", p: buf, q: buf + 0x2000000, target: buf, expected: 0x4a000000},
		{name: "b max positive", p: buf + 0x2000000, q: buf + 4, target: buf + 0x2000000, expected: 0x49fffffc},
		{name: "bl +16MB moved to +20MB", p: buf, q: buf + 0x1400000, target: buf + 0x1000000, flags: ppcinst.BranchSetLink},
		{name: "b +16MB moved to -16MB+4", p: buf + 0x1000000, q: buf + 4, target: buf + 0x2000000},

		{name: "bc to self moved a little", cond: true, p: buf, q: buf + 4, target: buf},
		{name: "bc max negative", cond: true, p: buf, q: buf + 0x8000, target: buf, flags: 0xfffffffc, expected: 0x43ff8000},
		{name: "bc max positive", cond: true, p: buf + 0x8000, q: buf + 4, target: buf + 0x8000, flags: 0xfffffffc, expected: 0x43ff7ffc},
		{name: "bcl +12KB moved to +20KB", cond: true, p: buf, q: buf + 0x5000, target: buf + 0x3000, flags: ppcinst.BranchSetLink},
		{name: "bc +8KB moved to -8KB+4", cond: true, p: buf + 0x2000, q: buf + 4, target: buf + 0x4000},
	}

	for _, tc := range cases {
		name := "translate: " + tc.name
		if tc.cond {
			condBranch(name, tc.p, tc.target, tc.flags)
		} else {
			branch(name, tc.p, tc.target, tc.flags)
		}
		translate(name, tc.q, tc.p)
		both(name, tc.p, tc.q, tc.target)

		if tc.expected != 0 {
			s.check(name+": encoding", s.load(tc.q).Equal(ppcinst.New(tc.expected)))
		}
	}
}

// prefixedPatching writes a prefixed instruction over nops, once 8-byte
// aligned and once not, and checks nothing else changed.
func (s *selfTest) prefixedPatching() {
	const words = 8
	inst := ppcinst.NewPrefixed(opPrefixWord, 0)

	for _, off := range []int{4, 8} {
		name := fmt.Sprintf("prefixed at offset %d", off)

		t, err := LoadText(nops(words * 4))
		if err != nil {
			s.fail(name, err)
			continue
		}

		err = s.p.Patch(t.Addr()+uintptr(off), inst)
		if err != nil {
			s.fail(name, err)
		} else {
			expected := nops(words * 4)
			ppcinst.Put(expected[off:], inst)
			s.check(name, string(t.Bytes()[:words*4]) == string(expected))
		}

		t.Close()
	}
}

// opPrefixWord is a prefix with all fields zero.
const opPrefixWord = 1 << 26

const nopWord = 0x60000000

func addrOf(w *uint32) uintptr {
	return uintptr(unsafe.Pointer(w))
}

func nops(n int) []byte {
	code := make([]byte, n)
	for i := 0; i+4 <= n; i += 4 {
		ppcinst.Put(code[i:], ppcinst.New(nopWord))
	}
	return code
}
