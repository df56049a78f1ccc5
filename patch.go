package wxpatch

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pboyd/wxpatch/ppcinst"
	"github.com/sirupsen/logrus"
)

// Patcher changes instructions in executable memory.
//
// Before Init, patches are plain stores, which only works on writable memory.
// After Init every patch goes through the Patcher's scratch mapping, one at a
// time, and the target's own mapping is never made writable.
type Patcher struct {
	cfg Config
	log logrus.FieldLogger

	mu     sync.Mutex
	owner  atomic.Int64 // thread holding mu, where threadID is supported
	initMu sync.Mutex
	poker  atomic.Pointer[Poker]
}

// New returns a Patcher. It must be initialized with Init before it can
// patch read-only memory.
func New(cfg Config) *Patcher {
	cfg = cfg.withDefaults()
	return &Patcher{
		cfg: cfg,
		log: cfg.Logger,
	}
}

// Init reserves the scratch mapping. It returns ErrInitialized if called
// more than once.
func (p *Patcher) Init() error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.poker.Load() != nil {
		return ErrInitialized
	}

	pk, err := NewPoker(p.cfg)
	if err != nil {
		p.log.WithError(err).Error("unable to set up patching")
		return err
	}

	p.poker.Store(pk)
	return nil
}

// Initialized reports whether Init has succeeded.
func (p *Patcher) Initialized() bool {
	return p.poker.Load() != nil
}

// ScratchAddr returns the address the Patcher maps pages at while writing
// them. It is 0 before Init, or where pages are patched by changing their
// protection instead.
func (p *Patcher) ScratchAddr() uintptr {
	pk := p.poker.Load()
	if pk == nil {
		return 0
	}
	return pk.Addr()
}

// Lock takes the patch lock and pins the calling goroutine to its thread. The
// returned func releases both. Before Init it does nothing.
//
//	unlock := p.Lock()
//	defer unlock()
func (p *Patcher) Lock() (unlock func()) {
	if !p.Initialized() {
		return func() {}
	}
	return p.lock()
}

func (p *Patcher) lock() func() {
	runtime.LockOSThread()
	p.mu.Lock()
	p.owner.Store(threadID())
	return func() {
		p.owner.Store(0)
		p.mu.Unlock()
		runtime.UnlockOSThread()
	}
}

// holdsLock reports whether the caller holds the patch lock. Where the OS
// thread ID isn't available it can only tell that nobody holds it.
func (p *Patcher) holdsLock() bool {
	if id := threadID(); id != 0 {
		return p.owner.Load() == id
	}
	if p.mu.TryLock() {
		p.mu.Unlock()
		return false
	}
	return true
}

// Patch writes inst at addr and reads it back.
//
// Patching memory that has been released is skipped and reported as success.
func (p *Patcher) Patch(addr uintptr, inst ppcinst.Inst) error {
	if p.reclaimed(addr, inst) {
		return nil
	}

	// The Poker is loaded once so a concurrent Init can't hand this patch
	// the scratch slot without the lock.
	pk := p.poker.Load()
	if pk != nil {
		defer p.lock()()
	}

	return p.patch(pk, addr, inst)
}

// PatchUnlocked is Patch for callers that already hold the lock from Lock.
//
// After Init it returns ErrNotLocked if the calling goroutine doesn't hold
// the lock. On Linux and Windows the holder is identified by its pinned OS
// thread. Elsewhere only an unheld lock is detected, so a caller that skips
// Lock while another goroutine holds it is not caught.
func (p *Patcher) PatchUnlocked(addr uintptr, inst ppcinst.Inst) error {
	pk := p.poker.Load()
	if pk != nil && !p.holdsLock() {
		return ErrNotLocked
	}

	if p.reclaimed(addr, inst) {
		return nil
	}

	return p.patch(pk, addr, inst)
}

// PatchBranch writes a branch at addr to target. flags may include
// ppcinst.BranchSetLink and ppcinst.BranchAbsolute. Nothing is written if
// target is out of range.
func (p *Patcher) PatchBranch(addr, target uintptr, flags uint32) error {
	inst, err := ppcinst.CreateBranch(addr, target, flags)
	if err != nil {
		return err
	}
	return p.Patch(addr, inst)
}

// PatchBranchUnlocked is PatchBranch for callers holding the lock.
func (p *Patcher) PatchBranchUnlocked(addr, target uintptr, flags uint32) error {
	inst, err := ppcinst.CreateBranch(addr, target, flags)
	if err != nil {
		return err
	}
	return p.PatchUnlocked(addr, inst)
}

// PatchRelocated writes inst, which was taken from the address from, at
// addr. A relative branch is adjusted so it still reaches its target.
func (p *Patcher) PatchRelocated(addr, from uintptr, inst ppcinst.Inst) error {
	inst, err := relocateInst(addr, from, inst)
	if err != nil {
		return err
	}
	return p.Patch(addr, inst)
}

// Copy copies n bytes of instructions from src to dest, adjusting relative
// branches that leave the block. The whole copy is made under one lock.
func (p *Patcher) Copy(dest, src uintptr, n int) error {
	code, err := loadCode(src, n)
	if err != nil {
		return err
	}

	code, err = ppcinst.Relocate(code, src, dest)
	if err != nil {
		return err
	}

	pk := p.poker.Load()
	if pk != nil {
		defer p.lock()()
	}

	for i := 0; i < len(code); {
		inst, err := ppcinst.Read(code[i:])
		if err != nil {
			return err
		}

		addr := dest + uintptr(i)
		if p.reclaimed(addr, inst) {
			i += inst.Len()
			continue
		}

		err = p.patch(pk, addr, inst)
		if err != nil {
			return fmt.Errorf("copy to %#x: %w", dest+uintptr(i), err)
		}

		i += inst.Len()
	}

	return nil
}

func relocateInst(addr, from uintptr, inst ppcinst.Inst) (ppcinst.Inst, error) {
	if !ppcinst.IsRelativeBranch(inst) {
		return inst, nil
	}
	return ppcinst.TranslateBranch(addr, from, inst)
}

// loadCode reads n bytes of instructions at addr.
func loadCode(addr uintptr, n int) ([]byte, error) {
	if n%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes at %#x", ppcinst.ErrShort, n, addr)
	}

	code := make([]byte, n)
	for i := 0; i < n; {
		inst, err := ppcinst.Load(addr + uintptr(i))
		if err != nil {
			return nil, err
		}

		// A prefix in the last word would need a suffix outside the block.
		_, err = ppcinst.Put(code[i:], inst)
		if err != nil {
			return nil, fmt.Errorf("load code at %#x: %w", addr+uintptr(i), err)
		}

		i += inst.Len()
	}

	return code, nil
}

func (p *Patcher) reclaimed(addr uintptr, inst ppcinst.Inst) bool {
	if !p.cfg.Reclaimed.Reclaimed(addr, inst.Len()) {
		return false
	}

	p.log.WithField("addr", fmt.Sprintf("%#x", addr)).Debug("skipping patch to released memory")
	return true
}

// patch writes inst and reads it back. With a Poker the caller must hold the
// lock, and the read-back happens under it too so a later patch to the same
// address can't be mistaken for a bad write. A nil Poker means a plain store.
func (p *Patcher) patch(pk *Poker, addr uintptr, inst ppcinst.Inst) error {
	err := write(pk, addr, inst)
	if err != nil {
		return err
	}
	return p.verify(addr, inst)
}

func write(pk *Poker, addr uintptr, inst ppcinst.Inst) error {
	if pk != nil {
		return pk.poke(addr, inst)
	}

	err := ppcinst.Store(addr, inst)
	if err != nil {
		return err
	}
	cacheflush(addr, addr, inst.Len())
	return nil
}

func (p *Patcher) verify(addr uintptr, inst ppcinst.Inst) error {
	got, err := ppcinst.Load(addr)
	if err != nil {
		return err
	}
	if got.Equal(inst) {
		return nil
	}

	p.log.WithFields(logrus.Fields{
		"addr":     fmt.Sprintf("%#x", addr),
		"expected": listing(inst, addr),
		"found":    listing(got, addr),
	}).Error("patch verification failed")

	return fmt.Errorf("%w at %#x: wrote %v, read %v", ErrMismatch, addr, inst, got)
}

// listing disassembles a single instruction for log output.
func listing(inst ppcinst.Inst, addr uintptr) string {
	var buf [8]byte
	n, err := ppcinst.Put(buf[:], inst)
	if err != nil {
		return inst.String()
	}

	s, err := ppcinst.Disassemble(buf[:n], uint64(addr))
	if err != nil {
		return inst.String()
	}
	return strings.TrimSpace(s)
}
