package wxpatch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unsafe"

	"github.com/pboyd/wxpatch/ppcinst"
	"github.com/sirupsen/logrus"
)

var (
	errScratchTaken = errors.New("scratch address in use")
	errScratchLost  = errors.New("scratch address lost")
)

// Poker writes instructions into read/execute memory through a short-lived
// read/write alias at a fixed scratch address.
//
// A Poker has no locking of its own. Its owner must make sure only one patch
// runs at a time, since there's one scratch slot.
type Poker struct {
	addr uintptr // scratch address, 0 if aliasing is unavailable
	page uintptr
	lost bool    // the slot couldn't be reserved again after a failed patch

	frames  FrameResolver
	protect bool
	log     logrus.FieldLogger

	// Windows are kept here so a patch doesn't allocate.
	alias aliasWindow
	prot  protectWindow
	space tempSpace
}

// NewPoker reserves the scratch slot. The slot is never released.
func NewPoker(cfg Config) (*Poker, error) {
	cfg = cfg.withDefaults()

	pk := &Poker{
		page:    pageSize,
		frames:  cfg.Frames,
		protect: cfg.Protect,
		log:     cfg.Logger,
		space:   tempSpace{bps: cfg.Breakpoints},
	}
	pk.alias.pk = pk

	if !aliasSupported {
		pk.log.Debug("no scratch mapping on this platform, patching by changing protection")
		return pk, nil
	}

	if cfg.ScratchWindow < 3*pk.page {
		return nil, fmt.Errorf("%w: window %#x is too small", ErrNoScratch, cfg.ScratchWindow)
	}

	var err error
	for i := 0; i < cfg.ScratchAttempts; i++ {
		var addr uintptr
		addr, err = scratchAddr(cfg.Rand, cfg.ScratchWindow, pk.page)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoScratch, err)
		}

		err = reserveScratch(addr, pk.page)
		if err == nil {
			pk.addr = addr
			pk.log.WithField("scratch", fmt.Sprintf("%#x", addr)).Debug("reserved scratch mapping")
			return pk, nil
		}
		if !errors.Is(err, errScratchTaken) {
			break
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrNoScratch, err)
}

// scratchAddr picks a random page-aligned address from
// [page, window-page). The lower bound skips the zero page.
func scratchAddr(rand io.Reader, window, page uintptr) (uintptr, error) {
	var buf [8]byte
	_, err := io.ReadFull(rand, buf[:])
	if err != nil {
		return 0, err
	}
	r := uintptr(binary.LittleEndian.Uint64(buf[:]))

	return page + (r&^(page-1))%(window-2*page), nil
}

// Addr returns the scratch address, or 0 if the platform can't alias.
func (pk *Poker) Addr() uintptr {
	return pk.addr
}

// window is a way to make the page at an address writable for a moment.
type window interface {
	// open returns the address to write through for addr.
	open(addr uintptr) (uintptr, error)
	close() error
}

type aliasWindow struct {
	pk    *Poker
	frame Frame
}

func (w *aliasWindow) open(addr uintptr) (uintptr, error) {
	err := mapScratch(w.pk.addr, w.pk.page, w.frame)
	if err != nil {
		return 0, err
	}
	return w.pk.addr | addr&(w.pk.page-1), nil
}

func (w *aliasWindow) close() error {
	return unmapScratch(w.pk.addr, w.pk.page)
}

// protectWindow turns a page read/write and back to read/execute. It is
// never both.
type protectWindow struct {
	page []byte
}

func (w *protectWindow) open(addr uintptr) (uintptr, error) {
	err := mprotect(w.page, protRW)
	if err != nil {
		return 0, fmt.Errorf("mprotect: %w", err)
	}
	return addr, nil
}

func (w *protectWindow) close() error {
	err := mprotect(w.page, protRX)
	if err != nil {
		return fmt.Errorf("mprotect: %w", err)
	}
	return nil
}

// window picks how addr will be written.
func (pk *Poker) window(addr uintptr) (window, error) {
	f, ok := pk.frames.Frame(addr)
	switch {
	case ok && f.FD >= 0 && pk.addr != 0 && !pk.lost:
		pk.alias.frame = f
		return &pk.alias, nil
	case ok || pk.protect:
		pk.prot.page = unsafe.Slice((*byte)(unsafe.Pointer(addr&^(pk.page-1))), pk.page)
		return &pk.prot, nil
	default:
		return nil, fmt.Errorf("%w: %#x", ErrNoFrame, addr)
	}
}

// poke writes inst at addr. The caller must hold the patch lock.
func (pk *Poker) poke(addr uintptr, inst ppcinst.Inst) error {
	n := uintptr(inst.Len())
	if addr&(pk.page-1)+n > pk.page {
		return fmt.Errorf("%w: %#x", ErrCrossPage, addr)
	}

	w, err := pk.window(addr)
	if err != nil {
		pk.warn(addr, err, "map patch: unable to find page")
		return err
	}

	patchAddr, err := w.open(addr)
	if err != nil {
		pk.warn(addr, err, "map patch: unable to map page")
		return err
	}

	pk.space.use()

	err = ppcinst.Store(patchAddr, inst)
	if err == nil {
		cacheflush(patchAddr, addr, int(n))
	}

	closeErr := w.close()
	pk.space.unuse()

	if closeErr != nil {
		pk.warn(addr, closeErr, "unmap patch: unable to restore page")
		if errors.Is(closeErr, errScratchLost) {
			// Nothing is reserved there anymore, so it can't be reused.
			pk.lost = true
		}
		return errors.Join(err, closeErr)
	}
	return err
}

// warn logs a failed patch. Fields are only built here so a successful patch
// doesn't allocate.
func (pk *Poker) warn(addr uintptr, err error, msg string) {
	pk.log.WithError(err).WithField("addr", fmt.Sprintf("%#x", addr)).Warn(msg)
}
