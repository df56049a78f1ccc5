package wxpatch

import (
	"errors"

	"github.com/pboyd/wxpatch/ppcinst"
)

var (
	// ErrInitialized is returned by Init when it has already run.
	ErrInitialized = errors.New("patching is already initialized")

	// ErrNoScratch is returned when no scratch address could be reserved.
	ErrNoScratch = errors.New("unable to reserve a scratch mapping")

	// ErrNoFrame is returned when the memory backing an address can't be
	// found or can't be written.
	ErrNoFrame = errors.New("no page frame for address")

	// ErrCrossPage is returned for an instruction that straddles two pages.
	ErrCrossPage = errors.New("instruction crosses a page boundary")

	// ErrMismatch is returned when the instruction read back after a patch
	// differs from the one written. It means the aliasing or the cache
	// maintenance went wrong, and should not be retried blindly.
	ErrMismatch = errors.New("patched instruction does not match")

	// ErrNotLocked is returned by the unlocked variants when the caller does
	// not hold the patch lock.
	ErrNotLocked = errors.New("patch lock is not held")

	// ErrFault is returned when the store to the target faults. The
	// instruction may be partially written and should be read back.
	ErrFault = ppcinst.ErrFault
)
