package wxpatch

import (
	"github.com/pboyd/wxpatch/ppcinst"
)

// std is the Patcher used by the package-level functions. It is configured
// from the environment.
var std = New(ConfigFromEnv())

// Default returns the Patcher used by the package-level functions.
func Default() *Patcher {
	return std
}

// Init initializes the default Patcher. It panics if the scratch mapping
// can't be reserved, since nothing can be patched safely without it.
func Init() {
	err := std.Init()
	if err != nil {
		panic("wxpatch: " + err.Error())
	}
}

// Lock takes the default Patcher's lock. See Patcher.Lock.
func Lock() (unlock func()) {
	return std.Lock()
}

// Patch writes inst at addr with the default Patcher.
func Patch(addr uintptr, inst ppcinst.Inst) error {
	return std.Patch(addr, inst)
}

// PatchUnlocked writes inst at addr with the default Patcher. The caller must
// hold Lock.
func PatchUnlocked(addr uintptr, inst ppcinst.Inst) error {
	return std.PatchUnlocked(addr, inst)
}

// PatchBranch writes a branch at addr to target with the default Patcher.
func PatchBranch(addr, target uintptr, flags uint32) error {
	return std.PatchBranch(addr, target, flags)
}

// PatchBranchUnlocked is PatchBranch for callers holding Lock.
func PatchBranchUnlocked(addr, target uintptr, flags uint32) error {
	return std.PatchBranchUnlocked(addr, target, flags)
}
