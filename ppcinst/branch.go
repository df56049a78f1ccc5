package ppcinst

import (
	"errors"
	"fmt"
)

// Flags for CreateBranch and CreateCondBranch. They occupy the low two bits of
// every branch instruction.
const (
	BranchSetLink  = 0x1 // LK
	BranchAbsolute = 0x2 // AA
)

const (
	opBC = 16 // bc, bca, bcl, bcla
	opB  = 18 // b, ba, bl, bla
	opXL = 19 // bclr, bcctr, bctar and friends

	// I-form:
	// ----------------------------------------
	// | 18 (6) | ... LI (24) ... | AA | LK |
	// ----------------------------------------
	// LI is a signed word offset, so the byte offset is LI<<2.
	_B          = uint32(opB << 26)
	bFlagMask   = uint32(0x3)
	bOffsetMask = uint32(0x03fffffc)
	bSignBit    = 0x2000000

	// B-form:
	// ----------------------------------------------
	// | 16 (6) | BO (5) | BI (5) | BD (14) | AA | LK |
	// ----------------------------------------------
	_BC          = uint32(opBC << 26)
	bcFlagMask   = uint32(0x03ff0003) // BO, BI, AA and LK
	bcOffsetMask = uint32(0xfffc)
	bcSignBit    = 0x8000

	// Extended opcodes (bits 21-30) of the XL-form conditional branches to
	// a register.
	xoBCLR  = 16
	xoBCCTR = 528
	xoBCTAR = 560
)

var (
	// ErrBranchRange is returned when a branch cannot reach its target,
	// either because the offset is too large or not a multiple of 4.
	ErrBranchRange = errors.New("branch target out of range")

	// ErrNotBranch is returned when an instruction is not a direct branch.
	ErrNotBranch = errors.New("not a direct branch")
)

// Kind is the family of a branch instruction.
type Kind int

const (
	NotBranch     Kind = iota
	Unconditional      // I-form, opcode 18
	Conditional        // B-form, opcode 16
)

func (k Kind) String() string {
	switch k {
	case Unconditional:
		return "unconditional"
	case Conditional:
		return "conditional"
	default:
		return "not-a-branch"
	}
}

// Classify returns the family of a direct branch from the primary opcode
// alone.
func Classify(inst Inst) Kind {
	switch inst.PrimaryOpcode() & 0x3f {
	case opB:
		return Unconditional
	case opBC:
		return Conditional
	default:
		return NotBranch
	}
}

// IsConditionalBranch reports whether inst is any conditional branch,
// including the branches to LR, CTR and TAR. Only the direct form (opcode 16)
// can be created or translated.
func IsConditionalBranch(inst Inst) bool {
	switch inst.PrimaryOpcode() {
	case opBC:
		return true
	case opXL:
		switch (inst.Word() >> 1) & 0x3ff {
		case xoBCLR, xoBCCTR, xoBCTAR:
			return true
		}
	}
	return false
}

// IsOffsetInBranchRange reports whether offset fits in the 24-bit LI field of
// an unconditional branch:
//
//	maximum forward:  0x007fffff << 2 =  0x1fffffc
//	maximum backward: 0xff800000 << 2 = -0x2000000
func IsOffsetInBranchRange(offset int64) bool {
	return offset >= -0x2000000 && offset <= 0x1fffffc && offset&0x3 == 0
}

func isOffsetInCondBranchRange(offset int64) bool {
	return offset >= -0x8000 && offset <= 0x7fff && offset&0x3 == 0
}

// branchOffset returns the value to encode in a branch at addr reaching
// target. Absolute branches encode the target itself.
func branchOffset(addr, target uintptr, flags uint32) int64 {
	if flags&BranchAbsolute != 0 {
		return int64(int(target))
	}
	return int64(int(target - addr))
}

// CreateBranch returns an unconditional branch located at addr that jumps to
// target. Only BranchSetLink and BranchAbsolute are taken from flags.
func CreateBranch(addr, target uintptr, flags uint32) (Inst, error) {
	offset := branchOffset(addr, target, flags)
	if !IsOffsetInBranchRange(offset) {
		return Inst{}, fmt.Errorf("%w: b from %#x to %#x (offset %#x)", ErrBranchRange, addr, target, offset)
	}

	return New(_B | flags&bFlagMask | uint32(offset)&bOffsetMask), nil
}

// CreateCondBranch returns a conditional branch located at addr that jumps to
// target. The BO and BI fields (bits 2 to 11 of the high halfword) and the
// BranchSetLink and BranchAbsolute bits are taken from flags.
func CreateCondBranch(addr, target uintptr, flags uint32) (Inst, error) {
	offset := branchOffset(addr, target, flags)
	if !isOffsetInCondBranchRange(offset) {
		return Inst{}, fmt.Errorf("%w: bc from %#x to %#x (offset %#x)", ErrBranchRange, addr, target, offset)
	}

	return New(_BC | flags&bcFlagMask | uint32(offset)&bcOffsetMask), nil
}

// Branch is a decoded direct branch.
type Branch struct {
	Kind     Kind
	Absolute bool
	Link     bool

	// Offset is the sign-extended displacement in bytes. For absolute
	// branches it is the target address.
	Offset int64

	// BO and BI are only set for conditional branches.
	BO, BI uint8
}

// DecodeBranch decodes a direct branch. ok is false for anything else.
func DecodeBranch(inst Inst) (b Branch, ok bool) {
	w := inst.Word()

	b.Kind = Classify(inst)
	switch b.Kind {
	case Unconditional:
		b.Offset = int64(w & bOffsetMask)
		if b.Offset&bSignBit != 0 {
			b.Offset -= bSignBit << 1
		}
	case Conditional:
		b.Offset = int64(w & bcOffsetMask)
		if b.Offset&bcSignBit != 0 {
			b.Offset -= bcSignBit << 1
		}
		b.BO = uint8(w>>21) & 0x1f
		b.BI = uint8(w>>16) & 0x1f
	default:
		return Branch{}, false
	}

	b.Absolute = w&BranchAbsolute != 0
	b.Link = w&BranchSetLink != 0
	return b, true
}

// Target returns the address a branch located at addr jumps to.
func (b Branch) Target(addr uintptr) uintptr {
	if b.Absolute {
		return uintptr(b.Offset)
	}
	return addr + uintptr(b.Offset)
}

// BranchTarget returns the address the direct branch inst, located at addr,
// jumps to. It returns 0 if inst is not a direct branch.
func BranchTarget(inst Inst, addr uintptr) uintptr {
	b, ok := DecodeBranch(inst)
	if !ok {
		return 0
	}
	return b.Target(addr)
}

// IsBranchToAddr reports whether inst, located at addr, is a direct branch to
// target.
func IsBranchToAddr(inst Inst, addr, target uintptr) bool {
	b, ok := DecodeBranch(inst)
	return ok && b.Target(addr) == target
}

// IsRelativeBranch reports whether inst is a direct branch with a
// PC-relative target.
func IsRelativeBranch(inst Inst) bool {
	if inst.Word()&BranchAbsolute != 0 {
		return false
	}
	return Classify(inst) != NotBranch
}

// IsRelativeLinkBranch is IsRelativeBranch for branches that set LR.
func IsRelativeLinkBranch(inst Inst) bool {
	return IsRelativeBranch(inst) && inst.Word()&BranchSetLink != 0
}

// TranslateBranch re-encodes the direct branch inst, located at src, so that
// it reaches the same target from dest. The flag bits of inst carry over.
//
// If the target is out of reach from dest ErrBranchRange is returned. The
// caller must not fall back to a truncated offset.
func TranslateBranch(dest, src uintptr, inst Inst) (Inst, error) {
	target := BranchTarget(inst, src)

	switch Classify(inst) {
	case Unconditional:
		return CreateBranch(dest, target, inst.Word())
	case Conditional:
		return CreateCondBranch(dest, target, inst.Word())
	default:
		return Inst{}, fmt.Errorf("%w: %v at %#x", ErrNotBranch, inst, src)
	}
}
