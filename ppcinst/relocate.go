package ppcinst

import "fmt"

// Relocate copies the machine instructions in code, which is assumed to run
// at src, into a new slice that is correct to run at dest.
//
// Relative direct branches that leave the block are re-encoded to reach the
// same target from their new address. Branches that stay inside the block
// move with it and are copied unchanged, as is everything else. Branches to
// registers and prefixed PC-relative loads and stores are not adjusted.
func Relocate(code []byte, src, dest uintptr) ([]byte, error) {
	out := make([]byte, len(code))
	copy(out, code)

	end := src + uintptr(len(code))

	for i := 0; i < len(code); {
		inst, err := Read(code[i:])
		if err != nil {
			return nil, fmt.Errorf("decode error at offset %d: %w", i, err)
		}

		pc := src + uintptr(i)
		if IsRelativeBranch(inst) {
			target := BranchTarget(inst, pc)
			if target < src || target >= end {
				moved, err := TranslateBranch(dest+uintptr(i), pc, inst)
				if err != nil {
					return nil, fmt.Errorf("relocate error at offset %d: %w", i, err)
				}
				Put(out[i:], moved)
			}
		}

		i += inst.Len()
	}

	return out, nil
}
