package ppcinst

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/arch/ppc64/ppc64asm"
)

// Disassemble returns a listing of code, which is assumed to be located at
// pc. Words that do not decode are shown as "?".
func Disassemble(code []byte, pc uint64) (string, error) {
	var buf bytes.Buffer

	for i := 0; i+4 <= len(code); {
		n := 4
		asm := "?"

		inst, err := ppc64asm.Decode(code[i:], binary.NativeEndian)
		if err == nil {
			n = inst.Len
			asm = ppc64asm.GNUSyntax(inst, pc+uint64(i))
		} else if i+8 <= len(code) && New(binary.NativeEndian.Uint32(code[i:])).Prefixed() {
			n = 8
		}

		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", pc+uint64(i), hex.EncodeToString(code[i:i+n]), asm)
		i += n
	}

	if len(code)%4 != 0 {
		return buf.String(), fmt.Errorf("%d trailing bytes: %w", len(code)%4, ErrShort)
	}

	return buf.String(), nil
}
