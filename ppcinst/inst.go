// Package ppcinst encodes, decodes and relocates Power ISA instructions.
//
// Everything here is pure except Load and Store, which touch memory but
// recover from faults instead of crashing the process.
package ppcinst

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Primary opcode of the prefix word of an 8-byte instruction.
const opPrefix = 1

// ErrShort is returned when a buffer is too small for an instruction.
var ErrShort = errors.New("truncated instruction")

// Inst is a single machine instruction. Prefixed instructions carry a second
// word, the suffix. Two Insts are equal (==) exactly when their encodings
// are.
type Inst struct {
	word   uint32
	suffix uint32
}

// New returns the 4-byte instruction word.
func New(word uint32) Inst {
	return Inst{word: word}
}

// NewPrefixed returns an 8-byte instruction. The primary opcode of prefix
// should be 1, otherwise the suffix is ignored by Len and Put.
func NewPrefixed(prefix, suffix uint32) Inst {
	return Inst{word: prefix, suffix: suffix}
}

// Word returns the first (or only) word of the instruction.
func (i Inst) Word() uint32 {
	return i.word
}

// Suffix returns the second word of a prefixed instruction, or 0.
func (i Inst) Suffix() uint32 {
	if !i.Prefixed() {
		return 0
	}
	return i.suffix
}

// PrimaryOpcode returns the top 6 bits of the first word.
func (i Inst) PrimaryOpcode() uint32 {
	return i.word >> 26
}

// Prefixed reports whether the instruction is 8 bytes long.
func (i Inst) Prefixed() bool {
	return i.PrimaryOpcode() == opPrefix
}

// Len returns the encoded size in bytes.
func (i Inst) Len() int {
	if i.Prefixed() {
		return 8
	}
	return 4
}

// Equal compares the encodings of two instructions.
func (i Inst) Equal(o Inst) bool {
	return i.word == o.word && i.Suffix() == o.Suffix()
}

func (i Inst) String() string {
	if i.Prefixed() {
		return fmt.Sprintf("%08x:%08x", i.word, i.suffix)
	}
	return fmt.Sprintf("%08x", i.word)
}

// Read decodes the instruction at the start of buf. Words are in the host's
// byte order, which is the order the CPU fetches them in.
func Read(buf []byte) (Inst, error) {
	if len(buf) < 4 {
		return Inst{}, ErrShort
	}

	inst := New(binary.NativeEndian.Uint32(buf))
	if !inst.Prefixed() {
		return inst, nil
	}

	if len(buf) < 8 {
		return Inst{}, ErrShort
	}
	inst.suffix = binary.NativeEndian.Uint32(buf[4:])
	return inst, nil
}

// Put encodes inst into buf and returns the number of bytes written.
func Put(buf []byte, inst Inst) (int, error) {
	n := inst.Len()
	if len(buf) < n {
		return 0, ErrShort
	}

	binary.NativeEndian.PutUint32(buf, inst.word)
	if n == 8 {
		binary.NativeEndian.PutUint32(buf[4:], inst.suffix)
	}
	return n, nil
}

// uint64 returns a prefixed instruction as it would be loaded by a single
// doubleword load from its address.
func (i Inst) uint64() uint64 {
	var buf [8]byte
	binary.NativeEndian.PutUint32(buf[:], i.word)
	binary.NativeEndian.PutUint32(buf[4:], i.suffix)
	return binary.NativeEndian.Uint64(buf[:])
}
