package ppcinst

import (
	"errors"
	"fmt"
	"runtime/debug"
	"unsafe"
)

// ErrFault is returned when memory could not be accessed.
var ErrFault = errors.New("memory fault")

// Store writes inst to addr. A fault while writing (unmapped or read-only
// memory, for example) is returned as ErrFault instead of crashing.
//
// A 4-byte instruction, or an 8-byte one at an 8-byte aligned address, is
// written with a single store. Otherwise the prefix is stored before the
// suffix and a fault between the two leaves the instruction half written.
func Store(addr uintptr, inst Inst) (err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: store to %#x: %v", ErrFault, addr, r)
		}
	}()

	p := unsafe.Pointer(addr)
	switch {
	case !inst.Prefixed():
		*(*uint32)(p) = inst.word
	case addr%8 == 0:
		*(*uint64)(p) = inst.uint64()
	default:
		*(*uint32)(p) = inst.word
		*(*uint32)(unsafe.Add(p, 4)) = inst.suffix
	}

	return nil
}

// Load reads the instruction at addr, including the suffix if the first word
// is a prefix. Faults are returned as ErrFault.
func Load(addr uintptr) (inst Inst, err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			inst = Inst{}
			err = fmt.Errorf("%w: load from %#x: %v", ErrFault, addr, r)
		}
	}()

	p := unsafe.Pointer(addr)
	inst = New(*(*uint32)(p))
	if inst.Prefixed() {
		inst.suffix = *(*uint32)(unsafe.Add(p, 4))
	}

	return inst, nil
}
