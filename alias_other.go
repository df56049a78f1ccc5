//go:build !linux && (unix || windows)

package wxpatch

import "errors"

const aliasSupported = false

var errAliasUnsupported = errors.New("aliasing is not supported on this platform")

func reserveScratch(addr, size uintptr) error {
	return errAliasUnsupported
}

func mapScratch(addr, size uintptr, f Frame) error {
	return errAliasUnsupported
}

func unmapScratch(addr, size uintptr) error {
	return errAliasUnsupported
}

func dropScratch(addr, size uintptr, cause error) error {
	return cause
}
