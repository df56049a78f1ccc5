package wxpatch

import "golang.org/x/sys/unix"

// Kernels older than 4.17 ignore MAP_FIXED_NOREPLACE and treat the address
// as a hint, so the address that comes back still has to be checked.
//
// https://man7.org/linux/man-pages/man2/mmap.2.html
const _MAP_FIXED_NOREPLACE = unix.MAP_FIXED_NOREPLACE
