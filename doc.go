// Patch machine code in place without ever mapping it writable and
// executable at the same time.
//
// Code lives in Text regions that are mapped read/execute only. To change an
// instruction, the Patcher maps the page backing it a second time, read/write,
// at a randomly chosen scratch address, stores the instruction through that
// alias and immediately unmaps it again. Only one patch can be in flight at a
// time, and the alias is never present outside of it.
//
// Until Init is called the Patcher writes directly to the target address,
// which only works for memory that is already writable.
//
// The instruction and branch encoders for the Power ISA live in the ppcinst
// package.
//
// Limitations:
//   - Aliasing needs memfd, so it is only available on Linux. Elsewhere the
//     page is flipped from read/execute to read/write and back, so it can't
//     be executed while it's being patched.
//   - The alias is visible to every thread in the process while it is mapped.
//     The scratch address is random and the window is short, but it is not
//     private to the patching thread the way a separate address space is.
package wxpatch
