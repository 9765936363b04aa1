// Package vm implements the Widow virtual machine.
//
// This package contains:
//   - The fetch-decode-execute loop over bytecode chunks
//   - Call frames, each owning its own scope stack
//   - Runtime borrow checking driven by the BORROW and RELEASE instructions
//   - Host builtins (print, len, push, conversions and friends)
//
// Execution is single-threaded. A VM must not be shared between goroutines;
// create one per run.
//
// When a runtime error occurs every frame's scopes are popped, which
// force-releases any borrows still outstanding, before the error is returned
// to the caller with the source position of the faulting instruction and
// the call trace.
package vm
