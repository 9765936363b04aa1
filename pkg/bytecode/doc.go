// Package bytecode defines the instruction set and program representation
// executed by the Widow virtual machine.
//
// The bytecode format is designed for:
//   - Compact representation (one opcode byte plus fixed-width operands)
//   - Fast decoding (fixed-width opcodes, simple operand formats)
//   - Easy serialization (a "WDBC" binary artifact, or canonical CBOR for
//     caches and transport)
//
// # Architecture Overview
//
//   - Opcodes: stack-based instructions covering constants, scopes, slot
//     access, borrow acquire/release, arithmetic, control flow, calls and
//     collections. Every read of a named slot is bracketed by a borrow and a
//     release instruction, and every write by an exclusive borrow and its
//     release, so the VM can check aliasing at runtime.
//
//   - Chunk: the compiled form of one function: code, a deduplicated
//     constant pool, parameter names, declared return arity, scope layouts
//     and a source map.
//
//   - Program: the function table (chunk 0 is the top-level code), struct
//     schemas and the method table keyed by "Struct.method".
//
// # Operand Encoding
//
// Multi-byte operands are big-endian. Local slots are addressed by
// <depth:u8> <slot:u8>, where depth counts scopes from the frame's base
// scope. Globals are addressed by a u16 index of a string constant holding
// their name. Jumps carry a signed 16-bit offset relative to the end of the
// jump instruction.
//
// Calls carry a <want:u8> operand: the number of results the call site
// consumes. WantAll discards whatever the callee returns.
package bytecode
