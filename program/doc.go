// Package program holds the linked representation of a module.
//
// A Program is built from a decoded bytecode.Module by New. Building interns
// every signature through a shared Interner, lays out local slots and data
// regions, and verifies each bytecode function body. Verification compiles a
// body into a flat slice of Ops whose branch targets and operand heights are
// already resolved, so the interpreter never scans for a matching end.
//
// Local slots take 8 bytes for scalars and the length rounded up to 8 for
// byte arrays. Data entries are placed per region in declaration order with
// each start aligned to the entry alignment. Shared read_write and uninit
// entries go to a separate region that exists once per process.
//
// Imports are created unbound. The linker sets Target on imported functions
// and data before the program is published.
package program
