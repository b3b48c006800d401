// Package ffi is the foreign function bridge. It runs the functions a
// module binds to code outside the VM:
//
//   - native functions in platform shared libraries, loaded with purego
//     (no cgo). Pointer arguments are heap allocation handles, pinned for
//     the call and passed as their address. Callback arguments are function
//     indices, passed as C function pointers from a fixed trampoline pool.
//   - functions exported by WebAssembly libraries, run with wazero. Only
//     scalar types cross this boundary.
//   - app functions, which run an external executable with arguments
//     rendered from the call parameters and capture its standard output
//     into a stream.
//
// Failures to open a library, find a symbol, match a signature or start a
// process are recoverable: they carry a Status and reach bytecode as the
// status operand of the call. Traps raised by a callback are re-raised on
// the calling thread once the native call returns.
//
// Example:
//
//	bridge := ffi.NewBridge(ffi.Options{Heap: heap, Table: table})
//	defer bridge.Close(ctx)
//
//	out, err := bridge.Call(ctx, machine, fn, args)
//	if ffi.IsFailure(err) {
//	    status := ffi.StatusOf(err)
//	}
package ffi
