// Package linker turns decoded module fragments into linked programs.
//
// # Main Types
//
//   - Registry: shared-module cache and signature interner, passed explicitly
//   - Loader: merges fragments, resolves links and binds imports
//   - Repository: directory of shared modules with a cached CBOR index
//
// # Thread Safety
//
// Registry and Loader are safe for concurrent use. Programs returned by the
// loader are immutable.
//
// # Link Resolution Order
//
//  1. Shared links: Registry, then each repository path in order
//  2. Local links: the file or manifest directory relative to the linking module
//  3. Error on unresolved links or imports
//
// # Example
//
//	reg := linker.NewRegistry()
//	ld := linker.NewLoader(reg, linker.Options{Paths: []string{"./modules"}})
//	prog, err := ld.LoadFile(ctx, "app.ancm")
package linker
