// Package ancvm is a runtime for compiled bytecode modules: a stack machine
// with typed data sections, a handle based heap, threads and a foreign
// function bridge to native libraries, wasm libraries and executables.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	ancvm/               Root package with operand value helpers
//	├── runtime/         High-level API: Runtime, Process, Thread
//	├── linker/          Module loading, submodule merge, shared repositories
//	├── program/         Linked program representation and verification
//	├── bytecode/        Binary module format, builder and validation
//	├── interp/          Stack machine interpreter
//	├── memory/          Data sections, frames, operand stack and heap
//	├── ffi/             Native, wasm and app function bridge
//	├── resource/        Generation tagged handle tables
//	├── config/          TOML configuration
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, runtime.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	prog, err := rt.Load(ctx, "app.ancm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	proc, err := rt.Start(ctx, prog)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer proc.Close(ctx)
//
//	fn, _ := proc.Lookup("add")
//	args, err := ancvm.ParseArgs(fn.Sig.Params, []string{"1", "2"})
//	results, err := proc.Call(ctx, "add", args...)
//	fmt.Println(ancvm.FormatResults(fn.Sig.Results, results))
//
// # Values
//
// Every operand is a 64-bit slot. i32 values are kept sign extended, f32
// values hold their IEEE bits in the low half and f64 values their full
// bits. ParseValue and FormatValue convert between slots and text.
//
// # Thread Safety
//
// Runtime, Program and Process are safe for concurrent use. Each thread runs
// on its own machine; the heap and shared data are visible to all of them.
package ancvm
