// Package runtime is the high-level API for loading and running ancvm
// modules.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, runtime.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	// Load, link and verify a module
//	prog, err := rt.Load(ctx, "app.ancm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Start a process: instantiates data and runs start functions
//	proc, err := rt.Start(ctx, prog)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer proc.Close(ctx)
//
//	// Call an export on a new thread and wait for it
//	results, err := proc.Call(ctx, "main", 42)
//
// # Processes and Threads
//
// A Process owns the mutable state of a running program: one data
// instance per linked module, the heap, app output streams and the
// foreign function bridge. Each thread runs on its own machine with its
// own operand stack, frames and copy of the read_write data; entries
// marked shared, read_only data and the heap are visible to all threads.
//
//	t1, _ := proc.Spawn(ctx, "work", 1)
//	t2, _ := proc.Spawn(ctx, "work", 2)
//	r1, err1 := t1.Join()
//	r2, err2 := t2.Join()
//
// A trap ends only its thread and is returned by Join. Bytecode starts and
// joins threads itself through the thread_spawn and thread_join
// environment calls. Every thread has an inbox: thread_send copies a heap
// allocation into the inbox of a child (or of the parent, handle 0) and
// thread_receive hands the next message back as a new allocation. The host
// feeds a thread with Thread.Send.
//
// # Configuration
//
// Options usually come from a config file:
//
//	cfg, err := config.Load(config.DefaultPath())
//	rt, err := runtime.New(ctx, runtime.OptionsFromConfig(cfg, logger))
//
// # Values
//
// Arguments and results are raw operand slots. i32 values are sign
// extended, floats are their IEEE bits. The root package has helpers to
// convert Go values.
package runtime
