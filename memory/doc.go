// Package memory implements the storage a running program touches.
//
// Data sections live in two places. An Instance is created once per program
// per process and holds the read_only image and the shared region. Each
// thread calls NewSpace to get its own copy of read_write data and a zeroed
// uninit section. Stores to read_only entries are rejected.
//
// Frames is the per-thread arena for local slots, Stack the per-thread
// operand stack, and Heap the per-process explicitly managed memory.
//
// Every typed access checks bounds against the entry, slot or block and
// requires the address to be a multiple of the access width. Failures are
// errors of kind memory; the interpreter reports them as traps.
package memory
