// Package resource provides handle tables for runtime-owned values.
//
// A process keeps its heap allocations, app output streams and threads in a
// Table. Bytecode only ever sees the 64-bit Handle of such a value.
//
//	table := resource.NewTable()
//	h := table.Insert(resource.KindStream, stream)
//	v, ok := table.GetKind(h, resource.KindStream)
//	_, err := table.Remove(h)
//
// # Generations
//
// A handle packs the slot index with the slot generation. Removing a value
// bumps the generation, so a stale handle fails every lookup even after the
// slot has been reused.
//
// # Borrows
//
// Borrow pins a value while a reference to it is outside the table's
// control, for example while native code holds a pointer into an
// allocation. Remove fails with ErrOutstandingBorrow until every borrow is
// returned.
//
// # Typed views
//
// Typed wraps a Table for a single kind:
//
//	streams := resource.NewTyped[*Stream](table, resource.KindStream)
//	h := streams.Insert(s)
//	s, ok := streams.Get(h)
//
// # Observers
//
// Observers see every create, drop and borrow event:
//
//	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    logger.Debug("resource", zap.Stringer("event", e.Type))
//	}))
//
// Values are never reclaimed automatically. Close drops everything left,
// calling Drop on values that implement Dropper.
package resource
