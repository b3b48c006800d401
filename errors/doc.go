// Package errors provides structured error types for the ancvm runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries a location path, the offending value, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRuntime, errors.KindTrap).
//		Path("math", "divide").
//		Value(12).
//		Detail("integer divide by zero").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Link("app", "import \"add\": signature mismatch", nil)
//	err := errors.Verification("app", "main", 7, "break depth %d out of range", 3)
//
// Kind sentinels match regardless of phase:
//
//	if errors.Is(err, errors.ErrTrap) { ... }
//
// A memory error raised while executing an instruction is reported as a trap
// whose cause is the memory error, so both ErrTrap and ErrMemory match it.
package errors
