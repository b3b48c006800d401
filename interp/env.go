package interp

import (
	"context"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/memory"
	"github.com/wippyai/ancvm/program"
)

// RuntimeVersion is reported by the runtime_version environment call.
var RuntimeVersion = bytecode.Version{Major: 1}

// Env is the process a machine runs in. Implementations must be safe for
// use by several machines at once.
type Env interface {
	// Instance returns the process-wide storage of p, creating it on first use.
	Instance(p *program.Program) *memory.Instance

	// Heap returns the allocations of the process.
	Heap() *memory.Heap

	// Foreign runs a native or app function. A non-zero status is a bridge
	// failure the caller can branch on; an error is a trap.
	Foreign(ctx context.Context, m *Machine, fn *program.Function, args []uint64) (results []uint64, status uint32, err error)

	// Service runs an environment call the machine does not answer itself.
	Service(ctx context.Context, m *Machine, call bytecode.EnvCall, args []uint64) ([]uint64, error)
}
