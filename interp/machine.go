package interp

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/memory"
	"github.com/wippyai/ancvm/program"
)

// Limits used for Options fields left zero.
const (
	DefaultMaxCallDepth = 1024
	DefaultMaxStack     = 64 * 1024
	DefaultMaxLocals    = 16 << 20
)

// Options configures a Machine.
type Options struct {
	Logger       *zap.Logger
	ID           uint64
	MaxCallDepth int
	MaxStack     int    // operand slots
	MaxLocals    uint32 // bytes of local frames
}

type frame struct {
	fn   *program.Function
	pc   int
	sp   int    // operand height at entry, parameters already popped
	base uint32 // local frame
}

// Machine is one VM thread. It is not safe for concurrent use; each
// goroutine running bytecode owns its own Machine.
type Machine struct {
	env      Env
	logger   *zap.Logger
	stack    *memory.Stack
	frames   *memory.Frames
	spaces   map[*program.Program]*memory.Space
	calls    []frame
	id       uint64
	maxDepth int
}

// New creates a machine running in env.
func New(env Env, opts Options) *Machine {
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = DefaultMaxCallDepth
	}
	if opts.MaxStack <= 0 {
		opts.MaxStack = DefaultMaxStack
	}
	if opts.MaxLocals == 0 {
		opts.MaxLocals = DefaultMaxLocals
	}
	if opts.Logger == nil {
		opts.Logger = Logger()
	}
	return &Machine{
		env:      env,
		logger:   opts.Logger,
		stack:    memory.NewStack(opts.MaxStack),
		frames:   memory.NewFrames(opts.MaxLocals),
		spaces:   make(map[*program.Program]*memory.Space),
		calls:    make([]frame, 0, 16),
		id:       opts.ID,
		maxDepth: opts.MaxCallDepth,
	}
}

// ID returns the thread id reported by the thread_id environment call.
func (m *Machine) ID() uint64 {
	return m.id
}

// Env returns the process the machine runs in.
func (m *Machine) Env() Env {
	return m.env
}

// Depth returns the number of active call frames.
func (m *Machine) Depth() int {
	return len(m.calls)
}

// Caller returns the function of the innermost active frame, or nil when
// the machine is idle. During a foreign call it is the function that made
// the call.
func (m *Machine) Caller() *program.Function {
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1].fn
}

// Space returns this thread's view of the data of p.
func (m *Machine) Space(p *program.Program) *memory.Space {
	s, ok := m.spaces[p]
	if !ok {
		s = m.env.Instance(p).NewSpace()
		m.spaces[p] = s
	}
	return s
}

// Call runs fn with args and returns its results. Call is re-entrant: a
// foreign function called by this machine may call back into it.
func (m *Machine) Call(ctx context.Context, fn *program.Function, args []uint64) ([]uint64, error) {
	fn = fn.Resolve()
	if fn.Kind == program.FuncImport {
		return nil, errors.Link(fn.Program.Name, fmt.Sprintf("call to unbound import %s", fn.Name), nil)
	}
	if len(args) != len(fn.Sig.Params) {
		return nil, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("%s expects %d argument(s), got %d", fn.QualifiedName(), len(fn.Sig.Params), len(args)))
	}
	if err := ctx.Err(); err != nil {
		return nil, m.trap(fn, 0, "canceled", err)
	}

	if fn.Foreign() {
		results, status, err := m.env.Foreign(ctx, m, fn, args)
		if err != nil {
			return nil, err
		}
		if status != 0 {
			return nil, errors.FFI(fmt.Sprintf("%s failed with status %d", fn.QualifiedName(), status), nil)
		}
		return results, nil
	}

	floor, height := len(m.calls), m.stack.Len()
	if err := m.stack.Reserve(len(args)); err != nil {
		return nil, m.trap(fn, 0, "arguments", err)
	}
	m.stack.PushAll(args)

	err := m.enter(fn)
	if err == nil {
		err = m.run(ctx, floor)
	}
	if err != nil {
		m.unwind(floor, height)
		if floor == 0 {
			m.logger.Debug("thread trapped", zap.Uint64("thread", m.id), zap.Error(err))
		}
		return nil, err
	}

	out := slices.Clone(m.stack.Top(len(fn.Sig.Results)))
	m.stack.Truncate(height)
	return out, nil
}

// Invoke calls the function at index of the program running in the
// innermost frame. Foreign code uses it to call back into bytecode.
func (m *Machine) Invoke(ctx context.Context, index uint32, args []uint64) ([]uint64, error) {
	caller := m.Caller()
	if caller == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "invoke without a running function")
	}
	fns := caller.Program.Functions
	if int(index) >= len(fns) {
		return nil, m.trap(caller, m.calls[len(m.calls)-1].pc, fmt.Sprintf("callback function %d out of range", index), nil)
	}
	fn := fns[index].Resolve()
	if fn.Kind != program.FuncBytecode {
		return nil, m.trap(caller, m.calls[len(m.calls)-1].pc, fmt.Sprintf("callback %s is not a bytecode function", fn.Name), nil)
	}
	return m.Call(ctx, fn, args)
}

func (m *Machine) unwind(floor, height int) {
	if len(m.calls) > floor {
		m.frames.Pop(m.calls[floor].base)
		m.calls = m.calls[:floor]
	}
	m.stack.Truncate(height)
}

// enter pushes the frame of a bytecode function whose arguments are on
// top of the operand stack.
func (m *Machine) enter(fn *program.Function) error {
	if len(m.calls) >= m.maxDepth {
		return m.trap(fn, 0, fmt.Sprintf("call depth limit %d exceeded", m.maxDepth), nil)
	}
	base, err := m.frames.Push(fn.FrameSize)
	if err != nil {
		return m.trap(fn, 0, "local frame", err)
	}
	for i, v := range m.stack.PopN(len(fn.Sig.Params)) {
		m.frames.SetSlot(base, fn.Locals[i].Offset, v)
	}
	sp := m.stack.Len()
	if err := m.stack.Reserve(fn.MaxStack); err != nil {
		m.frames.Pop(base)
		return m.trap(fn, 0, "operand stack", err)
	}
	m.calls = append(m.calls, frame{fn: fn, base: base, sp: sp})
	return nil
}

// trap locates a runtime fault. Faults already located by a nested call
// pass through unchanged.
func (m *Machine) trap(fn *program.Function, pc int, detail string, cause error) error {
	var e *errors.Error
	if stderrors.As(cause, &e) && e.Kind == errors.KindTrap && len(e.Path) > 0 {
		return cause
	}
	t := errors.Trap(detail, cause)
	t.Path = []string{fn.Program.Name, fn.Name}
	t.Value = pc
	return t
}

func canceled(ctx context.Context, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return ctx.Err()
	default:
		return nil
	}
}

func b2i(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// run executes until the frame stack is back to floor frames.
func (m *Machine) run(ctx context.Context, floor int) error {
	done := ctx.Done()
	st := m.stack

	for len(m.calls) > floor {
		top := len(m.calls) - 1
		fr := m.calls[top]
		fn, ops, pc, sp, base := fr.fn, fr.fn.Ops, fr.pc, fr.sp, fr.base

	exec:
		for {
			op := &ops[pc]
			at := pc
			pc++

			switch op.Code {
			case bytecode.OpNop, bytecode.OpBlock, bytecode.OpLoop, bytecode.OpEnd:

			case bytecode.OpUnreachable:
				return m.trap(fn, at, "unreachable", nil)

			case bytecode.OpIf:
				if uint32(st.Pop()) == 0 {
					pc = int(op.A)
				}
			case bytecode.OpElse:
				pc = int(op.A)

			case bytecode.OpBreak:
				st.Keep(sp+int(op.C), int(op.B))
				pc = int(op.A)
			case bytecode.OpBreakIf:
				if uint32(st.Pop()) != 0 {
					st.Keep(sp+int(op.C), int(op.B))
					pc = int(op.A)
				}

			case bytecode.OpRecur, bytecode.OpRecurIf:
				if op.Code == bytecode.OpRecurIf && uint32(st.Pop()) == 0 {
					break
				}
				if err := canceled(ctx, done); err != nil {
					return m.trap(fn, at, "canceled", err)
				}
				st.Keep(sp+int(op.C), int(op.B))
				pc = int(op.A)

			case program.OpTailRecur, program.OpTailRecurIf:
				if op.Code == program.OpTailRecurIf && uint32(st.Pop()) == 0 {
					break
				}
				if err := canceled(ctx, done); err != nil {
					return m.trap(fn, at, "canceled", err)
				}
				params := st.PopN(int(op.B))
				m.frames.Zero(base, 0, fn.FrameSize)
				for i, v := range params {
					m.frames.SetSlot(base, fn.Locals[i].Offset, v)
				}
				st.Truncate(sp)
				pc = 0

			case bytecode.OpReturn, program.OpReturnIf:
				if op.Code == program.OpReturnIf && uint32(st.Pop()) == 0 {
					break
				}
				st.Keep(sp, int(op.B))
				m.frames.Pop(base)
				m.calls = m.calls[:top]
				break exec

			case bytecode.OpCall:
				callee := fn.Program.Functions[op.A].Resolve()
				switch {
				case callee.Foreign():
					if err := m.callForeign(ctx, callee, int(op.B), int(op.C)); err != nil {
						return m.trap(fn, at, "call "+callee.QualifiedName(), err)
					}
					continue
				case callee.Kind == program.FuncImport:
					return m.trap(fn, at, "call to unbound import "+callee.Name, nil)
				}
				if err := canceled(ctx, done); err != nil {
					return m.trap(fn, at, "canceled", err)
				}
				m.calls[top].pc = pc
				if err := m.enter(callee); err != nil {
					return err
				}
				break exec

			case bytecode.OpCallDynamic:
				idx := uint32(st.Pop())
				fns := fn.Program.Functions
				if int(idx) >= len(fns) {
					return m.trap(fn, at, fmt.Sprintf("call_dynamic function %d out of range (%d functions)", idx, len(fns)), nil)
				}
				callee := fns[idx].Resolve()
				if callee.Sig != fn.Program.Types[op.A] {
					return m.trap(fn, at, fmt.Sprintf("call_dynamic signature mismatch: expected %s, %s has %s",
						fn.Program.Types[op.A], callee.Name, callee.Sig), nil)
				}
				if callee.Kind != program.FuncBytecode {
					return m.trap(fn, at, fmt.Sprintf("call_dynamic to %s function %s", callee.Kind, callee.Name), nil)
				}
				if err := canceled(ctx, done); err != nil {
					return m.trap(fn, at, "canceled", err)
				}
				m.calls[top].pc = pc
				if err := m.enter(callee); err != nil {
					return err
				}
				break exec

			case bytecode.OpEnvCall:
				if err := m.envcall(ctx, bytecode.EnvCall(op.A)); err != nil {
					return m.trap(fn, at, "envcall "+bytecode.EnvCall(op.A).String(), err)
				}

			case bytecode.OpDrop:
				st.Pop()
			case bytecode.OpSelect:
				c := uint32(st.Pop())
				b := st.Pop()
				a := st.Pop()
				if c != 0 {
					st.Push(a)
				} else {
					st.Push(b)
				}

			case bytecode.OpLocalLoad, bytecode.OpLocalLoadX:
				off := uint64(op.C)
				if op.Code == bytecode.OpLocalLoadX {
					off += uint64(uint32(st.Pop()))
				}
				v, err := m.frames.Load(base, op.A, op.B, off, op.Access)
				if err != nil {
					return m.trap(fn, at, program.OpName(op.Code), err)
				}
				st.Push(v)
			case bytecode.OpLocalStore, bytecode.OpLocalStoreX:
				v := st.Pop()
				off := uint64(op.C)
				if op.Code == bytecode.OpLocalStoreX {
					off += uint64(uint32(st.Pop()))
				}
				if err := m.frames.Store(base, op.A, op.B, off, op.Access, v); err != nil {
					return m.trap(fn, at, program.OpName(op.Code), err)
				}

			case bytecode.OpDataLoad, bytecode.OpDataLoadX:
				off := uint64(op.C)
				if op.Code == bytecode.OpDataLoadX {
					off += uint64(uint32(st.Pop()))
				}
				d := fn.Program.Data[op.A].Resolve()
				v, err := m.Space(d.Program).Load(d, off, op.Access)
				if err != nil {
					return m.trap(fn, at, program.OpName(op.Code), err)
				}
				st.Push(v)
			case bytecode.OpDataStore, bytecode.OpDataStoreX:
				v := st.Pop()
				off := uint64(op.C)
				if op.Code == bytecode.OpDataStoreX {
					off += uint64(uint32(st.Pop()))
				}
				d := fn.Program.Data[op.A].Resolve()
				if err := m.Space(d.Program).Store(d, off, op.Access, v); err != nil {
					return m.trap(fn, at, program.OpName(op.Code), err)
				}

			case bytecode.OpHeapLoad:
				off := uint64(uint32(st.Pop())) + uint64(op.C)
				h := st.Pop()
				v, err := m.env.Heap().Load(h, off, op.Access)
				if err != nil {
					return m.trap(fn, at, "heap.load", err)
				}
				st.Push(v)
			case bytecode.OpHeapStore:
				v := st.Pop()
				off := uint64(uint32(st.Pop())) + uint64(op.C)
				h := st.Pop()
				if err := m.env.Heap().Store(h, off, op.Access, v); err != nil {
					return m.trap(fn, at, "heap.store", err)
				}
			case bytecode.OpHeapAlloc:
				h, err := m.env.Heap().Alloc(st.Pop())
				if err != nil {
					return m.trap(fn, at, "heap.alloc", err)
				}
				st.Push(h)
			case bytecode.OpHeapFree:
				if err := m.env.Heap().Free(st.Pop()); err != nil {
					return m.trap(fn, at, "heap.free", err)
				}
			case bytecode.OpHeapSize:
				n, err := m.env.Heap().Size(st.Pop())
				if err != nil {
					return m.trap(fn, at, "heap.size", err)
				}
				st.Push(n)
			case bytecode.OpHeapResize:
				size := st.Pop()
				if err := m.env.Heap().Resize(st.Pop(), size); err != nil {
					return m.trap(fn, at, "heap.resize", err)
				}

			case bytecode.OpI32Const, bytecode.OpI64Const, bytecode.OpF32Const, bytecode.OpF64Const:
				st.Push(op.Imm)

			default:
				if fault := numeric(st, op.Code); fault != "" {
					return m.trap(fn, at, fault, nil)
				}
			}
		}
	}
	return nil
}

// callForeign pops the arguments of a native or app function, runs it
// through the environment and pushes its results and status.
func (m *Machine) callForeign(ctx context.Context, fn *program.Function, params, results int) error {
	args := slices.Clone(m.stack.PopN(params))
	out, status, err := m.env.Foreign(ctx, m, fn, args)
	if err != nil {
		return err
	}
	if status == 0 && len(out) != results {
		return errors.FFI(fmt.Sprintf("%s returned %d value(s), expected %d", fn.QualifiedName(), len(out), results), nil)
	}
	if status != 0 {
		for range results {
			m.stack.Push(0)
		}
	} else {
		m.stack.PushAll(out)
	}
	m.stack.Push(memory.I32(status))
	return nil
}

func (m *Machine) envcall(ctx context.Context, call bytecode.EnvCall) error {
	sig, _ := bytecode.LookupEnvCall(call)
	args := slices.Clone(m.stack.PopN(len(sig.Params)))

	var (
		out []uint64
		err error
	)
	switch call {
	case bytecode.EnvRuntimeVersion:
		v := RuntimeVersion
		out = []uint64{uint64(v.Major)<<32 | uint64(v.Minor)<<16 | uint64(v.Patch)}
	case bytecode.EnvTimeNow:
		out = []uint64{uint64(time.Now().UnixNano())}
	case bytecode.EnvThreadID:
		out = []uint64{m.id}
	default:
		out, err = m.env.Service(ctx, m, call, args)
		if err != nil {
			return err
		}
	}
	if len(out) != len(sig.Results) {
		return fmt.Errorf("%s returned %d value(s), expected %d", sig.Name, len(out), len(sig.Results))
	}
	m.stack.PushAll(out)
	return nil
}
