package ffi

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/interp"
	"github.com/wippyai/ancvm/memory"
	"github.com/wippyai/ancvm/program"
)

const (
	// MaxCallbacks is the number of callbacks that can be passed to
	// native code at the same time, across all processes.
	MaxCallbacks = 256

	// MaxCallbackParams is the number of integer arguments a callback
	// receives from native code.
	MaxCallbackParams = 6
)

// lease binds one trampoline slot to a bytecode function for the duration
// of a native call.
type lease struct {
	ctx  context.Context
	m    *interp.Machine
	fn   *program.Function
	err  error
	slot int
	ptr  uintptr
}

// invoke runs the leased function with the raw integer arguments received
// from native code. The first trap is kept and the call returns zero.
func (l *lease) invoke(raw [MaxCallbackParams]uintptr) uintptr {
	if l.err != nil {
		return 0
	}
	params := l.fn.Sig.Params
	args := make([]uint64, len(params))
	for i, t := range params {
		if t == bytecode.ValI32 {
			args[i] = memory.I32(uint32(raw[i]))
		} else {
			args[i] = uint64(raw[i])
		}
	}
	out, err := l.m.Call(l.ctx, l.fn, args)
	if err != nil {
		l.err = err
		return 0
	}
	if len(out) == 0 {
		return 0
	}
	if l.fn.Sig.Results[0] == bytecode.ValI32 {
		return uintptr(uint32(out[0]))
	}
	return uintptr(out[0])
}

// trampolines is a process-wide pool of native function pointers. Native
// callbacks can never be released, so slots are created on first use and
// recycled afterwards.
type trampolines struct {
	mu     sync.Mutex
	ptrs   [MaxCallbacks]uintptr
	leases [MaxCallbacks]*lease
	free   []int
	next   int
}

var callbacks trampolines

// checkCallback validates the function a callback argument names.
func checkCallback(owner *program.Function, index uint32) (*program.Function, error) {
	fns := owner.Program.Functions
	if int(index) >= len(fns) {
		return nil, failure(StatusSignature, fmt.Sprintf("%s: callback function %d out of range", owner.QualifiedName(), index), nil)
	}
	fn := fns[index].Resolve()
	if fn.Kind != program.FuncBytecode {
		return nil, failure(StatusSignature, fmt.Sprintf("%s: callback %s is a %s function", owner.QualifiedName(), fn.Name, fn.Kind), nil)
	}
	if len(fn.Sig.Params) > MaxCallbackParams || len(fn.Sig.Results) > 1 {
		return nil, failure(StatusSignature, fmt.Sprintf("%s: callback %s%s has more than %d params or 1 result",
			owner.QualifiedName(), fn.Name, fn.Sig, MaxCallbackParams), nil)
	}
	for _, t := range append(fn.Sig.Params[:len(fn.Sig.Params):len(fn.Sig.Params)], fn.Sig.Results...) {
		if t != bytecode.ValI32 && t != bytecode.ValI64 {
			return nil, failure(StatusSignature, fmt.Sprintf("%s: callback %s%s uses non-integer types",
				owner.QualifiedName(), fn.Name, fn.Sig), nil)
		}
	}
	return fn, nil
}

// acquire leases a trampoline for fn, which must have passed checkCallback.
func (t *trampolines) acquire(ctx context.Context, m *interp.Machine, fn *program.Function) (*lease, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := -1
	switch {
	case len(t.free) > 0:
		slot = t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
	case t.next < MaxCallbacks:
		ptr, err := newTrampoline(t.next)
		if err != nil {
			return nil, failure(StatusOther, "create callback", err)
		}
		slot = t.next
		t.ptrs[slot] = ptr
		t.next++
	default:
		return nil, failure(StatusOther, fmt.Sprintf("all %d callback slots are in use", MaxCallbacks), nil)
	}

	l := &lease{ctx: ctx, m: m, fn: fn, slot: slot, ptr: t.ptrs[slot]}
	t.leases[slot] = l
	return l, nil
}

func (t *trampolines) release(l *lease) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.leases[l.slot] == l {
		t.leases[l.slot] = nil
		t.free = append(t.free, l.slot)
	}
}

// dispatch is the Go side of trampoline slot.
func (t *trampolines) dispatch(slot int, raw [MaxCallbackParams]uintptr) uintptr {
	t.mu.Lock()
	l := t.leases[slot]
	t.mu.Unlock()
	if l == nil {
		return 0
	}
	return l.invoke(raw)
}
