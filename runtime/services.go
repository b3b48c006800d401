package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/interp"
	"github.com/wippyai/ancvm/memory"
	"github.com/wippyai/ancvm/program"
	"github.com/wippyai/ancvm/resource"
)

// service answers one environment call for a thread of the process.
type service func(ctx context.Context, m *interp.Machine, args []uint64) ([]uint64, error)

func (p *Process) serviceTable() map[bytecode.EnvCall]service {
	return map[bytecode.EnvCall]service{
		bytecode.EnvThreadSpawn:   p.threadSpawn,
		bytecode.EnvThreadJoin:    p.threadJoin,
		bytecode.EnvThreadSleep:   threadSleep,
		bytecode.EnvThreadSend:    p.threadSend,
		bytecode.EnvThreadReceive: p.threadReceive,
		bytecode.EnvThreadRunning: p.threadRunning,
		bytecode.EnvStreamSize:    p.streamSize,
		bytecode.EnvStreamRead:    p.streamRead,
		bytecode.EnvStreamClose:   p.streamClose,
		bytecode.EnvNativeRead:    p.nativeRead,
		bytecode.EnvNativeWrite:   p.nativeWrite,
	}
}

func invalid(format string, args ...any) error {
	return errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf(format, args...))
}

// threadSpawn starts function index of the calling program with one i64
// argument and returns the thread handle.
func (p *Process) threadSpawn(_ context.Context, m *interp.Machine, args []uint64) ([]uint64, error) {
	caller := m.Caller()
	if caller == nil {
		return nil, invalid("thread_spawn outside a function")
	}
	index := uint32(args[0])
	fns := caller.Program.Functions
	if int(index) >= len(fns) {
		return nil, invalid("thread function %d out of range", index)
	}
	fn := fns[index].Resolve()
	if fn.Kind != program.FuncBytecode {
		return nil, invalid("thread function %s is a %s function", fn.Name, fn.Kind)
	}
	sig := fn.Sig
	if len(sig.Params) != 1 || sig.Params[0] != bytecode.ValI64 || len(sig.Results) != 1 || sig.Results[0] != bytecode.ValI64 {
		return nil, invalid("thread function %s%s must be (i64) -> (i64)", fn.Name, sig)
	}

	t, err := p.spawn(p.ctx, fn, []uint64{args[1]}, p.thread(m.ID()))
	if err != nil {
		return nil, err
	}
	h := p.threads.Insert(t)
	if h == 0 {
		return nil, invalid("process is closed")
	}
	return []uint64{uint64(h)}, nil
}

// threadJoin waits for a thread started by thread_spawn and releases its
// handle. The status is 0 when the thread returned and 1 when it trapped.
func (p *Process) threadJoin(ctx context.Context, _ *interp.Machine, args []uint64) ([]uint64, error) {
	h := resource.Handle(args[0])
	t, ok := p.threads.Get(h)
	if !ok {
		return nil, invalid("invalid thread handle 0x%x", args[0])
	}
	select {
	case <-t.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if _, err := p.threads.Remove(h); err != nil {
		return nil, invalid("thread handle 0x%x already joined", args[0])
	}
	results, err := t.Join()
	if err != nil {
		return []uint64{0, memory.I32(1)}, nil
	}
	return []uint64{results[0], 0}, nil
}

// threadSend copies a heap allocation to the inbox of a thread; handle 0
// is the parent of the caller. Status 1 means the receiver has finished or
// the caller has no parent thread.
func (p *Process) threadSend(ctx context.Context, m *interp.Machine, args []uint64) ([]uint64, error) {
	msg, err := p.heap.Bytes(args[1])
	if err != nil {
		return nil, err
	}
	var to *Thread
	if args[0] == 0 {
		if self := p.thread(m.ID()); self != nil {
			to = self.parent
		}
	} else {
		t, ok := p.threads.Get(resource.Handle(args[0]))
		if !ok {
			return nil, invalid("invalid thread handle 0x%x", args[0])
		}
		to = t
	}
	if to == nil {
		return []uint64{memory.I32(1)}, nil
	}
	switch err := to.Send(ctx, msg); {
	case err == ErrThreadFinished:
		return []uint64{memory.I32(1)}, nil
	case err != nil:
		return nil, err
	}
	return []uint64{0}, nil
}

// threadReceive waits for the next message of the calling thread and
// returns it in a new heap allocation. Status 1 means the parent finished
// with nothing queued.
func (p *Process) threadReceive(ctx context.Context, m *interp.Machine, _ []uint64) ([]uint64, error) {
	self := p.thread(m.ID())
	if self == nil {
		return nil, invalid("thread_receive outside a thread")
	}
	msg, ok, err := self.receive(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []uint64{0, memory.I32(1)}, nil
	}
	h, err := p.heap.AllocBytes(msg)
	if err != nil {
		return nil, err
	}
	return []uint64{h, 0}, nil
}

// threadRunning returns 1 while a thread started by thread_spawn runs and 0
// once it has finished.
func (p *Process) threadRunning(_ context.Context, _ *interp.Machine, args []uint64) ([]uint64, error) {
	t, ok := p.threads.Get(resource.Handle(args[0]))
	if !ok {
		return nil, invalid("invalid thread handle 0x%x", args[0])
	}
	if t.Running() {
		return []uint64{memory.I32(1)}, nil
	}
	return []uint64{0}, nil
}

func threadSleep(ctx context.Context, _ *interp.Machine, args []uint64) ([]uint64, error) {
	ms := int64(args[0])
	if ms <= 0 {
		return nil, nil
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Process) streamSize(_ context.Context, _ *interp.Machine, args []uint64) ([]uint64, error) {
	s, ok := p.bridge.Streams().Get(resource.Handle(args[0]))
	if !ok {
		return nil, invalid("invalid stream handle 0x%x", args[0])
	}
	return []uint64{uint64(s.Size())}, nil
}

// streamRead copies unread stream bytes into a heap allocation, as many as
// fit, and returns the count.
func (p *Process) streamRead(_ context.Context, _ *interp.Machine, args []uint64) ([]uint64, error) {
	s, ok := p.bridge.Streams().Get(resource.Handle(args[0]))
	if !ok {
		return nil, invalid("invalid stream handle 0x%x", args[0])
	}
	buf, err := p.heap.Bytes(args[1])
	if err != nil {
		return nil, err
	}
	return []uint64{uint64(s.Read(buf))}, nil
}

func (p *Process) streamClose(_ context.Context, _ *interp.Machine, args []uint64) ([]uint64, error) {
	if _, err := p.bridge.Streams().Remove(resource.Handle(args[0])); err != nil {
		return nil, invalid("invalid stream handle 0x%x", args[0])
	}
	return nil, nil
}

func (p *Process) nativeRead(_ context.Context, _ *interp.Machine, args []uint64) ([]uint64, error) {
	return nil, p.bridge.ReadNative(args[0], args[1], args[2])
}

func (p *Process) nativeWrite(_ context.Context, _ *interp.Machine, args []uint64) ([]uint64, error) {
	return nil, p.bridge.WriteNative(args[0], args[1], args[2])
}
