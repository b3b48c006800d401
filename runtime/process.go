package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/ffi"
	"github.com/wippyai/ancvm/interp"
	"github.com/wippyai/ancvm/memory"
	"github.com/wippyai/ancvm/program"
	"github.com/wippyai/ancvm/resource"
)

// Process is a running program: its data instances, heap, foreign bridge
// and threads. Every thread has its own machine; they share the heap, the
// read_only data and the read_write entries marked shared.
type Process struct {
	runtime *Runtime
	prog    *program.Program
	logger  *zap.Logger

	table    *resource.Table
	heap     *memory.Heap
	bridge   *ffi.Bridge
	threads  *resource.Typed[*Thread]
	services map[bytecode.EnvCall]service

	mu        sync.Mutex
	instances map[*program.Program]*memory.Instance
	order     []*program.Program // dependencies first
	live      map[uint64]*Thread // running threads by machine id
	closing   bool

	main   *interp.Machine
	nextID atomic.Uint64
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func newProcess(r *Runtime, prog *program.Program) *Process {
	logger := r.logger.With(zap.String("process", prog.String()))
	table := resource.NewTable()
	table.Subscribe(resourceLogger(logger))
	heap := memory.NewHeap(table, r.opts.MaxHeap)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Process{
		runtime:   r,
		prog:      prog,
		logger:    logger,
		table:     table,
		heap:      heap,
		bridge:    ffi.NewBridge(ffi.Options{Logger: logger, Heap: heap, Table: table}),
		threads:   resource.NewTyped[*Thread](table, resource.KindThread),
		instances: make(map[*program.Program]*memory.Instance),
		live:      make(map[uint64]*Thread),
		ctx:       ctx,
		cancel:    cancel,
	}
	p.services = p.serviceTable()
	p.main = p.machine(p.nextID.Add(1))
	return p
}

// resourceLogger logs the lifecycle of streams and threads.
func resourceLogger(logger *zap.Logger) resource.Observer {
	return resource.ObserverFunc(func(e resource.Event) {
		if e.Kind != resource.KindStream && e.Kind != resource.KindThread {
			return
		}
		logger.Debug("resource "+e.Type.String(),
			zap.Stringer("kind", e.Kind),
			zap.Uint64("handle", uint64(e.Handle)))
	})
}

func (p *Process) machine(id uint64) *interp.Machine {
	return interp.New(p, interp.Options{
		Logger:       p.logger,
		ID:           id,
		MaxCallDepth: p.runtime.opts.MaxCallDepth,
		MaxStack:     p.runtime.opts.MaxStack,
	})
}

// Program returns the program the process runs.
func (p *Process) Program() *program.Program {
	return p.prog
}

// Bridge returns the foreign function bridge of the process.
func (p *Process) Bridge() *ffi.Bridge {
	return p.bridge
}

// Instance implements interp.Env.
func (p *Process) Instance(prog *program.Program) *memory.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.instances[prog]
	if !ok {
		in = memory.NewInstance(prog)
		p.instances[prog] = in
	}
	return in
}

// Heap implements interp.Env.
func (p *Process) Heap() *memory.Heap {
	return p.heap
}

// Foreign implements interp.Env. Bridge failures become the status operand.
func (p *Process) Foreign(ctx context.Context, m *interp.Machine, fn *program.Function, args []uint64) ([]uint64, uint32, error) {
	out, err := p.bridge.Call(ctx, m, fn, args)
	if err == nil {
		return out, 0, nil
	}
	if ffi.IsFailure(err) {
		status := ffi.StatusOf(err)
		p.logger.Debug("foreign call failed",
			zap.String("func", fn.QualifiedName()),
			zap.Uint64("thread", m.ID()),
			zap.Stringer("status", status),
			zap.Error(err))
		return nil, uint32(status), nil
	}
	return nil, 0, err
}

// Service implements interp.Env.
func (p *Process) Service(ctx context.Context, m *interp.Machine, call bytecode.EnvCall, args []uint64) ([]uint64, error) {
	svc, ok := p.services[call]
	if !ok {
		return nil, errors.Unsupported(errors.PhaseRuntime, "environment call "+call.String())
	}
	return svc(ctx, m, args)
}

// start instantiates prog and its links and runs their start functions.
func (p *Process) start(ctx context.Context) error {
	seen := make(map[*program.Program]bool)
	var visit func(*program.Program)
	visit = func(prog *program.Program) {
		if seen[prog] {
			return
		}
		seen[prog] = true
		for _, dep := range prog.Links {
			if dep != nil {
				visit(dep)
			}
		}
		p.Instance(prog)
		p.order = append(p.order, prog)
	}
	visit(p.prog)

	for _, prog := range p.order {
		for _, fn := range prog.Start {
			if _, err := p.main.Call(ctx, fn, nil); err != nil {
				p.logger.Warn("start function failed", zap.String("func", fn.QualifiedName()), zap.Error(err))
				return err
			}
		}
	}
	p.logger.Info("process started", zap.Int("modules", len(p.order)))
	return nil
}

// Lookup returns the exported function name of the process program.
func (p *Process) Lookup(name string) (*program.Function, error) {
	fn, ok := p.prog.Func(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "function", name)
	}
	return fn, nil
}

// Spawn runs the exported function name on a new thread.
func (p *Process) Spawn(ctx context.Context, name string, args ...uint64) (*Thread, error) {
	fn, err := p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return p.SpawnFunc(ctx, fn, args)
}

// SpawnFunc runs fn on a new thread. The thread stops when ctx or the
// process is canceled.
func (p *Process) SpawnFunc(ctx context.Context, fn *program.Function, args []uint64) (*Thread, error) {
	return p.spawn(ctx, fn, args, nil)
}

func (p *Process) spawn(ctx context.Context, fn *program.Function, args []uint64, parent *Thread) (*Thread, error) {
	if len(args) != len(fn.Sig.Params) {
		return nil, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("%s expects %d argument(s), got %d", fn.QualifiedName(), len(fn.Sig.Params), len(args)))
	}

	t := &Thread{
		id:     p.nextID.Add(1),
		fn:     fn,
		parent: parent,
		done:   make(chan struct{}),
		inbox:  make(chan []byte, mailboxSize),
	}

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil, errors.InvalidInput(errors.PhaseRuntime, "process is closing")
	}
	p.live[t.id] = t
	p.wg.Add(1)
	p.mu.Unlock()

	tctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)

	go func() {
		defer p.wg.Done()
		defer stop()
		defer cancel()
		p.run(tctx, t, slices.Clone(args))
	}()
	return t, nil
}

// thread returns the running thread whose machine has id, nil for the main
// machine.
func (p *Process) thread(id uint64) *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live[id]
}

func (p *Process) run(ctx context.Context, t *Thread, args []uint64) {
	defer close(t.done)
	defer func() {
		p.mu.Lock()
		delete(p.live, t.id)
		p.mu.Unlock()
	}()

	m := p.machine(t.id)
	p.logger.Debug("thread started", zap.Uint64("thread", t.id), zap.String("func", t.fn.QualifiedName()))
	t.results, t.err = m.Call(ctx, t.fn, args)
	if t.err != nil {
		p.logger.Warn("thread trapped", zap.Uint64("thread", t.id), zap.Error(t.err))
		return
	}
	p.logger.Debug("thread finished", zap.Uint64("thread", t.id))
}

// Call runs the exported function name on a new thread and waits for it.
func (p *Process) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	t, err := p.Spawn(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return t.Join()
}

// Close waits for all threads, then runs the exit functions of every
// module in reverse start order and releases the process resources. When
// ctx ends first, running threads are canceled.
func (p *Process) Close(ctx context.Context) error {
	return p.shutdown(ctx, true)
}

func (p *Process) shutdown(ctx context.Context, exit bool) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closing = true
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			p.logger.Warn("canceling running threads", zap.Error(ctx.Err()))
			p.cancel()
			<-done
		}

		var errs []error
		if exit {
			errs = p.runExit(context.WithoutCancel(ctx))
		}
		p.cancel()
		if err := p.bridge.Close(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, err)
		}
		if err := p.table.Close(); err != nil {
			errs = append(errs, err)
		}
		p.runtime.forget(p)
		p.closeErr = stderrors.Join(errs...)
		p.logger.Info("process closed")
	})
	return p.closeErr
}

func (p *Process) runExit(ctx context.Context) []error {
	var errs []error
	for _, prog := range slices.Backward(p.order) {
		for _, fn := range prog.Exit {
			if _, err := p.main.Call(ctx, fn, nil); err != nil {
				p.logger.Warn("exit function failed", zap.String("func", fn.QualifiedName()), zap.Error(err))
				errs = append(errs, err)
			}
		}
	}
	return errs
}
