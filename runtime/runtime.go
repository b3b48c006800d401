package runtime

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ancvm/config"
	"github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/interp"
	"github.com/wippyai/ancvm/linker"
	"github.com/wippyai/ancvm/program"
)

// Options configures a Runtime. Zero limits take the interp defaults.
type Options struct {
	Logger *zap.Logger
	// Paths are repository roots searched for shared modules.
	Paths []string
	// MaxCallDepth and MaxStack bound every thread.
	MaxCallDepth int
	MaxStack     int
	// MaxHeap bounds the live heap bytes of every process.
	MaxHeap uint64
}

// DefaultMaxHeap is the heap limit of processes when Options.MaxHeap is 0.
const DefaultMaxHeap = 256 << 20

// OptionsFromConfig derives runtime options from a configuration.
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger) Options {
	return Options{
		Logger:       logger,
		Paths:        cfg.Repository.Paths,
		MaxCallDepth: cfg.Runtime.MaxCallDepth,
		MaxStack:     cfg.Runtime.MaxStack,
		MaxHeap:      cfg.Runtime.MaxHeap,
	}
}

// Runtime loads and links programs and starts processes running them.
// Programs are shared by all processes of the runtime.
type Runtime struct {
	opts     Options
	logger   *zap.Logger
	registry *linker.Registry
	loader   *linker.Loader

	mu     sync.Mutex
	procs  map[*Process]struct{}
	closed bool
}

// New creates a runtime.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = Logger()
	}
	if opts.MaxCallDepth == 0 {
		opts.MaxCallDepth = interp.DefaultMaxCallDepth
	}
	if opts.MaxStack == 0 {
		opts.MaxStack = interp.DefaultMaxStack
	}
	if opts.MaxHeap == 0 {
		opts.MaxHeap = DefaultMaxHeap
	}
	if opts.MaxCallDepth < 0 || opts.MaxStack < 0 {
		return nil, errors.InvalidInput(errors.PhaseConfig, "negative runtime limit")
	}

	reg := linker.NewRegistry()
	return &Runtime{
		opts:     opts,
		logger:   opts.Logger,
		registry: reg,
		loader:   linker.NewLoader(reg, linker.Options{Logger: opts.Logger, Paths: opts.Paths}),
		procs:    make(map[*Process]struct{}),
	}, nil
}

// Registry returns the shared modules loaded so far.
func (r *Runtime) Registry() *linker.Registry {
	return r.registry
}

// Load reads, links and verifies the module file or module directory at path.
func (r *Runtime) Load(ctx context.Context, path string) (*program.Program, error) {
	p, err := r.loader.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	r.logger.Info("module loaded", zap.String("module", p.String()), zap.String("path", path))
	return p, nil
}

// LoadBytes links a module from encoded binaries: the main module first,
// then submodules. Local links are resolved against dir.
func (r *Runtime) LoadBytes(ctx context.Context, dir string, binaries ...[]byte) (*program.Program, error) {
	p, err := r.loader.LoadBytes(ctx, dir, binaries...)
	if err != nil {
		return nil, err
	}
	r.logger.Info("module loaded", zap.String("module", p.String()))
	return p, nil
}

// Start creates a process for prog: it instantiates the data of prog and
// every module it links, then runs their start functions, dependencies
// first, on the main thread. A trapping start function aborts the process.
func (r *Runtime) Start(ctx context.Context, prog *program.Program) (*Process, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.InvalidInput(errors.PhaseRuntime, "runtime is closed")
	}
	proc := newProcess(r, prog)
	r.procs[proc] = struct{}{}
	r.mu.Unlock()

	if err := proc.start(ctx); err != nil {
		_ = proc.shutdown(ctx, false)
		return nil, err
	}
	return proc, nil
}

func (r *Runtime) forget(p *Process) {
	r.mu.Lock()
	delete(r.procs, p)
	r.mu.Unlock()
}

// Close closes every process still running. Loaded programs stay valid.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	procs := make([]*Process, 0, len(r.procs))
	for p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	var errs []error
	for _, p := range procs {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
