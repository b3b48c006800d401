package ffi

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/interp"
	"github.com/wippyai/ancvm/memory"
	"github.com/wippyai/ancvm/program"
	"github.com/wippyai/ancvm/resource"
)

// Status is the outcome of a foreign call as seen by bytecode.
type Status uint32

const (
	StatusOK        Status = 0
	StatusLibrary   Status = 1 // library could not be opened
	StatusSymbol    Status = 2 // symbol not found
	StatusSignature Status = 3 // declared and actual signatures disagree
	StatusSpawn     Status = 4 // process could not be started
	StatusOther     Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusLibrary:
		return "library"
	case StatusSymbol:
		return "symbol"
	case StatusSignature:
		return "signature"
	case StatusSpawn:
		return "spawn"
	default:
		return "other"
	}
}

// failure builds a recoverable bridge error carrying its status.
func failure(status Status, detail string, cause error) *errors.Error {
	e := errors.FFI(detail, cause)
	e.Value = status
	return e
}

// StatusOf returns the status carried by a bridge failure, StatusOK for nil
// and StatusOther for any error that is not a bridge failure.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var e *errors.Error
	if stderrors.As(err, &e) && e.Kind == errors.KindFFI {
		if s, ok := e.Value.(Status); ok {
			return s
		}
	}
	return StatusOther
}

// IsFailure reports whether err is a recoverable bridge failure rather than
// a trap raised while the foreign code ran.
func IsFailure(err error) bool {
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindFFI {
		return false
	}
	_, ok := e.Value.(Status)
	return ok
}

// Options configures a Bridge.
type Options struct {
	Logger *zap.Logger
	// Heap resolves pointer arguments and app stdin handles.
	Heap *memory.Heap
	// Table receives the output streams of app calls.
	Table *resource.Table
}

// Bridge dispatches native, wasm and app functions for one process.
// It is safe for concurrent use.
type Bridge struct {
	logger  *zap.Logger
	heap    *memory.Heap
	streams *resource.Typed[*Stream]

	mu        sync.Mutex
	libraries map[*program.Library]*library
	bindings  map[*program.Function]*binding

	wasm   wazero.Runtime
	closed bool
}

// library is an opened native or wasm library.
type library struct {
	err    error
	wasm   *wasmLibrary
	handle uintptr
}

// binding is a resolved, signature-checked symbol.
type binding struct {
	err    error
	native *nativeFunc
	wasm   *wasmFunc
}

// NewBridge creates a bridge. Heap and Table are required.
func NewBridge(opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = Logger()
	}
	return &Bridge{
		logger:    opts.Logger,
		heap:      opts.Heap,
		streams:   resource.NewTyped[*Stream](opts.Table, resource.KindStream),
		libraries: make(map[*program.Library]*library),
		bindings:  make(map[*program.Function]*binding),
	}
}

// Streams returns the app output streams of the process.
func (b *Bridge) Streams() *resource.Typed[*Stream] {
	return b.streams
}

// Call runs a native or app function. Recoverable failures are returned as
// errors for which IsFailure holds; any other error is a trap.
func (b *Bridge) Call(ctx context.Context, m *interp.Machine, fn *program.Function, args []uint64) ([]uint64, error) {
	switch fn.Kind {
	case program.FuncNative:
		return b.CallNative(ctx, m, fn, args)
	case program.FuncApp:
		return b.CallApp(ctx, fn, args)
	default:
		return nil, failure(StatusOther, fmt.Sprintf("%s is not a foreign function", fn.QualifiedName()), nil)
	}
}

// CallNative calls a function bound to a native or wasm library symbol.
// The library is opened and the symbol bound on first use; both results,
// including failures, are cached for the lifetime of the bridge.
func (b *Bridge) CallNative(ctx context.Context, m *interp.Machine, fn *program.Function, args []uint64) ([]uint64, error) {
	bd := b.bind(ctx, fn)
	if bd.err != nil {
		return nil, bd.err
	}
	if bd.wasm != nil {
		return bd.wasm.call(ctx, args)
	}
	return b.callNative(ctx, m, fn, bd.native, args)
}

func (b *Bridge) bind(ctx context.Context, fn *program.Function) *binding {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bd, ok := b.bindings[fn]; ok {
		return bd
	}
	bd := &binding{}
	b.bindings[fn] = bd

	if b.closed {
		bd.err = failure(StatusOther, "bridge is closed", nil)
		return bd
	}

	nat := fn.Native
	if err := checkSignature(fn); err != nil {
		bd.err = err
		return bd
	}

	lib := b.open(ctx, nat.Library)
	if lib.err != nil {
		bd.err = lib.err
		return bd
	}

	if lib.wasm != nil {
		bd.wasm, bd.err = lib.wasm.lookup(fn)
	} else {
		bd.native, bd.err = bindNative(lib.handle, nat)
	}
	if bd.err != nil {
		b.logger.Debug("bind failed",
			zap.String("library", nat.Library.Name),
			zap.String("symbol", nat.Symbol),
			zap.Error(bd.err))
		return bd
	}
	b.logger.Debug("symbol bound",
		zap.String("library", nat.Library.Name),
		zap.String("symbol", nat.Symbol),
		zap.String("func", fn.QualifiedName()))
	return bd
}

// open returns the cached library, opening it on first use. b.mu is held.
func (b *Bridge) open(ctx context.Context, l *program.Library) *library {
	if lib, ok := b.libraries[l]; ok {
		return lib
	}
	lib := &library{}
	b.libraries[l] = lib

	switch l.Kind {
	case bytecode.LibraryWasm:
		lib.wasm, lib.err = b.openWasm(ctx, l)
	default:
		handle, err := openLibrary(l.Path)
		if err != nil {
			lib.err = failure(StatusLibrary, fmt.Sprintf("open library %s", l.Path), err)
		}
		lib.handle = handle
	}
	if lib.err != nil {
		b.logger.Debug("library open failed", zap.String("library", l.Path), zap.Error(lib.err))
	} else {
		b.logger.Debug("library opened", zap.String("library", l.Path), zap.Stringer("kind", kindName(l.Kind)))
	}
	return lib
}

type kindName bytecode.LibraryKind

func (k kindName) String() string {
	if bytecode.LibraryKind(k) == bytecode.LibraryWasm {
		return "wasm"
	}
	return "native"
}

// checkSignature matches the declared native types against the VM
// signature of the function.
func checkSignature(fn *program.Function) error {
	nat := fn.Native
	mismatch := func(format string, args ...any) error {
		return failure(StatusSignature,
			fmt.Sprintf("%s (%s): ", fn.QualifiedName(), nat.Symbol)+fmt.Sprintf(format, args...), nil)
	}

	if len(nat.Params) != len(fn.Sig.Params) {
		return mismatch("%d native params for %d VM params", len(nat.Params), len(fn.Sig.Params))
	}
	for i, p := range nat.Params {
		vt, ok := p.ValType()
		if !ok || vt != fn.Sig.Params[i] {
			return mismatch("param %d is %s, VM type is %s", i, p, fn.Sig.Params[i])
		}
	}
	if nat.Result == bytecode.NativeVoid {
		if len(fn.Sig.Results) != 0 {
			return mismatch("void native returns %d VM results", len(fn.Sig.Results))
		}
		return nil
	}
	vt, _ := nat.Result.ValType()
	if len(fn.Sig.Results) != 1 || fn.Sig.Results[0] != vt {
		return mismatch("native returns %s, VM results are %v", nat.Result, fn.Sig.Results)
	}
	return nil
}

// heapWindow returns the first n bytes of heap allocation handle for a copy
// to or from the native address addr.
func (b *Bridge) heapWindow(handle, addr, n uint64) ([]byte, error) {
	if addr == 0 {
		return nil, errors.Memory("null native address")
	}
	buf, err := b.heap.Bytes(handle)
	if err != nil {
		return nil, err
	}
	if n > uint64(len(buf)) {
		return nil, errors.Memory("copy of %d bytes exceeds heap allocation of %d", n, len(buf))
	}
	return buf[:n], nil
}

// Close releases native libraries and the wasm runtime. Calls after Close
// fail with StatusOther.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for l, lib := range b.libraries {
		if lib.err != nil || lib.wasm != nil {
			continue
		}
		if err := closeLibrary(lib.handle); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", l.Path, err))
		}
	}
	if b.wasm != nil {
		if err := b.wasm.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close wasm runtime: %w", err))
		}
	}
	clear(b.libraries)
	clear(b.bindings)
	return stderrors.Join(errs...)
}
