package ffi

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/memory"
	"github.com/wippyai/ancvm/program"
)

// wasmLibrary is an instantiated WebAssembly module. Calls into one
// instance are serialized.
type wasmLibrary struct {
	mod  api.Module
	path string
	mu   sync.Mutex
}

// wasmFunc is an exported function of a wasm library.
type wasmFunc struct {
	lib    *wasmLibrary
	fn     api.Function
	params []bytecode.NativeType
	result bytecode.NativeType
}

// runtime returns the wazero runtime, creating it on first use. b.mu is held.
func (b *Bridge) runtime(ctx context.Context) (wazero.Runtime, error) {
	if b.wasm != nil {
		return b.wasm, nil
	}
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig())
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	b.wasm = r
	return r, nil
}

// openWasm compiles and instantiates a wasm library. b.mu is held.
func (b *Bridge) openWasm(ctx context.Context, l *program.Library) (*wasmLibrary, error) {
	bin, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, failure(StatusLibrary, "read wasm library "+l.Path, err)
	}
	r, err := b.runtime(ctx)
	if err != nil {
		return nil, failure(StatusLibrary, "wasm runtime", err)
	}
	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return nil, failure(StatusLibrary, "compile wasm library "+l.Path, err)
	}
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize")
	mod, err := r.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, failure(StatusLibrary, "instantiate wasm library "+l.Path, err)
	}
	return &wasmLibrary{mod: mod, path: l.Path}, nil
}

func wasmValueType(t bytecode.NativeType) (api.ValueType, bool) {
	switch t {
	case bytecode.NativeI32:
		return api.ValueTypeI32, true
	case bytecode.NativeI64:
		return api.ValueTypeI64, true
	case bytecode.NativeF32:
		return api.ValueTypeF32, true
	case bytecode.NativeF64:
		return api.ValueTypeF64, true
	default:
		return 0, false
	}
}

func typeNames(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return "(" + strings.Join(names, ", ") + ")"
}

// lookup finds the exported function and checks it against the declared
// native types, which must all be scalars.
func (w *wasmLibrary) lookup(fn *program.Function) (*wasmFunc, error) {
	nat := fn.Native
	f := w.mod.ExportedFunction(nat.Symbol)
	if f == nil {
		return nil, failure(StatusSymbol, fmt.Sprintf("export %s in %s", nat.Symbol, w.path), nil)
	}
	def := f.Definition()

	mismatch := fmt.Sprintf("%s: %s is %s -> %s in %s", fn.QualifiedName(), nat.Symbol,
		typeNames(def.ParamTypes()), typeNames(def.ResultTypes()), w.path)
	params := def.ParamTypes()
	if len(params) != len(nat.Params) {
		return nil, failure(StatusSignature, mismatch, nil)
	}
	for i, p := range nat.Params {
		vt, ok := wasmValueType(p)
		if !ok || vt != params[i] {
			return nil, failure(StatusSignature, mismatch, nil)
		}
	}
	results := def.ResultTypes()
	if nat.Result == bytecode.NativeVoid {
		if len(results) != 0 {
			return nil, failure(StatusSignature, mismatch, nil)
		}
	} else {
		vt, ok := wasmValueType(nat.Result)
		if !ok || len(results) != 1 || results[0] != vt {
			return nil, failure(StatusSignature, mismatch, nil)
		}
	}
	return &wasmFunc{lib: w, fn: f, params: nat.Params, result: nat.Result}, nil
}

// call runs the function. A wasm trap is a bridge failure.
func (f *wasmFunc) call(ctx context.Context, args []uint64) ([]uint64, error) {
	in := make([]uint64, len(args))
	for i, t := range f.params {
		if t == bytecode.NativeI32 || t == bytecode.NativeF32 {
			in[i] = uint64(uint32(args[i]))
		} else {
			in[i] = args[i]
		}
	}

	f.lib.mu.Lock()
	out, err := f.fn.Call(ctx, in...)
	f.lib.mu.Unlock()
	if err != nil {
		return nil, failure(StatusOther, "wasm call "+f.fn.Definition().Name(), err)
	}

	switch f.result {
	case bytecode.NativeVoid:
		return nil, nil
	case bytecode.NativeI32:
		return []uint64{memory.I32(uint32(out[0]))}, nil
	default:
		return []uint64{out[0]}, nil
	}
}
