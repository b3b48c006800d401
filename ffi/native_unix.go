//go:build darwin || (linux && (amd64 || arm64))

package ffi

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/interp"
	"github.com/wippyai/ancvm/memory"
	"github.com/wippyai/ancvm/program"
)

// All conversions between VM values and native pointers happen in this file.

// nativeFunc is a symbol registered with a Go function type derived from
// its native signature.
type nativeFunc struct {
	fn     reflect.Value
	params []bytecode.NativeType
	result bytecode.NativeType
}

var (
	int32Type   = reflect.TypeFor[int32]()
	int64Type   = reflect.TypeFor[int64]()
	float32Type = reflect.TypeFor[float32]()
	float64Type = reflect.TypeFor[float64]()
	uintptrType = reflect.TypeFor[uintptr]()
	pointerType = reflect.TypeFor[unsafe.Pointer]()
)

func nativeGoType(t bytecode.NativeType) reflect.Type {
	switch t {
	case bytecode.NativeI32:
		return int32Type
	case bytecode.NativeI64:
		return int64Type
	case bytecode.NativeF32:
		return float32Type
	case bytecode.NativeF64:
		return float64Type
	case bytecode.NativePointer:
		return pointerType
	default:
		return uintptrType
	}
}

func openLibrary(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

func closeLibrary(handle uintptr) error {
	return purego.Dlclose(handle)
}

// bindNative resolves the symbol and registers it with a function type
// built from the declared native types.
func bindNative(handle uintptr, nat *program.Native) (nf *nativeFunc, err error) {
	sym, err := purego.Dlsym(handle, nat.Symbol)
	if err != nil {
		return nil, failure(StatusSymbol, fmt.Sprintf("symbol %s in %s", nat.Symbol, nat.Library.Path), err)
	}

	in := make([]reflect.Type, len(nat.Params))
	for i, p := range nat.Params {
		in[i] = nativeGoType(p)
	}
	var out []reflect.Type
	switch nat.Result {
	case bytecode.NativeVoid:
	case bytecode.NativePointer:
		out = []reflect.Type{uintptrType}
	default:
		out = []reflect.Type{nativeGoType(nat.Result)}
	}

	fptr := reflect.New(reflect.FuncOf(in, out, false))
	defer func() {
		if r := recover(); r != nil {
			nf, err = nil, failure(StatusSignature, fmt.Sprintf("register %s: %v", nat.Symbol, r), nil)
		}
	}()
	purego.RegisterFunc(fptr.Interface(), sym)

	return &nativeFunc{fn: fptr.Elem(), params: nat.Params, result: nat.Result}, nil
}

// callNative converts VM arguments, pins pointer arguments and leases
// callback slots for the duration of the call.
func (b *Bridge) callNative(ctx context.Context, m *interp.Machine, fn *program.Function, nf *nativeFunc, args []uint64) ([]uint64, error) {
	var (
		pinned []uint64
		leased []*lease
	)
	defer func() {
		for _, h := range pinned {
			b.heap.Unpin(h)
		}
		for _, l := range leased {
			callbacks.release(l)
		}
	}()

	in := make([]reflect.Value, len(args))
	for i, t := range nf.params {
		v := args[i]
		switch t {
		case bytecode.NativeI32:
			in[i] = reflect.ValueOf(int32(uint32(v)))
		case bytecode.NativeI64:
			in[i] = reflect.ValueOf(int64(v))
		case bytecode.NativeF32:
			in[i] = reflect.ValueOf(math.Float32frombits(uint32(v)))
		case bytecode.NativeF64:
			in[i] = reflect.ValueOf(math.Float64frombits(v))
		case bytecode.NativePointer:
			buf, err := b.heap.Pin(v)
			if err != nil {
				return nil, err
			}
			pinned = append(pinned, v)
			var p unsafe.Pointer
			if len(buf) > 0 {
				p = unsafe.Pointer(&buf[0])
			}
			in[i] = reflect.ValueOf(p)
		case bytecode.NativeCallback:
			target, err := checkCallback(fn, uint32(v))
			if err != nil {
				return nil, err
			}
			l, err := callbacks.acquire(ctx, m, target)
			if err != nil {
				return nil, err
			}
			leased = append(leased, l)
			in[i] = reflect.ValueOf(l.ptr)
		}
	}

	out := nf.fn.Call(in)

	for _, l := range leased {
		if l.err != nil {
			return nil, l.err
		}
	}
	if nf.result == bytecode.NativeVoid {
		return nil, nil
	}
	r := out[0]
	switch nf.result {
	case bytecode.NativeI32:
		return []uint64{memory.I32(uint32(r.Int()))}, nil
	case bytecode.NativeI64:
		return []uint64{uint64(r.Int())}, nil
	case bytecode.NativeF32:
		return []uint64{memory.F32(float32(r.Float()))}, nil
	case bytecode.NativeF64:
		return []uint64{memory.F64(r.Float())}, nil
	default:
		return []uint64{uint64(r.Uint())}, nil
	}
}

// nativeBytes views n bytes of native memory at addr.
func nativeBytes(addr, n uint64) []byte {
	p := *(*unsafe.Pointer)(unsafe.Pointer(&addr))
	return unsafe.Slice((*byte)(p), n)
}

// ReadNative copies n bytes at the native address addr, typically a pointer
// returned by a native function, into the start of heap allocation handle.
func (b *Bridge) ReadNative(addr, handle, n uint64) error {
	dst, err := b.heapWindow(handle, addr, n)
	if err != nil {
		return err
	}
	copy(dst, nativeBytes(addr, n))
	return nil
}

// WriteNative copies the first n bytes of heap allocation handle to the
// native address addr.
func (b *Bridge) WriteNative(handle, addr, n uint64) error {
	src, err := b.heapWindow(handle, addr, n)
	if err != nil {
		return err
	}
	copy(nativeBytes(addr, n), src)
	return nil
}

// newTrampoline creates the native entry point of callback slot.
func newTrampoline(slot int) (ptr uintptr, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return purego.NewCallback(func(a0, a1, a2, a3, a4, a5 uintptr) uintptr {
		return callbacks.dispatch(slot, [MaxCallbackParams]uintptr{a0, a1, a2, a3, a4, a5})
	}), nil
}
