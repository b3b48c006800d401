package interp_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/ancvm/bytecode"
	vmerrors "github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/interp"
	"github.com/wippyai/ancvm/linker"
	"github.com/wippyai/ancvm/memory"
	"github.com/wippyai/ancvm/program"
	"github.com/wippyai/ancvm/resource"
)

var (
	i32 = bytecode.ValI32
	i64 = bytecode.ValI64
	f64 = bytecode.ValF64
	v1  = bytecode.Version{Major: 1}
)

type foreignFunc func(ctx context.Context, m *interp.Machine, fn *program.Function, args []uint64) ([]uint64, uint32, error)

type testEnv struct {
	heap      *memory.Heap
	instances map[*program.Program]*memory.Instance
	foreign   foreignFunc
	mu        sync.Mutex
}

func newEnv() *testEnv {
	return &testEnv{
		heap:      memory.NewHeap(resource.NewTable(), 1<<20),
		instances: make(map[*program.Program]*memory.Instance),
	}
}

func (e *testEnv) Instance(p *program.Program) *memory.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, ok := e.instances[p]
	if !ok {
		in = memory.NewInstance(p)
		e.instances[p] = in
	}
	return in
}

func (e *testEnv) Heap() *memory.Heap { return e.heap }

func (e *testEnv) Foreign(ctx context.Context, m *interp.Machine, fn *program.Function, args []uint64) ([]uint64, uint32, error) {
	if e.foreign == nil {
		return nil, 5, nil
	}
	return e.foreign(ctx, m, fn, args)
}

func (e *testEnv) Service(ctx context.Context, m *interp.Machine, call bytecode.EnvCall, args []uint64) ([]uint64, error) {
	switch call {
	case bytecode.EnvThreadSleep:
		return nil, nil
	case bytecode.EnvStreamSize:
		return []uint64{args[0] * 10}, nil
	}
	return nil, errors.New("service unavailable")
}

func load(t *testing.T, b *bytecode.Builder) *program.Program {
	t.Helper()
	ld := linker.NewLoader(linker.NewRegistry(), linker.Options{})
	p, err := ld.Load(context.Background(), t.TempDir(), b.Module())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return p
}

func call(t *testing.T, m *interp.Machine, p *program.Program, name string, args ...uint64) ([]uint64, error) {
	t.Helper()
	fn, ok := p.Func(name)
	if !ok {
		t.Fatalf("no export %q", name)
	}
	return m.Call(context.Background(), fn, args)
}

// binary builds a module exporting "f" that applies op to its two params.
func binary(typ bytecode.ValType, op byte) *bytecode.Builder {
	acc := bytecode.AccessI64
	switch typ {
	case i32:
		acc = bytecode.AccessI32S
	case f64:
		acc = bytecode.AccessF64
	}
	res := typ
	if op >= bytecode.OpI32Eqz && op <= bytecode.OpF64Ge {
		res = i32
	}
	b := bytecode.NewBuilder("arith", v1)
	t := b.Type([]bytecode.ValType{typ, typ}, []bytecode.ValType{res})
	fn := b.Func(t, nil,
		bytecode.LocalLoad(acc, 0, 0),
		bytecode.LocalLoad(acc, 1, 0),
		bytecode.Op(op),
		bytecode.End(),
	)
	b.ExportFunc("f", fn)
	return b
}

func s32(v int32) uint64 { return memory.I32(uint32(v)) }

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		typ  bytecode.ValType
		op   byte
		a, b uint64
		want uint64
	}{
		{"i32.add", i32, bytecode.OpI32Add, s32(40), s32(2), s32(42)},
		{"i32.add wraps", i32, bytecode.OpI32Add, s32(math.MaxInt32), s32(1), s32(math.MinInt32)},
		{"i32.sub", i32, bytecode.OpI32Sub, s32(1), s32(3), s32(-2)},
		{"i32.mul", i32, bytecode.OpI32Mul, s32(-6), s32(7), s32(-42)},
		{"i32.div_s", i32, bytecode.OpI32DivS, s32(-7), s32(2), s32(-3)},
		{"i32.div_u", i32, bytecode.OpI32DivU, s32(-1), s32(2), s32(math.MaxInt32)},
		{"i32.rem_s", i32, bytecode.OpI32RemS, s32(-7), s32(2), s32(-1)},
		{"i32.rem_s min by -1", i32, bytecode.OpI32RemS, s32(math.MinInt32), s32(-1), 0},
		{"i32.shl", i32, bytecode.OpI32Shl, s32(1), s32(33), s32(2)},
		{"i32.shr_s", i32, bytecode.OpI32ShrS, s32(-8), s32(1), s32(-4)},
		{"i32.shr_u", i32, bytecode.OpI32ShrU, s32(-8), s32(28), s32(15)},
		{"i32.lt_s", i32, bytecode.OpI32LtS, s32(-1), s32(0), 1},
		{"i32.lt_u", i32, bytecode.OpI32LtU, s32(-1), s32(0), 0},
		{"i64.add", i64, bytecode.OpI64Add, 1 << 40, 2, 1<<40 + 2},
		{"i64.div_s", i64, bytecode.OpI64DivS, uint64(1<<64 - 9), 2, uint64(1<<64 - 4)},
		{"i64.ge_u", i64, bytecode.OpI64GeU, 5, 5, 1},
		{"f64.div", f64, bytecode.OpF64Div, memory.F64(1), memory.F64(4), memory.F64(0.25)},
		{"f64.lt nan", f64, bytecode.OpF64Lt, memory.F64(math.NaN()), memory.F64(1), 0},
		{"f64.ne nan", f64, bytecode.OpF64Ne, memory.F64(math.NaN()), memory.F64(math.NaN()), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := load(t, binary(tt.typ, tt.op))
			m := interp.New(newEnv(), interp.Options{})
			got, err := call(t, m, p, "f", tt.a, tt.b)
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestNumericTraps(t *testing.T) {
	tests := []struct {
		name  string
		typ   bytecode.ValType
		op    byte
		a, b  uint64
		fault string
	}{
		{"i32 divide by zero", i32, bytecode.OpI32DivS, s32(1), 0, "divide by zero"},
		{"i32 rem by zero", i32, bytecode.OpI32RemU, s32(1), 0, "divide by zero"},
		{"i32 overflow", i32, bytecode.OpI32DivS, s32(math.MinInt32), s32(-1), "overflow"},
		{"i64 divide by zero", i64, bytecode.OpI64DivU, 1, 0, "divide by zero"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := load(t, binary(tt.typ, tt.op))
			m := interp.New(newEnv(), interp.Options{})
			_, err := call(t, m, p, "f", tt.a, tt.b)
			if !errors.Is(err, vmerrors.ErrTrap) {
				t.Fatalf("error = %v, want trap", err)
			}
			var e *vmerrors.Error
			if !errors.As(err, &e) || e.Value != 2 || strings.Join(e.Path, ".") != "arith.f" {
				t.Errorf("trap location = %v at %v", e.Path, e.Value)
			}
			if !strings.Contains(err.Error(), tt.fault) {
				t.Errorf("error %q does not mention %q", err, tt.fault)
			}
			if m.Depth() != 0 {
				t.Errorf("frames left after trap: %d", m.Depth())
			}
		})
	}
}

func TestConversions(t *testing.T) {
	b := bytecode.NewBuilder("conv", v1)
	t1 := b.Type([]bytecode.ValType{f64}, []bytecode.ValType{i32})
	trunc := b.Func(t1, nil, bytecode.LocalLoad(bytecode.AccessF64, 0, 0), bytecode.Op(bytecode.OpI32TruncF64S), bytecode.End())
	b.ExportFunc("trunc", trunc)
	t2 := b.Type([]bytecode.ValType{i32}, []bytecode.ValType{i64})
	ext := b.Func(t2, nil, bytecode.LocalLoad(bytecode.AccessI32U, 0, 0), bytecode.Op(bytecode.OpI64ExtendI32U), bytecode.End())
	b.ExportFunc("extend_u", ext)
	p := load(t, b)
	m := interp.New(newEnv(), interp.Options{})

	got, err := call(t, m, p, "trunc", memory.F64(-3.9))
	if err != nil || got[0] != s32(-3) {
		t.Errorf("trunc(-3.9) = %v, %v", got, err)
	}
	for _, bad := range []float64{math.NaN(), math.Inf(1), 3e9} {
		if _, err := call(t, m, p, "trunc", memory.F64(bad)); !errors.Is(err, vmerrors.ErrTrap) {
			t.Errorf("trunc(%v) error = %v, want trap", bad, err)
		}
	}
	got, err = call(t, m, p, "extend_u", s32(-1))
	if err != nil || got[0] != math.MaxUint32 {
		t.Errorf("extend_u(-1) = %v, %v", got, err)
	}
}

// counter loops until local 1 reaches the argument, leaving junk operands
// on the stack at every recur.
func counter() *bytecode.Builder {
	b := bytecode.NewBuilder("loops", v1)
	fnT := b.Type([]bytecode.ValType{i64}, []bytecode.ValType{i64})
	loopT := b.Type(nil, []bytecode.ValType{i64})
	fn := b.Func(fnT, []bytecode.LocalDecl{{Type: i64}},
		bytecode.Loop(loopT),
		bytecode.I32(1),
		bytecode.I32(2),
		bytecode.LocalLoad(bytecode.AccessI64, 1, 0),
		bytecode.I64(1),
		bytecode.Op(bytecode.OpI64Add),
		bytecode.LocalStore(bytecode.AccessI64, 1, 0),
		bytecode.LocalLoad(bytecode.AccessI64, 1, 0),
		bytecode.LocalLoad(bytecode.AccessI64, 0, 0),
		bytecode.Op(bytecode.OpI64LtS),
		bytecode.RecurIf(0),
		bytecode.LocalLoad(bytecode.AccessI64, 1, 0),
		bytecode.Break(0),
		bytecode.End(),
		bytecode.End(),
	)
	b.ExportFunc("count", fn)
	return b
}

func TestLoopRecur(t *testing.T) {
	p := load(t, counter())
	fn, _ := p.Func("count")
	m := interp.New(newEnv(), interp.Options{MaxStack: 64})

	for _, n := range []uint64{1, 2, 10, 10000} {
		got, err := m.Call(context.Background(), fn, []uint64{n})
		if err != nil {
			t.Fatalf("count(%d): %v", n, err)
		}
		if len(got) != 1 || got[0] != n {
			t.Errorf("count(%d) = %v", n, got)
		}
	}
}

func TestTailRecursion(t *testing.T) {
	b := bytecode.NewBuilder("fact", v1)
	fnT := b.Type([]bytecode.ValType{i64, i64}, []bytecode.ValType{i64})
	void := b.Type(nil, nil)
	fn := b.Func(fnT, nil,
		bytecode.LocalLoad(bytecode.AccessI64, 0, 0),
		bytecode.Op(bytecode.OpI64Eqz),
		bytecode.If(void),
		bytecode.LocalLoad(bytecode.AccessI64, 1, 0),
		bytecode.Return(),
		bytecode.End(),
		bytecode.LocalLoad(bytecode.AccessI64, 0, 0),
		bytecode.I64(1),
		bytecode.Op(bytecode.OpI64Sub),
		bytecode.LocalLoad(bytecode.AccessI64, 0, 0),
		bytecode.LocalLoad(bytecode.AccessI64, 1, 0),
		bytecode.Op(bytecode.OpI64Mul),
		bytecode.Recur(0),
		bytecode.End(),
	)
	b.ExportFunc("fact", fn)
	p := load(t, b)
	m := interp.New(newEnv(), interp.Options{MaxCallDepth: 4})

	got, err := call(t, m, p, "fact", 10, 1)
	if err != nil || got[0] != 3628800 {
		t.Fatalf("fact(10) = %v, %v", got, err)
	}
	if _, err := call(t, m, p, "fact", 100000, 1); err != nil {
		t.Fatalf("deep tail recursion: %v", err)
	}
}

func fibModule() *bytecode.Builder {
	b := bytecode.NewBuilder("fib", v1)
	fnT := b.Type([]bytecode.ValType{i32}, []bytecode.ValType{i32})
	resT := b.Type(nil, []bytecode.ValType{i32})
	arg := bytecode.LocalLoad(bytecode.AccessI32S, 0, 0)
	fib := b.Func(fnT, nil,
		arg, bytecode.I32(2), bytecode.Op(bytecode.OpI32LtS),
		bytecode.If(resT),
		arg,
		bytecode.Else(),
		arg, bytecode.I32(1), bytecode.Op(bytecode.OpI32Sub), bytecode.Call(0),
		arg, bytecode.I32(2), bytecode.Op(bytecode.OpI32Sub), bytecode.Call(0),
		bytecode.Op(bytecode.OpI32Add),
		bytecode.End(),
		bytecode.End(),
	)
	b.ExportFunc("fib", fib)

	loopT := b.Type([]bytecode.ValType{i32}, nil)
	deep := b.Func(loopT, nil, arg, bytecode.Call(1), bytecode.End())
	b.ExportFunc("forever", deep)
	return b
}

func TestCalls(t *testing.T) {
	p := load(t, fibModule())
	m := interp.New(newEnv(), interp.Options{MaxCallDepth: 64})

	got, err := call(t, m, p, "fib", s32(20))
	if err != nil || got[0] != s32(6765) {
		t.Fatalf("fib(20) = %v, %v", got, err)
	}

	_, err = call(t, m, p, "forever", 0)
	if !errors.Is(err, vmerrors.ErrTrap) || !strings.Contains(err.Error(), "call depth") {
		t.Fatalf("unbounded recursion error = %v", err)
	}
	if m.Depth() != 0 {
		t.Errorf("frames left after trap: %d", m.Depth())
	}

	if _, err := call(t, m, p, "fib"); err == nil {
		t.Error("missing argument accepted")
	}
}

func TestCallDynamic(t *testing.T) {
	b := bytecode.NewBuilder("dyn", v1)
	unary := b.Type([]bytecode.ValType{i32}, []bytecode.ValType{i32})
	double := b.Func(unary, nil,
		bytecode.LocalLoad(bytecode.AccessI32S, 0, 0), bytecode.I32(2), bytecode.Op(bytecode.OpI32Mul), bytecode.End())
	other := b.Func(b.Type(nil, nil), nil, bytecode.End())
	dispatch := b.Func(b.Type([]bytecode.ValType{i32, i32}, []bytecode.ValType{i32}), nil,
		bytecode.LocalLoad(bytecode.AccessI32S, 1, 0),
		bytecode.LocalLoad(bytecode.AccessI32S, 0, 0),
		bytecode.CallDynamic(unary),
		bytecode.End(),
	)
	b.ExportFunc("dispatch", dispatch)
	p := load(t, b)
	m := interp.New(newEnv(), interp.Options{})

	got, err := call(t, m, p, "dispatch", uint64(double), s32(21))
	if err != nil || got[0] != s32(42) {
		t.Fatalf("dispatch(double, 21) = %v, %v", got, err)
	}
	for _, idx := range []uint64{uint64(other), 99} {
		if _, err := call(t, m, p, "dispatch", idx, s32(1)); !errors.Is(err, vmerrors.ErrTrap) {
			t.Errorf("dispatch(%d) error = %v, want trap", idx, err)
		}
	}
}

func dataModule() *bytecode.Builder {
	b := bytecode.NewBuilder("state", v1)
	get := b.Type(nil, []bytecode.ValType{i64})
	void := b.Type(nil, nil)

	ro := b.Data(bytecode.DataEntry{Section: bytecode.SectionReadOnly, Type: i64, Init: []byte{42, 0, 0, 0, 0, 0, 0, 0}})
	local := b.Data(bytecode.DataEntry{Section: bytecode.SectionReadWrite, Type: i64, Length: 16})
	shared := b.Data(bytecode.DataEntry{Section: bytecode.SectionReadWrite, Type: i64, Length: 8, Shared: true})

	bump := func(d uint32) uint32 {
		return b.Func(get, nil,
			bytecode.DataLoad(bytecode.AccessI64, d, 0),
			bytecode.I64(1),
			bytecode.Op(bytecode.OpI64Add),
			bytecode.DataStore(bytecode.AccessI64, d, 0),
			bytecode.DataLoad(bytecode.AccessI64, d, 0),
			bytecode.End(),
		)
	}
	b.ExportFunc("read_only", b.Func(get, nil, bytecode.DataLoad(bytecode.AccessI64, ro, 0), bytecode.End()))
	b.ExportFunc("bump_local", bump(local))
	b.ExportFunc("bump_shared", bump(shared))
	b.ExportFunc("write_read_only", b.Func(void, nil,
		bytecode.I64(7),
		bytecode.DataStore(bytecode.AccessI64, ro, 0),
		bytecode.End(),
	))
	b.ExportFunc("misaligned", b.Func(get, nil,
		bytecode.I32(4),
		bytecode.DataLoadX(bytecode.AccessI64, local, 0),
		bytecode.End(),
	))
	return b
}

func TestDataSections(t *testing.T) {
	p := load(t, dataModule())
	env := newEnv()
	a := interp.New(env, interp.Options{ID: 1})
	b := interp.New(env, interp.Options{ID: 2})

	got, err := call(t, a, p, "read_only")
	if err != nil || got[0] != 42 {
		t.Fatalf("read_only = %v, %v", got, err)
	}

	for i := uint64(1); i <= 3; i++ {
		if got, _ := call(t, a, p, "bump_local"); got[0] != i {
			t.Errorf("thread a bump_local = %v, want %d", got, i)
		}
	}
	if got, _ := call(t, b, p, "bump_local"); got[0] != 1 {
		t.Errorf("thread b sees thread a's read_write copy: %v", got)
	}

	call(t, a, p, "bump_shared")
	if got, _ := call(t, b, p, "bump_shared"); got[0] != 2 {
		t.Errorf("shared entry = %v, want 2", got)
	}

	_, err = call(t, a, p, "write_read_only")
	if !errors.Is(err, vmerrors.ErrTrap) || !errors.Is(err, vmerrors.ErrMemory) {
		t.Fatalf("store to read_only error = %v, want memory trap", err)
	}
	if got, _ := call(t, b, p, "read_only"); got[0] != 42 {
		t.Errorf("read_only entry changed to %d", got[0])
	}

	if _, err := call(t, a, p, "misaligned"); !errors.Is(err, vmerrors.ErrMemory) {
		t.Errorf("misaligned load error = %v", err)
	}
}

func TestLocalByteArray(t *testing.T) {
	b := bytecode.NewBuilder("bytes", v1)
	fnT := b.Type([]bytecode.ValType{i32}, []bytecode.ValType{i32})
	fn := b.Func(fnT, []bytecode.LocalDecl{{Type: bytecode.ValByte, Length: 20}},
		// buf[i] = 7; buf[i+1] = 9; return buf[i] + buf[i+1]
		bytecode.LocalLoad(bytecode.AccessI32S, 0, 0),
		bytecode.I32(7),
		bytecode.LocalStoreX(bytecode.AccessI8U, 1, 0),
		bytecode.LocalLoad(bytecode.AccessI32S, 0, 0),
		bytecode.I32(9),
		bytecode.LocalStoreX(bytecode.AccessI8U, 1, 1),
		bytecode.LocalLoad(bytecode.AccessI32S, 0, 0),
		bytecode.LocalLoadX(bytecode.AccessI8U, 1, 0),
		bytecode.LocalLoad(bytecode.AccessI32S, 0, 0),
		bytecode.LocalLoadX(bytecode.AccessI8U, 1, 1),
		bytecode.Op(bytecode.OpI32Add),
		bytecode.End(),
	)
	b.ExportFunc("f", fn)
	p := load(t, b)
	m := interp.New(newEnv(), interp.Options{})

	if got, err := call(t, m, p, "f", s32(18)); err != nil || got[0] != s32(16) {
		t.Errorf("f(18) = %v, %v", got, err)
	}
	if _, err := call(t, m, p, "f", s32(23)); !errors.Is(err, vmerrors.ErrMemory) {
		t.Errorf("f(23) error = %v, want out of bounds", err)
	}
}

func TestHeap(t *testing.T) {
	b := bytecode.NewBuilder("heap", v1)
	alloc := b.Func(b.Type([]bytecode.ValType{i64}, []bytecode.ValType{i64}), nil,
		bytecode.LocalLoad(bytecode.AccessI64, 0, 0),
		bytecode.Op(bytecode.OpHeapAlloc),
		bytecode.End(),
	)
	roundTrip := b.Func(b.Type([]bytecode.ValType{i64, i64}, []bytecode.ValType{i64}), nil,
		bytecode.LocalLoad(bytecode.AccessI64, 0, 0),
		bytecode.I32(8),
		bytecode.LocalLoad(bytecode.AccessI64, 1, 0),
		bytecode.HeapStore(bytecode.AccessI64, 0),
		bytecode.LocalLoad(bytecode.AccessI64, 0, 0),
		bytecode.I32(0),
		bytecode.HeapLoad(bytecode.AccessI64, 8),
		bytecode.End(),
	)
	free := b.Func(b.Type([]bytecode.ValType{i64}, nil), nil,
		bytecode.LocalLoad(bytecode.AccessI64, 0, 0),
		bytecode.Op(bytecode.OpHeapFree),
		bytecode.End(),
	)
	b.ExportFunc("alloc", alloc)
	b.ExportFunc("round_trip", roundTrip)
	b.ExportFunc("free", free)
	p := load(t, b)
	env := newEnv()
	m := interp.New(env, interp.Options{})

	got, err := call(t, m, p, "alloc", 16)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	h := got[0]
	if got, err := call(t, m, p, "round_trip", h, 0xDEADBEEF); err != nil || got[0] != 0xDEADBEEF {
		t.Fatalf("round_trip = %v, %v", got, err)
	}
	if _, err := call(t, m, p, "free", h); err != nil {
		t.Fatalf("free: %v", err)
	}
	if _, err := call(t, m, p, "round_trip", h, 1); !errors.Is(err, vmerrors.ErrTrap) {
		t.Errorf("use after free error = %v, want trap", err)
	}
	if _, err := call(t, m, p, "alloc", 1<<21); !errors.Is(err, vmerrors.ErrMemory) {
		t.Errorf("allocation over the limit error = %v", err)
	}
	if env.heap.Live() != 0 {
		t.Errorf("live bytes = %d", env.heap.Live())
	}
}

func TestForeignStatus(t *testing.T) {
	b := bytecode.NewBuilder("ffi", v1)
	binT := b.Type([]bytecode.ValType{i32, i32}, []bytecode.ValType{i32})
	lib := b.Library(bytecode.LibraryNative, "libtest.so")
	add := b.NativeFunc(binT, lib, "add", []bytecode.NativeType{bytecode.NativeI32, bytecode.NativeI32}, bytecode.NativeI32)
	// returns result * 10 + status
	fn := b.Func(binT, nil,
		bytecode.LocalLoad(bytecode.AccessI32S, 0, 0),
		bytecode.LocalLoad(bytecode.AccessI32S, 1, 0),
		bytecode.Call(add),
		bytecode.LocalStore(bytecode.AccessI32S, 0, 0),
		bytecode.I32(10),
		bytecode.Op(bytecode.OpI32Mul),
		bytecode.LocalLoad(bytecode.AccessI32S, 0, 0),
		bytecode.Op(bytecode.OpI32Add),
		bytecode.End(),
	)
	b.ExportFunc("f", fn)
	p := load(t, b)

	env := newEnv()
	status := uint32(0)
	env.foreign = func(_ context.Context, _ *interp.Machine, fn *program.Function, args []uint64) ([]uint64, uint32, error) {
		if fn.Native.Symbol != "add" {
			t.Errorf("foreign call to %s", fn.Native.Symbol)
		}
		return []uint64{memory.I32(uint32(args[0]) + uint32(args[1]))}, status, nil
	}
	m := interp.New(env, interp.Options{})

	if got, err := call(t, m, p, "f", s32(1), s32(2)); err != nil || got[0] != s32(30) {
		t.Errorf("ok call = %v, %v", got, err)
	}
	status = 2
	if got, err := call(t, m, p, "f", s32(1), s32(2)); err != nil || got[0] != s32(2) {
		t.Errorf("failed call = %v, %v; want zero result and status 2", got, err)
	}

	direct, _ := p.Func("f")
	add0 := direct.Program.Functions[add]
	if _, err := m.Call(context.Background(), add0, []uint64{1, 2}); !errors.Is(err, vmerrors.ErrFFI) {
		t.Errorf("direct foreign call error = %v, want ffi error", err)
	}
}

func TestCallbackReentry(t *testing.T) {
	b := bytecode.NewBuilder("cb", v1)
	unary := b.Type([]bytecode.ValType{i32}, []bytecode.ValType{i32})
	triple := b.Type([]bytecode.ValType{i32, i32, i32}, []bytecode.ValType{i32})
	lib := b.Library(bytecode.LibraryNative, "libtest.so")
	doSomething := b.NativeFunc(triple, lib, "do_something",
		[]bytecode.NativeType{bytecode.NativeCallback, bytecode.NativeI32, bytecode.NativeI32}, bytecode.NativeI32)
	double := b.Func(unary, nil,
		bytecode.LocalLoad(bytecode.AccessI32S, 0, 0), bytecode.I32(2), bytecode.Op(bytecode.OpI32Mul), bytecode.End())
	trap := b.Func(unary, nil, bytecode.Op(bytecode.OpUnreachable), bytecode.End())
	run := b.Func(b.Type([]bytecode.ValType{i32}, []bytecode.ValType{i32}), nil,
		bytecode.LocalLoad(bytecode.AccessI32S, 0, 0),
		bytecode.I32(4),
		bytecode.I32(5),
		bytecode.Call(doSomething),
		bytecode.Op(bytecode.OpDrop),
		bytecode.End(),
	)
	b.ExportFunc("run", run)
	p := load(t, b)

	env := newEnv()
	env.foreign = func(ctx context.Context, m *interp.Machine, fn *program.Function, args []uint64) ([]uint64, uint32, error) {
		out, err := m.Invoke(ctx, uint32(args[0]), []uint64{args[1]})
		if err != nil {
			return nil, 0, err
		}
		return []uint64{memory.I32(uint32(out[0]) + uint32(args[2]))}, 0, nil
	}
	m := interp.New(env, interp.Options{})

	got, err := call(t, m, p, "run", uint64(double))
	if err != nil || got[0] != s32(13) {
		t.Fatalf("do_something(double, 4, 5) = %v, %v", got, err)
	}

	_, err = call(t, m, p, "run", uint64(trap))
	var e *vmerrors.Error
	if !errors.As(err, &e) || e.Kind != vmerrors.KindTrap || e.Path[1] != p.Functions[trap].Name {
		t.Fatalf("callback trap = %v, want trap located in the callback", err)
	}
	if m.Depth() != 0 {
		t.Errorf("frames left: %d", m.Depth())
	}
}

func TestEnvCalls(t *testing.T) {
	b := bytecode.NewBuilder("env", v1)
	get := b.Type(nil, []bytecode.ValType{i64})
	for _, c := range []struct {
		name string
		call bytecode.EnvCall
	}{
		{"version", bytecode.EnvRuntimeVersion},
		{"thread", bytecode.EnvThreadID},
		{"now", bytecode.EnvTimeNow},
	} {
		b.ExportFunc(c.name, b.Func(get, nil, bytecode.Env(c.call), bytecode.End()))
	}
	b.ExportFunc("size", b.Func(get, nil, bytecode.I64(4), bytecode.Env(bytecode.EnvStreamSize), bytecode.End()))
	b.ExportFunc("join", b.Func(get, nil, bytecode.I64(4), bytecode.Env(bytecode.EnvThreadJoin), bytecode.Op(bytecode.OpDrop), bytecode.End()))
	p := load(t, b)
	m := interp.New(newEnv(), interp.Options{ID: 7})

	if got, _ := call(t, m, p, "version"); got[0] != 1<<32 {
		t.Errorf("runtime_version = %#x", got[0])
	}
	if got, _ := call(t, m, p, "thread"); got[0] != 7 {
		t.Errorf("thread_id = %d", got[0])
	}
	before := uint64(time.Now().UnixNano())
	if got, _ := call(t, m, p, "now"); got[0] < before {
		t.Errorf("time_now = %d, before %d", got[0], before)
	}
	if got, _ := call(t, m, p, "size"); got[0] != 40 {
		t.Errorf("stream_size = %d", got[0])
	}
	if _, err := call(t, m, p, "join"); !errors.Is(err, vmerrors.ErrTrap) {
		t.Errorf("failing service error = %v", err)
	}
}

func TestCancel(t *testing.T) {
	b := bytecode.NewBuilder("spin", v1)
	void := b.Type(nil, nil)
	b.ExportFunc("spin", b.Func(void, nil, bytecode.Loop(void), bytecode.Recur(0), bytecode.End(), bytecode.End()))
	p := load(t, b)
	m := interp.New(newEnv(), interp.Options{})
	fn, _ := p.Func("spin")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Call(ctx, fn, nil)
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, vmerrors.ErrTrap) {
		t.Fatalf("spin error = %v", err)
	}
}

func TestUnreachableLocation(t *testing.T) {
	b := bytecode.NewBuilder("app", v1)
	void := b.Type(nil, nil)
	fn := b.Func(void, nil, bytecode.Op(bytecode.OpNop), bytecode.Op(bytecode.OpUnreachable), bytecode.End())
	b.ExportFunc("main", fn)
	b.Name(fn, "entry")
	p := load(t, b)

	_, err := call(t, interp.New(newEnv(), interp.Options{}), p, "main")
	var e *vmerrors.Error
	if !errors.As(err, &e) {
		t.Fatalf("error = %v", err)
	}
	if e.Kind != vmerrors.KindTrap || strings.Join(e.Path, ".") != "app.entry" || e.Value != 1 {
		t.Errorf("trap = %+v", e)
	}
}
