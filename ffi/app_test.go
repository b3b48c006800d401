package ffi_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/ffi"
	"github.com/wippyai/ancvm/interp"
	"github.com/wippyai/ancvm/memory"
	"github.com/wippyai/ancvm/resource"
)

func lookPath(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found", name)
	}
}

// readStream returns the contents of the stream handle and drops it.
func readStream(t *testing.T, e *env, h uint64) string {
	t.Helper()
	streams := e.bridge.Streams()
	s, ok := streams.Get(resource.Handle(h))
	if !ok {
		t.Fatalf("no stream 0x%x", h)
	}
	buf := make([]byte, s.Size())
	s.Read(buf)
	if _, err := streams.Remove(resource.Handle(h)); err != nil {
		t.Errorf("remove stream: %v", err)
	}
	return string(buf)
}

func TestAppStdin(t *testing.T) {
	lookPath(t, "cat")

	b := bytecode.NewBuilder("apps", v1)
	out := []bytecode.ValType{i32, i64}
	literal := b.AppFunc(b.Type(nil, out), "cat",
		bytecode.AppOption{Kind: bytecode.OptionStdin, Value: "hello", Param: bytecode.NoParam})
	fromHeap := b.AppFunc(b.Type([]bytecode.ValType{i64}, out), "cat",
		bytecode.AppOption{Kind: bytecode.OptionStdin, Param: 0})
	export(b, "literal", nil, out, literal)
	export(b, "heap", []bytecode.ValType{i64}, out, fromHeap)
	p := load(t, t.TempDir(), b)

	e := newEnv(t)
	m := interp.New(e, interp.Options{})

	got, err := call(t, m, p, "literal")
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0 || got[2] != 0 {
		t.Fatalf("exit code %d, status %d", got[0], got[2])
	}
	if s := readStream(t, e, got[1]); s != "hello" {
		t.Errorf("stdout = %q, want %q", s, "hello")
	}

	h, err := e.heap.AllocBytes([]byte("from the heap"))
	if err != nil {
		t.Fatal(err)
	}
	got, err = call(t, m, p, "heap", h)
	if err != nil || got[2] != 0 {
		t.Fatalf("heap stdin = %v, %v", got, err)
	}
	if s := readStream(t, e, got[1]); s != "from the heap" {
		t.Errorf("stdout = %q", s)
	}
}

func TestAppArguments(t *testing.T) {
	lookPath(t, "echo")

	b := bytecode.NewBuilder("echo", v1)
	out := []bytecode.ValType{i32, i64}
	params := []bytecode.ValType{i32, f64}
	echo := b.AppFunc(b.Type(params, out), "echo",
		bytecode.AppOption{Kind: bytecode.OptionLiteral, Flag: "-n"},
		bytecode.AppOption{Kind: bytecode.OptionParam, Param: 0, Value: "7"},
		bytecode.AppOption{Kind: bytecode.OptionParam, Param: 1},
		bytecode.AppOption{Kind: bytecode.OptionParam, Param: bytecode.NoParam, Value: "end"},
	)
	export(b, "echo", params, out, echo)
	p := load(t, t.TempDir(), b)

	e := newEnv(t)
	m := interp.New(e, interp.Options{})

	tests := []struct {
		name string
		a    uint64
		f    float64
		want string
	}{
		{"values", s32(-3), 1.5, "-3 1.5 end"},
		{"zero takes default", 0, 2, "7 2 end"},
		{"zero float without default", s32(12), 0, "12 0 end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := call(t, m, p, "echo", tt.a, memory.F64(tt.f))
			if err != nil || got[2] != 0 {
				t.Fatalf("echo = %v, %v", got, err)
			}
			if s := readStream(t, e, got[1]); s != tt.want {
				t.Errorf("stdout = %q, want %q", s, tt.want)
			}
		})
	}
}

func TestAppExitCode(t *testing.T) {
	lookPath(t, "sh")

	b := bytecode.NewBuilder("exit", v1)
	out := []bytecode.ValType{i32, i64}
	sh := b.AppFunc(b.Type([]bytecode.ValType{i32}, out), "sh",
		bytecode.AppOption{Kind: bytecode.OptionLiteral, Flag: "-c", Value: "echo -n out; exit $0"},
		bytecode.AppOption{Kind: bytecode.OptionParam, Param: 0})
	absent := b.AppFunc(b.Type(nil, out), "./no-such-program")
	export(b, "sh", []bytecode.ValType{i32}, out, sh)
	export(b, "absent", nil, out, absent)
	p := load(t, t.TempDir(), b)

	e := newEnv(t)
	m := interp.New(e, interp.Options{})

	got, err := call(t, m, p, "sh", s32(3))
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != s32(3) || got[2] != 0 {
		t.Errorf("got exit %d status %d, want exit 3 status 0", int32(got[0]), got[2])
	}
	readStream(t, e, got[1])

	got, err = call(t, m, p, "absent")
	if err != nil {
		t.Fatal(err)
	}
	if got[2] != uint64(ffi.StatusSpawn) || got[1] != 0 {
		t.Errorf("absent program = %v, want status spawn and no stream", got)
	}
}

func TestAppCanceled(t *testing.T) {
	lookPath(t, "sleep")

	b := bytecode.NewBuilder("sleepy", v1)
	out := []bytecode.ValType{i32, i64}
	sleep := b.AppFunc(b.Type(nil, out), "sleep", bytecode.AppOption{Kind: bytecode.OptionLiteral, Value: "10"})
	p := load(t, t.TempDir(), b)

	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.bridge.CallApp(ctx, p.Functions[sleep], nil)
	if ffi.StatusOf(err) != ffi.StatusSpawn {
		t.Errorf("canceled app = %v, want spawn failure", err)
	}
}
