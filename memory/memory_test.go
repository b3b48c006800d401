package memory

import (
	"errors"
	"math"
	"testing"

	"github.com/wippyai/ancvm/bytecode"
	vmerrors "github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/program"
	"github.com/wippyai/ancvm/resource"
)

func dataProgram(t *testing.T) *program.Program {
	t.Helper()
	b := bytecode.NewBuilder("mem", bytecode.Version{Major: 1})
	b.Data(bytecode.DataEntry{Section: bytecode.SectionReadOnly, Type: bytecode.ValI32, Init: []byte{42, 0, 0, 0}})
	b.Data(bytecode.DataEntry{Section: bytecode.SectionReadWrite, Type: bytecode.ValI64, Init: []byte{1, 0, 0, 0, 0, 0, 0, 0}})
	b.Data(bytecode.DataEntry{Section: bytecode.SectionReadWrite, Type: bytecode.ValI64, Length: 8, Shared: true})
	b.Data(bytecode.DataEntry{Section: bytecode.SectionUninit, Type: bytecode.ValByte, Length: 16})
	p, err := program.New(b.Module(), program.NewInterner(), "")
	if err != nil {
		t.Fatalf("program.New: %v", err)
	}
	return p
}

func isMemory(err error) bool {
	return errors.Is(err, vmerrors.ErrMemory)
}

func TestLoadStoreAccess(t *testing.T) {
	buf := make([]byte, 16)
	tests := []struct {
		name   string
		access bytecode.Access
		store  uint64
		want   uint64
	}{
		{"i64", bytecode.AccessI64, 0x0102030405060708, 0x0102030405060708},
		{"i32 sign extends", bytecode.AccessI32S, 0xFFFFFFFF, math.MaxUint64},
		{"i32u keeps low bits", bytecode.AccessI32U, 7, 7},
		{"i16s", bytecode.AccessI16S, 0x8000, I32(0xFFFF8000)},
		{"i16u", bytecode.AccessI16U, 0x8000, 0x8000},
		{"i8s", bytecode.AccessI8S, 0xFF, math.MaxUint64},
		{"i8u", bytecode.AccessI8U, 0x1FF, 0xFF},
		{"f32", bytecode.AccessF32, F32(1.5), F32(1.5)},
		{"f64", bytecode.AccessF64, F64(-2.25), F64(-2.25)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clear(buf)
			if err := Store(buf, 8, tt.access, tt.store); err != nil {
				t.Fatalf("Store: %v", err)
			}
			got, err := Load(buf, 8, tt.access)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got != tt.want {
				t.Errorf("got 0x%x, want 0x%x", got, tt.want)
			}
		})
	}
}

func TestLoadStoreFaults(t *testing.T) {
	buf := make([]byte, 8)
	if _, err := Load(buf, 4, bytecode.AccessI64); !isMemory(err) {
		t.Errorf("out of bounds load: %v", err)
	}
	if _, err := Load(buf, 2, bytecode.AccessI32S); !isMemory(err) {
		t.Errorf("misaligned load: %v", err)
	}
	if err := Store(buf, 1, bytecode.AccessI16U, 1); !isMemory(err) {
		t.Errorf("misaligned store: %v", err)
	}
	if err := Store(buf, math.MaxUint64, bytecode.AccessI8U, 1); !isMemory(err) {
		t.Errorf("wrapping store: %v", err)
	}
}

func TestSpaceSections(t *testing.T) {
	p := dataProgram(t)
	inst := NewInstance(p)
	s1 := inst.NewSpace()
	s2 := inst.NewSpace()

	ro, rw, shared, un := p.Data[0], p.Data[1], p.Data[2], p.Data[3]

	if v, err := s1.Load(ro, 0, bytecode.AccessI32S); err != nil || v != 42 {
		t.Fatalf("read_only load = %d, %v", v, err)
	}
	if err := s1.Store(ro, 0, bytecode.AccessI32S, 1); !isMemory(err) {
		t.Fatalf("store to read_only = %v, want memory error", err)
	}

	if err := s1.Store(rw, 0, bytecode.AccessI64, 99); err != nil {
		t.Fatal(err)
	}
	if v, _ := s2.Load(rw, 0, bytecode.AccessI64); v != 1 {
		t.Errorf("read_write leaked between threads: got %d, want 1", v)
	}

	if err := s1.Store(shared, 0, bytecode.AccessI64, 7); err != nil {
		t.Fatal(err)
	}
	if v, _ := s2.Load(shared, 0, bytecode.AccessI64); v != 7 {
		t.Errorf("shared entry not visible across threads: got %d", v)
	}

	if v, _ := s1.Load(un, 8, bytecode.AccessI64); v != 0 {
		t.Errorf("uninit not zero: %d", v)
	}
	if _, err := s1.Load(un, 12, bytecode.AccessI64); !isMemory(err) {
		t.Errorf("entry overrun = %v, want memory error", err)
	}
	if got := len(s1.Bytes(un)); got != 16 {
		t.Errorf("Bytes len = %d", got)
	}
}

func TestFrames(t *testing.T) {
	f := NewFrames(64)
	base, err := f.Push(16)
	if err != nil {
		t.Fatal(err)
	}
	f.SetSlot(base, 8, 5)
	if v, err := f.Load(base, 8, 8, 0, bytecode.AccessI64); err != nil || v != 5 {
		t.Fatalf("Load = %d, %v", v, err)
	}
	if _, err := f.Load(base, 8, 8, 4, bytecode.AccessI64); !isMemory(err) {
		t.Errorf("slot overrun = %v", err)
	}

	inner, err := f.Push(32)
	if err != nil {
		t.Fatal(err)
	}
	if inner != 16 {
		t.Errorf("inner base = %d, want 16", inner)
	}
	f.SetSlot(inner, 0, 9)
	f.Pop(inner)
	again, _ := f.Push(8)
	if v, _ := f.Load(again, 0, 8, 0, bytecode.AccessI64); v != 0 {
		t.Error("reused frame not zeroed")
	}
	f.Pop(base)
	if _, err := f.Push(65); !isMemory(err) {
		t.Errorf("arena overflow = %v", err)
	}
}

func TestStack(t *testing.T) {
	s := NewStack(8)
	for i := uint64(1); i <= 5; i++ {
		s.Push(i)
	}
	s.Keep(1, 2)
	if s.Len() != 3 || s.Peek(0) != 5 || s.Peek(1) != 4 || s.Peek(2) != 1 {
		t.Fatalf("Keep left %v", s.Top(s.Len()))
	}
	if err := s.Reserve(6); err == nil {
		t.Error("Reserve past capacity should fail")
	}
	if err := s.Reserve(5); err != nil {
		t.Errorf("Reserve: %v", err)
	}
	got := s.PopN(2)
	if got[0] != 4 || got[1] != 5 {
		t.Errorf("PopN = %v", got)
	}
}

func TestHeap(t *testing.T) {
	table := resource.NewTable()
	h := NewHeap(table, 64)

	a, err := h.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Store(a, 8, bytecode.AccessI32S, 3); err != nil {
		t.Fatal(err)
	}
	if v, _ := h.Load(a, 8, bytecode.AccessI32S); v != 3 {
		t.Errorf("Load = %d", v)
	}
	if err := h.Resize(a, 32); err != nil {
		t.Fatal(err)
	}
	if v, _ := h.Load(a, 8, bytecode.AccessI32S); v != 3 {
		t.Error("Resize lost contents")
	}
	if n, _ := h.Size(a); n != 32 {
		t.Errorf("Size = %d", n)
	}
	if _, err := h.Alloc(40); !isMemory(err) {
		t.Errorf("over limit = %v", err)
	}

	if _, err := h.Pin(a); err != nil {
		t.Fatal(err)
	}
	if err := h.Free(a); !isMemory(err) {
		t.Errorf("free of pinned block = %v", err)
	}
	if err := h.Resize(a, 8); !isMemory(err) {
		t.Errorf("resize of pinned block = %v", err)
	}
	h.Unpin(a)

	if err := h.Free(a); err != nil {
		t.Fatal(err)
	}
	if h.Live() != 0 {
		t.Errorf("Live = %d after free", h.Live())
	}
	if _, err := h.Load(a, 0, bytecode.AccessI8U); !isMemory(err) {
		t.Errorf("use after free = %v", err)
	}
	if err := h.Free(a); !isMemory(err) {
		t.Errorf("double free = %v", err)
	}

	b, err := h.AllocBytes([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := h.Bytes(b); string(got) != "hello" {
		t.Errorf("Bytes = %q", got)
	}
	if b == a {
		t.Error("reused slot returned the stale handle")
	}
}
