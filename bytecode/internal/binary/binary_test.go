package binary

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewReader(data)

	for i, want := range data {
		if r.Position() != i {
			t.Errorf("position before read %d: got %d, want %d", i, r.Position(), i)
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	if _, err := r.ReadByte(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestReaderSub(t *testing.T) {
	r := NewReader([]byte{0xAA, 0x01, 0x02, 0x03, 0xBB})
	if _, err := r.ReadByte(); err != nil {
		t.Fatal(err)
	}
	sub, err := r.Sub(3)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if sub.Position() != 1 {
		t.Errorf("sub position: got %d, want 1", sub.Position())
	}
	got, err := sub.ReadBytes(3)
	if err != nil || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("sub bytes: got %v, %v", got, err)
	}
	if sub.Len() != 0 {
		t.Errorf("sub remaining: %d", sub.Len())
	}
	if b, _ := r.ReadByte(); b != 0xBB {
		t.Errorf("parent resumed at 0x%02x, want 0xBB", b)
	}
	if _, err := r.Sub(1); err == nil {
		t.Error("expected error for sub past end")
	}
}

func TestLEBRoundTrip(t *testing.T) {
	u32s := []uint32{0, 1, 127, 128, 300, 1 << 20, math.MaxUint32}
	for _, v := range u32s {
		w := NewWriter()
		w.WriteU32(v)
		got, err := NewReader(w.Bytes()).ReadU32()
		if err != nil || got != v {
			t.Errorf("u32 %d: got %d, %v", v, got, err)
		}
	}

	s64s := []int64{0, 1, -1, 63, -64, 64, -65, math.MaxInt64, math.MinInt64}
	for _, v := range s64s {
		w := NewWriter()
		w.WriteS64(v)
		got, err := NewReader(w.Bytes()).ReadS64()
		if err != nil || got != v {
			t.Errorf("s64 %d: got %d, %v", v, got, err)
		}
	}

	s32s := []int32{0, -1, math.MaxInt32, math.MinInt32}
	for _, v := range s32s {
		w := NewWriter()
		w.WriteS32(v)
		got, err := NewReader(w.Bytes()).ReadS32()
		if err != nil || got != v {
			t.Errorf("s32 %d: got %d, %v", v, got, err)
		}
	}
}

func TestReaderReadU32Overflow(t *testing.T) {
	r := NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})
	if _, err := r.ReadU32(); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestReaderReadName(t *testing.T) {
	w := NewWriter()
	w.WriteName("utils::add")
	got, err := NewReader(w.Bytes()).ReadName()
	if err != nil || got != "utils::add" {
		t.Errorf("ReadName: got %q, %v", got, err)
	}

	if _, err := NewReader([]byte{0x02, 0xFF, 0xFE}).ReadName(); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestFixedWidth(t *testing.T) {
	w := NewWriter()
	w.WriteU32LE(0x636E6100)
	w.WriteU64LE(math.Float64bits(2.5))
	if !bytes.Equal(w.Bytes()[:4], []byte{0x00, 'a', 'n', 'c'}) {
		t.Errorf("magic bytes: %v", w.Bytes()[:4])
	}

	r := NewReader(w.Bytes())
	m, err := r.ReadU32LE()
	if err != nil || m != 0x636E6100 {
		t.Errorf("ReadU32LE: %x, %v", m, err)
	}
	f, err := r.ReadU64LE()
	if err != nil || math.Float64frombits(f) != 2.5 {
		t.Errorf("ReadU64LE: %v, %v", f, err)
	}
}

func TestReadVecCopies(t *testing.T) {
	w := NewWriter()
	w.WriteVec([]byte("hello"))
	data := w.Bytes()
	got, err := NewReader(data).ReadVec()
	if err != nil {
		t.Fatal(err)
	}
	data[1] = 'X'
	if string(got) != "hello" {
		t.Errorf("ReadVec aliases input: %q", got)
	}
}

func TestParseError(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, _ = r.ReadByte()
	err := r.WrapError("data section", io.ErrUnexpectedEOF)

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %T", err)
	}
	if pe.Position != 1 || pe.Section != "data section" {
		t.Errorf("ParseError = %+v", pe)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("ParseError should unwrap to cause")
	}
}
