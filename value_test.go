package ancvm_test

import (
	"errors"
	"math"
	"testing"

	"github.com/wippyai/ancvm"
	"github.com/wippyai/ancvm/bytecode"
	vmerrors "github.com/wippyai/ancvm/errors"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     bytecode.ValType
		in      string
		want    uint64
		wantErr bool
	}{
		{"i32", bytecode.ValI32, "42", 42, false},
		{"i32 negative", bytecode.ValI32, "-1", math.MaxUint64, false},
		{"i32 unsigned max", bytecode.ValI32, "4294967295", math.MaxUint64, false},
		{"i32 hex", bytecode.ValI32, "0x10", 16, false},
		{"i32 overflow", bytecode.ValI32, "4294967296", 0, true},
		{"i64", bytecode.ValI64, "-2", math.MaxUint64 - 1, false},
		{"i64 unsigned", bytecode.ValI64, "18446744073709551615", math.MaxUint64, false},
		{"f32", bytecode.ValF32, "1.5", uint64(math.Float32bits(1.5)), false},
		{"f64", bytecode.ValF64, " 2.25 ", math.Float64bits(2.25), false},
		{"garbage", bytecode.ValI64, "twelve", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ancvm.ParseValue(tt.typ, tt.in)
			if tt.wantErr {
				if !errors.Is(err, &vmerrors.Error{Kind: vmerrors.KindInvalidInput}) {
					t.Fatalf("error = %v, want invalid input", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got 0x%x, want 0x%x", got, tt.want)
			}
		})
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		typ  bytecode.ValType
		in   uint64
		want string
	}{
		{bytecode.ValI32, math.MaxUint64, "-1"},
		{bytecode.ValI32, 0xFFFFFFFF, "-1"},
		{bytecode.ValI64, math.MaxUint64, "-1"},
		{bytecode.ValF32, uint64(math.Float32bits(0.5)), "0.5"},
		{bytecode.ValF64, math.Float64bits(-3), "-3"},
	}
	for _, tt := range tests {
		if got := ancvm.FormatValue(tt.typ, tt.in); got != tt.want {
			t.Errorf("FormatValue(%s, 0x%x) = %q, want %q", tt.typ, tt.in, got, tt.want)
		}
	}
}

func TestParseArgs(t *testing.T) {
	params := []bytecode.ValType{bytecode.ValI32, bytecode.ValF64}
	got, err := ancvm.ParseArgs(params, []string{"7", "0.25"})
	if err != nil {
		t.Fatal(err)
	}
	if s := ancvm.FormatResults(params, got); s != "7 0.25" {
		t.Errorf("round trip = %q", s)
	}
	if _, err := ancvm.ParseArgs(params, []string{"7"}); err == nil {
		t.Error("short argument list accepted")
	}
	if _, err := ancvm.ParseArgs(params, []string{"7", "x"}); err == nil {
		t.Error("bad float accepted")
	}
}
