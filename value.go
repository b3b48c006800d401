package ancvm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/memory"
)

// ParseValue converts text to an operand slot of type t. Integers accept
// the prefixes understood by strconv (0x, 0o, 0b); i32 accepts the full
// signed and unsigned range.
func ParseValue(t bytecode.ValType, s string) (uint64, error) {
	s = strings.TrimSpace(s)
	switch t {
	case bytecode.ValI32, bytecode.ValByte:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return memory.I32(uint32(int32(v))), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, invalidValue(t, s)
		}
		return memory.I32(uint32(v)), nil
	case bytecode.ValI64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return uint64(v), nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, invalidValue(t, s)
		}
		return v, nil
	case bytecode.ValF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0, invalidValue(t, s)
		}
		return memory.F32(float32(v)), nil
	case bytecode.ValF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, invalidValue(t, s)
		}
		return memory.F64(v), nil
	default:
		return 0, errors.Unsupported(errors.PhaseRuntime, "value type "+t.String())
	}
}

func invalidValue(t bytecode.ValType, s string) error {
	return errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("%q is not a valid %s", s, t))
}

// FormatValue renders an operand slot of type t.
func FormatValue(t bytecode.ValType, v uint64) string {
	switch t {
	case bytecode.ValI32, bytecode.ValByte:
		return strconv.FormatInt(int64(int32(uint32(v))), 10)
	case bytecode.ValF32:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(v))), 'g', -1, 32)
	case bytecode.ValF64:
		return strconv.FormatFloat(math.Float64frombits(v), 'g', -1, 64)
	default:
		return strconv.FormatInt(int64(v), 10)
	}
}

// ParseArgs converts one string per parameter.
func ParseArgs(params []bytecode.ValType, args []string) ([]uint64, error) {
	if len(args) != len(params) {
		return nil, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("expected %d argument(s), got %d", len(params), len(args)))
	}
	out := make([]uint64, len(args))
	for i, s := range args {
		v, err := ParseValue(params[i], s)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// FormatResults renders results as a space separated list.
func FormatResults(types []bytecode.ValType, results []uint64) string {
	parts := make([]string, len(results))
	for i, v := range results {
		t := bytecode.ValI64
		if i < len(types) {
			t = types[i]
		}
		parts[i] = FormatValue(t, v)
	}
	return strings.Join(parts, " ")
}
