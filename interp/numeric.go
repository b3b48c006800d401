package interp

import (
	"math"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/memory"
)

const (
	faultDivide   = "integer divide by zero"
	faultOverflow = "integer overflow"
	faultConvert  = "invalid conversion to integer"
)

// numeric executes an arithmetic, comparison or conversion op and returns
// a fault description when it traps.
func numeric(st *memory.Stack, code byte) string {
	switch {
	case code == bytecode.OpI32Eqz:
		st.Push(b2i(uint32(st.Pop()) == 0))
	case code >= bytecode.OpI32Eq && code <= bytecode.OpI32GeU:
		b, a := uint32(st.Pop()), uint32(st.Pop())
		st.Push(b2i(compareI32(code, a, b)))
	case code == bytecode.OpI64Eqz:
		st.Push(b2i(st.Pop() == 0))
	case code >= bytecode.OpI64Eq && code <= bytecode.OpI64GeU:
		b, a := st.Pop(), st.Pop()
		st.Push(b2i(compareI64(code, a, b)))
	case code >= bytecode.OpF32Eq && code <= bytecode.OpF32Ge:
		b, a := f32(st.Pop()), f32(st.Pop())
		st.Push(b2i(compareFloat(code-bytecode.OpF32Eq, float64(a), float64(b))))
	case code >= bytecode.OpF64Eq && code <= bytecode.OpF64Ge:
		b, a := f64(st.Pop()), f64(st.Pop())
		st.Push(b2i(compareFloat(code-bytecode.OpF64Eq, a, b)))

	case code >= bytecode.OpI32Add && code <= bytecode.OpI32ShrU:
		b, a := uint32(st.Pop()), uint32(st.Pop())
		v, fault := arithI32(code, a, b)
		if fault != "" {
			return fault
		}
		st.Push(memory.I32(v))
	case code >= bytecode.OpI64Add && code <= bytecode.OpI64ShrU:
		b, a := st.Pop(), st.Pop()
		v, fault := arithI64(code, a, b)
		if fault != "" {
			return fault
		}
		st.Push(v)

	case code == bytecode.OpF32Abs:
		st.Push(st.Pop() &^ (1 << 31))
	case code == bytecode.OpF32Neg:
		st.Push(uint64(uint32(st.Pop()) ^ (1 << 31)))
	case code == bytecode.OpF32Sqrt:
		st.Push(memory.F32(float32(math.Sqrt(float64(f32(st.Pop()))))))
	case code >= bytecode.OpF32Add && code <= bytecode.OpF32Div:
		b, a := f32(st.Pop()), f32(st.Pop())
		st.Push(memory.F32(arithF32(code, a, b)))
	case code == bytecode.OpF64Abs:
		st.Push(st.Pop() &^ (1 << 63))
	case code == bytecode.OpF64Neg:
		st.Push(st.Pop() ^ (1 << 63))
	case code == bytecode.OpF64Sqrt:
		st.Push(memory.F64(math.Sqrt(f64(st.Pop()))))
	case code >= bytecode.OpF64Add && code <= bytecode.OpF64Div:
		b, a := f64(st.Pop()), f64(st.Pop())
		st.Push(memory.F64(arithF64(code, a, b)))

	default:
		return convert(st, code)
	}
	return ""
}

func f32(v uint64) float32 { return math.Float32frombits(uint32(v)) }
func f64(v uint64) float64 { return math.Float64frombits(v) }

func compareI32(code byte, a, b uint32) bool {
	switch code {
	case bytecode.OpI32Eq:
		return a == b
	case bytecode.OpI32Ne:
		return a != b
	case bytecode.OpI32LtS:
		return int32(a) < int32(b)
	case bytecode.OpI32LtU:
		return a < b
	case bytecode.OpI32GtS:
		return int32(a) > int32(b)
	case bytecode.OpI32GtU:
		return a > b
	case bytecode.OpI32LeS:
		return int32(a) <= int32(b)
	case bytecode.OpI32LeU:
		return a <= b
	case bytecode.OpI32GeS:
		return int32(a) >= int32(b)
	default:
		return a >= b
	}
}

func compareI64(code byte, a, b uint64) bool {
	switch code {
	case bytecode.OpI64Eq:
		return a == b
	case bytecode.OpI64Ne:
		return a != b
	case bytecode.OpI64LtS:
		return int64(a) < int64(b)
	case bytecode.OpI64LtU:
		return a < b
	case bytecode.OpI64GtS:
		return int64(a) > int64(b)
	case bytecode.OpI64GtU:
		return a > b
	case bytecode.OpI64LeS:
		return int64(a) <= int64(b)
	case bytecode.OpI64LeU:
		return a <= b
	case bytecode.OpI64GeS:
		return int64(a) >= int64(b)
	default:
		return a >= b
	}
}

// compareFloat takes the offset of the op from the eq op of its type;
// both float groups are ordered eq, ne, lt, gt, le, ge.
func compareFloat(rel byte, a, b float64) bool {
	switch rel {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a > b
	case 4:
		return a <= b
	default:
		return a >= b
	}
}

func arithI32(code byte, a, b uint32) (uint32, string) {
	switch code {
	case bytecode.OpI32Add:
		return a + b, ""
	case bytecode.OpI32Sub:
		return a - b, ""
	case bytecode.OpI32Mul:
		return a * b, ""
	case bytecode.OpI32DivS:
		if b == 0 {
			return 0, faultDivide
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			return 0, faultOverflow
		}
		return uint32(int32(a) / int32(b)), ""
	case bytecode.OpI32DivU:
		if b == 0 {
			return 0, faultDivide
		}
		return a / b, ""
	case bytecode.OpI32RemS:
		if b == 0 {
			return 0, faultDivide
		}
		if int32(b) == -1 {
			return 0, ""
		}
		return uint32(int32(a) % int32(b)), ""
	case bytecode.OpI32RemU:
		if b == 0 {
			return 0, faultDivide
		}
		return a % b, ""
	case bytecode.OpI32And:
		return a & b, ""
	case bytecode.OpI32Or:
		return a | b, ""
	case bytecode.OpI32Xor:
		return a ^ b, ""
	case bytecode.OpI32Shl:
		return a << (b & 31), ""
	case bytecode.OpI32ShrS:
		return uint32(int32(a) >> (b & 31)), ""
	default:
		return a >> (b & 31), ""
	}
}

func arithI64(code byte, a, b uint64) (uint64, string) {
	switch code {
	case bytecode.OpI64Add:
		return a + b, ""
	case bytecode.OpI64Sub:
		return a - b, ""
	case bytecode.OpI64Mul:
		return a * b, ""
	case bytecode.OpI64DivS:
		if b == 0 {
			return 0, faultDivide
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return 0, faultOverflow
		}
		return uint64(int64(a) / int64(b)), ""
	case bytecode.OpI64DivU:
		if b == 0 {
			return 0, faultDivide
		}
		return a / b, ""
	case bytecode.OpI64RemS:
		if b == 0 {
			return 0, faultDivide
		}
		if int64(b) == -1 {
			return 0, ""
		}
		return uint64(int64(a) % int64(b)), ""
	case bytecode.OpI64RemU:
		if b == 0 {
			return 0, faultDivide
		}
		return a % b, ""
	case bytecode.OpI64And:
		return a & b, ""
	case bytecode.OpI64Or:
		return a | b, ""
	case bytecode.OpI64Xor:
		return a ^ b, ""
	case bytecode.OpI64Shl:
		return a << (b & 63), ""
	case bytecode.OpI64ShrS:
		return uint64(int64(a) >> (b & 63)), ""
	default:
		return a >> (b & 63), ""
	}
}

func arithF32(code byte, a, b float32) float32 {
	switch code {
	case bytecode.OpF32Add:
		return a + b
	case bytecode.OpF32Sub:
		return a - b
	case bytecode.OpF32Mul:
		return a * b
	default:
		return a / b
	}
}

func arithF64(code byte, a, b float64) float64 {
	switch code {
	case bytecode.OpF64Add:
		return a + b
	case bytecode.OpF64Sub:
		return a - b
	case bytecode.OpF64Mul:
		return a * b
	default:
		return a / b
	}
}

func truncI32(f float64) (uint64, string) {
	if math.IsNaN(f) || f <= math.MinInt32-1 || f >= math.MaxInt32+1 {
		return 0, faultConvert
	}
	return memory.I32(uint32(int32(f))), ""
}

func truncI64(f float64) (uint64, string) {
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, faultConvert
	}
	return uint64(int64(f)), ""
}

func convert(st *memory.Stack, code byte) string {
	v := st.Pop()
	var (
		out   uint64
		fault string
	)
	switch code {
	case bytecode.OpI32WrapI64:
		out = memory.I32(uint32(v))
	case bytecode.OpI32TruncF32S:
		out, fault = truncI32(float64(f32(v)))
	case bytecode.OpI32TruncF64S:
		out, fault = truncI32(f64(v))
	case bytecode.OpI64ExtendI32S:
		out = uint64(int64(int32(uint32(v))))
	case bytecode.OpI64ExtendI32U:
		out = uint64(uint32(v))
	case bytecode.OpI64TruncF32S:
		out, fault = truncI64(float64(f32(v)))
	case bytecode.OpI64TruncF64S:
		out, fault = truncI64(f64(v))
	case bytecode.OpF32ConvertI32S:
		out = memory.F32(float32(int32(uint32(v))))
	case bytecode.OpF32ConvertI64S:
		out = memory.F32(float32(int64(v)))
	case bytecode.OpF32DemoteF64:
		out = memory.F32(float32(f64(v)))
	case bytecode.OpF64ConvertI32S:
		out = memory.F64(float64(int32(uint32(v))))
	case bytecode.OpF64ConvertI64S:
		out = memory.F64(float64(int64(v)))
	case bytecode.OpF64PromoteF32:
		out = memory.F64(float64(f32(v)))
	default:
		return "unknown op " + bytecode.OpcodeName(code)
	}
	if fault != "" {
		return fault
	}
	st.Push(out)
	return ""
}
