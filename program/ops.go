package program

import (
	"github.com/wippyai/ancvm/bytecode"
)

// Op is one verified instruction with its operands resolved. Ops keep the
// index of the instruction they were compiled from, so a pc names both.
//
// Operand use by code:
//
//	if            A: pc taken when the condition is zero
//	else          A: pc after the matching end
//	break(_if)    A: pc after the target's end, B: values kept, C: target height
//	recur(_if)    A: first pc of the target loop, B: values kept, C: target height
//	return(_if)   B: result count
//	tail_recur    B: parameter count
//	call          A: function index, B: params, C: results
//	call_dynamic  A: type index
//	envcall       A: service id
//	local.*       A: slot offset in the frame, B: slot size, C: static offset
//	data.*        A: data index, C: static offset
//	heap.load/store  C: static offset
//	*.const       Imm: operand bits
type Op struct {
	Imm    uint64
	A      uint32
	B      uint32
	C      uint32
	Code   byte
	Access bytecode.Access
}

// Ops that only exist after verification. They replace control transfers
// that leave the function frame.
const (
	OpReturnIf    byte = 0xF0
	OpTailRecur   byte = 0xF1
	OpTailRecurIf byte = 0xF2
)

// OpName returns the mnemonic of an op code, including the internal ones.
func OpName(code byte) string {
	switch code {
	case OpReturnIf:
		return "return_if"
	case OpTailRecur:
		return "tail_recur"
	case OpTailRecurIf:
		return "tail_recur_if"
	}
	return bytecode.OpcodeName(code)
}

type opSig struct {
	params  []bytecode.ValType
	results []bytecode.ValType
}

var (
	i32 = bytecode.ValI32
	i64 = bytecode.ValI64
	f32 = bytecode.ValF32
	f64 = bytecode.ValF64
)

// numeric holds the operand shape of every arithmetic, comparison and
// conversion instruction.
var numeric [256]*opSig

func setRange(lo, hi byte, s *opSig) {
	for op := int(lo); op <= int(hi); op++ {
		numeric[op] = s
	}
}

func init() {
	unary := func(in, out bytecode.ValType) *opSig {
		return &opSig{[]bytecode.ValType{in}, []bytecode.ValType{out}}
	}
	binary := func(in, out bytecode.ValType) *opSig {
		return &opSig{[]bytecode.ValType{in, in}, []bytecode.ValType{out}}
	}

	numeric[bytecode.OpI32Eqz] = unary(i32, i32)
	setRange(bytecode.OpI32Eq, bytecode.OpI32GeU, binary(i32, i32))
	numeric[bytecode.OpI64Eqz] = unary(i64, i32)
	setRange(bytecode.OpI64Eq, bytecode.OpI64GeU, binary(i64, i32))
	setRange(bytecode.OpF32Eq, bytecode.OpF32Ge, binary(f32, i32))
	setRange(bytecode.OpF64Eq, bytecode.OpF64Ge, binary(f64, i32))

	setRange(bytecode.OpI32Add, bytecode.OpI32ShrU, binary(i32, i32))
	setRange(bytecode.OpI64Add, bytecode.OpI64ShrU, binary(i64, i64))

	for _, op := range []byte{bytecode.OpF32Abs, bytecode.OpF32Neg, bytecode.OpF32Sqrt} {
		numeric[op] = unary(f32, f32)
	}
	setRange(bytecode.OpF32Add, bytecode.OpF32Div, binary(f32, f32))
	for _, op := range []byte{bytecode.OpF64Abs, bytecode.OpF64Neg, bytecode.OpF64Sqrt} {
		numeric[op] = unary(f64, f64)
	}
	setRange(bytecode.OpF64Add, bytecode.OpF64Div, binary(f64, f64))

	numeric[bytecode.OpI32WrapI64] = unary(i64, i32)
	numeric[bytecode.OpI32TruncF32S] = unary(f32, i32)
	numeric[bytecode.OpI32TruncF64S] = unary(f64, i32)
	numeric[bytecode.OpI64ExtendI32S] = unary(i32, i64)
	numeric[bytecode.OpI64ExtendI32U] = unary(i32, i64)
	numeric[bytecode.OpI64TruncF32S] = unary(f32, i64)
	numeric[bytecode.OpI64TruncF64S] = unary(f64, i64)
	numeric[bytecode.OpF32ConvertI32S] = unary(i32, f32)
	numeric[bytecode.OpF32ConvertI64S] = unary(i64, f32)
	numeric[bytecode.OpF32DemoteF64] = unary(f64, f32)
	numeric[bytecode.OpF64ConvertI32S] = unary(i32, f64)
	numeric[bytecode.OpF64ConvertI64S] = unary(i64, f64)
	numeric[bytecode.OpF64PromoteF32] = unary(f32, f64)
}
