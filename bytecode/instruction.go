package bytecode

import (
	"fmt"
	"math"

	"github.com/wippyai/ancvm/bytecode/internal/binary"
)

// Instruction represents a decoded instruction
type Instruction struct {
	Imm    interface{}
	Opcode byte
}

// BlockImm holds the signature of block, loop and if.
type BlockImm struct {
	Type uint32
}

// BranchImm holds the relative depth of break and recur instructions.
type BranchImm struct {
	Depth uint32
}

// CallImm holds the function index for call.
type CallImm struct {
	Func uint32
}

// TypeImm holds the expected signature for call_dynamic.
type TypeImm struct {
	Type uint32
}

// EnvImm holds the service id for envcall.
type EnvImm struct {
	Call EnvCall
}

// MemImm holds access kind, local or data index and static offset for
// local and data loads and stores.
type MemImm struct {
	Index  uint32
	Offset uint32
	Access Access
}

// HeapImm holds access kind and static offset for heap loads and stores.
type HeapImm struct {
	Offset uint32
	Access Access
}

// I32Imm holds the constant value for i32.const.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant value for f32.const.
type F32Imm struct {
	Value float32
}

// F64Imm holds the constant value for f64.const.
type F64Imm struct {
	Value float64
}

// GetCallTarget returns the call target if this is a call instruction
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.Func, true
		}
	}
	return 0, false
}

func (i Instruction) String() string {
	name := OpcodeName(i.Opcode)
	switch imm := i.Imm.(type) {
	case nil:
		return name
	case BlockImm:
		return fmt.Sprintf("%s type=%d", name, imm.Type)
	case BranchImm:
		return fmt.Sprintf("%s %d", name, imm.Depth)
	case CallImm:
		return fmt.Sprintf("%s func=%d", name, imm.Func)
	case TypeImm:
		return fmt.Sprintf("%s type=%d", name, imm.Type)
	case EnvImm:
		return fmt.Sprintf("%s %s", name, imm.Call)
	case MemImm:
		return fmt.Sprintf("%s %s index=%d offset=%d", name, imm.Access, imm.Index, imm.Offset)
	case HeapImm:
		return fmt.Sprintf("%s %s offset=%d", name, imm.Access, imm.Offset)
	case I32Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)
	case I64Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)
	case F32Imm:
		return fmt.Sprintf("%s %g", name, imm.Value)
	case F64Imm:
		return fmt.Sprintf("%s %g", name, imm.Value)
	default:
		return fmt.Sprintf("%s %v", name, imm)
	}
}

// DecodeInstructions decodes a sequence of instructions from raw bytes
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Len() > 0 {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if !KnownOpcode(op) {
			return nil, r.WrapError("code", fmt.Errorf("unknown opcode 0x%02x", op))
		}

		instr := Instruction{Opcode: op}

		switch op {
		case OpBlock, OpLoop, OpIf:
			t, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = BlockImm{Type: t}

		case OpBreak, OpBreakIf, OpRecur, OpRecurIf:
			d, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = BranchImm{Depth: d}

		case OpCall:
			f, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = CallImm{Func: f}

		case OpCallDynamic:
			t, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = TypeImm{Type: t}

		case OpEnvCall:
			c, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = EnvImm{Call: EnvCall(c)}

		case OpLocalLoad, OpLocalStore, OpLocalLoadX, OpLocalStoreX,
			OpDataLoad, OpDataStore, OpDataLoadX, OpDataStoreX:
			a, err := readAccess(r)
			if err != nil {
				return nil, err
			}
			idx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			off, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = MemImm{Access: a, Index: idx, Offset: off}

		case OpHeapLoad, OpHeapStore:
			a, err := readAccess(r)
			if err != nil {
				return nil, err
			}
			off, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = HeapImm{Access: a, Offset: off}

		case OpI32Const:
			v, err := r.ReadS32()
			if err != nil {
				return nil, err
			}
			instr.Imm = I32Imm{Value: v}

		case OpI64Const:
			v, err := r.ReadS64()
			if err != nil {
				return nil, err
			}
			instr.Imm = I64Imm{Value: v}

		case OpF32Const:
			bits, err := r.ReadU32LE()
			if err != nil {
				return nil, err
			}
			instr.Imm = F32Imm{Value: math.Float32frombits(bits)}

		case OpF64Const:
			bits, err := r.ReadU64LE()
			if err != nil {
				return nil, err
			}
			instr.Imm = F64Imm{Value: math.Float64frombits(bits)}
		}

		instrs = append(instrs, instr)
	}

	return instrs, nil
}

func readAccess(r *binary.Reader) (Access, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	a := Access(b)
	if !a.Valid() {
		return 0, r.WrapError("code", fmt.Errorf("invalid access kind %d", b))
	}
	return a, nil
}

// EncodeInstructionTo appends the encoding of one instruction.
func EncodeInstructionTo(w *binary.Writer, instr *Instruction) {
	w.Byte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case BlockImm:
		w.WriteU32(imm.Type)
	case BranchImm:
		w.WriteU32(imm.Depth)
	case CallImm:
		w.WriteU32(imm.Func)
	case TypeImm:
		w.WriteU32(imm.Type)
	case EnvImm:
		w.WriteU32(uint32(imm.Call))
	case MemImm:
		w.Byte(byte(imm.Access))
		w.WriteU32(imm.Index)
		w.WriteU32(imm.Offset)
	case HeapImm:
		w.Byte(byte(imm.Access))
		w.WriteU32(imm.Offset)
	case I32Imm:
		w.WriteS32(imm.Value)
	case I64Imm:
		w.WriteS64(imm.Value)
	case F32Imm:
		w.WriteU32LE(math.Float32bits(imm.Value))
	case F64Imm:
		w.WriteU64LE(math.Float64bits(imm.Value))
	}
}

// EncodeInstructions encodes instructions to bytes
func EncodeInstructions(instrs []Instruction) []byte {
	w := binary.NewWriter()
	for i := range instrs {
		EncodeInstructionTo(w, &instrs[i])
	}
	return w.Bytes()
}
