package program

import (
	"math"
	"slices"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
)

// unknown is the operand type of values produced in unreachable code.
const unknown bytecode.ValType = 0

type ctrlFrame struct {
	sig         *Signature
	patches     []int // breaks waiting for the end pc
	pc          int   // pc of block, loop or if
	elsePC      int
	height      int
	op          byte // 0 for the function frame
	unreachable bool
}

type verifier struct {
	p     *Program
	f     *Function
	ops   []Op
	vals  []bytecode.ValType
	ctrls []ctrlFrame
	pc    int
	max   int
}

// Verify checks a bytecode function body and compiles it into f.Ops.
func Verify(p *Program, f *Function) error {
	return verify(p, f)
}

func verify(p *Program, f *Function) error {
	body := p.Module.Code[p.Module.CodeIndex(int(f.Index)-p.Module.NumImportedFuncs())]
	code, err := bytecode.DecodeInstructions(body.Code)
	if err != nil {
		return errors.New(errors.PhaseVerify, errors.KindVerification).
			Path(p.Name, f.Name).
			Detail("decode body").
			Cause(err).
			Build()
	}

	v := &verifier{p: p, f: f, ops: make([]Op, 0, len(code))}
	v.ctrls = append(v.ctrls, ctrlFrame{sig: f.Sig})
	for i := range code {
		v.pc = i
		if len(v.ctrls) == 0 {
			return v.errorf("instructions after the final end")
		}
		if err := v.step(&code[i]); err != nil {
			return err
		}
	}
	if len(v.ctrls) != 0 {
		v.pc = len(code)
		return v.errorf("body ends inside %d open block(s)", len(v.ctrls))
	}
	f.Ops = v.ops
	f.MaxStack = v.max
	return nil
}

func (v *verifier) errorf(format string, args ...any) error {
	return errors.Verification(v.p.Name, v.f.Name, v.pc, format, args...)
}

func (v *verifier) push(t bytecode.ValType) {
	v.vals = append(v.vals, t)
	if len(v.vals) > v.max {
		v.max = len(v.vals)
	}
}

func (v *verifier) pushAll(ts []bytecode.ValType) {
	for _, t := range ts {
		v.push(t.Operand())
	}
}

func (v *verifier) pop() (bytecode.ValType, error) {
	c := &v.ctrls[len(v.ctrls)-1]
	if len(v.vals) == c.height {
		if c.unreachable {
			return unknown, nil
		}
		return unknown, v.errorf("operand stack underflow")
	}
	t := v.vals[len(v.vals)-1]
	v.vals = v.vals[:len(v.vals)-1]
	return t, nil
}

func (v *verifier) popExpect(want bytecode.ValType) (bytecode.ValType, error) {
	got, err := v.pop()
	if err != nil {
		return unknown, err
	}
	if got != unknown && want != unknown && got != want {
		return unknown, v.errorf("type mismatch: expected %s, got %s", want, got)
	}
	if got == unknown {
		return want, nil
	}
	return got, nil
}

func (v *verifier) popAll(ts []bytecode.ValType) error {
	for i := len(ts) - 1; i >= 0; i-- {
		if _, err := v.popExpect(ts[i].Operand()); err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) pushCtrl(op byte, sig *Signature) {
	v.ctrls = append(v.ctrls, ctrlFrame{
		op:     op,
		sig:    sig,
		pc:     v.pc,
		elsePC: -1,
		height: len(v.vals),
	})
	v.pushAll(sig.Params)
}

// popCtrl checks the block leaves exactly its results and closes it.
func (v *verifier) popCtrl() (ctrlFrame, error) {
	c := v.ctrls[len(v.ctrls)-1]
	if err := v.popAll(c.sig.Results); err != nil {
		return c, err
	}
	if len(v.vals) != c.height {
		return c, v.errorf("block leaves %d extra operand(s)", len(v.vals)-c.height)
	}
	v.ctrls = v.ctrls[:len(v.ctrls)-1]
	return c, nil
}

func (v *verifier) setUnreachable() {
	c := &v.ctrls[len(v.ctrls)-1]
	v.vals = v.vals[:c.height]
	c.unreachable = true
}

// labelTypes returns what a break or recur to the frame carries.
func labelTypes(c *ctrlFrame, recur bool) []bytecode.ValType {
	if recur {
		return c.sig.Params
	}
	return c.sig.Results
}

func (v *verifier) emit(op Op) {
	v.ops = append(v.ops, op)
}

func (v *verifier) blockSig(imm any) (*Signature, error) {
	b, ok := imm.(bytecode.BlockImm)
	if !ok || int(b.Type) >= len(v.p.Types) {
		return nil, v.errorf("block type out of range")
	}
	return v.p.Types[b.Type], nil
}

func (v *verifier) step(in *bytecode.Instruction) error {
	op := in.Opcode
	switch op {
	case bytecode.OpUnreachable:
		v.emit(Op{Code: op})
		v.setUnreachable()
	case bytecode.OpNop:
		v.emit(Op{Code: op})

	case bytecode.OpBlock, bytecode.OpLoop:
		sig, err := v.blockSig(in.Imm)
		if err != nil {
			return err
		}
		if err := v.popAll(sig.Params); err != nil {
			return err
		}
		v.emit(Op{Code: op})
		v.pushCtrl(op, sig)
	case bytecode.OpIf:
		sig, err := v.blockSig(in.Imm)
		if err != nil {
			return err
		}
		if _, err := v.popExpect(bytecode.ValI32); err != nil {
			return err
		}
		if err := v.popAll(sig.Params); err != nil {
			return err
		}
		v.emit(Op{Code: op})
		v.pushCtrl(op, sig)
	case bytecode.OpElse:
		c := &v.ctrls[len(v.ctrls)-1]
		if c.op != bytecode.OpIf || c.elsePC >= 0 {
			return v.errorf("else without matching if")
		}
		if err := v.popAll(c.sig.Results); err != nil {
			return err
		}
		if len(v.vals) != c.height {
			return v.errorf("then branch leaves %d extra operand(s)", len(v.vals)-c.height)
		}
		c.elsePC = v.pc
		c.unreachable = false
		v.ops[c.pc].A = uint32(v.pc + 1)
		v.emit(Op{Code: op})
		v.pushAll(c.sig.Params)
	case bytecode.OpEnd:
		return v.end()

	case bytecode.OpBreak, bytecode.OpBreakIf, bytecode.OpRecur, bytecode.OpRecurIf:
		return v.branch(in)
	case bytecode.OpReturn:
		if err := v.popAll(v.f.Sig.Results); err != nil {
			return err
		}
		v.emit(Op{Code: bytecode.OpReturn, B: uint32(len(v.f.Sig.Results))})
		v.setUnreachable()

	case bytecode.OpCall:
		imm, ok := in.Imm.(bytecode.CallImm)
		if !ok || int(imm.Func) >= len(v.p.Functions) {
			return v.errorf("call target out of range")
		}
		callee := v.p.Functions[imm.Func]
		if err := v.popAll(callee.Sig.Params); err != nil {
			return err
		}
		v.pushAll(callee.Sig.Results)
		if callee.Foreign() {
			v.push(bytecode.ValI32)
		}
		v.emit(Op{Code: op, A: imm.Func, B: uint32(len(callee.Sig.Params)), C: uint32(len(callee.Sig.Results))})
	case bytecode.OpCallDynamic:
		imm, ok := in.Imm.(bytecode.TypeImm)
		if !ok || int(imm.Type) >= len(v.p.Types) {
			return v.errorf("call_dynamic type out of range")
		}
		sig := v.p.Types[imm.Type]
		if _, err := v.popExpect(bytecode.ValI32); err != nil {
			return err
		}
		if err := v.popAll(sig.Params); err != nil {
			return err
		}
		v.pushAll(sig.Results)
		v.emit(Op{Code: op, A: imm.Type, B: uint32(len(sig.Params)), C: uint32(len(sig.Results))})
	case bytecode.OpEnvCall:
		imm, ok := in.Imm.(bytecode.EnvImm)
		if !ok {
			return v.errorf("malformed envcall")
		}
		sig, known := bytecode.LookupEnvCall(imm.Call)
		if !known {
			return v.errorf("unknown envcall 0x%x", uint32(imm.Call))
		}
		if err := v.popAll(sig.Params); err != nil {
			return err
		}
		v.pushAll(sig.Results)
		v.emit(Op{Code: op, A: uint32(imm.Call)})

	case bytecode.OpDrop:
		if _, err := v.pop(); err != nil {
			return err
		}
		v.emit(Op{Code: op})
	case bytecode.OpSelect:
		if _, err := v.popExpect(bytecode.ValI32); err != nil {
			return err
		}
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.popExpect(b)
		if err != nil {
			return err
		}
		v.push(a)
		v.emit(Op{Code: op})

	case bytecode.OpLocalLoad, bytecode.OpLocalStore, bytecode.OpLocalLoadX, bytecode.OpLocalStoreX:
		return v.local(in)
	case bytecode.OpDataLoad, bytecode.OpDataStore, bytecode.OpDataLoadX, bytecode.OpDataStoreX:
		return v.data(in)
	case bytecode.OpHeapLoad, bytecode.OpHeapStore:
		return v.heap(in)
	case bytecode.OpHeapAlloc, bytecode.OpHeapSize:
		if _, err := v.popExpect(bytecode.ValI64); err != nil {
			return err
		}
		v.push(bytecode.ValI64)
		v.emit(Op{Code: op})
	case bytecode.OpHeapFree:
		if _, err := v.popExpect(bytecode.ValI64); err != nil {
			return err
		}
		v.emit(Op{Code: op})
	case bytecode.OpHeapResize:
		if err := v.popAll([]bytecode.ValType{bytecode.ValI64, bytecode.ValI64}); err != nil {
			return err
		}
		v.emit(Op{Code: op})

	case bytecode.OpI32Const:
		imm, ok := in.Imm.(bytecode.I32Imm)
		if !ok {
			return v.errorf("malformed %s immediate", bytecode.OpcodeName(op))
		}
		v.push(bytecode.ValI32)
		v.emit(Op{Code: op, Imm: uint64(int64(imm.Value))})
	case bytecode.OpI64Const:
		imm, ok := in.Imm.(bytecode.I64Imm)
		if !ok {
			return v.errorf("malformed %s immediate", bytecode.OpcodeName(op))
		}
		v.push(bytecode.ValI64)
		v.emit(Op{Code: op, Imm: uint64(imm.Value)})
	case bytecode.OpF32Const:
		imm, ok := in.Imm.(bytecode.F32Imm)
		if !ok {
			return v.errorf("malformed %s immediate", bytecode.OpcodeName(op))
		}
		v.push(bytecode.ValF32)
		v.emit(Op{Code: op, Imm: uint64(math.Float32bits(imm.Value))})
	case bytecode.OpF64Const:
		imm, ok := in.Imm.(bytecode.F64Imm)
		if !ok {
			return v.errorf("malformed %s immediate", bytecode.OpcodeName(op))
		}
		v.push(bytecode.ValF64)
		v.emit(Op{Code: op, Imm: math.Float64bits(imm.Value)})

	default:
		s := numeric[op]
		if s == nil {
			return v.errorf("unsupported instruction %s", bytecode.OpcodeName(op))
		}
		if err := v.popAll(s.params); err != nil {
			return err
		}
		v.pushAll(s.results)
		v.emit(Op{Code: op})
	}
	return nil
}

func (v *verifier) end() error {
	c := v.ctrls[len(v.ctrls)-1]
	if c.op == bytecode.OpIf && c.elsePC < 0 && !slices.Equal(c.sig.Params, c.sig.Results) {
		return v.errorf("if without else must have matching params and results")
	}
	if _, err := v.popCtrl(); err != nil {
		return err
	}

	if len(v.ctrls) == 0 {
		v.emit(Op{Code: bytecode.OpReturn, B: uint32(len(c.sig.Results))})
		return nil
	}

	after := uint32(v.pc + 1)
	switch {
	case c.op == bytecode.OpIf && c.elsePC >= 0:
		v.ops[c.elsePC].A = after
	case c.op == bytecode.OpIf:
		v.ops[c.pc].A = after
	}
	for _, at := range c.patches {
		v.ops[at].A = after
	}
	v.emit(Op{Code: bytecode.OpEnd})
	v.pushAll(c.sig.Results)
	return nil
}

func (v *verifier) branch(in *bytecode.Instruction) error {
	imm, ok := in.Imm.(bytecode.BranchImm)
	if !ok {
		return v.errorf("malformed branch")
	}
	op := in.Opcode
	depth := int(imm.Depth)
	if depth >= len(v.ctrls) {
		return v.errorf("%s depth %d out of range (%d enclosing)", bytecode.OpcodeName(op), depth, len(v.ctrls))
	}
	recur := op == bytecode.OpRecur || op == bytecode.OpRecurIf
	conditional := op == bytecode.OpBreakIf || op == bytecode.OpRecurIf
	targetIdx := len(v.ctrls) - 1 - depth
	target := &v.ctrls[targetIdx]
	if recur && target.op != bytecode.OpLoop && targetIdx != 0 {
		return v.errorf("recur target at depth %d is not a loop", depth)
	}

	if conditional {
		if _, err := v.popExpect(bytecode.ValI32); err != nil {
			return err
		}
	}
	carried := labelTypes(target, recur)
	if err := v.popAll(carried); err != nil {
		return err
	}

	keep := uint32(len(carried))
	switch {
	case targetIdx == 0 && recur:
		code := OpTailRecur
		if conditional {
			code = OpTailRecurIf
		}
		v.emit(Op{Code: code, B: keep})
	case targetIdx == 0:
		code := bytecode.OpReturn
		if conditional {
			code = OpReturnIf
		}
		v.emit(Op{Code: code, B: keep})
	case recur:
		v.emit(Op{Code: op, A: uint32(target.pc + 1), B: keep, C: uint32(target.height)})
	default:
		target.patches = append(target.patches, len(v.ops))
		v.emit(Op{Code: op, B: keep, C: uint32(target.height)})
	}

	if conditional {
		v.pushAll(carried)
	} else {
		v.setUnreachable()
	}
	return nil
}

func (v *verifier) local(in *bytecode.Instruction) error {
	imm, ok := in.Imm.(bytecode.MemImm)
	if !ok || !imm.Access.Valid() {
		return v.errorf("malformed local access")
	}
	if int(imm.Index) >= len(v.f.Locals) {
		return v.errorf("local %d out of range (%d locals)", imm.Index, len(v.f.Locals))
	}
	l := v.f.Locals[imm.Index]
	op := in.Opcode
	dynamic := op == bytecode.OpLocalLoadX || op == bytecode.OpLocalStoreX
	if !dynamic && uint64(imm.Offset)+uint64(imm.Access.Width()) > uint64(l.Size) {
		return v.errorf("local %d access at offset %d width %d exceeds slot size %d",
			imm.Index, imm.Offset, imm.Access.Width(), l.Size)
	}
	if err := v.access(op == bytecode.OpLocalStore || op == bytecode.OpLocalStoreX, dynamic, nil, imm.Access); err != nil {
		return err
	}
	v.emit(Op{Code: op, Access: imm.Access, A: l.Offset, B: l.Size, C: imm.Offset})
	return nil
}

func (v *verifier) data(in *bytecode.Instruction) error {
	imm, ok := in.Imm.(bytecode.MemImm)
	if !ok || !imm.Access.Valid() {
		return v.errorf("malformed data access")
	}
	if int(imm.Index) >= len(v.p.Data) {
		return v.errorf("data %d out of range (%d entries)", imm.Index, len(v.p.Data))
	}
	d := v.p.Data[imm.Index]
	op := in.Opcode
	dynamic := op == bytecode.OpDataLoadX || op == bytecode.OpDataStoreX
	if !dynamic && uint64(imm.Offset)+uint64(imm.Access.Width()) > uint64(d.Length) {
		return v.errorf("data %d access at offset %d width %d exceeds length %d",
			imm.Index, imm.Offset, imm.Access.Width(), d.Length)
	}
	if err := v.access(op == bytecode.OpDataStore || op == bytecode.OpDataStoreX, dynamic, nil, imm.Access); err != nil {
		return err
	}
	v.emit(Op{Code: op, Access: imm.Access, A: imm.Index, C: imm.Offset})
	return nil
}

func (v *verifier) heap(in *bytecode.Instruction) error {
	imm, ok := in.Imm.(bytecode.HeapImm)
	if !ok || !imm.Access.Valid() {
		return v.errorf("malformed heap access")
	}
	handle := []bytecode.ValType{bytecode.ValI64}
	if err := v.access(in.Opcode == bytecode.OpHeapStore, true, handle, imm.Access); err != nil {
		return err
	}
	v.emit(Op{Code: in.Opcode, Access: imm.Access, C: imm.Offset})
	return nil
}

// access checks the operands of a load or store. Operand order from the
// bottom: address operands, the dynamic i32 offset, the stored value.
func (v *verifier) access(store, dynamic bool, addr []bytecode.ValType, a bytecode.Access) error {
	if store {
		if _, err := v.popExpect(a.Type()); err != nil {
			return err
		}
	}
	if dynamic {
		if _, err := v.popExpect(bytecode.ValI32); err != nil {
			return err
		}
	}
	if err := v.popAll(addr); err != nil {
		return err
	}
	if !store {
		v.push(a.Type())
	}
	return nil
}
