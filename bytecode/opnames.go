package bytecode

var opcodeNames = map[byte]string{
	OpUnreachable: "unreachable",
	OpNop:         "nop",
	OpBlock:       "block",
	OpLoop:        "loop",
	OpIf:          "if",
	OpElse:        "else",
	OpEnd:         "end",
	OpBreak:       "break",
	OpBreakIf:     "break_if",
	OpRecur:       "recur",
	OpRecurIf:     "recur_if",
	OpReturn:      "return",
	OpCall:        "call",
	OpCallDynamic: "call_dynamic",
	OpEnvCall:     "envcall",

	OpDrop:   "drop",
	OpSelect: "select",

	OpLocalLoad:   "local.load",
	OpLocalStore:  "local.store",
	OpLocalLoadX:  "local.load_x",
	OpLocalStoreX: "local.store_x",
	OpDataLoad:    "data.load",
	OpDataStore:   "data.store",
	OpDataLoadX:   "data.load_x",
	OpDataStoreX:  "data.store_x",
	OpHeapLoad:    "heap.load",
	OpHeapStore:   "heap.store",
	OpHeapAlloc:   "heap.alloc",
	OpHeapFree:    "heap.free",
	OpHeapSize:    "heap.size",
	OpHeapResize:  "heap.resize",

	OpI32Const: "i32.const",
	OpI64Const: "i64.const",
	OpF32Const: "f32.const",
	OpF64Const: "f64.const",

	OpI32Eqz: "i32.eqz",
	OpI32Eq:  "i32.eq",
	OpI32Ne:  "i32.ne",
	OpI32LtS: "i32.lt_s",
	OpI32LtU: "i32.lt_u",
	OpI32GtS: "i32.gt_s",
	OpI32GtU: "i32.gt_u",
	OpI32LeS: "i32.le_s",
	OpI32LeU: "i32.le_u",
	OpI32GeS: "i32.ge_s",
	OpI32GeU: "i32.ge_u",

	OpI64Eqz: "i64.eqz",
	OpI64Eq:  "i64.eq",
	OpI64Ne:  "i64.ne",
	OpI64LtS: "i64.lt_s",
	OpI64LtU: "i64.lt_u",
	OpI64GtS: "i64.gt_s",
	OpI64GtU: "i64.gt_u",
	OpI64LeS: "i64.le_s",
	OpI64LeU: "i64.le_u",
	OpI64GeS: "i64.ge_s",
	OpI64GeU: "i64.ge_u",

	OpF32Eq: "f32.eq",
	OpF32Ne: "f32.ne",
	OpF32Lt: "f32.lt",
	OpF32Gt: "f32.gt",
	OpF32Le: "f32.le",
	OpF32Ge: "f32.ge",
	OpF64Eq: "f64.eq",
	OpF64Ne: "f64.ne",
	OpF64Lt: "f64.lt",
	OpF64Gt: "f64.gt",
	OpF64Le: "f64.le",
	OpF64Ge: "f64.ge",

	OpI32Add:  "i32.add",
	OpI32Sub:  "i32.sub",
	OpI32Mul:  "i32.mul",
	OpI32DivS: "i32.div_s",
	OpI32DivU: "i32.div_u",
	OpI32RemS: "i32.rem_s",
	OpI32RemU: "i32.rem_u",
	OpI32And:  "i32.and",
	OpI32Or:   "i32.or",
	OpI32Xor:  "i32.xor",
	OpI32Shl:  "i32.shl",
	OpI32ShrS: "i32.shr_s",
	OpI32ShrU: "i32.shr_u",

	OpI64Add:  "i64.add",
	OpI64Sub:  "i64.sub",
	OpI64Mul:  "i64.mul",
	OpI64DivS: "i64.div_s",
	OpI64DivU: "i64.div_u",
	OpI64RemS: "i64.rem_s",
	OpI64RemU: "i64.rem_u",
	OpI64And:  "i64.and",
	OpI64Or:   "i64.or",
	OpI64Xor:  "i64.xor",
	OpI64Shl:  "i64.shl",
	OpI64ShrS: "i64.shr_s",
	OpI64ShrU: "i64.shr_u",

	OpF32Abs:  "f32.abs",
	OpF32Neg:  "f32.neg",
	OpF32Sqrt: "f32.sqrt",
	OpF32Add:  "f32.add",
	OpF32Sub:  "f32.sub",
	OpF32Mul:  "f32.mul",
	OpF32Div:  "f32.div",
	OpF64Abs:  "f64.abs",
	OpF64Neg:  "f64.neg",
	OpF64Sqrt: "f64.sqrt",
	OpF64Add:  "f64.add",
	OpF64Sub:  "f64.sub",
	OpF64Mul:  "f64.mul",
	OpF64Div:  "f64.div",

	OpI32WrapI64:     "i32.wrap_i64",
	OpI32TruncF32S:   "i32.trunc_f32_s",
	OpI32TruncF64S:   "i32.trunc_f64_s",
	OpI64ExtendI32S:  "i64.extend_i32_s",
	OpI64ExtendI32U:  "i64.extend_i32_u",
	OpI64TruncF32S:   "i64.trunc_f32_s",
	OpI64TruncF64S:   "i64.trunc_f64_s",
	OpF32ConvertI32S: "f32.convert_i32_s",
	OpF32ConvertI64S: "f32.convert_i64_s",
	OpF32DemoteF64:   "f32.demote_f64",
	OpF64ConvertI32S: "f64.convert_i32_s",
	OpF64ConvertI64S: "f64.convert_i64_s",
	OpF64PromoteF32:  "f64.promote_f32",
}

// OpcodeName returns the mnemonic of an opcode.
func OpcodeName(op byte) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "unknown"
}

// KnownOpcode reports whether op is part of the instruction set.
func KnownOpcode(op byte) bool {
	_, ok := opcodeNames[op]
	return ok
}
