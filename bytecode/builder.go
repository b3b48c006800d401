package bytecode

// Builder assembles a Module in memory. Imports of a kind must be declared
// before local entries of the same kind so that indices stay stable.
type Builder struct {
	m Module
}

// NewBuilder starts a module with the given name and version.
func NewBuilder(name string, v Version) *Builder {
	return &Builder{m: Module{Name: name, Version: v}}
}

// Type interns a signature and returns its type index.
func (b *Builder) Type(params, results []ValType) uint32 {
	return b.m.AddType(FuncType{Params: params, Results: results})
}

// SharedLink adds a link to a shared module.
func (b *Builder) SharedLink(name string, v Version) uint32 {
	b.m.Links = append(b.m.Links, Link{Kind: LinkShared, Name: name, Version: v})
	return uint32(len(b.m.Links) - 1)
}

// LocalLink adds a link to a module file relative to this one.
func (b *Builder) LocalLink(path string) uint32 {
	b.m.Links = append(b.m.Links, Link{Kind: LinkLocal, Name: path})
	return uint32(len(b.m.Links) - 1)
}

// ImportFunc imports a function and returns its function index.
func (b *Builder) ImportFunc(link uint32, name string, typ uint32) uint32 {
	if len(b.m.Funcs) > 0 {
		panic("bytecode: function imports must precede local functions")
	}
	b.m.Imports = append(b.m.Imports, Import{Link: link, Name: name, Kind: KindFunc, Type: typ})
	return uint32(b.m.NumImportedFuncs() - 1)
}

// ImportData imports a data entry and returns its data index.
func (b *Builder) ImportData(link uint32, name string, sec DataSection, dt ValType, length uint32) uint32 {
	if len(b.m.Data) > 0 {
		panic("bytecode: data imports must precede local data")
	}
	b.m.Imports = append(b.m.Imports, Import{
		Link: link, Name: name, Kind: KindData,
		Section: sec, DataType: dt, Length: length,
	})
	return uint32(b.m.NumImportedData() - 1)
}

// Library adds a foreign library.
func (b *Builder) Library(kind LibraryKind, name string) uint32 {
	b.m.Libraries = append(b.m.Libraries, Library{Kind: kind, Name: name})
	return uint32(len(b.m.Libraries) - 1)
}

// Func adds a bytecode function. The body must end with End.
func (b *Builder) Func(typ uint32, locals []LocalDecl, code ...Instruction) uint32 {
	b.m.Funcs = append(b.m.Funcs, Func{Type: typ, Kind: FuncBytecode})
	b.m.Code = append(b.m.Code, FuncBody{Locals: locals, Code: EncodeInstructions(code)})
	return uint32(b.m.NumFuncs() - 1)
}

// NativeFunc adds a function bound to a foreign library symbol.
func (b *Builder) NativeFunc(typ, lib uint32, symbol string, params []NativeType, result NativeType) uint32 {
	b.m.Natives = append(b.m.Natives, Native{Library: lib, Symbol: symbol, Params: params, Result: result})
	b.m.Funcs = append(b.m.Funcs, Func{Type: typ, Kind: FuncNative, Index: uint32(len(b.m.Natives) - 1)})
	return uint32(b.m.NumFuncs() - 1)
}

// AppFunc adds a function bound to an external executable.
func (b *Builder) AppFunc(typ uint32, executable string, opts ...AppOption) uint32 {
	b.m.Apps = append(b.m.Apps, App{Executable: executable, Options: opts})
	b.m.Funcs = append(b.m.Funcs, Func{Type: typ, Kind: FuncApp, Index: uint32(len(b.m.Apps) - 1)})
	return uint32(b.m.NumFuncs() - 1)
}

// Data adds a local data entry and returns its data index.
func (b *Builder) Data(d DataEntry) uint32 {
	b.m.Data = append(b.m.Data, d)
	return uint32(b.m.NumData() - 1)
}

// Export exports a function or data entry.
func (b *Builder) Export(name string, kind byte, idx uint32) {
	b.m.Exports = append(b.m.Exports, Export{Name: name, Kind: kind, Index: idx})
}

// ExportFunc exports a function under name.
func (b *Builder) ExportFunc(name string, idx uint32) {
	b.Export(name, KindFunc, idx)
}

// Start appends constructor functions.
func (b *Builder) Start(idx ...uint32) {
	b.m.Start = append(b.m.Start, idx...)
}

// Exit appends destructor functions.
func (b *Builder) Exit(idx ...uint32) {
	b.m.Exit = append(b.m.Exit, idx...)
}

// Name attaches a debug name to a function.
func (b *Builder) Name(idx uint32, name string) {
	b.m.Names = append(b.m.Names, Name{Index: idx, Name: name})
}

// Module returns the assembled module. The builder must not be used afterwards.
func (b *Builder) Module() *Module {
	return &b.m
}

// Bytes returns the encoded module.
func (b *Builder) Bytes() []byte {
	return b.m.Encode()
}

// Instruction constructors.

func Op(code byte) Instruction     { return Instruction{Opcode: code} }
func Block(typ uint32) Instruction { return Instruction{Opcode: OpBlock, Imm: BlockImm{Type: typ}} }
func Loop(typ uint32) Instruction  { return Instruction{Opcode: OpLoop, Imm: BlockImm{Type: typ}} }
func If(typ uint32) Instruction    { return Instruction{Opcode: OpIf, Imm: BlockImm{Type: typ}} }
func Else() Instruction            { return Instruction{Opcode: OpElse} }
func End() Instruction             { return Instruction{Opcode: OpEnd} }
func Break(depth uint32) Instruction {
	return Instruction{Opcode: OpBreak, Imm: BranchImm{Depth: depth}}
}
func BreakIf(depth uint32) Instruction {
	return Instruction{Opcode: OpBreakIf, Imm: BranchImm{Depth: depth}}
}
func Recur(depth uint32) Instruction {
	return Instruction{Opcode: OpRecur, Imm: BranchImm{Depth: depth}}
}
func RecurIf(depth uint32) Instruction {
	return Instruction{Opcode: OpRecurIf, Imm: BranchImm{Depth: depth}}
}
func Return() Instruction        { return Instruction{Opcode: OpReturn} }
func Call(fn uint32) Instruction { return Instruction{Opcode: OpCall, Imm: CallImm{Func: fn}} }
func CallDynamic(typ uint32) Instruction {
	return Instruction{Opcode: OpCallDynamic, Imm: TypeImm{Type: typ}}
}
func Env(call EnvCall) Instruction               { return Instruction{Opcode: OpEnvCall, Imm: EnvImm{Call: call}} }
func I32(v int32) Instruction                    { return Instruction{Opcode: OpI32Const, Imm: I32Imm{Value: v}} }
func I64(v int64) Instruction                    { return Instruction{Opcode: OpI64Const, Imm: I64Imm{Value: v}} }
func F32(v float32) Instruction                  { return Instruction{Opcode: OpF32Const, Imm: F32Imm{Value: v}} }
func F64(v float64) Instruction                  { return Instruction{Opcode: OpF64Const, Imm: F64Imm{Value: v}} }
func HeapLoad(a Access, off uint32) Instruction  { return heapOp(OpHeapLoad, a, off) }
func HeapStore(a Access, off uint32) Instruction { return heapOp(OpHeapStore, a, off) }

func LocalLoad(a Access, idx, off uint32) Instruction   { return memOp(OpLocalLoad, a, idx, off) }
func LocalStore(a Access, idx, off uint32) Instruction  { return memOp(OpLocalStore, a, idx, off) }
func LocalLoadX(a Access, idx, off uint32) Instruction  { return memOp(OpLocalLoadX, a, idx, off) }
func LocalStoreX(a Access, idx, off uint32) Instruction { return memOp(OpLocalStoreX, a, idx, off) }
func DataLoad(a Access, idx, off uint32) Instruction    { return memOp(OpDataLoad, a, idx, off) }
func DataStore(a Access, idx, off uint32) Instruction   { return memOp(OpDataStore, a, idx, off) }
func DataLoadX(a Access, idx, off uint32) Instruction   { return memOp(OpDataLoadX, a, idx, off) }
func DataStoreX(a Access, idx, off uint32) Instruction  { return memOp(OpDataStoreX, a, idx, off) }

func memOp(code byte, a Access, idx, off uint32) Instruction {
	return Instruction{Opcode: code, Imm: MemImm{Access: a, Index: idx, Offset: off}}
}

func heapOp(code byte, a Access, off uint32) Instruction {
	return Instruction{Opcode: code, Imm: HeapImm{Access: a, Offset: off}}
}
