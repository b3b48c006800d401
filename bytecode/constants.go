package bytecode

// Module binary format magic number and version.
const (
	// Magic is the module binary magic number ("\0anc" in little-endian).
	Magic uint32 = 0x636E6100

	// FormatVersion is the supported binary format version.
	FormatVersion uint32 = 0x01
)

// FileExt is the conventional extension of module files.
const FileExt = ".ancm"

// Section IDs define the binary identifiers for each module section.
// Sections must appear in increasing order by ID (except custom sections).
const (
	SectionCustom   byte = 0  // Custom section (can appear anywhere)
	SectionType     byte = 1  // Type section (signatures)
	SectionLink     byte = 2  // Link section (referenced modules)
	SectionImport   byte = 3  // Import section
	SectionLibrary  byte = 4  // Foreign library section
	SectionFunction byte = 5  // Function section (type index + kind)
	SectionNative   byte = 6  // Native function bindings
	SectionApp      byte = 7  // App function bindings
	SectionData     byte = 8  // Data entries
	SectionExport   byte = 9  // Export section
	SectionCode     byte = 10 // Code section (function bodies)
	SectionStart    byte = 11 // Start (constructor) functions
	SectionExit     byte = 12 // Exit (destructor) functions
)

// NameSection is the custom section carrying debug function names.
const NameSection = "name"

// Import/Export kinds.
const (
	KindFunc byte = 0
	KindData byte = 1
)

// ValType is a primitive value type. Data entries use the same encoding for
// their datatype.
type ValType byte

// Value types.
const (
	ValI32  ValType = 0x01 // 32-bit integer
	ValI64  ValType = 0x02 // 64-bit integer
	ValF32  ValType = 0x03 // 32-bit float
	ValF64  ValType = 0x04 // 64-bit float
	ValByte ValType = 0x05 // raw byte
)

// Valid reports whether v is a known value type.
func (v ValType) Valid() bool {
	return v >= ValI32 && v <= ValByte
}

// Width returns the natural byte width of the type.
func (v ValType) Width() uint32 {
	switch v {
	case ValI32, ValF32:
		return 4
	case ValI64, ValF64:
		return 8
	default:
		return 1
	}
}

// Operand returns the type the value has on the operand stack.
// Bytes travel as i32.
func (v ValType) Operand() ValType {
	if v == ValByte {
		return ValI32
	}
	return v
}

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValByte:
		return "byte"
	default:
		return "unknown"
	}
}

// LinkKind distinguishes shared-runtime links from local file links.
type LinkKind byte

const (
	LinkShared LinkKind = 0
	LinkLocal  LinkKind = 1
)

// DataSection identifies the lifetime/visibility class of a data entry.
type DataSection byte

const (
	SectionReadOnly  DataSection = 0
	SectionReadWrite DataSection = 1
	SectionUninit    DataSection = 2
)

func (s DataSection) String() string {
	switch s {
	case SectionReadOnly:
		return "read_only"
	case SectionReadWrite:
		return "read_write"
	case SectionUninit:
		return "uninit"
	default:
		return "unknown"
	}
}

// DataFlagShared marks a read_write/uninit entry as process-wide.
const DataFlagShared byte = 0x01

// FuncKind tells how a local function is implemented.
type FuncKind byte

const (
	FuncBytecode FuncKind = 0
	FuncNative   FuncKind = 1
	FuncApp      FuncKind = 2
)

// LibraryKind tells how a foreign library is loaded.
type LibraryKind byte

const (
	LibraryNative LibraryKind = 0 // platform shared library
	LibraryWasm   LibraryKind = 1 // WebAssembly module
)

// NativeType describes one argument or the return of a native binding.
type NativeType byte

const (
	NativeVoid     NativeType = 0
	NativeI32      NativeType = 1
	NativeI64      NativeType = 2
	NativeF32      NativeType = 3
	NativeF64      NativeType = 4
	NativePointer  NativeType = 5 // heap allocation handle, passed as its address
	NativeCallback NativeType = 6 // function index, passed as a C function pointer
)

// ValType returns the VM type a native type is exchanged as.
func (n NativeType) ValType() (ValType, bool) {
	switch n {
	case NativeI32, NativeCallback:
		return ValI32, true
	case NativeI64, NativePointer:
		return ValI64, true
	case NativeF32:
		return ValF32, true
	case NativeF64:
		return ValF64, true
	default:
		return 0, false
	}
}

func (n NativeType) String() string {
	switch n {
	case NativeVoid:
		return "void"
	case NativeI32:
		return "i32"
	case NativeI64:
		return "i64"
	case NativeF32:
		return "f32"
	case NativeF64:
		return "f64"
	case NativePointer:
		return "pointer"
	case NativeCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// AppOptionKind tells how one CLI option of an app function is produced.
type AppOptionKind byte

const (
	OptionLiteral AppOptionKind = 0 // fixed flag and value
	OptionParam   AppOptionKind = 1 // rendered from a typed parameter
	OptionStdin   AppOptionKind = 2 // bytes fed on standard input
)

// NoParam marks an app option that is not bound to a parameter.
const NoParam uint32 = 0xFFFFFFFF

// Access selects the width and signedness of a memory load or store.
type Access byte

const (
	AccessI64  Access = 0
	AccessI32S Access = 1
	AccessI32U Access = 2
	AccessI16S Access = 3
	AccessI16U Access = 4
	AccessI8S  Access = 5
	AccessI8U  Access = 6
	AccessF32  Access = 7
	AccessF64  Access = 8
)

// Valid reports whether a is a known access kind.
func (a Access) Valid() bool {
	return a <= AccessF64
}

// Width returns the number of bytes touched.
func (a Access) Width() uint32 {
	switch a {
	case AccessI64, AccessF64:
		return 8
	case AccessI32S, AccessI32U, AccessF32:
		return 4
	case AccessI16S, AccessI16U:
		return 2
	default:
		return 1
	}
}

// Type returns the operand type loaded or stored.
func (a Access) Type() ValType {
	switch a {
	case AccessI64:
		return ValI64
	case AccessF32:
		return ValF32
	case AccessF64:
		return ValF64
	default:
		return ValI32
	}
}

// Signed reports whether a narrow load sign-extends.
func (a Access) Signed() bool {
	return a == AccessI32S || a == AccessI16S || a == AccessI8S
}

// Control flow opcodes
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpIf          byte = 0x04
	OpElse        byte = 0x05
	OpRecurIf     byte = 0x06
	OpEnd         byte = 0x0B
	OpBreak       byte = 0x0C
	OpBreakIf     byte = 0x0D
	OpRecur       byte = 0x0E
	OpReturn      byte = 0x0F
	OpCall        byte = 0x10
	OpCallDynamic byte = 0x11
	OpEnvCall     byte = 0x12
)

// Parametric opcodes
const (
	OpDrop   byte = 0x1A
	OpSelect byte = 0x1B
)

// Memory access opcodes
const (
	OpLocalLoad   byte = 0x20
	OpLocalStore  byte = 0x21
	OpLocalLoadX  byte = 0x22
	OpLocalStoreX byte = 0x23
	OpDataLoad    byte = 0x24
	OpDataStore   byte = 0x25
	OpDataLoadX   byte = 0x26
	OpDataStoreX  byte = 0x27
	OpHeapLoad    byte = 0x28
	OpHeapStore   byte = 0x29
	OpHeapAlloc   byte = 0x2A
	OpHeapFree    byte = 0x2B
	OpHeapSize    byte = 0x2C
	OpHeapResize  byte = 0x2D
)

// Constant opcodes
const (
	OpI32Const byte = 0x41
	OpI64Const byte = 0x42
	OpF32Const byte = 0x43
	OpF64Const byte = 0x44
)

// i32 comparison opcodes
const (
	OpI32Eqz byte = 0x45
	OpI32Eq  byte = 0x46
	OpI32Ne  byte = 0x47
	OpI32LtS byte = 0x48
	OpI32LtU byte = 0x49
	OpI32GtS byte = 0x4A
	OpI32GtU byte = 0x4B
	OpI32LeS byte = 0x4C
	OpI32LeU byte = 0x4D
	OpI32GeS byte = 0x4E
	OpI32GeU byte = 0x4F
)

// i64 comparison opcodes
const (
	OpI64Eqz byte = 0x50
	OpI64Eq  byte = 0x51
	OpI64Ne  byte = 0x52
	OpI64LtS byte = 0x53
	OpI64LtU byte = 0x54
	OpI64GtS byte = 0x55
	OpI64GtU byte = 0x56
	OpI64LeS byte = 0x57
	OpI64LeU byte = 0x58
	OpI64GeS byte = 0x59
	OpI64GeU byte = 0x5A
)

// f32 comparison opcodes
const (
	OpF32Eq byte = 0x5B
	OpF32Ne byte = 0x5C
	OpF32Lt byte = 0x5D
	OpF32Gt byte = 0x5E
	OpF32Le byte = 0x5F
	OpF32Ge byte = 0x60
)

// f64 comparison opcodes
const (
	OpF64Eq byte = 0x61
	OpF64Ne byte = 0x62
	OpF64Lt byte = 0x63
	OpF64Gt byte = 0x64
	OpF64Le byte = 0x65
	OpF64Ge byte = 0x66
)

// i32 arithmetic opcodes
const (
	OpI32Add  byte = 0x6A
	OpI32Sub  byte = 0x6B
	OpI32Mul  byte = 0x6C
	OpI32DivS byte = 0x6D
	OpI32DivU byte = 0x6E
	OpI32RemS byte = 0x6F
	OpI32RemU byte = 0x70
	OpI32And  byte = 0x71
	OpI32Or   byte = 0x72
	OpI32Xor  byte = 0x73
	OpI32Shl  byte = 0x74
	OpI32ShrS byte = 0x75
	OpI32ShrU byte = 0x76
)

// i64 arithmetic opcodes
const (
	OpI64Add  byte = 0x7C
	OpI64Sub  byte = 0x7D
	OpI64Mul  byte = 0x7E
	OpI64DivS byte = 0x7F
	OpI64DivU byte = 0x80
	OpI64RemS byte = 0x81
	OpI64RemU byte = 0x82
	OpI64And  byte = 0x83
	OpI64Or   byte = 0x84
	OpI64Xor  byte = 0x85
	OpI64Shl  byte = 0x86
	OpI64ShrS byte = 0x87
	OpI64ShrU byte = 0x88
)

// f32 arithmetic opcodes
const (
	OpF32Abs  byte = 0x8B
	OpF32Neg  byte = 0x8C
	OpF32Sqrt byte = 0x91
	OpF32Add  byte = 0x92
	OpF32Sub  byte = 0x93
	OpF32Mul  byte = 0x94
	OpF32Div  byte = 0x95
)

// f64 arithmetic opcodes
const (
	OpF64Abs  byte = 0x99
	OpF64Neg  byte = 0x9A
	OpF64Sqrt byte = 0x9F
	OpF64Add  byte = 0xA0
	OpF64Sub  byte = 0xA1
	OpF64Mul  byte = 0xA2
	OpF64Div  byte = 0xA3
)

// Conversion opcodes
const (
	OpI32WrapI64     byte = 0xA7
	OpI32TruncF32S   byte = 0xA8
	OpI32TruncF64S   byte = 0xAA
	OpI64ExtendI32S  byte = 0xAC
	OpI64ExtendI32U  byte = 0xAD
	OpI64TruncF32S   byte = 0xAE
	OpI64TruncF64S   byte = 0xB0
	OpF32ConvertI32S byte = 0xB2
	OpF32ConvertI64S byte = 0xB4
	OpF32DemoteF64   byte = 0xB6
	OpF64ConvertI32S byte = 0xB7
	OpF64ConvertI64S byte = 0xB9
	OpF64PromoteF32  byte = 0xBB
)

func (a Access) String() string {
	switch a {
	case AccessI64:
		return "i64"
	case AccessI32S:
		return "i32_s"
	case AccessI32U:
		return "i32_u"
	case AccessI16S:
		return "i16_s"
	case AccessI16U:
		return "i16_u"
	case AccessI8S:
		return "i8_s"
	case AccessI8U:
		return "i8_u"
	case AccessF32:
		return "f32"
	case AccessF64:
		return "f64"
	default:
		return "unknown"
	}
}
