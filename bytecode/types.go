package bytecode

import "slices"

// Module represents a decoded module binary.
//
// Function and data index spaces start with the imported entries (in import
// order) followed by the local entries.
type Module struct {
	Name      string
	Version   Version
	Types     []FuncType
	Links     []Link
	Imports   []Import
	Libraries []Library
	Funcs     []Func // local functions
	Natives   []Native
	Apps      []App
	Data      []DataEntry // local data entries
	Exports   []Export
	Code      []FuncBody // one body per bytecode function, in order
	Start     []uint32
	Exit      []uint32

	// Names holds debug names from the custom "name" section.
	Names []Name

	CustomSections []CustomSection
}

// FuncType represents a signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports structural equality.
func (t FuncType) Equal(o FuncType) bool {
	return slices.Equal(t.Params, o.Params) && slices.Equal(t.Results, o.Results)
}

func (t FuncType) String() string {
	s := "("
	for i, p := range t.Params {
		if i > 0 {
			s += ", "
		}
		s += p.String()
	}
	s += ") -> ("
	for i, r := range t.Results {
		if i > 0 {
			s += ", "
		}
		s += r.String()
	}
	return s + ")"
}

// Link references another module.
type Link struct {
	Name    string // shared module name, or file path for local links
	Version Version
	Kind    LinkKind
}

// Import binds a symbol exported by a linked module.
type Import struct {
	Name     string
	Link     uint32
	Type     uint32 // function imports
	Length   uint32 // data imports
	Kind     byte
	Section  DataSection // data imports
	DataType ValType     // data imports
}

// Library is a foreign library referenced by native bindings.
type Library struct {
	Name string
	Kind LibraryKind
}

// Func declares a local function.
type Func struct {
	Type  uint32
	Index uint32 // native or app index for non-bytecode functions
	Kind  FuncKind
}

// Native binds a function to a symbol of a foreign library.
type Native struct {
	Symbol  string
	Params  []NativeType
	Library uint32
	Result  NativeType
}

// App binds a function to an external executable.
type App struct {
	Executable string
	Options    []AppOption
}

// AppOption maps one CLI option to a literal, a parameter or standard input.
type AppOption struct {
	Flag  string // empty for positional arguments
	Value string // literal value, or default for parameters
	Param uint32 // NoParam when unbound
	Kind  AppOptionKind
}

// DataEntry is a local data entry.
type DataEntry struct {
	Init    []byte // initial value, absent for uninit
	Length  uint32 // 0 means the length of Init
	Align   uint32 // 0 means the natural width of Type
	Section DataSection
	Type    ValType
	Shared  bool
}

// Size returns the declared length, inferred from the initial value when omitted.
func (d DataEntry) Size() uint32 {
	if d.Length == 0 {
		return uint32(len(d.Init))
	}
	return d.Length
}

// Alignment returns the declared alignment, inferred from the datatype when omitted.
func (d DataEntry) Alignment() uint32 {
	if d.Align == 0 {
		return d.Type.Width()
	}
	return d.Align
}

// Export makes a function or data entry visible to importers.
type Export struct {
	Name  string
	Index uint32
	Kind  byte
}

// LocalDecl declares one local variable. Byte locals with a length are byte arrays.
type LocalDecl struct {
	Length uint32
	Type   ValType
}

// FuncBody holds the locals and encoded instructions of a bytecode function.
type FuncBody struct {
	Locals []LocalDecl
	Code   []byte
}

// Name is a debug name for a function index.
type Name struct {
	Name  string
	Index uint32
}

// CustomSection is an opaque named section.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of function imports.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// NumImportedData returns the number of data imports.
func (m *Module) NumImportedData() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindData {
			n++
		}
	}
	return n
}

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// NumData returns the size of the data index space.
func (m *Module) NumData() int {
	return m.NumImportedData() + len(m.Data)
}

// FuncTypeIndex returns the type index of a function in the function index space.
func (m *Module) FuncTypeIndex(idx uint32) (uint32, bool) {
	n := uint32(0)
	for _, imp := range m.Imports {
		if imp.Kind != KindFunc {
			continue
		}
		if n == idx {
			return imp.Type, true
		}
		n++
	}
	local := idx - n
	if idx < n || local >= uint32(len(m.Funcs)) {
		return 0, false
	}
	return m.Funcs[local].Type, true
}

// CodeIndex returns the code section index of the local bytecode function
// at local index i, or -1 when the function has no body.
func (m *Module) CodeIndex(i int) int {
	if i < 0 || i >= len(m.Funcs) || m.Funcs[i].Kind != FuncBytecode {
		return -1
	}
	n := 0
	for _, f := range m.Funcs[:i] {
		if f.Kind == FuncBytecode {
			n++
		}
	}
	return n
}

// FuncName returns the debug name of a function, if any.
func (m *Module) FuncName(idx uint32) string {
	for _, n := range m.Names {
		if n.Index == idx {
			return n.Name
		}
	}
	return ""
}

// AddType appends a type or returns the index of a structurally equal one.
func (m *Module) AddType(t FuncType) uint32 {
	for i, existing := range m.Types {
		if existing.Equal(t) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, t)
	return uint32(len(m.Types) - 1)
}
