package bytecode

import "fmt"

// Validate checks the module for structural validity: every index refers to
// an existing entry and every enum holds a known value. Function bodies are
// verified when the module is linked.
func (m *Module) Validate() error {
	if err := m.validateTypes(); err != nil {
		return err
	}
	if err := m.validateImports(); err != nil {
		return err
	}
	if err := m.validateFunctions(); err != nil {
		return err
	}
	if err := m.validateNatives(); err != nil {
		return err
	}
	if err := m.validateApps(); err != nil {
		return err
	}
	if err := m.validateData(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateStartExit(); err != nil {
		return err
	}
	if err := m.validateCode(); err != nil {
		return err
	}
	return nil
}

// ParseModuleValidate parses a module binary and validates it.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypes() error {
	for i, t := range m.Types {
		for _, v := range t.Params {
			if !v.Valid() {
				return fmt.Errorf("type %d has invalid param type 0x%02x", i, byte(v))
			}
		}
		for _, v := range t.Results {
			if !v.Valid() {
				return fmt.Errorf("type %d has invalid result type 0x%02x", i, byte(v))
			}
		}
	}
	return nil
}

func (m *Module) validateImports() error {
	numTypes := uint32(len(m.Types))
	numLinks := uint32(len(m.Links))
	for i, imp := range m.Imports {
		if imp.Link >= numLinks {
			return fmt.Errorf("import %d (%s) references invalid link index %d", i, imp.Name, imp.Link)
		}
		switch imp.Kind {
		case KindFunc:
			if imp.Type >= numTypes {
				return fmt.Errorf("import %d (%s) references invalid type index %d", i, imp.Name, imp.Type)
			}
		case KindData:
			if imp.Section > SectionUninit {
				return fmt.Errorf("import %d (%s) has invalid data section %d", i, imp.Name, imp.Section)
			}
			if !imp.DataType.Valid() {
				return fmt.Errorf("import %d (%s) has invalid datatype 0x%02x", i, imp.Name, byte(imp.DataType))
			}
		}
	}
	return nil
}

func (m *Module) validateFunctions() error {
	numTypes := uint32(len(m.Types))
	for i, f := range m.Funcs {
		if f.Type >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d (max %d)", i, f.Type, int(numTypes)-1)
		}
		switch f.Kind {
		case FuncBytecode:
		case FuncNative:
			if f.Index >= uint32(len(m.Natives)) {
				return fmt.Errorf("function %d references invalid native index %d", i, f.Index)
			}
		case FuncApp:
			if f.Index >= uint32(len(m.Apps)) {
				return fmt.Errorf("function %d references invalid app index %d", i, f.Index)
			}
			t := m.Types[f.Type]
			if len(t.Results) != 2 || t.Results[0] != ValI32 || t.Results[1] != ValI64 {
				return fmt.Errorf("app function %d must return (i32, i64), got %s", i, t)
			}
		default:
			return fmt.Errorf("function %d has invalid kind %d", i, f.Kind)
		}
	}
	return nil
}

func (m *Module) validateNatives() error {
	for i, n := range m.Natives {
		if n.Library >= uint32(len(m.Libraries)) {
			return fmt.Errorf("native %d (%s) references invalid library index %d", i, n.Symbol, n.Library)
		}
		for j, p := range n.Params {
			if p == NativeVoid || p > NativeCallback {
				return fmt.Errorf("native %d (%s) param %d has invalid type %d", i, n.Symbol, j, p)
			}
		}
		if n.Result > NativePointer || n.Result == NativeCallback {
			return fmt.Errorf("native %d (%s) has invalid return type %d", i, n.Symbol, n.Result)
		}
	}
	for i, l := range m.Libraries {
		if l.Kind > LibraryWasm {
			return fmt.Errorf("library %d (%s) has invalid kind %d", i, l.Name, l.Kind)
		}
	}
	return nil
}

func (m *Module) validateApps() error {
	for i, f := range m.Funcs {
		if f.Kind != FuncApp {
			continue
		}
		params := m.Types[f.Type].Params
		for j, o := range m.Apps[f.Index].Options {
			switch o.Kind {
			case OptionLiteral:
			case OptionParam, OptionStdin:
				if o.Param == NoParam {
					if o.Kind == OptionParam && o.Value == "" {
						return fmt.Errorf("app function %d option %d is unbound and has no default", i, j)
					}
					continue
				}
				if o.Param >= uint32(len(params)) {
					return fmt.Errorf("app function %d option %d references invalid param %d", i, j, o.Param)
				}
				if o.Kind == OptionStdin && params[o.Param] != ValI64 {
					return fmt.Errorf("app function %d stdin option must bind an i64 heap handle", i)
				}
			default:
				return fmt.Errorf("app function %d option %d has invalid kind %d", i, j, o.Kind)
			}
		}
	}
	return nil
}

func (m *Module) validateData() error {
	for i, d := range m.Data {
		if d.Section > SectionUninit {
			return fmt.Errorf("data %d has invalid section %d", i, d.Section)
		}
		if !d.Type.Valid() {
			return fmt.Errorf("data %d has invalid datatype 0x%02x", i, byte(d.Type))
		}
		if d.Section == SectionUninit && d.Length == 0 {
			return fmt.Errorf("uninit data %d must declare its length", i)
		}
		if d.Section == SectionReadOnly && d.Shared {
			return fmt.Errorf("read_only data %d cannot be marked shared", i)
		}
		if d.Length != 0 && uint32(len(d.Init)) > d.Length {
			return fmt.Errorf("data %d initial value (%d bytes) exceeds length %d", i, len(d.Init), d.Length)
		}
		if a := d.Alignment(); a == 0 || a&(a-1) != 0 {
			return fmt.Errorf("data %d alignment %d is not a power of two", i, a)
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	numFuncs := uint32(m.NumFuncs())
	numData := uint32(m.NumData())
	seen := make(map[string]bool, len(m.Exports))
	for i, e := range m.Exports {
		if seen[e.Name] {
			return fmt.Errorf("duplicate export name %q", e.Name)
		}
		seen[e.Name] = true
		switch e.Kind {
		case KindFunc:
			if e.Index >= numFuncs {
				return fmt.Errorf("export %d (%s) references invalid function index %d", i, e.Name, e.Index)
			}
		case KindData:
			if e.Index >= numData {
				return fmt.Errorf("export %d (%s) references invalid data index %d", i, e.Name, e.Index)
			}
		default:
			return fmt.Errorf("export %d (%s) has invalid kind %d", i, e.Name, e.Kind)
		}
	}
	return nil
}

func (m *Module) validateStartExit() error {
	numFuncs := uint32(m.NumFuncs())
	for _, idx := range m.Start {
		if idx >= numFuncs {
			return fmt.Errorf("start function index %d exceeds function count %d", idx, numFuncs)
		}
	}
	for _, idx := range m.Exit {
		if idx >= numFuncs {
			return fmt.Errorf("exit function index %d exceeds function count %d", idx, numFuncs)
		}
	}
	return nil
}

func (m *Module) validateCode() error {
	n := 0
	for _, f := range m.Funcs {
		if f.Kind == FuncBytecode {
			n++
		}
	}
	if n != len(m.Code) {
		return fmt.Errorf("code count %d does not match bytecode function count %d", len(m.Code), n)
	}
	for i, body := range m.Code {
		for j, l := range body.Locals {
			if !l.Type.Valid() {
				return fmt.Errorf("body %d local %d has invalid type 0x%02x", i, j, byte(l.Type))
			}
		}
	}
	return nil
}
