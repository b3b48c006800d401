package bytecode

import (
	"errors"
	"fmt"

	"github.com/wippyai/ancvm/bytecode/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid module magic number")
	ErrInvalidVersion = errors.New("invalid module format version")
)

// Header is the fixed prefix of a module binary.
type Header struct {
	Name    string
	Version Version
}

// ParseHeader decodes only the module name and version.
func ParseHeader(data []byte) (Header, error) {
	r := binary.NewReader(data)
	return readHeader(r)
}

func readHeader(r *binary.Reader) (Header, error) {
	magic, err := r.ReadU32LE()
	if err != nil {
		return Header{}, r.WrapError("header", err)
	}
	if magic != Magic {
		return Header{}, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return Header{}, r.WrapError("header", err)
	}
	if version != FormatVersion {
		return Header{}, ErrInvalidVersion
	}

	var h Header
	if h.Name, err = r.ReadName(); err != nil {
		return Header{}, r.WrapError("header", err)
	}
	if h.Version, err = readVersion(r); err != nil {
		return Header{}, r.WrapError("header", err)
	}
	return h, nil
}

// ParseModule parses a module binary
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	m := &Module{Name: h.Name, Version: h.Version}

	var lastSection byte
	for r.Len() > 0 {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}

		if sectionID != SectionCustom {
			if sectionID <= lastSection {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSection = sectionID
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		sr, err := r.Sub(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		switch sectionID {
		case SectionCustom:
			if err := parseCustomSection(sr, m); err != nil {
				return nil, fmt.Errorf("custom section: %w", err)
			}
		case SectionType:
			if err := parseTypeSection(sr, m); err != nil {
				return nil, fmt.Errorf("type section: %w", err)
			}
		case SectionLink:
			if err := parseLinkSection(sr, m); err != nil {
				return nil, fmt.Errorf("link section: %w", err)
			}
		case SectionImport:
			if err := parseImportSection(sr, m); err != nil {
				return nil, fmt.Errorf("import section: %w", err)
			}
		case SectionLibrary:
			if err := parseLibrarySection(sr, m); err != nil {
				return nil, fmt.Errorf("library section: %w", err)
			}
		case SectionFunction:
			if err := parseFunctionSection(sr, m); err != nil {
				return nil, fmt.Errorf("function section: %w", err)
			}
		case SectionNative:
			if err := parseNativeSection(sr, m); err != nil {
				return nil, fmt.Errorf("native section: %w", err)
			}
		case SectionApp:
			if err := parseAppSection(sr, m); err != nil {
				return nil, fmt.Errorf("app section: %w", err)
			}
		case SectionData:
			if err := parseDataSection(sr, m); err != nil {
				return nil, fmt.Errorf("data section: %w", err)
			}
		case SectionExport:
			if err := parseExportSection(sr, m); err != nil {
				return nil, fmt.Errorf("export section: %w", err)
			}
		case SectionCode:
			if err := parseCodeSection(sr, m); err != nil {
				return nil, fmt.Errorf("code section: %w", err)
			}
		case SectionStart:
			if m.Start, err = readIndexVec(sr); err != nil {
				return nil, fmt.Errorf("start section: %w", err)
			}
		case SectionExit:
			if m.Exit, err = readIndexVec(sr); err != nil {
				return nil, fmt.Errorf("exit section: %w", err)
			}
		default:
			return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
		}

		if sr.Len() != 0 {
			return nil, sr.WrapError("section", fmt.Errorf("%d trailing bytes in section %d", sr.Len(), sectionID))
		}
	}

	return m, nil
}

func readVersion(r *binary.Reader) (Version, error) {
	var v Version
	var err error
	if v.Major, err = r.ReadU32(); err != nil {
		return v, err
	}
	if v.Minor, err = r.ReadU32(); err != nil {
		return v, err
	}
	v.Patch, err = r.ReadU32()
	return v, err
}

func readIndexVec(r *binary.Reader) ([]uint32, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Len() {
		return nil, r.WrapError("indices", fmt.Errorf("count %d exceeds section", count))
	}
	out := make([]uint32, count)
	for i := range out {
		if out[i], err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Len() {
		return nil, r.WrapError("types", fmt.Errorf("count %d exceeds section", count))
	}
	var out []ValType
	for i := uint32(0); i < count; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		t := ValType(b)
		if !t.Valid() {
			return nil, r.WrapError("types", fmt.Errorf("invalid value type 0x%02x", b))
		}
		out = append(out, t)
	}
	return out, nil
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	if name == NameSection {
		return parseNames(r, m)
	}
	rest, err := r.ReadBytes(r.Len())
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: append([]byte(nil), rest...),
	})
	return nil
}

func parseNames(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		m.Names = append(m.Names, Name{Index: idx, Name: name})
	}
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func parseLinkSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		l := Link{Kind: LinkKind(kind), Name: name}
		switch l.Kind {
		case LinkShared:
			if l.Version, err = readVersion(r); err != nil {
				return err
			}
		case LinkLocal:
		default:
			return r.WrapError("link", fmt.Errorf("invalid link kind %d", kind))
		}
		m.Links = append(m.Links, l)
	}
	return nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Link, err = r.ReadU32(); err != nil {
			return err
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		switch imp.Kind {
		case KindFunc:
			if imp.Type, err = r.ReadU32(); err != nil {
				return err
			}
		case KindData:
			sec, err := r.ReadByte()
			if err != nil {
				return err
			}
			dt, err := r.ReadByte()
			if err != nil {
				return err
			}
			imp.Section, imp.DataType = DataSection(sec), ValType(dt)
			if imp.Length, err = r.ReadU32(); err != nil {
				return err
			}
		default:
			return r.WrapError("import", fmt.Errorf("invalid import kind %d", imp.Kind))
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseLibrarySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		m.Libraries = append(m.Libraries, Library{Kind: LibraryKind(kind), Name: name})
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var f Func
		if f.Type, err = r.ReadU32(); err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		f.Kind = FuncKind(kind)
		switch f.Kind {
		case FuncBytecode:
		case FuncNative, FuncApp:
			if f.Index, err = r.ReadU32(); err != nil {
				return err
			}
		default:
			return r.WrapError("function", fmt.Errorf("invalid function kind %d", kind))
		}
		m.Funcs = append(m.Funcs, f)
	}
	return nil
}

func parseNativeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var n Native
		if n.Library, err = r.ReadU32(); err != nil {
			return err
		}
		if n.Symbol, err = r.ReadName(); err != nil {
			return err
		}
		pc, err := r.ReadU32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < pc; j++ {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			n.Params = append(n.Params, NativeType(b))
		}
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		n.Result = NativeType(b)
		m.Natives = append(m.Natives, n)
	}
	return nil
}

func parseAppSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var a App
		if a.Executable, err = r.ReadName(); err != nil {
			return err
		}
		oc, err := r.ReadU32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < oc; j++ {
			var o AppOption
			kind, err := r.ReadByte()
			if err != nil {
				return err
			}
			o.Kind = AppOptionKind(kind)
			if o.Flag, err = r.ReadName(); err != nil {
				return err
			}
			if o.Value, err = r.ReadName(); err != nil {
				return err
			}
			if o.Param, err = r.ReadU32(); err != nil {
				return err
			}
			a.Options = append(a.Options, o)
		}
		m.Apps = append(m.Apps, a)
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var d DataEntry
		sec, err := r.ReadByte()
		if err != nil {
			return err
		}
		dt, err := r.ReadByte()
		if err != nil {
			return err
		}
		d.Section, d.Type = DataSection(sec), ValType(dt)
		if d.Length, err = r.ReadU32(); err != nil {
			return err
		}
		if d.Align, err = r.ReadU32(); err != nil {
			return err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return err
		}
		d.Shared = flags&DataFlagShared != 0
		if d.Section != SectionUninit {
			if d.Init, err = r.ReadVec(); err != nil {
				return err
			}
		}
		m.Data = append(m.Data, d)
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var e Export
		if e.Name, err = r.ReadName(); err != nil {
			return err
		}
		if e.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if e.Index, err = r.ReadU32(); err != nil {
			return err
		}
		m.Exports = append(m.Exports, e)
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, 0, min(int(count), r.Len()))
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		br, err := r.Sub(int(bodySize))
		if err != nil {
			return err
		}

		localCount, err := br.ReadU32()
		if err != nil {
			return err
		}
		var locals []LocalDecl
		for j := uint32(0); j < localCount; j++ {
			t, err := br.ReadByte()
			if err != nil {
				return err
			}
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			locals = append(locals, LocalDecl{Type: ValType(t), Length: n})
		}

		code, err := br.ReadBytes(br.Len())
		if err != nil {
			return err
		}
		m.Code = append(m.Code, FuncBody{Locals: locals, Code: append([]byte(nil), code...)})
	}
	return nil
}
