package bytecode

import (
	"github.com/wippyai/ancvm/bytecode/internal/binary"
)

// Encode encodes the module to the binary format
func (m *Module) Encode() []byte {
	w := binary.NewWriter()

	w.WriteU32LE(Magic)
	w.WriteU32LE(FormatVersion)
	w.WriteName(m.Name)
	writeVersion(w, m.Version)

	if len(m.Types) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, t := range m.Types {
			writeValTypes(sec, t.Params)
			writeValTypes(sec, t.Results)
		}
		writeSection(w, SectionType, sec.Bytes())
	}

	if len(m.Links) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Links)))
		for _, l := range m.Links {
			sec.Byte(byte(l.Kind))
			sec.WriteName(l.Name)
			if l.Kind == LinkShared {
				writeVersion(sec, l.Version)
			}
		}
		writeSection(w, SectionLink, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteU32(imp.Link)
			sec.WriteName(imp.Name)
			sec.Byte(imp.Kind)
			switch imp.Kind {
			case KindFunc:
				sec.WriteU32(imp.Type)
			case KindData:
				sec.Byte(byte(imp.Section))
				sec.Byte(byte(imp.DataType))
				sec.WriteU32(imp.Length)
			}
		}
		writeSection(w, SectionImport, sec.Bytes())
	}

	if len(m.Libraries) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Libraries)))
		for _, l := range m.Libraries {
			sec.Byte(byte(l.Kind))
			sec.WriteName(l.Name)
		}
		writeSection(w, SectionLibrary, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			sec.WriteU32(f.Type)
			sec.Byte(byte(f.Kind))
			if f.Kind != FuncBytecode {
				sec.WriteU32(f.Index)
			}
		}
		writeSection(w, SectionFunction, sec.Bytes())
	}

	if len(m.Natives) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Natives)))
		for _, n := range m.Natives {
			sec.WriteU32(n.Library)
			sec.WriteName(n.Symbol)
			sec.WriteU32(uint32(len(n.Params)))
			for _, p := range n.Params {
				sec.Byte(byte(p))
			}
			sec.Byte(byte(n.Result))
		}
		writeSection(w, SectionNative, sec.Bytes())
	}

	if len(m.Apps) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Apps)))
		for _, a := range m.Apps {
			sec.WriteName(a.Executable)
			sec.WriteU32(uint32(len(a.Options)))
			for _, o := range a.Options {
				sec.Byte(byte(o.Kind))
				sec.WriteName(o.Flag)
				sec.WriteName(o.Value)
				sec.WriteU32(o.Param)
			}
		}
		writeSection(w, SectionApp, sec.Bytes())
	}

	if len(m.Data) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Data)))
		for _, d := range m.Data {
			sec.Byte(byte(d.Section))
			sec.Byte(byte(d.Type))
			sec.WriteU32(d.Length)
			sec.WriteU32(d.Align)
			var flags byte
			if d.Shared {
				flags |= DataFlagShared
			}
			sec.Byte(flags)
			if d.Section != SectionUninit {
				sec.WriteVec(d.Init)
			}
		}
		writeSection(w, SectionData, sec.Bytes())
	}

	if len(m.Exports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, e := range m.Exports {
			sec.WriteName(e.Name)
			sec.Byte(e.Kind)
			sec.WriteU32(e.Index)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	if len(m.Code) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Code)))
		for _, body := range m.Code {
			bw := binary.NewWriter()
			bw.WriteU32(uint32(len(body.Locals)))
			for _, l := range body.Locals {
				bw.Byte(byte(l.Type))
				bw.WriteU32(l.Length)
			}
			bw.WriteBytes(body.Code)
			sec.WriteVec(bw.Bytes())
		}
		writeSection(w, SectionCode, sec.Bytes())
	}

	if len(m.Start) > 0 {
		writeSection(w, SectionStart, indexVec(m.Start))
	}
	if len(m.Exit) > 0 {
		writeSection(w, SectionExit, indexVec(m.Exit))
	}

	if len(m.Names) > 0 {
		sec := binary.NewWriter()
		sec.WriteName(NameSection)
		sec.WriteU32(uint32(len(m.Names)))
		for _, n := range m.Names {
			sec.WriteU32(n.Index)
			sec.WriteName(n.Name)
		}
		writeSection(w, SectionCustom, sec.Bytes())
	}

	for _, cs := range m.CustomSections {
		sec := binary.NewWriter()
		sec.WriteName(cs.Name)
		sec.WriteBytes(cs.Data)
		writeSection(w, SectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteVec(data)
}

func writeVersion(w *binary.Writer, v Version) {
	w.WriteU32(v.Major)
	w.WriteU32(v.Minor)
	w.WriteU32(v.Patch)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func indexVec(idx []uint32) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(idx)))
	for _, i := range idx {
		w.WriteU32(i)
	}
	return w.Bytes()
}
