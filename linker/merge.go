package linker

import (
	"fmt"
	"path"
	"strings"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
)

// SubmoduleSeparator joins a submodule name and an export name.
const SubmoduleSeparator = "::"

// fragmentMap holds the index remapping of one fragment into the merged module.
type fragmentMap struct {
	m       *bytecode.Module
	types   []uint32
	links   []int // merged link index, or -1 - sibling for links to a sibling
	libs    []uint32
	funcs   []uint32
	data    []uint32
	natives uint32 // offset of the fragment's natives
	apps    uint32
	funcIm  []bytecode.Import // function imports in order
	dataIm  []bytecode.Import
}

type merger struct {
	out       *bytecode.Module
	frags     []*fragmentMap
	byName    map[string]int
	resolving map[string]bool
	linkKeys  map[string]uint32
}

// Merge combines a main module and its submodules into one module. Index
// spaces are concatenated in fragment order. Exports of the main module keep
// their names; exports of a submodule are re-exported as "sub::name". An
// import through a link naming a sibling fragment is bound inside the merged
// module instead of staying an import.
func Merge(fragments ...*bytecode.Module) (*bytecode.Module, error) {
	if len(fragments) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLink, "no modules to merge")
	}
	if len(fragments) == 1 {
		return fragments[0], nil
	}

	main := fragments[0]
	g := &merger{
		out:       &bytecode.Module{Name: main.Name, Version: main.Version},
		byName:    make(map[string]int, len(fragments)),
		resolving: make(map[string]bool),
		linkKeys:  make(map[string]uint32),
	}
	for i, f := range fragments {
		if err := f.Validate(); err != nil {
			return nil, errors.Validation(f.Name, err)
		}
		if _, dup := g.byName[f.Name]; dup {
			return nil, errors.Link(main.Name, fmt.Sprintf("duplicate submodule name %q", f.Name), nil)
		}
		g.byName[f.Name] = i
		g.frags = append(g.frags, &fragmentMap{m: f})
	}

	for i, fm := range g.frags {
		g.mapTypes(fm)
		g.mapLinks(i, fm)
	}
	g.mapImports()
	g.mapLocals()
	if err := g.resolveSiblingImports(); err != nil {
		return nil, err
	}
	if err := g.mapCode(); err != nil {
		return nil, err
	}
	g.mapExports()
	return g.out, nil
}

func (g *merger) mapTypes(fm *fragmentMap) {
	fm.types = make([]uint32, len(fm.m.Types))
	for i, t := range fm.m.Types {
		fm.types[i] = g.out.AddType(t)
	}
}

func siblingName(l bytecode.Link) string {
	if l.Kind == bytecode.LinkShared {
		return l.Name
	}
	return strings.TrimSuffix(path.Base(l.Name), bytecode.FileExt)
}

func (g *merger) mapLinks(self int, fm *fragmentMap) {
	fm.links = make([]int, len(fm.m.Links))
	for i, l := range fm.m.Links {
		if s, ok := g.byName[siblingName(l)]; ok && s != self {
			fm.links[i] = -1 - s
			continue
		}
		key := fmt.Sprintf("%d/%s/%s", l.Kind, l.Name, l.Version)
		idx, ok := g.linkKeys[key]
		if !ok {
			idx = uint32(len(g.out.Links))
			g.out.Links = append(g.out.Links, l)
			g.linkKeys[key] = idx
		}
		fm.links[i] = int(idx)
	}
}

// mapImports keeps imports through external links and leaves sibling
// imports unresolved until every fragment's locals are placed.
func (g *merger) mapImports() {
	for _, fm := range g.frags {
		for _, imp := range fm.m.Imports {
			if imp.Kind == bytecode.KindFunc {
				fm.funcIm = append(fm.funcIm, imp)
			} else {
				fm.dataIm = append(fm.dataIm, imp)
			}
		}
		fm.funcs = make([]uint32, len(fm.funcIm)+len(fm.m.Funcs))
		fm.data = make([]uint32, len(fm.dataIm)+len(fm.m.Data))

		var fi, di int
		for _, imp := range fm.m.Imports {
			link := fm.links[imp.Link]
			if link < 0 {
				if imp.Kind == bytecode.KindFunc {
					fi++
				} else {
					di++
				}
				continue
			}
			out := imp
			out.Link = uint32(link)
			if imp.Kind == bytecode.KindFunc {
				out.Type = fm.types[imp.Type]
				fm.funcs[fi] = uint32(g.out.NumImportedFuncs())
				fi++
			} else {
				fm.data[di] = uint32(g.out.NumImportedData())
				di++
			}
			g.out.Imports = append(g.out.Imports, out)
		}
	}
}

func (g *merger) mapLocals() {
	funcBase := uint32(g.out.NumImportedFuncs())
	dataBase := uint32(g.out.NumImportedData())
	for _, fm := range g.frags {
		fm.libs = make([]uint32, len(fm.m.Libraries))
		for i, l := range fm.m.Libraries {
			fm.libs[i] = uint32(len(g.out.Libraries))
			g.out.Libraries = append(g.out.Libraries, l)
		}
		fm.natives = uint32(len(g.out.Natives))
		for _, n := range fm.m.Natives {
			n.Library = fm.libs[n.Library]
			g.out.Natives = append(g.out.Natives, n)
		}
		fm.apps = uint32(len(g.out.Apps))
		g.out.Apps = append(g.out.Apps, fm.m.Apps...)

		for j, f := range fm.m.Funcs {
			fm.funcs[len(fm.funcIm)+j] = funcBase
			funcBase++
			f.Type = fm.types[f.Type]
			switch f.Kind {
			case bytecode.FuncNative:
				f.Index += fm.natives
			case bytecode.FuncApp:
				f.Index += fm.apps
			}
			g.out.Funcs = append(g.out.Funcs, f)
		}
		for j, d := range fm.m.Data {
			fm.data[len(fm.dataIm)+j] = dataBase
			dataBase++
			g.out.Data = append(g.out.Data, d)
		}
	}
}

func (g *merger) resolveSiblingImports() error {
	for k, fm := range g.frags {
		for i, imp := range fm.funcIm {
			if fm.links[imp.Link] >= 0 {
				continue
			}
			idx, err := g.resolveFunc(k, i)
			if err != nil {
				return err
			}
			fm.funcs[i] = idx
		}
		for i, imp := range fm.dataIm {
			if fm.links[imp.Link] >= 0 {
				continue
			}
			idx, err := g.resolveData(k, i)
			if err != nil {
				return err
			}
			fm.data[i] = idx
		}
	}
	return nil
}

// resolveFunc maps function import i of fragment k onto the merged index of
// the sibling export it names, following chains of re-exports.
func (g *merger) resolveFunc(k, i int) (uint32, error) {
	fm := g.frags[k]
	imp := fm.funcIm[i]
	link := fm.links[imp.Link]
	if link >= 0 {
		return fm.funcs[i], nil
	}
	s := -1 - link
	sib := g.frags[s]

	key := fmt.Sprintf("f%d/%d", k, i)
	if g.resolving[key] {
		return 0, errors.Link(g.out.Name, fmt.Sprintf("import cycle through %s.%s", sib.m.Name, imp.Name), nil)
	}
	g.resolving[key] = true
	defer delete(g.resolving, key)

	exp, ok := findExport(sib.m, imp.Name, bytecode.KindFunc)
	if !ok {
		return 0, &errors.MissingImportsError{
			Module:  fm.m.Name,
			Imports: []errors.MissingImport{{Link: sib.m.Name, Symbol: imp.Name}},
		}
	}
	want := fm.m.Types[imp.Type]
	gotIdx, _ := sib.m.FuncTypeIndex(exp.Index)
	if got := sib.m.Types[gotIdx]; !got.Equal(want) {
		return 0, errors.Link(fm.m.Name, fmt.Sprintf("import %q from %s: signature mismatch: expected %s, export has %s",
			imp.Name, sib.m.Name, want, got), nil)
	}
	if int(exp.Index) < len(sib.funcIm) {
		return g.resolveFunc(s, int(exp.Index))
	}
	return sib.funcs[exp.Index], nil
}

func (g *merger) resolveData(k, i int) (uint32, error) {
	fm := g.frags[k]
	imp := fm.dataIm[i]
	link := fm.links[imp.Link]
	if link >= 0 {
		return fm.data[i], nil
	}
	s := -1 - link
	sib := g.frags[s]

	key := fmt.Sprintf("d%d/%d", k, i)
	if g.resolving[key] {
		return 0, errors.Link(g.out.Name, fmt.Sprintf("import cycle through %s.%s", sib.m.Name, imp.Name), nil)
	}
	g.resolving[key] = true
	defer delete(g.resolving, key)

	exp, ok := findExport(sib.m, imp.Name, bytecode.KindData)
	if !ok {
		return 0, &errors.MissingImportsError{
			Module:  fm.m.Name,
			Imports: []errors.MissingImport{{Link: sib.m.Name, Symbol: imp.Name}},
		}
	}
	if int(exp.Index) < len(sib.dataIm) {
		return g.resolveData(s, int(exp.Index))
	}
	d := sib.m.Data[int(exp.Index)-len(sib.dataIm)]
	if d.Section != imp.Section || d.Type != imp.DataType {
		return 0, errors.Link(fm.m.Name, fmt.Sprintf("data import %q from %s: expected %s %s, export is %s %s",
			imp.Name, sib.m.Name, imp.Section, imp.DataType, d.Section, d.Type), nil)
	}
	return sib.data[exp.Index], nil
}

func findExport(m *bytecode.Module, name string, kind byte) (bytecode.Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name && e.Kind == kind {
			return e, true
		}
	}
	return bytecode.Export{}, false
}

func (g *merger) mapCode() error {
	for _, fm := range g.frags {
		for i, body := range fm.m.Code {
			code, err := bytecode.DecodeInstructions(body.Code)
			if err != nil {
				return errors.Load(fmt.Sprintf("module %s body %d", fm.m.Name, i), err)
			}
			for j := range code {
				remapInstruction(fm, &code[j])
			}
			g.out.Code = append(g.out.Code, bytecode.FuncBody{
				Locals: body.Locals,
				Code:   bytecode.EncodeInstructions(code),
			})
		}
	}
	return nil
}

func remapInstruction(fm *fragmentMap, in *bytecode.Instruction) {
	switch imm := in.Imm.(type) {
	case bytecode.BlockImm:
		imm.Type = fm.types[imm.Type]
		in.Imm = imm
	case bytecode.TypeImm:
		imm.Type = fm.types[imm.Type]
		in.Imm = imm
	case bytecode.CallImm:
		imm.Func = fm.funcs[imm.Func]
		in.Imm = imm
	case bytecode.MemImm:
		switch in.Opcode {
		case bytecode.OpDataLoad, bytecode.OpDataStore, bytecode.OpDataLoadX, bytecode.OpDataStoreX:
			imm.Index = fm.data[imm.Index]
			in.Imm = imm
		}
	}
}

func (g *merger) mapExports() {
	for k, fm := range g.frags {
		prefix := ""
		if k > 0 {
			prefix = fm.m.Name + SubmoduleSeparator
		}
		for _, e := range fm.m.Exports {
			out := bytecode.Export{Name: prefix + e.Name, Kind: e.Kind}
			if e.Kind == bytecode.KindFunc {
				out.Index = fm.funcs[e.Index]
			} else {
				out.Index = fm.data[e.Index]
			}
			g.out.Exports = append(g.out.Exports, out)
		}
		for _, idx := range fm.m.Start {
			g.out.Start = append(g.out.Start, fm.funcs[idx])
		}
		for _, idx := range fm.m.Exit {
			g.out.Exit = append(g.out.Exit, fm.funcs[idx])
		}
		for _, n := range fm.m.Names {
			if int(n.Index) < len(fm.funcIm) {
				continue
			}
			name := n.Name
			if k > 0 {
				name = fm.m.Name + SubmoduleSeparator + name
			}
			g.out.Names = append(g.out.Names, bytecode.Name{Index: fm.funcs[n.Index], Name: name})
		}
	}
}
