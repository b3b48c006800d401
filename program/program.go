package program

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
)

// FuncKind tells how a function in the index space is implemented.
type FuncKind uint8

const (
	FuncBytecode FuncKind = iota
	FuncNative
	FuncApp
	FuncImport
)

func (k FuncKind) String() string {
	switch k {
	case FuncBytecode:
		return "bytecode"
	case FuncNative:
		return "native"
	case FuncApp:
		return "app"
	case FuncImport:
		return "import"
	default:
		return "unknown"
	}
}

// Program is a linked, verified module. It is immutable once returned by the
// linker and safe for concurrent use.
type Program struct {
	Module    *bytecode.Module
	Exports   map[string]Export
	Name      string
	Dir       string
	Types     []*Signature
	Functions []*Function
	Data      []*Data
	Libraries []*Library
	Links     []*Program
	Start     []*Function
	Exit      []*Function
	Layout    Layout
	Version   bytecode.Version
}

// Export is a named function or data entry.
type Export struct {
	Func *Function
	Data *Data
	Name string
	Kind byte
}

// ImportRef records the declared origin of an imported entry.
type ImportRef struct {
	Name string
	Link uint32
}

// Function is one entry of the function index space.
type Function struct {
	Program   *Program
	Sig       *Signature
	Native    *Native
	App       *App
	Import    *ImportRef
	Target    *Function // bound import target
	Name      string
	Locals    []Local // parameters first
	Ops       []Op
	Index     uint32
	FrameSize uint32 // bytes of local storage
	MaxStack  int    // operand slots used beyond the frame base
	Kind      FuncKind
}

// Resolve follows import bindings to the implementing function.
func (f *Function) Resolve() *Function {
	for f.Kind == FuncImport && f.Target != nil {
		f = f.Target
	}
	return f
}

// Foreign reports whether calls dispatch into the foreign function bridge.
func (f *Function) Foreign() bool {
	return f.Kind == FuncNative || f.Kind == FuncApp
}

// QualifiedName returns module.function for diagnostics.
func (f *Function) QualifiedName() string {
	if f.Program == nil {
		return f.Name
	}
	return f.Program.Name + "." + f.Name
}

// Local is one resolved local slot.
type Local struct {
	Offset uint32
	Size   uint32
	Length uint32
	Type   bytecode.ValType
}

// SlotSize returns the storage reserved for a local: 8 bytes for scalars,
// the length rounded up to a multiple of 8 for byte arrays. A byte local of
// length 0 is a single byte and takes one scalar slot.
func SlotSize(l bytecode.LocalDecl) uint32 {
	if l.Type == bytecode.ValByte && l.Length > 8 {
		return (l.Length + 7) &^ 7
	}
	return 8
}

// Library is a foreign library with its path resolved against the module dir.
type Library struct {
	Name  string
	Path  string
	Index uint32
	Kind  bytecode.LibraryKind
}

// Native is a resolved native binding.
type Native struct {
	Library *Library
	Symbol  string
	Params  []bytecode.NativeType
	Result  bytecode.NativeType
}

// App is an app binding compiled into an argument template.
type App struct {
	Executable string
	Args       []AppArg
	Stdin      AppInput
}

// AppArg is one argv element: a literal or a typed parameter.
type AppArg struct {
	Literal string
	Default string
	Param   int // -1 for literals
	Type    bytecode.ValType
}

// AppInput describes what is fed on standard input.
type AppInput struct {
	Literal string
	Param   int // heap handle parameter, -1 when unbound
	Set     bool
}

// New builds the program representation of a decoded module: interned
// signatures, resolved locals and data layout, and verified function bodies.
// Imports are left unbound; the linker binds them before publishing.
func New(m *bytecode.Module, in *Interner, dir string) (*Program, error) {
	if err := m.Validate(); err != nil {
		return nil, errors.Validation(m.Name, err)
	}

	p := &Program{
		Module:  m,
		Name:    m.Name,
		Version: m.Version,
		Dir:     dir,
		Exports: make(map[string]Export, len(m.Exports)),
		Links:   make([]*Program, len(m.Links)),
	}

	p.Types = make([]*Signature, len(m.Types))
	for i, t := range m.Types {
		p.Types[i] = in.Intern(t.Params, t.Results)
	}

	for i, l := range m.Libraries {
		p.Libraries = append(p.Libraries, &Library{
			Index: uint32(i),
			Kind:  l.Kind,
			Name:  l.Name,
			Path:  resolveLibraryPath(dir, l),
		})
	}

	p.buildFunctions()
	p.buildData()

	for _, e := range m.Exports {
		exp := Export{Name: e.Name, Kind: e.Kind}
		if e.Kind == bytecode.KindFunc {
			exp.Func = p.Functions[e.Index]
			if exp.Func.Foreign() {
				return nil, errors.New(errors.PhaseVerify, errors.KindVerification).
					Path(p.Name, exp.Func.Name).
					Detail("export %q names a %s function; only bytecode functions can be exported", e.Name, exp.Func.Kind).
					Build()
			}
		} else {
			exp.Data = p.Data[e.Index]
		}
		p.Exports[e.Name] = exp
	}
	for _, idx := range m.Start {
		p.Start = append(p.Start, p.Functions[idx])
	}
	for _, idx := range m.Exit {
		p.Exit = append(p.Exit, p.Functions[idx])
	}

	for _, f := range p.Functions {
		if f.Kind != FuncBytecode {
			continue
		}
		if err := verify(p, f); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Program) buildFunctions() {
	m := p.Module
	names := make(map[uint32]string, len(m.Names))
	for _, n := range m.Names {
		names[n.Index] = n.Name
	}
	exported := make(map[uint32]string)
	for _, e := range m.Exports {
		if e.Kind == bytecode.KindFunc {
			if _, ok := exported[e.Index]; !ok {
				exported[e.Index] = e.Name
			}
		}
	}
	nameOf := func(idx uint32) string {
		if n, ok := names[idx]; ok {
			return n
		}
		if n, ok := exported[idx]; ok {
			return n
		}
		return fmt.Sprintf("func#%d", idx)
	}

	for _, imp := range m.Imports {
		if imp.Kind != bytecode.KindFunc {
			continue
		}
		idx := uint32(len(p.Functions))
		p.Functions = append(p.Functions, &Function{
			Program: p,
			Index:   idx,
			Name:    nameOf(idx),
			Kind:    FuncImport,
			Sig:     p.Types[imp.Type],
			Import:  &ImportRef{Link: imp.Link, Name: imp.Name},
		})
	}

	body := 0
	for _, lf := range m.Funcs {
		idx := uint32(len(p.Functions))
		f := &Function{
			Program: p,
			Index:   idx,
			Name:    nameOf(idx),
			Sig:     p.Types[lf.Type],
		}
		switch lf.Kind {
		case bytecode.FuncBytecode:
			f.Kind = FuncBytecode
			f.layoutLocals(m.Code[body].Locals)
			body++
		case bytecode.FuncNative:
			n := m.Natives[lf.Index]
			f.Kind = FuncNative
			f.Native = &Native{
				Library: p.Libraries[n.Library],
				Symbol:  n.Symbol,
				Params:  n.Params,
				Result:  n.Result,
			}
		case bytecode.FuncApp:
			f.Kind = FuncApp
			f.App = compileApp(p.Dir, m.Apps[lf.Index], f.Sig)
		}
		p.Functions = append(p.Functions, f)
	}
}

func (f *Function) layoutLocals(decls []bytecode.LocalDecl) {
	var offset uint32
	add := func(d bytecode.LocalDecl) {
		size := SlotSize(d)
		f.Locals = append(f.Locals, Local{Offset: offset, Size: size, Length: d.Length, Type: d.Type})
		offset += size
	}
	for _, t := range f.Sig.Params {
		add(bytecode.LocalDecl{Type: t})
	}
	for _, d := range decls {
		add(d)
	}
	f.FrameSize = offset
}

func compileApp(dir string, a bytecode.App, sig *Signature) *App {
	app := &App{Executable: a.Executable, Stdin: AppInput{Param: -1}}
	if strings.ContainsRune(a.Executable, '/') && !filepath.IsAbs(a.Executable) {
		app.Executable = filepath.Join(dir, a.Executable)
	}
	for _, o := range a.Options {
		switch o.Kind {
		case bytecode.OptionLiteral:
			if o.Flag != "" {
				app.Args = append(app.Args, AppArg{Literal: o.Flag, Param: -1})
			}
			if o.Value != "" {
				app.Args = append(app.Args, AppArg{Literal: o.Value, Param: -1})
			}
		case bytecode.OptionParam:
			if o.Flag != "" {
				app.Args = append(app.Args, AppArg{Literal: o.Flag, Param: -1})
			}
			if o.Param == bytecode.NoParam {
				app.Args = append(app.Args, AppArg{Literal: o.Value, Param: -1})
				continue
			}
			app.Args = append(app.Args, AppArg{
				Param:   int(o.Param),
				Type:    sig.Params[o.Param],
				Default: o.Value,
			})
		case bytecode.OptionStdin:
			app.Stdin = AppInput{Set: true, Literal: o.Value, Param: -1}
			if o.Param != bytecode.NoParam {
				app.Stdin.Param = int(o.Param)
			}
		}
	}
	return app
}

// resolveLibraryPath joins relative library paths to the module dir. A bare
// native library name is left to the system loader's search path.
func resolveLibraryPath(dir string, l bytecode.Library) string {
	if filepath.IsAbs(l.Name) {
		return l.Name
	}
	if l.Kind == bytecode.LibraryNative && !strings.ContainsRune(l.Name, '/') {
		return l.Name
	}
	return filepath.Join(dir, l.Name)
}

// Export looks up an export by name.
func (p *Program) Export(name string) (Export, bool) {
	e, ok := p.Exports[name]
	return e, ok
}

// Func returns the exported function name.
func (p *Program) Func(name string) (*Function, bool) {
	e, ok := p.Exports[name]
	if !ok || e.Func == nil {
		return nil, false
	}
	return e.Func, true
}

// ExportNames returns the export names in sorted order.
func (p *Program) ExportNames() []string {
	names := make([]string, 0, len(p.Exports))
	for n := range p.Exports {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// String identifies the program as name@version.
func (p *Program) String() string {
	return p.Name + "@" + p.Version.String()
}
