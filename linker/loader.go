package linker

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/program"
)

// Options configures a Loader.
type Options struct {
	Logger *zap.Logger
	// Paths are repository roots searched for shared modules, in order.
	Paths []string
}

// Loader decodes module files, resolves their links and binds imports.
// Shared modules it loads are published in its Registry. Thread-safe.
type Loader struct {
	registry *Registry
	logger   *zap.Logger
	repos    map[string]*Repository
	paths    []string
	mu       sync.Mutex // serializes loads so a shared module is linked once
}

// NewLoader creates a loader publishing into reg.
func NewLoader(reg *Registry, opts Options) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = Logger()
	}
	return &Loader{
		registry: reg,
		logger:   logger,
		repos:    make(map[string]*Repository),
		paths:    slices.Clone(opts.Paths),
	}
}

// Registry returns the registry the loader publishes into.
func (l *Loader) Registry() *Registry {
	return l.registry
}

type session struct {
	ctx     context.Context
	local   map[string]*program.Program
	loading []string
}

func (l *Loader) newSession(ctx context.Context) *session {
	return &session{ctx: ctx, local: make(map[string]*program.Program)}
}

func (s *session) enter(key string) error {
	if slices.Contains(s.loading, key) {
		chain := append(slices.Clone(s.loading), key)
		return errors.Link(key, "link cycle: "+strings.Join(chain, " -> "), nil)
	}
	s.loading = append(s.loading, key)
	return nil
}

func (s *session) leave() {
	s.loading = s.loading[:len(s.loading)-1]
}

// LoadFile loads a module file, or a directory holding a module.toml
// manifest, and everything it links.
func (l *Loader) LoadFile(ctx context.Context, path string) (*program.Program, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Load("resolve "+path, err)
	}
	return l.loadLocal(l.newSession(ctx), abs)
}

// Load links already decoded fragments as one module. The first fragment
// is the main module, the rest are its submodules. dir anchors local links
// and relative library paths.
func (l *Loader) Load(ctx context.Context, dir string, fragments ...*bytecode.Module) (*program.Program, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(fragments) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "no modules to load")
	}
	return l.load(l.newSession(ctx), dir, "module:"+fragments[0].Name, fragments)
}

// LoadBytes decodes module binaries and links them like Load.
func (l *Loader) LoadBytes(ctx context.Context, dir string, binaries ...[]byte) (*program.Program, error) {
	fragments := make([]*bytecode.Module, 0, len(binaries))
	for i, b := range binaries {
		m, err := bytecode.ParseModule(b)
		if err != nil {
			return nil, errors.Load(fmt.Sprintf("decode module %d", i), err)
		}
		fragments = append(fragments, m)
	}
	return l.Load(ctx, dir, fragments...)
}

func (l *Loader) load(s *session, dir, key string, fragments []*bytecode.Module) (*program.Program, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.enter(key); err != nil {
		return nil, err
	}
	defer s.leave()

	m, err := Merge(fragments...)
	if err != nil {
		return nil, err
	}
	p, err := program.New(m, l.registry.Interner(), dir)
	if err != nil {
		return nil, err
	}
	if err := l.link(s, p); err != nil {
		return nil, err
	}
	l.logger.Debug("module linked",
		zap.String("module", p.String()),
		zap.Int("functions", len(p.Functions)),
		zap.Int("links", len(p.Links)))
	return p, nil
}

func (l *Loader) loadLocal(s *session, abs string) (*program.Program, error) {
	if p, ok := s.local[abs]; ok {
		return p, nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Load("open "+abs, err)
	}
	var files []string
	dir := filepath.Dir(abs)
	if info.IsDir() {
		m, err := LoadManifest(abs)
		if err != nil {
			return nil, errors.Load("load manifest", err)
		}
		dir = abs
		files = append(files, filepath.Join(abs, m.Main))
		for _, sub := range m.Submodules {
			files = append(files, filepath.Join(abs, sub))
		}
	} else {
		files = []string{abs}
	}

	fragments, err := readModules(files)
	if err != nil {
		return nil, err
	}
	p, err := l.load(s, dir, "file:"+abs, fragments)
	if err != nil {
		return nil, err
	}
	s.local[abs] = p
	return p, nil
}

func readModules(files []string) ([]*bytecode.Module, error) {
	out := make([]*bytecode.Module, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, errors.Load("read module", err)
		}
		m, err := bytecode.ParseModule(data)
		if err != nil {
			return nil, errors.Load("decode "+f, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (l *Loader) repository(root string) (*Repository, error) {
	if r, ok := l.repos[root]; ok {
		return r, nil
	}
	if _, err := os.Stat(root); err != nil {
		return nil, nil
	}
	r, err := OpenRepository(root, l.logger)
	if err != nil {
		return nil, err
	}
	l.repos[root] = r
	return r, nil
}

func (l *Loader) loadShared(s *session, from string, lk bytecode.Link) (*program.Program, error) {
	if p, ok := l.registry.Lookup(lk.Name, lk.Version); ok {
		return p, nil
	}

	for _, root := range l.paths {
		repo, err := l.repository(root)
		if err != nil {
			return nil, errors.Link(from, "open repository "+root, err)
		}
		if repo == nil {
			continue
		}
		entry, ok := repo.Find(lk.Name, lk.Version)
		if !ok {
			continue
		}
		files := entry.Files(repo.Root)
		fragments, err := readModules(files)
		if err != nil {
			return nil, errors.Link(from, fmt.Sprintf("load %s@%s", lk.Name, lk.Version), err)
		}
		p, err := l.load(s, filepath.Dir(files[0]), "shared:"+lk.Name, fragments)
		if err != nil {
			return nil, err
		}
		if p.Name != lk.Name || !p.Version.Compatible(lk.Version) {
			return nil, errors.Link(from, fmt.Sprintf("repository entry %s@%s holds %s", lk.Name, entry.Version, p), nil)
		}
		if err := l.registry.Register(p); err != nil {
			return nil, errors.Link(from, "register shared module", err)
		}
		l.logger.Debug("shared module loaded", zap.String("module", p.String()), zap.String("path", files[0]))
		return p, nil
	}

	if have := l.registry.Versions(lk.Name); len(have) > 0 {
		return nil, errors.Link(from, fmt.Sprintf("version mismatch for %s: want %s, have %v", lk.Name, lk.Version, have), nil)
	}
	return nil, errors.Link(from, fmt.Sprintf("shared module %s@%s not found", lk.Name, lk.Version), nil)
}

func (l *Loader) link(s *session, p *program.Program) error {
	for i, lk := range p.Module.Links {
		var (
			target *program.Program
			err    error
		)
		switch lk.Kind {
		case bytecode.LinkShared:
			target, err = l.loadShared(s, p.Name, lk)
		default:
			path := lk.Name
			if !filepath.IsAbs(path) {
				path = filepath.Join(p.Dir, path)
			}
			var abs string
			abs, err = filepath.Abs(path)
			if err == nil {
				target, err = l.loadLocal(s, abs)
			}
			if err != nil && !stderrors.Is(err, errors.ErrLink) && !stderrors.Is(err, errors.ErrVerification) {
				err = errors.Link(p.Name, "local link "+lk.Name, err)
			}
		}
		if err != nil {
			return err
		}
		p.Links[i] = target
	}
	return bind(p, l.logger)
}

func linkLabel(lk bytecode.Link) string {
	if lk.Kind == bytecode.LinkShared {
		return lk.Name + "@" + lk.Version.String()
	}
	return lk.Name
}

// bind resolves every import of p against the exports of its links.
func bind(p *program.Program, logger *zap.Logger) error {
	var missing []errors.MissingImport

	for _, f := range p.Functions {
		if f.Kind != program.FuncImport {
			continue
		}
		lk := p.Module.Links[f.Import.Link]
		target := p.Links[f.Import.Link]
		exp, ok := target.Export(f.Import.Name)
		if !ok {
			missing = append(missing, errors.MissingImport{Link: linkLabel(lk), Symbol: f.Import.Name})
			continue
		}
		if exp.Func == nil {
			return errors.Link(p.Name, fmt.Sprintf("import %q from %s: export is data, expected a function", f.Import.Name, target), nil)
		}
		if exp.Func.Sig != f.Sig {
			return errors.Link(p.Name, fmt.Sprintf("import %q from %s: signature mismatch: expected %s, export has %s",
				f.Import.Name, target, f.Sig, exp.Func.Sig), nil)
		}
		f.Target = exp.Func
		logger.Debug("import bound",
			zap.String("module", p.Name),
			zap.String("import", f.Import.Name),
			zap.String("target", exp.Func.Resolve().QualifiedName()))
	}

	for _, d := range p.Data {
		if d.Import == nil {
			continue
		}
		lk := p.Module.Links[d.Import.Link]
		target := p.Links[d.Import.Link]
		exp, ok := target.Export(d.Import.Name)
		if !ok {
			missing = append(missing, errors.MissingImport{Link: linkLabel(lk), Symbol: d.Import.Name})
			continue
		}
		if exp.Data == nil {
			return errors.Link(p.Name, fmt.Sprintf("import %q from %s: export is a function, expected data", d.Import.Name, target), nil)
		}
		def := exp.Data.Resolve()
		if def.Section != d.Section || def.Type != d.Type {
			return errors.Link(p.Name, fmt.Sprintf("data import %q from %s: expected %s %s, export is %s %s",
				d.Import.Name, target, d.Section, d.Type, def.Section, def.Type), nil)
		}
		if d.Length > def.Length {
			return errors.Link(p.Name, fmt.Sprintf("data import %q from %s: expected %d bytes, export has %d",
				d.Import.Name, target, d.Length, def.Length), nil)
		}
		d.Target = exp.Data
	}

	if len(missing) > 0 {
		return &errors.MissingImportsError{Module: p.Name, Imports: missing}
	}
	return nil
}
