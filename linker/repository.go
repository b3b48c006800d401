package linker

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/wippyai/ancvm/bytecode"
)

const (
	// IndexFile caches the modules found under a repository root.
	IndexFile = "index.cbor"
	// ManifestFile describes a module made of several fragments.
	ManifestFile = "module.toml"

	indexFormat = 1
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("linker: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Manifest is the module.toml beside a multi-fragment module:
//
//	name = "math"
//	version = "1.2.0"
//	main = "math.ancm"
//	submodules = ["vector.ancm", "matrix.ancm"]
type Manifest struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	Main        string   `toml:"main"`
	Description string   `toml:"description"`
	Submodules  []string `toml:"submodules"`
}

// LoadManifest parses the manifest in dir.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if m.Main == "" {
		return nil, fmt.Errorf("%s: main is required", path)
	}
	return &m, nil
}

// IndexEntry locates one shared module in a repository.
type IndexEntry struct {
	Name       string   `cbor:"name"`
	Version    string   `cbor:"version"`
	Path       string   `cbor:"path"` // main fragment, relative to the root
	Submodules []string `cbor:"submodules,omitempty"`
}

// Files returns the absolute paths of the entry's fragments, main first.
func (e IndexEntry) Files(root string) []string {
	files := []string{filepath.Join(root, e.Path)}
	for _, s := range e.Submodules {
		files = append(files, filepath.Join(root, s))
	}
	return files
}

type fileStamp struct {
	Path    string `cbor:"path"`
	Size    int64  `cbor:"size"`
	ModTime int64  `cbor:"mtime"`
}

type index struct {
	Format  int          `cbor:"format"`
	Entries []IndexEntry `cbor:"entries"`
	Files   []fileStamp  `cbor:"files"`
}

// Repository is a directory tree of shared modules.
type Repository struct {
	logger *zap.Logger
	Root   string
	index  index
}

// OpenRepository reads the index of root, rebuilding it when it is missing
// or any module file changed since it was written.
func OpenRepository(root string, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = Logger()
	}
	r := &Repository{Root: root, logger: logger}

	stamps, err := r.scan()
	if err != nil {
		return nil, err
	}
	if idx, ok := r.readIndex(); ok && slices.Equal(idx.Files, stamps) {
		r.index = idx
		return r, nil
	}

	if err := r.rebuild(stamps); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) scan() ([]fileStamp, error) {
	var stamps []fileStamp
	err := filepath.WalkDir(r.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != r.Root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ManifestFile && filepath.Ext(path) != bytecode.FileExt {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(r.Root, path)
		stamps = append(stamps, fileStamp{Path: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan repository %s: %w", r.Root, err)
	}
	return stamps, nil
}

func (r *Repository) readIndex() (index, bool) {
	data, err := os.ReadFile(filepath.Join(r.Root, IndexFile))
	if err != nil {
		return index{}, false
	}
	var idx index
	if err := cbor.Unmarshal(data, &idx); err != nil {
		r.logger.Debug("discarding unreadable repository index", zap.String("root", r.Root), zap.Error(err))
		return index{}, false
	}
	if idx.Format != indexFormat {
		return index{}, false
	}
	return idx, true
}

func (r *Repository) rebuild(stamps []fileStamp) error {
	idx := index{Format: indexFormat, Files: stamps}
	covered := make(map[string]bool)

	for _, s := range stamps {
		if filepath.Base(s.Path) != ManifestFile {
			continue
		}
		dir := filepath.Dir(filepath.Join(r.Root, s.Path))
		m, err := LoadManifest(dir)
		if err != nil {
			return err
		}
		entry, err := r.manifestEntry(dir, m)
		if err != nil {
			return err
		}
		covered[entry.Path] = true
		for _, sub := range entry.Submodules {
			covered[sub] = true
		}
		idx.Entries = append(idx.Entries, entry)
	}

	for _, s := range stamps {
		if filepath.Ext(s.Path) != bytecode.FileExt || covered[s.Path] {
			continue
		}
		h, err := readHeaderFile(filepath.Join(r.Root, s.Path))
		if err != nil {
			r.logger.Debug("skipping unreadable module", zap.String("path", s.Path), zap.Error(err))
			continue
		}
		idx.Entries = append(idx.Entries, IndexEntry{Name: h.Name, Version: h.Version.String(), Path: s.Path})
	}

	r.index = idx
	data, err := cborEncMode.Marshal(&idx)
	if err != nil {
		return fmt.Errorf("encode repository index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.Root, IndexFile), data, 0o644); err != nil {
		r.logger.Debug("repository index not written", zap.String("root", r.Root), zap.Error(err))
	}
	r.logger.Debug("repository index rebuilt", zap.String("root", r.Root), zap.Int("modules", len(idx.Entries)))
	return nil
}

func (r *Repository) manifestEntry(dir string, m *Manifest) (IndexEntry, error) {
	rel := func(p string) string {
		out, _ := filepath.Rel(r.Root, filepath.Join(dir, p))
		return filepath.ToSlash(out)
	}
	entry := IndexEntry{Name: m.Name, Version: m.Version, Path: rel(m.Main)}
	for _, s := range m.Submodules {
		entry.Submodules = append(entry.Submodules, rel(s))
	}
	if entry.Name == "" || entry.Version == "" {
		h, err := readHeaderFile(filepath.Join(dir, m.Main))
		if err != nil {
			return IndexEntry{}, err
		}
		if entry.Name == "" {
			entry.Name = h.Name
		}
		if entry.Version == "" {
			entry.Version = h.Version.String()
		}
	}
	if _, ok := bytecode.ParseVersion(entry.Version); !ok {
		return IndexEntry{}, fmt.Errorf("%s: invalid version %q", filepath.Join(dir, ManifestFile), entry.Version)
	}
	return entry, nil
}

func readHeaderFile(path string) (bytecode.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return bytecode.Header{}, err
	}
	defer f.Close()

	// magic, format version, name, major, minor, patch
	buf := make([]byte, 4096)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return bytecode.Header{}, err
	}
	return bytecode.ParseHeader(buf[:n])
}

// Find returns the newest entry named name compatible with want.
func (r *Repository) Find(name string, want bytecode.Version) (IndexEntry, bool) {
	var best IndexEntry
	var bestV bytecode.Version
	found := false
	for _, e := range r.index.Entries {
		if e.Name != name {
			continue
		}
		v, ok := bytecode.ParseVersion(e.Version)
		if !ok || !v.Compatible(want) {
			continue
		}
		if !found || bestV.Less(v) {
			best, bestV, found = e, v, true
		}
	}
	return best, found
}

// Entries returns every module in the repository.
func (r *Repository) Entries() []IndexEntry {
	return slices.Clone(r.index.Entries)
}
