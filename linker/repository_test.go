package linker_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/linker"
)

// geometry is a main fragment that uses its "vec" submodule through a
// local link, plus the submodule itself.
func geometry() (main, vec *bytecode.Module) {
	vec = mathModule("vec", v1, "len", bytecode.OpI32Add)
	main = appModule(local("vec.ancm"), "len", binop[0], binop[1])
	main.Name = "geometry"
	return main, vec
}

func TestMerge(t *testing.T) {
	main, vec := geometry()
	merged, err := linker.Merge(main, vec)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged.Links) != 0 || len(merged.Imports) != 0 {
		t.Errorf("sibling import kept: links=%v imports=%v", merged.Links, merged.Imports)
	}

	var names []string
	for _, e := range merged.Exports {
		names = append(names, e.Name)
	}
	slices.Sort(names)
	if want := []string{"main", "vec::len"}; !slices.Equal(names, want) {
		t.Errorf("exports = %v, want %v", names, want)
	}
	if len(merged.Types) != 1 {
		t.Errorf("types = %d, want identical signatures merged into 1", len(merged.Types))
	}

	ld := linker.NewLoader(linker.NewRegistry(), linker.Options{})
	p, err := ld.Load(context.Background(), t.TempDir(), main, vec)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	fn, ok := p.Func("vec::len")
	if !ok || fn.Name != "vec::len" {
		t.Fatalf("vec::len = %v, %v", fn, ok)
	}
}

func TestMergeErrors(t *testing.T) {
	main, vec := geometry()
	if _, err := linker.Merge(main, vec, vec); err == nil {
		t.Error("duplicate submodule accepted")
	}

	vec = mathModule("vec", v1, "dot", bytecode.OpI32Mul)
	if _, err := linker.Merge(main, vec); err == nil {
		t.Error("missing sibling export accepted")
	}
}

func writeRepository(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	main, vec := geometry()
	main.Version = bytecode.Version{Major: 1, Minor: 4}
	writeModule(t, filepath.Join(root, "geometry", "geometry.ancm"), main)
	writeModule(t, filepath.Join(root, "geometry", "vec.ancm"), vec)
	manifest := "name = \"geometry\"\nversion = \"1.4.0\"\nmain = \"geometry.ancm\"\nsubmodules = [\"vec.ancm\"]\n"
	if err := os.WriteFile(filepath.Join(root, "geometry", linker.ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	writeModule(t, filepath.Join(root, "math-1.0.ancm"), mathModule("math", v1, "sub", bytecode.OpI32Sub))
	writeModule(t, filepath.Join(root, "math-1.3.ancm"), mathModule("math", bytecode.Version{Major: 1, Minor: 3}, "sub", bytecode.OpI32Sub))
	writeModule(t, filepath.Join(root, ".hidden", "x.ancm"), mathModule("hidden", v1, "x", bytecode.OpI32Add))
	return root
}

func TestRepositoryIndex(t *testing.T) {
	root := writeRepository(t)

	repo, err := linker.OpenRepository(root, nil)
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	if n := len(repo.Entries()); n != 3 {
		t.Fatalf("entries = %d (%v), want 3", n, repo.Entries())
	}
	if _, err := os.Stat(filepath.Join(root, linker.IndexFile)); err != nil {
		t.Fatalf("index not written: %v", err)
	}

	geo, ok := repo.Find("geometry", v1)
	if !ok {
		t.Fatal("geometry not found")
	}
	if geo.Version != "1.4.0" || len(geo.Submodules) != 1 {
		t.Errorf("geometry entry = %+v", geo)
	}

	tests := []struct {
		want    bytecode.Version
		version string
		ok      bool
	}{
		{v1, "1.3.0", true},
		{bytecode.Version{Major: 1, Minor: 2}, "1.3.0", true},
		{bytecode.Version{Major: 1, Minor: 4}, "", false},
		{bytecode.Version{Major: 2}, "", false},
	}
	for _, tt := range tests {
		e, ok := repo.Find("math", tt.want)
		if ok != tt.ok || e.Version != tt.version {
			t.Errorf("Find(math, %s) = %q, %v; want %q, %v", tt.want, e.Version, ok, tt.version, tt.ok)
		}
	}
	if _, ok := repo.Find("hidden", v1); ok {
		t.Error("module in hidden directory indexed")
	}

	writeModule(t, filepath.Join(root, "strings.ancm"), mathModule("strings", v1, "cat", bytecode.OpI32Add))
	repo, err = linker.OpenRepository(root, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok := repo.Find("strings", v1); !ok {
		t.Error("stale index not rebuilt")
	}
}

func TestLoaderSearchesRepositories(t *testing.T) {
	root := writeRepository(t)
	reg := linker.NewRegistry()
	ld := linker.NewLoader(reg, linker.Options{Paths: []string{filepath.Join(root, "missing"), root}})
	ctx := context.Background()

	first, err := ld.Load(ctx, t.TempDir(), appModule(shared("geometry", v1), "vec::len", binop[0], binop[1]))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := ld.Load(ctx, t.TempDir(), appModule(shared("geometry", bytecode.Version{Major: 1, Minor: 1}), "main", binop[0], binop[1]))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if first.Links[0] != second.Links[0] {
		t.Error("shared module loaded twice")
	}
	if got := reg.Versions("geometry"); len(got) != 1 || got[0] != (bytecode.Version{Major: 1, Minor: 4}) {
		t.Errorf("registered versions = %v", got)
	}
}

func TestRegistry(t *testing.T) {
	reg := linker.NewRegistry()
	ld := linker.NewLoader(reg, linker.Options{})
	ctx := context.Background()

	for _, v := range []bytecode.Version{{Major: 1, Minor: 2}, {Major: 1}, {Major: 2}} {
		p, err := ld.Load(ctx, t.TempDir(), mathModule("math", v, "sub", bytecode.OpI32Sub))
		if err != nil {
			t.Fatal(err)
		}
		if err := reg.Register(p); err != nil {
			t.Fatalf("Register %s: %v", v, err)
		}
		if err := reg.Register(p); err != nil {
			t.Errorf("re-registering the same program: %v", err)
		}
	}

	dup, _ := ld.Load(ctx, t.TempDir(), mathModule("math", v1, "sub", bytecode.OpI32Sub))
	if err := reg.Register(dup); err == nil {
		t.Error("duplicate version accepted")
	}

	tests := []struct {
		want bytecode.Version
		got  bytecode.Version
		ok   bool
	}{
		{v1, bytecode.Version{Major: 1, Minor: 2}, true},
		{bytecode.Version{Major: 1, Minor: 2}, bytecode.Version{Major: 1, Minor: 2}, true},
		{bytecode.Version{Major: 2}, bytecode.Version{Major: 2}, true},
		{bytecode.Version{Major: 1, Minor: 3}, bytecode.Version{}, false},
		{bytecode.Version{Major: 3}, bytecode.Version{}, false},
	}
	for _, tt := range tests {
		p, ok := reg.Lookup("math", tt.want)
		if ok != tt.ok || (ok && p.Version != tt.got) {
			t.Errorf("Lookup(%s) = %v, %v; want %s, %v", tt.want, p, ok, tt.got, tt.ok)
		}
	}
	if n := len(reg.Programs()); n != 3 {
		t.Errorf("Programs() = %d, want 3", n)
	}
}
