package linker

import (
	"fmt"
	"slices"
	"sync"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/program"
)

// Registry caches linked shared modules by name and version and owns the
// signature interner every program linked through it shares. A Registry is
// an explicit value: independent runtimes use independent registries.
// Thread-safe.
type Registry struct {
	interner *program.Interner
	programs map[string][]*program.Program // sorted by version, newest last
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		interner: program.NewInterner(),
		programs: make(map[string][]*program.Program),
	}
}

// Interner returns the signature interner shared by all programs of the registry.
func (r *Registry) Interner() *program.Interner {
	return r.interner
}

// Lookup returns the newest registered program named name whose version is
// compatible with want.
func (r *Registry) Lookup(name string, want bytecode.Version) (*program.Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.programs[name]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Version.Compatible(want) {
			return list[i], true
		}
	}
	return nil, false
}

// Versions returns the registered versions of name.
func (r *Registry) Versions(name string) []bytecode.Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var vs []bytecode.Version
	for _, p := range r.programs[name] {
		vs = append(vs, p.Version)
	}
	return vs
}

// Register publishes a linked program. Registering a second program with
// the same name and version fails.
func (r *Registry) Register(p *program.Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.programs[p.Name]
	i, found := slices.BinarySearchFunc(list, p.Version, func(e *program.Program, v bytecode.Version) int {
		switch {
		case e.Version.Less(v):
			return -1
		case v.Less(e.Version):
			return 1
		default:
			return 0
		}
	})
	if found {
		if list[i] == p {
			return nil
		}
		return fmt.Errorf("module %s is already registered", p)
	}
	r.programs[p.Name] = slices.Insert(list, i, p)
	return nil
}

// Programs returns every registered program ordered by name and version.
func (r *Registry) Programs() []*program.Program {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.programs))
	for n := range r.programs {
		names = append(names, n)
	}
	slices.Sort(names)

	var out []*program.Program
	for _, n := range names {
		out = append(out, r.programs[n]...)
	}
	return out
}
