package program

import (
	"strings"
	"sync"

	"github.com/wippyai/ancvm/bytecode"
)

// Signature is an interned function type. Two signatures obtained from the
// same Interner are structurally equal exactly when they are the same pointer.
type Signature struct {
	key     string
	Params  []bytecode.ValType
	Results []bytecode.ValType
}

func (s *Signature) String() string {
	return bytecode.FuncType{Params: s.Params, Results: s.Results}.String()
}

// Interner hands out one Signature per structural shape.
type Interner struct {
	sigs map[string]*Signature
	mu   sync.Mutex
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{sigs: make(map[string]*Signature)}
}

// Intern returns the shared signature for params -> results.
func (in *Interner) Intern(params, results []bytecode.ValType) *Signature {
	key := signatureKey(params, results)

	in.mu.Lock()
	defer in.mu.Unlock()

	if s, ok := in.sigs[key]; ok {
		return s
	}
	s := &Signature{
		key:     key,
		Params:  append([]bytecode.ValType(nil), params...),
		Results: append([]bytecode.ValType(nil), results...),
	}
	in.sigs[key] = s
	return s
}

// Len returns the number of distinct signatures.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.sigs)
}

func signatureKey(params, results []bytecode.ValType) string {
	var b strings.Builder
	b.Grow(len(params) + len(results) + 1)
	for _, p := range params {
		b.WriteByte(byte(p))
	}
	b.WriteByte(0)
	for _, r := range results {
		b.WriteByte(byte(r))
	}
	return b.String()
}
