package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseDecode   Phase = "decode"   // binary to module
	PhaseEncode   Phase = "encode"   // module to binary
	PhaseValidate Phase = "validate" // structural checks
	PhaseLink     Phase = "link"     // link and import resolution
	PhaseVerify   Phase = "verify"   // function body verification
	PhaseRuntime  Phase = "runtime"  // instruction execution
	PhaseFFI      Phase = "ffi"      // foreign function bridge
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseLoad     Phase = "load"     // module file loading
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidData  Kind = "invalid_data"
	KindUnsupported  Kind = "unsupported"
	KindOutOfBounds  Kind = "out_of_bounds"
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindLink         Kind = "link"
	KindVerification Kind = "verification"
	KindTrap         Kind = "trap"
	KindMemory       Kind = "memory"
	KindFFI          Kind = "ffi"
)

// Sentinel targets for errors.Is. They match any phase.
var (
	ErrLink         = &Error{Kind: KindLink}
	ErrVerification = &Error{Kind: KindVerification}
	ErrTrap         = &Error{Kind: KindTrap}
	ErrMemory       = &Error{Kind: KindMemory}
	ErrFFI          = &Error{Kind: KindFFI}
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the location path (module, function, ...)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Link creates a link error for an unresolved or mismatched link/import.
func Link(module, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindLink,
		Path:   []string{module},
		Detail: detail,
		Cause:  cause,
	}
}

// Verification creates a verification error located at an instruction.
func Verification(module, function string, pc int, detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseVerify,
		Kind:   KindVerification,
		Path:   []string{module, function},
		Detail: fmt.Sprintf(detail, args...),
		Value:  pc,
	}
}

// Validation reports a module whose static tables reference entries that do
// not exist.
func Validation(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseVerify,
		Kind:   KindVerification,
		Path:   []string{module},
		Detail: "invalid static index",
		Cause:  cause,
	}
}

// Memory creates a memory access error
func Memory(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindMemory,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Trap creates a runtime trap
func Trap(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Detail: detail,
		Cause:  cause,
	}
}

// FFI creates a foreign function bridge error
func FFI(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseFFI,
		Kind:   KindFFI,
		Detail: detail,
		Cause:  cause,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Link   string // e.g., "math@1.2.0" or "./util.ancm"
	Symbol string // e.g., "add"
}

// MissingImportsError is returned when linking fails because imports name no export
type MissingImportsError struct {
	Module  string
	Imports []MissingImport
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[link] link: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[link] link at %s: missing %d import(s):\n", e.Module, len(e.Imports))

	byLink := make(map[string][]string)
	var order []string
	for _, imp := range e.Imports {
		if _, exists := byLink[imp.Link]; !exists {
			order = append(order, imp.Link)
		}
		byLink[imp.Link] = append(byLink[imp.Link], imp.Symbol)
	}

	for _, l := range order {
		b.WriteString("\n  ")
		b.WriteString(l)
		b.WriteString(":\n")
		for _, s := range byLink[l] {
			b.WriteString("    - ")
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is matches other MissingImportsErrors and the link sentinel.
func (e *MissingImportsError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingImportsError:
		return true
	case *Error:
		return t.Kind == KindLink && (t.Phase == "" || t.Phase == PhaseLink)
	}
	return false
}
