// Package errs defines the compiler's fail-fast error kinds
// and the structured context every compile error must carry: function id,
// node id, and the identifier/variable name that triggered it.
package errs

import "fmt"

// Kind enumerates the closed set of compile-time error kinds.
type Kind int

const (
	// UnknownName — an unresolved command/reporter/variable identifier.
	UnknownName Kind = iota
	// KindMismatch — e.g. setting a constant, diffusing a non-patch variable.
	KindMismatch
	// SchemaViolation — bad buffer index, empty group, non-zeroable field
	// in an always-present group.
	SchemaViolation
	// TypeInferenceStuck — multiple inconsistent local types with no
	// defined join; deferred as "not yet implemented".
	TypeInferenceStuck
	// MissingLIREmitter — a node required to lower has no registered
	// write_lir_execution implementation.
	MissingLIREmitter
	// StackifyInvariant — an internal bug caught by the stackifier's
	// verifier.
	StackifyInvariant
)

func (k Kind) String() string {
	switch k {
	case UnknownName:
		return "unknown-name"
	case KindMismatch:
		return "kind-mismatch"
	case SchemaViolation:
		return "schema-violation"
	case TypeInferenceStuck:
		return "type-inference-stuck"
	case MissingLIREmitter:
		return "missing-lir-emitter"
	case StackifyInvariant:
		return "stackify-invariant"
	default:
		return "unknown-kind"
	}
}

// CompileError is the error type returned by every compiler pass.
type CompileError struct {
	Kind  Kind
	Msg   string
	FnID  string
	NodeID string
	Name  string
	cause error
}

func (e *CompileError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	var ctx []string
	if e.FnID != "" {
		ctx = append(ctx, "fn="+e.FnID)
	}
	if e.NodeID != "" {
		ctx = append(ctx, "node="+e.NodeID)
	}
	if e.Name != "" {
		ctx = append(ctx, "name="+e.Name)
	}
	for _, c := range ctx {
		s += " " + c
	}
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *CompileError) Unwrap() error { return e.cause }

// CompileContext exposes the error's structured fn/node/name context as
// key-value pairs, so a logger can unpack it without this package needing
// to know anything about logging. Satisfies the duck-typed interface
// internal/logx checks for when formatting a logged error field.
func (e *CompileError) CompileContext() []struct{ Key, Value string } {
	return []struct{ Key, Value string }{
		{"kind", e.Kind.String()},
		{"fn", e.FnID},
		{"node", e.NodeID},
		{"name", e.Name},
	}
}

// LogMessage returns the kind+message (and wrapped cause, if any) without
// the trailing fn=/node=/name= context Error() appends — a logger that
// already unpacks CompileContext() into its own fields shouldn't also
// repeat that context inline in the message text.
func (e *CompileError) LogMessage() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

// Option configures optional context fields on a CompileError.
type Option func(*CompileError)

func WithFn(id string) Option     { return func(e *CompileError) { e.FnID = id } }
func WithNode(id string) Option   { return func(e *CompileError) { e.NodeID = id } }
func WithName(name string) Option { return func(e *CompileError) { e.Name = name } }

// New builds a *CompileError of the given kind.
func New(kind Kind, msg string, opts ...Option) *CompileError {
	e := &CompileError{Kind: kind, Msg: msg}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Wrap attaches a cause to a freshly built CompileError.
func Wrap(kind Kind, cause error, msg string, opts ...Option) *CompileError {
	e := New(kind, msg, opts...)
	e.cause = cause
	return e
}
