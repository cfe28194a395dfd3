package interp

import "fmt"

type ErrKind int

const (
	// TypeMismatch: an operation consumed a heap object of the wrong tag.
	TypeMismatch ErrKind = iota
	// IndexOutOfRange: tuple projection outside the tuple's arity.
	IndexOutOfRange
	// UnboundVariable: a variable had no binding at runtime. Lowering
	// guarantees this cannot happen, so hitting it means a broken program.
	UnboundVariable
	// Internal: the machine or heap violated one of its own invariants.
	Internal
)

func (k ErrKind) String() string {
	switch k {
	case TypeMismatch:
		return "type mismatch"
	case IndexOutOfRange:
		return "index out of range"
	case UnboundVariable:
		return "unbound variable"
	case Internal:
		return "internal error"
	}
	return "unknown error"
}

// Error is a fatal runtime failure. Evaluation does not recover; the machine
// unwinds all live frames (releasing what they own) before surfacing it.
type Error struct {
	Kind ErrKind
	Msg  string
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Msg
}

func errf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
