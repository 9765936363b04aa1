// Package diag defines the error kinds shared by the compiler, the runtime
// and the virtual machine, and the error value that carries them.
package diag

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure. Kind implements error so callers can write
// errors.Is(err, diag.DivisionByZero).
type Kind uint8

const (
	Unknown Kind = iota
	BorrowViolation
	UseAfterMove
	TypeMismatch
	DivisionByZero
	IndexOutOfBounds
	UndefinedField
	UndefinedVariable
	DuplicateDefinition
	ArityMismatch
	InternalConsistency
	ConstAssignment
	InvalidProgram
	StackOverflow
	Interrupted
)

var kindNames = [...]string{
	Unknown:             "Unknown",
	BorrowViolation:     "BorrowViolation",
	UseAfterMove:        "UseAfterMove",
	TypeMismatch:        "TypeMismatch",
	DivisionByZero:      "DivisionByZero",
	IndexOutOfBounds:    "IndexOutOfBounds",
	UndefinedField:      "UndefinedField",
	UndefinedVariable:   "UndefinedVariable",
	DuplicateDefinition: "DuplicateDefinition",
	ArityMismatch:       "ArityMismatch",
	InternalConsistency: "InternalConsistency",
	ConstAssignment:     "ConstAssignment",
	InvalidProgram:      "InvalidProgram",
	StackOverflow:       "StackOverflow",
	Interrupted:         "Interrupted",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) Error() string { return k.String() }

// Fatal reports whether the kind signals a broken compiler invariant rather
// than a user program error.
func (k Kind) Fatal() bool { return k == InternalConsistency }

// Pos is a source position. The zero Pos means "unknown".
type Pos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// IsValid reports whether the position carries a line.
func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string {
	if !p.IsValid() {
		return "?"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Error is a classified failure with an optional source position and call
// trace (innermost function first).
type Error struct {
	Kind    Kind
	Message string
	Pos     Pos
	Trace   []string
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Pos.IsValid() {
		sb.WriteString(" at ")
		sb.WriteString(e.Pos.String())
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

// Is matches a bare Kind, or another *Error of the same kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// At builds an *Error with a known position.
func At(pos Pos, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// KindOf returns the kind carried by err, or Unknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}

// WithPos fills in the position of err when it is an *Error without one.
// Other errors are returned unchanged.
func WithPos(err error, pos Pos) error {
	var de *Error
	if errors.As(err, &de) && !de.Pos.IsValid() {
		de.Pos = pos
	}
	return err
}

// List collects compile-time errors.
type List []*Error

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d errors:\n  %s", len(l), strings.Join(msgs, "\n  "))
}

// Err returns nil for an empty list, the single error for a list of one,
// and the list itself otherwise.
func (l List) Err() error {
	switch len(l) {
	case 0:
		return nil
	case 1:
		return l[0]
	}
	return l
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (l List) Unwrap() []error {
	out := make([]error, len(l))
	for i, e := range l {
		out[i] = e
	}
	return out
}
