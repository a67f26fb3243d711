package chainerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies every error the chain core can surface. Callers branch on
// the kind, never on error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindCapacity
	KindConsensus
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindCapacity:
		return "capacity"
	case KindConsensus:
		return "consensus"
	}
	return "unknown"
}

type chainError struct {
	kind Kind
	msg  string
	err  error
}

func (e *chainError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %s", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *chainError) Unwrap() error { return e.err }

func newKind(kind Kind, format string, args ...any) error {
	return &chainError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func NewNotFound(format string, args ...any) error {
	return newKind(KindNotFound, format, args...)
}

func NewValidation(format string, args ...any) error {
	return newKind(KindValidation, format, args...)
}

func NewConflict(format string, args ...any) error {
	return newKind(KindConflict, format, args...)
}

func NewCapacity(format string, args ...any) error {
	return newKind(KindCapacity, format, args...)
}

func NewConsensus(format string, args ...any) error {
	return newKind(KindConsensus, format, args...)
}

// Wrap keeps the original cause while tagging it with a kind.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &chainError{kind: kind, msg: msg, err: err}
}

// KindOf walks the wrap chain and returns the first kind found.
func KindOf(err error) Kind {
	for err != nil {
		var ce *chainError
		if errors.As(err, &ce) {
			return ce.kind
		}
		err = errors.Unwrap(err)
	}
	return KindUnknown
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsCapacity(err error) bool   { return KindOf(err) == KindCapacity }
func IsConsensus(err error) bool  { return KindOf(err) == KindConsensus }
