package identity

import (
	"errors"
	"strings"
)

// Failure kinds returned by every Store. Match them with errors.Is or the
// Is* helpers below; the concrete *Error carries the details.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
)

// Error describes a failed store operation. Field names the offending
// attribute ("username"), Detail is a short explanation. Neither ever holds
// a password, hash or token.
type Error struct {
	Op     string
	Kind   error
	Field  string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteByte(' ')
	}
	b.WriteString(e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// IsConflict reports whether err is a uniqueness violation.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err means the requested user does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err was caused by a rejected argument.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

func invalid(op, detail string) error {
	return &Error{Op: op, Kind: ErrInvalidInput, Detail: detail}
}

func userNotFound(op string) error {
	return &Error{Op: op, Kind: ErrNotFound, Field: "user"}
}

func conflict(op, field string) error {
	return &Error{Op: op, Kind: ErrConflict, Field: field}
}
