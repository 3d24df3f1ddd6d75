package password

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPassword    = errors.New("empty password")
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid password hash")
	ErrUnknownAlgorithm = errors.New("unknown password algorithm")
)

// PolicyError explains which provisioning rule a password broke.
// It unwraps to ErrPasswordTooShort, ErrPasswordTooLong or ErrWeakPassword.
type PolicyError struct {
	Err   error
	Limit int    // bound that was crossed; 0 for ErrWeakPassword
	Unit  string // "characters" or "bytes"
}

func (e *PolicyError) Error() string {
	if e.Limit == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (limit %d %s)", e.Err, e.Limit, e.Unit)
}

func (e *PolicyError) Unwrap() error { return e.Err }
