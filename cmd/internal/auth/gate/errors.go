package gate

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrValidation     = errors.New("validation failed")
	ErrStorage        = errors.New("storage unavailable")
	ErrInternal       = errors.New("internal error")
)

// Client-facing messages.
const (
	MsgInvalidCredentials = "invalid username or password"
	MsgInvalidToken       = "could not validate credentials"
	MsgStorage            = "service temporarily unavailable"
	MsgInternal           = "internal server error"
)

// OpError is an operation failure. Msg is safe to show to clients; Err is the
// cause and is for logs only.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// RateLimitError reports a denied attempt and how long to wait.
type RateLimitError struct {
	Op         string
	Class      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %v (%s): retry after %s", e.Op, ErrRateLimited, e.Class, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds (minimum 1).
func (e *RateLimitError) RetryAfterSeconds() int64 {
	s := int64((e.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// KindOf returns the kind of err. Unknown errors are ErrInternal.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRateLimited):
		return ErrRateLimited
	case errors.Is(err, ErrAuthentication):
		return ErrAuthentication
	case errors.Is(err, ErrValidation):
		return ErrValidation
	case errors.Is(err, ErrStorage):
		return ErrStorage
	default:
		return ErrInternal
	}
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var oe *OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	switch KindOf(err) {
	case ErrRateLimited:
		return "too many attempts, try again later"
	case ErrAuthentication:
		return MsgInvalidToken
	case ErrValidation:
		return "invalid request"
	case ErrStorage:
		return MsgStorage
	default:
		return MsgInternal
	}
}

func authErr(op, msg string, cause error) error {
	return &OpError{Op: op, Kind: ErrAuthentication, Msg: msg, Err: cause}
}

func validationErr(op, msg string) error {
	return &OpError{Op: op, Kind: ErrValidation, Msg: msg}
}

func storageErr(op string, cause error) error {
	return &OpError{Op: op, Kind: ErrStorage, Msg: MsgStorage, Err: cause}
}

func internalErr(op string, cause error) error {
	return &OpError{Op: op, Kind: ErrInternal, Msg: MsgInternal, Err: cause}
}
