package session

import "errors"

var (
	// ErrTokenMalformed is returned when a token cannot be decoded or lacks required claims.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenSignatureInvalid is returned when the signature does not verify
	// or the token was signed with an unexpected algorithm.
	ErrTokenSignatureInvalid = errors.New("token signature invalid")

	// ErrTokenExpired is returned when now >= exp.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionNotFound is returned when no live session matches a token.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTTL is returned when a non-positive ttl is requested.
	ErrInvalidTTL = errors.New("ttl must be positive")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
