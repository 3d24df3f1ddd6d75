// Package token provides session-token hashing primitives for gatehouse.
//
// It is the single source of truth for how a bearer token is reduced to the
// value persisted in the sessions table. Raw tokens are never stored.
//
// Modes:
// - SHA-256(token) when no HMAC key is configured (dev/back-compat).
// - HMAC-SHA256(token, key) when GATEHOUSE_TOKEN_HMAC_KEY is set.
//
// Output is always a 64-char lowercase hex string.
package token
