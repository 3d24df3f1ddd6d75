// Package password provides password hashing and verification for gatehouse.
//
// Two algorithms are supported:
// - bcrypt (default), via golang.org/x/crypto/bcrypt
// - Argon2id, encoded in a PHC-like string
//
// Verify dispatches on the hash prefix, so accounts provisioned under either
// algorithm keep working after the configured default changes.
//
// Security notes:
// - Hash strings are treated as untrusted input during Verify.
// - Argon2id verification refuses parameters far beyond the configured cost.
// - The password Policy is applied by provisioning paths only, never by Hash.
package password
