// Package identity owns gatehouse's persisted user records.
//
// It is a leaf dependency: it stores usernames and password hashes and knows
// nothing about tokens, sessions, or rate limits. Hashing is done by the
// caller (see cmd/security/password); the store only persists the result.
//
// Users are created by provisioning paths (the useradd command). The auth
// request path only reads them.
package identity
