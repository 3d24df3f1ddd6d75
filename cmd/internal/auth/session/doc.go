// Package session implements gatehouse's session layer.
//
// A session is the server-side proof that a bearer token was legitimately
// issued and has not been revoked. Tokens are self-validating JWTs (HMAC
// family, server-held secret); the session row adds revocation on top. The
// two checks are independent and are composed by the request interceptor.
//
// Only a hash of each token is persisted (HMAC-SHA256 when
// GATEHOUSE_TOKEN_HMAC_KEY is set, otherwise SHA-256).
//
// The Reaper deletes expired rows on a fixed interval, independent of
// request traffic.
package session
