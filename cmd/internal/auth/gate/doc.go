// Package gate orchestrates authentication: login, token refresh, logout and
// session cleanup, composed from the credential store, password hasher, token
// codec, session store and rate limiter.
//
// Every failure returned by Gate carries one of the kinds ErrAuthentication,
// ErrRateLimited, ErrValidation, ErrStorage or ErrInternal, so transports can
// map it to a stable client-facing code without inspecting causes. Causes are
// kept for logging only.
package gate
