package app

import (
	"fmt"

	"gatehouse/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy and returns the
// session-token hasher to use. A policy that demands HMAC never falls back to
// SHA-256.
func ValidateSecurityConfig(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		return token.Hasher{}, fmt.Errorf("security policy: GATEHOUSE_REQUIRE_TOKEN_HMAC=true: %w", err)
	}
	return h, nil
}
