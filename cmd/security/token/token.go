package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// HMACEnvKey is the env var holding the token HMAC secret.
// #nosec G101 -- variable name, not a credential.
const HMACEnvKey = "GATEHOUSE_TOKEN_HMAC_KEY"

// MinHMACKeyBytes is the shortest key accepted when HMAC mode is required.
const MinHMACKeyBytes = 32

var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
)

// HashSHA256Hex returns the unkeyed stored form of tok.
func HashSHA256Hex(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// Hasher reduces a session token to its stored form.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. An empty key selects SHA-256 mode.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	return Hasher{key: append([]byte(nil), key...)}
}

// HasherFromEnv builds a Hasher from GATEHOUSE_TOKEN_HMAC_KEY.
//
// When require is false a blank key selects SHA-256. When require is true the
// key must be present and at least MinHMACKeyBytes long (bytes, not runes).
func HasherFromEnv(require bool) (Hasher, error) {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if !require {
		return NewHasher([]byte(key)), nil
	}
	switch {
	case key == "":
		return Hasher{}, fmt.Errorf("%s: %w", HMACEnvKey, ErrHMACKeyMissing)
	case len(key) < MinHMACKeyBytes:
		return Hasher{}, fmt.Errorf("%s: %w (got %d bytes, need %d)", HMACEnvKey, ErrHMACKeyTooShort, len(key), MinHMACKeyBytes)
	}
	return NewHasher([]byte(key)), nil
}

// HMAC reports whether this hasher is keyed.
func (h Hasher) HMAC() bool { return len(h.key) > 0 }

// Hex hashes tok for server-side storage. Output is 64 lowercase hex chars.
func (h Hasher) Hex(tok string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(tok)
	}
	m := hmac.New(sha256.New, h.key)
	_, _ = m.Write([]byte(tok))
	return hex.EncodeToString(m.Sum(nil))
}
