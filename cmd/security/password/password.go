package password

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hash hashes password with the configured algorithm.
// It fails on empty input; policy is not applied here.
func (c Config) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	switch c.Algorithm {
	case AlgorithmArgon2id:
		return c.hashArgon2id(password)
	case AlgorithmBcrypt, "":
		return c.hashBcrypt(password)
	default:
		return "", ErrUnknownAlgorithm
	}
}

// Verify checks whether password matches encodedHash.
// Returns (true, nil) for a match, (false, nil) for mismatch,
// and (false, ErrInvalidHash) for malformed/unsupported hashes.
func (c Config) Verify(password, encodedHash string) (bool, error) {
	switch {
	case isBcryptHash(encodedHash):
		return c.verifyBcrypt(password, encodedHash)
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return c.verifyArgon2id(password, encodedHash)
	default:
		return false, ErrInvalidHash
	}
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func (c Config) hashBcrypt(password string) (string, error) {
	if len(password) > BcryptMaxBytes {
		return "", &PolicyError{Err: ErrPasswordTooLong, Limit: BcryptMaxBytes, Unit: "bytes"}
	}
	cost := c.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c Config) verifyBcrypt(password, encodedHash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false, ErrInvalidHash
	}
	// Anti-DoS: attacker-influenced hash rows must not pin the CPU.
	if cost > max(c.BcryptCost, bcrypt.DefaultCost)+2 {
		return false, ErrInvalidHash
	}

	err = bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch err {
	case nil:
		return true, nil
	case bcrypt.ErrMismatchedHashAndPassword, bcrypt.ErrPasswordTooLong:
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}
