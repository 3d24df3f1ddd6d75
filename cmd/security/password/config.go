package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// Algorithm names the hash produced by Config.Hash.
type Algorithm string

const (
	// AlgorithmBcrypt is the default.
	AlgorithmBcrypt Algorithm = "bcrypt"
	// AlgorithmArgon2id selects Argon2id.
	AlgorithmArgon2id Algorithm = "argon2id"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// BcryptMaxBytes is the longest input bcrypt consumes; longer secrets
// would be silently truncated, so Hash and Validate refuse them.
const BcryptMaxBytes = 72

// Policy bounds passwords accepted at provisioning time. Login never
// applies it: stored hashes are verified whatever the current policy is.
type Policy struct {
	MinLength int // characters
	MaxLength int // characters
	// RejectVeryWeak turns on a small deny-list (repeated char, short PINs,
	// the most common passwords).
	RejectVeryWeak bool
}

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "123456": {}, "12345678": {},
	"123456789": {}, "qwerty": {}, "qwerty123": {}, "11111111": {}, "letmein": {}, "admin123": {},
}

// Validate applies c.Policy to a new password. Lengths count characters,
// except that bcrypt additionally caps the input at BcryptMaxBytes.
func (c Config) Validate(pw string) error {
	n := utf8.RuneCountInString(pw)
	switch {
	case n < c.Policy.MinLength:
		return &PolicyError{Err: ErrPasswordTooShort, Limit: c.Policy.MinLength, Unit: "characters"}
	case n > c.Policy.MaxLength:
		return &PolicyError{Err: ErrPasswordTooLong, Limit: c.Policy.MaxLength, Unit: "characters"}
	case c.usesBcrypt() && len(pw) > BcryptMaxBytes:
		return &PolicyError{Err: ErrPasswordTooLong, Limit: BcryptMaxBytes, Unit: "bytes"}
	}
	if c.Policy.RejectVeryWeak && veryWeak(pw) {
		return &PolicyError{Err: ErrWeakPassword}
	}
	return nil
}

func (c Config) usesBcrypt() bool {
	return c.Algorithm == AlgorithmBcrypt || c.Algorithm == ""
}

func veryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := commonPasswords[strings.ToLower(s)]; ok {
		return true
	}
	if first, _ := utf8.DecodeRuneInString(s); strings.Trim(s, string(first)) == "" {
		return true
	}
	digits := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) == -1
	return digits && utf8.RuneCountInString(s) < 12
}

// Config is the single configuration surface for this package.
type Config struct {
	Algorithm  Algorithm
	BcryptCost int
	Params     Argon2idParams
	Policy     Policy
}

// DefaultConfig returns bcrypt at cost 12 with Argon2id parameters ready for opt-in.
func DefaultConfig() Config {
	// CPU-aware parallelism, clamped to [1..4] to keep container usage predictable.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Algorithm:  AlgorithmBcrypt,
		BcryptCost: 12,
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      6,
			MaxLength:      72,
			RejectVeryWeak: false,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - GATEHOUSE_PASSWORD_ALGORITHM (bcrypt|argon2id)
// - GATEHOUSE_PASSWORD_BCRYPT_COST
// - GATEHOUSE_PASSWORD_MIN_LEN
// - GATEHOUSE_PASSWORD_MAX_LEN
// - GATEHOUSE_PASSWORD_REJECT_VERY_WEAK (true/false)
// - GATEHOUSE_ARGON2_MEMORY_KIB
// - GATEHOUSE_ARGON2_ITERATIONS
// - GATEHOUSE_ARGON2_PARALLELISM
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("GATEHOUSE_PASSWORD_ALGORITHM"); ok {
		alg, err := ParseAlgorithm(v)
		if err != nil {
			return Config{}, fmt.Errorf("GATEHOUSE_PASSWORD_ALGORITHM: %w", err)
		}
		cfg.Algorithm = alg
	}

	if v, ok := os.LookupEnv("GATEHOUSE_PASSWORD_BCRYPT_COST"); ok {
		n, err := atoiPositiveInt(v, bcrypt.MinCost, bcrypt.MaxCost)
		if err != nil {
			return Config{}, fmt.Errorf("GATEHOUSE_PASSWORD_BCRYPT_COST: %w", err)
		}
		cfg.BcryptCost = n
	}

	if v, ok := os.LookupEnv("GATEHOUSE_PASSWORD_MIN_LEN"); ok {
		n, err := atoiPositiveInt(v, 1, 1024)
		if err != nil {
			return Config{}, fmt.Errorf("GATEHOUSE_PASSWORD_MIN_LEN: %w", err)
		}
		cfg.Policy.MinLength = n
	}

	if v, ok := os.LookupEnv("GATEHOUSE_PASSWORD_MAX_LEN"); ok {
		n, err := atoiPositiveInt(v, 1, 4096)
		if err != nil {
			return Config{}, fmt.Errorf("GATEHOUSE_PASSWORD_MAX_LEN: %w", err)
		}
		cfg.Policy.MaxLength = n
	}

	if v, ok := os.LookupEnv("GATEHOUSE_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("GATEHOUSE_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if v, ok := os.LookupEnv("GATEHOUSE_ARGON2_MEMORY_KIB"); ok {
		u, err := atou32(v, 8*1024, 1024*1024) // 8 MiB .. 1 GiB
		if err != nil {
			return Config{}, fmt.Errorf("GATEHOUSE_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = u
	}

	if v, ok := os.LookupEnv("GATEHOUSE_ARGON2_ITERATIONS"); ok {
		u, err := atou32(v, 1, 20)
		if err != nil {
			return Config{}, fmt.Errorf("GATEHOUSE_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = u
	}

	if v, ok := os.LookupEnv("GATEHOUSE_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, 64)
		if err != nil {
			return Config{}, fmt.Errorf("GATEHOUSE_ARGON2_PARALLELISM: %w", err)
		}
		p, err := u32ToU8(u)
		if err != nil {
			return Config{}, fmt.Errorf("GATEHOUSE_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = p
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

// ParseAlgorithm maps a config string to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bcrypt":
		return AlgorithmBcrypt, nil
	case "argon2id", "argon2":
		return AlgorithmArgon2id, nil
	default:
		return "", ErrUnknownAlgorithm
	}
}

func atoiPositiveInt(s string, minVal, maxVal int) (int, error) {
	s = strings.TrimSpace(s)
	i64, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}

	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	s = strings.TrimSpace(s)
	u64, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}

	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}

func parseBool(s string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err == nil {
		return b, nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}
