package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse/cmd/identity/ids"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// Token is a freshly issued bearer token.
type Token struct {
	Raw       string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Claims is what a validated token asserts.
type Claims struct {
	Subject   string
	ID        string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec issues and validates signed tokens. Implementations are pure
// functions of their clock and secret and never touch storage.
type TokenCodec interface {
	Issue(subjectID string, ttl time.Duration) (Token, error)
	Validate(raw string) (Claims, error)
}

// JWTCodec implements TokenCodec with HMAC-signed JWTs.
type JWTCodec struct {
	clock  clockwork.Clock
	method jwt.SigningMethod
	secret []byte
	issuer string
}

// NewJWTCodec builds a codec from cfg. A nil clock uses the real clock.
func NewJWTCodec(cfg Config, clock clockwork.Clock) (*JWTCodec, error) {
	if len(cfg.SecretKey) < MinSecretKeyBytes {
		return nil, fmt.Errorf("%w: secret key shorter than %d bytes", ErrConfig, MinSecretKeyBytes)
	}
	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = "HS256"
	}
	if !supportedAlgorithm(alg) {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrConfig, cfg.Algorithm)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	secret := make([]byte, len(cfg.SecretKey))
	copy(secret, cfg.SecretKey)

	return &JWTCodec{
		clock:  clock,
		method: jwt.GetSigningMethod(alg),
		secret: secret,
		issuer: cfg.Issuer,
	}, nil
}

// Algorithm returns the signing algorithm identifier.
func (c *JWTCodec) Algorithm() string { return c.method.Alg() }

// Issue mints a token for subjectID valid for ttl. Times have second precision.
func (c *JWTCodec) Issue(subjectID string, ttl time.Duration) (Token, error) {
	if strings.TrimSpace(subjectID) == "" {
		return Token{}, errors.New("session: empty subject")
	}
	if ttl <= 0 {
		return Token{}, ErrInvalidTTL
	}

	now := c.clock.Now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)

	jti, err := ids.NewULID(now)
	if err != nil {
		return Token{}, err
	}

	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   subjectID,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	raw, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return Token{}, err
	}

	return Token{Raw: raw, ID: jti, IssuedAt: now, ExpiresAt: exp}, nil
}

// Validate verifies the signature first, then expiry. It returns exactly one of
// ErrTokenMalformed, ErrTokenSignatureInvalid or ErrTokenExpired on failure.
func (c *JWTCodec) Validate(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrTokenMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &rc, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, classifyJWTError(err)
	}

	if rc.Subject == "" || rc.ID == "" || rc.ExpiresAt == nil {
		return Claims{}, ErrTokenMalformed
	}

	out := Claims{
		Subject:   rc.Subject,
		ID:        rc.ID,
		Issuer:    rc.Issuer,
		ExpiresAt: rc.ExpiresAt.Time.UTC(),
	}
	if rc.IssuedAt != nil {
		out.IssuedAt = rc.IssuedAt.Time.UTC()
	}
	return out, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}
