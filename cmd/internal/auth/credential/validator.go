package credential

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the subject extracted from a verified credential.
// It is an opaque key; Beacon attaches no structure to it.
type Identity string

// Validator verifies bearer credentials against a single HMAC secret.
//
// Validation is a pure function of (token, secret): no clock injection,
// no network, no storage. Revocation is a separate concern (auth/revocation).
type Validator struct {
	secret []byte
	parser *jwt.Parser
}

// NewValidator constructs a Validator from a loaded Config.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.Secret == "" {
		return nil, ErrSecretMissing
	}
	if !supportedAlgorithm(cfg.Algorithm) {
		return nil, ErrAlgorithmUnsupported
	}

	return &Validator{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{cfg.Algorithm}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Validate verifies the token's signature and expiry and returns the subject.
//
// Failures map onto the package's closed taxonomy:
//   - undecodable token or missing claims -> ErrMalformed
//   - exp in the past                     -> ErrExpired
//   - signature/algorithm mismatch        -> ErrInvalidSignature
func (v *Validator) Validate(token string) (Identity, error) {
	claims := jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return "", ErrInvalidSignature
		default:
			return "", ErrMalformed
		}
	}

	if claims.Subject == "" {
		return "", ErrMalformed
	}
	return Identity(claims.Subject), nil
}

// ExpiryOf decodes the token's exp claim WITHOUT verifying the signature.
//
// It exists for the revocation registry: a token being revoked only needs
// to stay denylisted until its natural expiry, verified or not.
func ExpiryOf(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, ErrMalformed
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}
