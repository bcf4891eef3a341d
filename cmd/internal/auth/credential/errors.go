package credential

import "errors"

// Public, stable errors for callers.
var (
	// ErrMalformed covers tokens that cannot be decoded or lack required claims.
	ErrMalformed = errors.New("credential malformed")
	// ErrExpired is returned when the token's exp claim is in the past.
	ErrExpired = errors.New("credential expired")
	// ErrInvalidSignature is returned when the signature does not verify
	// under the configured algorithm and secret.
	ErrInvalidSignature = errors.New("credential signature invalid")

	// ErrSecretMissing and ErrAlgorithmMissing are startup configuration
	// faults: the server must refuse to accept connections without them.
	ErrSecretMissing    = errors.New("credential signing secret missing")
	ErrAlgorithmMissing = errors.New("credential signing algorithm missing")
	// ErrAlgorithmUnsupported is returned for algorithms outside the HS family.
	ErrAlgorithmUnsupported = errors.New("credential signing algorithm unsupported")

	// ErrNoExpiry is returned by ExpiryOf when the token carries no exp claim.
	ErrNoExpiry = errors.New("credential has no expiry claim")
)
