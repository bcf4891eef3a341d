package credential

import (
	"os"
	"strings"
)

const (
	// SecretEnvKey is the env var holding the HMAC signing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "BEACON_JWT_SECRET"
	// AlgorithmEnvKey is the env var naming the signing algorithm.
	AlgorithmEnvKey = "BEACON_JWT_ALGORITHM"
)

// Config holds the signing material for credential verification.
type Config struct {
	Secret    string
	Algorithm string
}

// LoadConfigFromEnv reads the signing secret and algorithm.
//
// Both values are mandatory. Returning an error here is what makes a
// misconfigured deployment fail at startup instead of failing every request.
func LoadConfigFromEnv() (Config, error) {
	secret := strings.TrimSpace(os.Getenv(SecretEnvKey))
	if secret == "" {
		return Config{}, ErrSecretMissing
	}

	alg := strings.TrimSpace(os.Getenv(AlgorithmEnvKey))
	if alg == "" {
		return Config{}, ErrAlgorithmMissing
	}

	cfg := Config{Secret: secret, Algorithm: strings.ToUpper(alg)}
	if !supportedAlgorithm(cfg.Algorithm) {
		return Config{}, ErrAlgorithmUnsupported
	}
	return cfg, nil
}

func supportedAlgorithm(alg string) bool {
	switch alg {
	case "HS256", "HS384", "HS512":
		return true
	}
	return false
}
