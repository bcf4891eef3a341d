package app

import (
	"context"

	"beacon/cmd/internal/auth/credential"
	"beacon/cmd/internal/auth/revocation"
)

// credentialGate adapts the credential validator and the revocation registry
// to the single interface the WebSocket gateway consumes.
type credentialGate struct {
	validator *credential.Validator
	registry  *revocation.Registry
}

func (g *credentialGate) ResolveIdentity(token string) (string, error) {
	id, err := g.validator.Validate(token)
	if err != nil {
		return "", err
	}
	return string(id), nil
}

func (g *credentialGate) IsRevoked(ctx context.Context, token string) bool {
	return g.registry.IsRevoked(ctx, token)
}
