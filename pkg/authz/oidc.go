package authz

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ExternalVerifier verifies an externally-issued id_token against an OIDC
// provider, used in key-server mode to back a temporary token's verified
// external identity (spec §3 "Temporary token (optional key-server mode)").
type ExternalVerifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	config   oauth2.Config
}

// NewExternalVerifier discovers the OIDC provider at issuerURL and
// constructs a verifier scoped to clientID.
func NewExternalVerifier(ctx context.Context, issuerURL, clientID string) (*ExternalVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("authz: discover oidc provider: %w", err)
	}
	return &ExternalVerifier{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		config:   oauth2.Config{ClientID: clientID, Endpoint: provider.Endpoint()},
	}, nil
}

// ExternalIdentity is the subset of verified claims the gateway carries
// forward as the temporary token's externally-verified identity.
type ExternalIdentity struct {
	Subject string
	Email   string
	Groups  []string
}

// Verify validates rawIDToken and extracts the identity claims the gateway
// uses to synthesize a bound Identity for RegisterTempToken.
func (v *ExternalVerifier) Verify(ctx context.Context, rawIDToken string) (*ExternalIdentity, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("authz: verify external id token: %w", err)
	}
	var claims struct {
		Email  string   `json:"email"`
		Groups []string `json:"groups"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("authz: decode external claims: %w", err)
	}
	return &ExternalIdentity{Subject: idToken.Subject, Email: claims.Email, Groups: claims.Groups}, nil
}
