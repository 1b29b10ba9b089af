package authz

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// BearerTokenPrefix marks the gateway's own static/auto-minted bearer
// tokens, greppable in logs and secret scanners (spec §6).
const BearerTokenPrefix = "mcp_"

// TempTokenPrefix marks key-server-mode temporary tokens (spec §3, §6).
const TempTokenPrefix = "mcpgw_"

// randomToken returns a cryptographically random base64url string of the
// requested character length (43 chars == 32 raw bytes, spec §3/§6).
func randomToken(charLen int) (string, error) {
	raw := make([]byte, (charLen*6+7)/8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("authz: generate random token: %w", err)
	}
	s := base64.RawURLEncoding.EncodeToString(raw)
	if len(s) > charLen {
		s = s[:charLen]
	}
	return s, nil
}

// MintBearerToken generates a new gateway-issued static bearer token of the
// form mcp_<43-char-base64url> (spec §4.7.2).
func MintBearerToken() (string, error) {
	s, err := randomToken(43)
	if err != nil {
		return "", err
	}
	return BearerTokenPrefix + s, nil
}

// TempToken is an opaque bearer issued in key-server mode (spec §3): an
// opaque string indexed by a UUID (JTI), carrying verified external
// identity and scopes.
type TempToken struct {
	Token      string
	JTI        string
	Identity   string
	Scopes     []string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// MintTempToken generates a new temporary token bound to identity/scopes
// with the given lifetime.
func MintTempToken(identity string, scopes []string, ttl time.Duration) (*TempToken, error) {
	s, err := randomToken(43)
	if err != nil {
		return nil, fmt.Errorf("authz: mint temp token: %w", err)
	}
	now := time.Now()
	return &TempToken{
		Token:     TempTokenPrefix + s,
		JTI:       uuid.NewString(),
		Identity:  identity,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// CredentialStore resolves presented credentials to an Identity. It holds
// static bearer tokens, API keys, and (in key-server mode) temporary
// tokens, plus the set of public paths that bypass credential checks
// entirely (spec §4.7.2).
type CredentialStore struct {
	mu          sync.RWMutex
	bearer      map[string]Identity // static + auto-minted bearer -> identity
	apiKeys     map[string]Identity
	tempTokens  map[string]*TempToken
	tempScopeID map[string]Identity // JTI -> identity synthesized from external claims
	publicPaths []string            // exact or "prefix*" glob
}

// NewCredentialStore constructs an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		bearer:      make(map[string]Identity),
		apiKeys:     make(map[string]Identity),
		tempTokens:  make(map[string]*TempToken),
		tempScopeID: make(map[string]Identity),
		publicPaths: nil,
	}
}

func (s *CredentialStore) SetPublicPaths(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publicPaths = paths
}

// IsPublicPath reports whether path bypasses credential checks.
func (s *CredentialStore) IsPublicPath(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return MatchesAny(s.publicPaths, path)
}

// RegisterBearer registers a static or auto-minted bearer token for identity.
func (s *CredentialStore) RegisterBearer(token string, identity Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bearer[token] = identity
}

// RegisterAPIKey registers an API key for identity.
func (s *CredentialStore) RegisterAPIKey(key string, identity Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[key] = identity
}

// RegisterTempToken stores a minted temporary token and the identity it
// carries, keyed by both token and JTI.
func (s *CredentialStore) RegisterTempToken(tok *TempToken, identity Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tempTokens[tok.Token] = tok
	s.tempScopeID[tok.JTI] = identity
}

// errNoCredential is the sentinel Resolve returns when no credential matches;
// callers surface it as a denial.
var errNoCredential = fmt.Errorf("authz: no matching credential")

// Resolve maps a presented credential string (the raw header value, bearer
// token, or API key) to an Identity. It tries bearer/temp-token lookup
// first, then API-key lookup.
func (s *CredentialStore) Resolve(_ context.Context, credential string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.HasPrefix(credential, TempTokenPrefix) {
		tok, ok := s.tempTokens[credential]
		if !ok || time.Now().After(tok.ExpiresAt) {
			return Identity{}, errNoCredential
		}
		id, ok := s.tempScopeID[tok.JTI]
		if !ok {
			return Identity{}, errNoCredential
		}
		return id, nil
	}
	if id, ok := s.bearer[credential]; ok {
		return id, nil
	}
	if id, ok := s.apiKeys[credential]; ok {
		return id, nil
	}
	return Identity{}, errNoCredential
}

// ParseAuthorizationHeader extracts the bearer credential from a standard
// "Authorization: Bearer <token>" header value.
func ParseAuthorizationHeader(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

// ParseUnverifiedJTI extracts the "jti" claim from a JWT without verifying
// its signature; used only to look up key-server-mode token metadata
// before full OIDC verification runs (see pkg/authz/oidc.go).
func ParseUnverifiedJTI(token string) (string, error) {
	p := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := p.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("authz: parse jwt: %w", err)
	}
	jti, _ := claims["jti"].(string)
	return jti, nil
}
