package authz

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintBearerToken_HasPrefixAndLength(t *testing.T) {
	tok, err := MintBearerToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, BearerTokenPrefix))
	assert.Len(t, strings.TrimPrefix(tok, BearerTokenPrefix), 43)
}

func TestMintTempToken_CarriesIdentityAndExpiry(t *testing.T) {
	tok, err := MintTempToken("alice", []string{"fs:read_file"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok.Token, TempTokenPrefix))
	assert.NotEmpty(t, tok.JTI)
	assert.Equal(t, "alice", tok.Identity)
	assert.True(t, tok.ExpiresAt.After(tok.IssuedAt))
}

func TestCredentialStore_ResolveBearer(t *testing.T) {
	s := NewCredentialStore()
	id := Identity{Name: "svc-a"}
	s.RegisterBearer("mcp_abc", id)

	got, err := s.Resolve(context.Background(), "mcp_abc")
	require.NoError(t, err)
	assert.Equal(t, "svc-a", got.Name)

	_, err = s.Resolve(context.Background(), "mcp_unknown")
	assert.Error(t, err)
}

func TestCredentialStore_ResolveAPIKey(t *testing.T) {
	s := NewCredentialStore()
	s.RegisterAPIKey("key-1", Identity{Name: "svc-b"})

	got, err := s.Resolve(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "svc-b", got.Name)
}

func TestCredentialStore_ResolveTempToken_ExpiredRejected(t *testing.T) {
	s := NewCredentialStore()
	tok, err := MintTempToken("ext-user", nil, -time.Minute)
	require.NoError(t, err)
	s.RegisterTempToken(tok, Identity{Name: "ext-user"})

	_, err = s.Resolve(context.Background(), tok.Token)
	assert.Error(t, err, "expired temp token should not resolve")
}

func TestCredentialStore_ResolveTempToken_Valid(t *testing.T) {
	s := NewCredentialStore()
	tok, err := MintTempToken("ext-user", nil, time.Hour)
	require.NoError(t, err)
	s.RegisterTempToken(tok, Identity{Name: "ext-user"})

	got, err := s.Resolve(context.Background(), tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "ext-user", got.Name)
}

func TestCredentialStore_PublicPaths(t *testing.T) {
	s := NewCredentialStore()
	s.SetPublicPaths([]string{"/healthz", "/public/*"})

	assert.True(t, s.IsPublicPath("/healthz"))
	assert.True(t, s.IsPublicPath("/public/status"))
	assert.False(t, s.IsPublicPath("/mcp"))
}

func TestParseAuthorizationHeader(t *testing.T) {
	tok, ok := ParseAuthorizationHeader("Bearer mcp_abc123")
	assert.True(t, ok)
	assert.Equal(t, "mcp_abc123", tok)

	_, ok = ParseAuthorizationHeader("Basic dXNlcjpwYXNz")
	assert.False(t, ok)
}
