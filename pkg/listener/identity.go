package listener

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"

	"github.com/mcpfed/gateway/pkg/authz"
)

// errMissingCredential is returned by resolveIdentity when a protected path
// carries no Authorization header and no API key header.
var errMissingCredential = errors.New("listener: missing credential")

// certIdentityFromState derives a CertIdentity from the verified leaf
// certificate of an established mTLS connection, or nil if none was
// presented (spec §3, §4.12).
func certIdentityFromState(state *tls.ConnectionState) *authz.CertIdentity {
	if state == nil || len(state.PeerCertificates) == 0 {
		return nil
	}
	leaf := state.PeerCertificates[0]
	return &authz.CertIdentity{
		CommonName: leaf.Subject.CommonName,
		OU:         firstOrEmpty(leaf.Subject.OrganizationalUnit),
		SANURIs:    uriStrings(leaf.URIs),
		SANDNS:     leaf.DNSNames,
	}
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func uriStrings(uris []*url.URL) []string {
	out := make([]string, len(uris))
	for i, u := range uris {
		out[i] = u.String()
	}
	return out
}

// resolveIdentity maps an inbound request's credential (Authorization
// header bearer token or API key) to an Identity via the credential store,
// falling back to an anonymous identity when auth is disabled or the path
// is public (spec §4.7.2).
func resolveIdentity(r *http.Request, creds *authz.CredentialStore) (authz.Identity, error) {
	if creds == nil || creds.IsPublicPath(r.URL.Path) {
		return authz.Identity{Name: "anonymous"}, nil
	}
	header := r.Header.Get("Authorization")
	token, ok := authz.ParseAuthorizationHeader(header)
	if !ok {
		token = r.Header.Get("X-API-Key")
	}
	if token == "" {
		return authz.Identity{}, errMissingCredential
	}
	return creds.Resolve(r.Context(), token)
}

// certFromRequest reports the verified client certificate, if the
// connection negotiated one.
func certFromRequest(r *http.Request) *authz.CertIdentity {
	if r.TLS == nil {
		return nil
	}
	return certIdentityFromState(r.TLS)
}
