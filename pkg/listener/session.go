package listener

import (
	"net/http"

	"github.com/mcpfed/gateway/pkg/session"
)

// bindSession resolves the caller's identity and certificate, admits a new
// Session into the bounded table, and returns it. Clients that want a
// durable session across multiple POSTs should reuse the X-Session-Id
// header returned by the SSE handshake; a fresh session is created
// otherwise (spec §4.11).
func (s *Server) bindSession(r *http.Request) (*session.Session, error) {
	identity, err := resolveIdentity(r, s.cfg.Credentials)
	if err != nil {
		return nil, err
	}

	if id := r.Header.Get("X-Session-Id"); id != "" {
		if existing, ok := s.sessions.Get(id); ok {
			return existing, nil
		}
	}

	sess := session.New(identity, r.Header.Get("X-Client-Name"), r.Header.Get("X-Protocol-Version"))
	sess.Cert = certFromRequest(r)
	sess.RequireClientCert = s.cfg.TLS != nil && s.cfg.TLS.CAFile != "" && s.cfg.TLS.RequireClientCert

	if err := s.sessions.Admit(sess); err != nil {
		return nil, err
	}
	return sess, nil
}
