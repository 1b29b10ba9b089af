package authz

import "testing"

func TestIdentity_AllowsBackend(t *testing.T) {
	open := Identity{}
	if !open.AllowsBackend("fs") {
		t.Error("empty Backends should allow everything")
	}

	scoped := Identity{Backends: []string{"fs", "search*"}}
	if !scoped.AllowsBackend("search-web") {
		t.Error("expected glob match to allow search-web")
	}
	if scoped.AllowsBackend("db") {
		t.Error("expected db to be denied")
	}
}

func TestIdentity_AllowsTool_DenyPrecedesAllow(t *testing.T) {
	id := Identity{
		ToolAllow: []string{"*"},
		ToolDeny:  []string{"delete_*"},
	}
	if id.AllowsTool("fs", "delete_file") {
		t.Error("expected delete_file to be denied despite wildcard allow")
	}
	if !id.AllowsTool("fs", "read_file") {
		t.Error("expected read_file to be allowed")
	}
}

func TestIdentity_AllowsTool_QualifiedName(t *testing.T) {
	id := Identity{ToolDeny: []string{"fs:write_file"}}
	if id.AllowsTool("fs", "write_file") {
		t.Error("expected qualified deny to block fs:write_file")
	}
	if !id.AllowsTool("other", "write_file") {
		t.Error("qualified deny should not affect a different backend")
	}
}

func TestCertIdentity_DisplayLabel(t *testing.T) {
	cases := []struct {
		name string
		c    CertIdentity
		want string
	}{
		{"prefers SAN URI", CertIdentity{CommonName: "svc", SANURIs: []string{"spiffe://cluster/svc"}}, "spiffe://cluster/svc"},
		{"falls back to CN", CertIdentity{CommonName: "svc"}, "svc"},
		{"falls back to unknown", CertIdentity{}, "<unknown>"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.c.DisplayLabel(); got != c.want {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestRoutingProfile_AllowsBackendAndTool(t *testing.T) {
	p := RoutingProfile{
		BackendAllow: []string{"fs", "search*"},
		BackendDeny:  []string{"search-internal"},
		ToolAllow:    []string{"read_*"},
		ToolDeny:     []string{"read_secret"},
	}
	if !p.AllowsBackend("search-web") {
		t.Error("expected search-web to be allowed")
	}
	if p.AllowsBackend("search-internal") {
		t.Error("expected search-internal to be denied despite matching allow glob")
	}
	if !p.AllowsTool("fs", "read_file") {
		t.Error("expected read_file to be allowed")
	}
	if p.AllowsTool("fs", "read_secret") {
		t.Error("expected read_secret to be denied")
	}
}
