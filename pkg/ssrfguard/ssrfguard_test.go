package ssrfguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckURL_BlocksLoopbackAndPrivate(t *testing.T) {
	t.Parallel()
	blocked := []string{
		"http://127.0.0.1/x",
		"http://10.0.0.1/x",
		"http://[::ffff:127.0.0.1]/x",
		"http://[::1]/x",
		"http://192.168.1.5/x",
		"http://169.254.1.1/x",
	}
	for _, raw := range blocked {
		err := CheckURL(raw)
		require.Error(t, err, raw)
		assert.Contains(t, err.Error(), "SSRF", raw)
	}
}

func TestCheckURL_BlocksTunneledPrivateIPv4(t *testing.T) {
	t.Parallel()
	blocked := []string{
		// CGN shared address space (100.64.0.0/10)
		"http://100.64.0.1/x",
		// TEST-NET-1/2/3 documentation ranges
		"http://192.0.2.1/x",
		"http://198.51.100.1/x",
		"http://203.0.113.1/x",
		// limited broadcast
		"http://255.255.255.255/x",
		// deprecated IPv4-compatible IPv6 embedding 10.0.0.1
		"http://[::10.0.0.1]/x",
		// 6to4 embedding 10.0.0.1
		"http://[2002:0a00:0001::]/x",
		// Teredo client embedding 10.0.0.1
		"http://[2001:0000:0000:0000:0000:0000:f5ff:fffe]/x",
	}
	for _, raw := range blocked {
		err := CheckURL(raw)
		require.Error(t, err, raw)
		assert.Contains(t, err.Error(), "SSRF", raw)
	}
}

func TestCheckURL_AllowsTunneledPublicIPv4(t *testing.T) {
	t.Parallel()
	allowed := []string{
		"http://[::8.8.8.8]/x",        // IPv4-compatible embedding a public address
		"http://[2002:0808:0808::]/x", // 6to4 embedding 8.8.8.8
	}
	for _, raw := range allowed {
		require.NoError(t, CheckURL(raw), raw)
	}
}

func TestCheckURL_AllowsPublicAddress(t *testing.T) {
	t.Parallel()
	require.NoError(t, CheckURL("http://8.8.8.8/x"))
}

func TestCheckURL_AllowsPlainHostname(t *testing.T) {
	t.Parallel()
	require.NoError(t, CheckURL("https://backend.example.com/mcp"))
}

func TestCheckURL_RejectsMalformed(t *testing.T) {
	t.Parallel()
	require.Error(t, CheckURL("://not a url"))
}
