// Package ssrfguard validates outbound backend URLs against loopback,
// link-local, and private address ranges (spec §8 testable scenario 5:
// "SSRF blocked"). It is applied to every configured backend base_url when
// the configuration is validated (pkg/config), and by
// registry.BackendSpec.Validate, so a misconfigured or malicious backend
// spec cannot point the gateway's HTTP transport at internal infrastructure.
package ssrfguard

import (
	"fmt"
	"net"
	"net/url"

	"github.com/mcpfed/gateway/pkg/gwerr"
)

// CheckURL returns an error if rawURL resolves to a loopback, link-local, or
// private address. It does not perform DNS resolution for hostnames that
// are not already literal IPs; callers that need resolved-address
// enforcement should resolve first and call CheckHost with the result.
func CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return gwerr.InvalidRequest(fmt.Sprintf("SSRF guard: malformed backend URL: %v", err))
	}
	host := u.Hostname()
	if host == "" {
		return gwerr.InvalidRequest("SSRF guard: backend URL has no host")
	}
	return CheckHost(host)
}

// CheckHost validates a single hostname or IP literal.
func CheckHost(host string) error {
	ip := net.ParseIP(host)
	if ip == nil {
		// Not a literal IP; hostname resolution happens at dial time and is
		// outside this guard's purview (spec scenario 5 only enumerates IP
		// literals). Plain hostnames are allowed here.
		return nil
	}
	if isBlockedIP(ip) {
		return gwerr.InvalidRequest(fmt.Sprintf("SSRF guard: backend URL targets a disallowed address %q", host))
	}
	return nil
}

// isBlockedIP reports whether ip falls in loopback, link-local, unspecified,
// or private ranges, including the various IPv6 tunneling and mapping forms
// that can smuggle a private IPv4 address past a naive literal check
// (127.0.0.1, 10.0.0.1, ::ffff:127.0.0.1, ::1, 6to4, Teredo).
func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		// To4 already unwraps the standard IPv4-mapped form (::ffff:a.b.c.d).
		return isPrivateV4(v4)
	}
	if ip.IsPrivate() {
		// Covers 10/8, 172.16/12, 192.168/16, and IPv6 unique local (fc00::/7).
		return true
	}
	if embedded, ok := extractIPv4Compatible(ip); ok {
		return isPrivateV4(embedded)
	}
	if embedded, ok := extractIPv4From6to4(ip); ok {
		return isPrivateV4(embedded)
	}
	if embedded, ok := extractIPv4FromTeredo(ip); ok {
		return isPrivateV4(embedded)
	}
	return false
}

// isPrivateV4 reports whether a 4-byte IPv4 address is loopback, private,
// link-local, broadcast, unspecified, carrier-grade-NAT shared space
// (100.64.0.0/10), or one of the TEST-NET documentation ranges
// (192.0.2.0/24, 198.51.100.0/24, 203.0.113.0/24).
func isPrivateV4(ip net.IP) bool {
	return ip[0] == 127 ||
		ip[0] == 10 ||
		(ip[0] == 172 && ip[1] >= 16 && ip[1] <= 31) ||
		(ip[0] == 192 && ip[1] == 168) ||
		(ip[0] == 169 && ip[1] == 254) ||
		ip.Equal(net.IPv4bcast) ||
		ip.IsUnspecified() ||
		isSharedAddress(ip) ||
		isDocumentation(ip)
}

// isSharedAddress reports 100.64.0.0/10, the carrier-grade-NAT shared
// address space (RFC 6598).
func isSharedAddress(ip net.IP) bool {
	return ip[0] == 100 && ip[1]&0xC0 == 64
}

// isDocumentation reports the TEST-NET-1/2/3 ranges reserved for
// documentation (RFC 5737): 192.0.2.0/24, 198.51.100.0/24, 203.0.113.0/24.
func isDocumentation(ip net.IP) bool {
	return (ip[0] == 192 && ip[1] == 0 && ip[2] == 2) ||
		(ip[0] == 198 && ip[1] == 51 && ip[2] == 100) ||
		(ip[0] == 203 && ip[1] == 0 && ip[2] == 113)
}

// extractIPv4Compatible extracts the embedded IPv4 address from the
// deprecated IPv4-compatible IPv6 form (::a.b.c.d), distinct from the
// standard IPv4-mapped form (::ffff:a.b.c.d) that net.IP.To4 already
// unwraps.
func extractIPv4Compatible(ip net.IP) (net.IP, bool) {
	ip16 := ip.To16()
	if ip16 == nil {
		return nil, false
	}
	for i := 0; i < 10; i++ {
		if ip16[i] != 0 {
			return nil, false
		}
	}
	if ip16[10] != 0 || ip16[11] != 0 {
		return nil, false
	}
	// Exclude :: and ::1, which are handled by IsUnspecified/IsLoopback.
	v4 := net.IPv4(ip16[12], ip16[13], ip16[14], ip16[15]).To4()
	if v4.Equal(net.IPv4zero) || v4.Equal(net.IPv4(0, 0, 0, 1)) {
		return nil, false
	}
	return v4, true
}

// extractIPv4From6to4 extracts the embedded IPv4 address from a 6to4
// (2002::/16, RFC 3056) address, which can tunnel a private IPv4 address
// past a filter that only inspects the IPv6 literal.
func extractIPv4From6to4(ip net.IP) (net.IP, bool) {
	ip16 := ip.To16()
	if ip16 == nil || ip16[0] != 0x20 || ip16[1] != 0x02 {
		return nil, false
	}
	return net.IPv4(ip16[2], ip16[3], ip16[4], ip16[5]).To4(), true
}

// extractIPv4FromTeredo extracts the obfuscated client IPv4 address from a
// Teredo (2001:0000::/32, RFC 4380) address; the embedded octets are XORed
// with 0xFF.
func extractIPv4FromTeredo(ip net.IP) (net.IP, bool) {
	ip16 := ip.To16()
	if ip16 == nil || ip16[0] != 0x20 || ip16[1] != 0x01 || ip16[2] != 0x00 || ip16[3] != 0x00 {
		return nil, false
	}
	return net.IPv4(ip16[12]^0xFF, ip16[13]^0xFF, ip16[14]^0xFF, ip16[15]^0xFF).To4(), true
}
