package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ResolveClientIP returns the first X-Forwarded-For hop when the header is
// present, otherwise the peer address without its port. An empty first hop
// (", 1.2.3.4") counts as no header: the peer address is used and later hops
// are never promoted. Deployments must make sure only trusted proxies can set
// the header.
func ResolveClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// AnonymizeIP zeroes the host part of an address: the last IPv4 octet, or the
// last two colon groups of an IPv6 address followed by "::". Anything that
// does not parse is returned unchanged.
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}

	if addr.Is4() {
		parts := strings.Split(ip, ".")
		return strings.Join(append(parts[:3], "0"), ".")
	}

	idx := strings.LastIndex(ip, ":")
	if idx <= 0 {
		return ip
	}
	idx = strings.LastIndex(ip[:idx], ":")
	if idx < 0 {
		return ip
	}
	return ip[:idx] + "::"
}

// StoredAddress is the form persisted in request events and matched by the
// blacklist gate.
func StoredAddress(ip string, anonymize bool) string {
	if anonymize {
		return AnonymizeIP(ip)
	}
	return ip
}
