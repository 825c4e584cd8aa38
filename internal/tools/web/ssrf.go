package web

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"syscall"
)

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// CheckSSRF resolves host and rejects private or internal addresses.
func CheckSSRF(ctx context.Context, host string) error {
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("DNS resolution failed for %q: %w", host, err)
	}
	for _, addr := range addrs {
		if IsPrivateAddr(addr) {
			return fmt.Errorf("SSRF blocked: host %q resolves to private IP %s", host, addr)
		}
	}
	return nil
}

// IsPrivateAddr reports loopback, link-local, unspecified and private ranges.
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// guardedDialControl re-checks the address actually dialed, closing the
// window between the DNS check and the connection.
func guardedDialControl(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("SSRF blocked: unparsable address %q", address)
	}
	if IsPrivateAddr(ap.Addr()) {
		return fmt.Errorf("SSRF blocked: dial to private IP %s", ap.Addr())
	}
	return nil
}

// IsDomainAllowed reports whether host is in the allowlist. An entry of the
// form ".example.com" also matches subdomains.
func IsDomainAllowed(host string, allowedDomains []string) bool {
	host = strings.ToLower(host)
	for _, d := range allowedDomains {
		d = strings.ToLower(d)
		if d == host {
			return true
		}
		if strings.HasPrefix(d, ".") && strings.HasSuffix(host, d) {
			return true
		}
	}
	return false
}
