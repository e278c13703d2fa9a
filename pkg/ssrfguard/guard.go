// Package ssrfguard rejects outbound connections to private, loopback,
// link-local and otherwise internal address space. Hostnames are resolved
// freshly per check and the address that passed validation is the address the
// dialer connects to, closing the DNS-rebinding gap between check and connect.
package ssrfguard

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"wbscanner/pkg/serrors"
)

// blockedPrefixes covers RFC1918, loopback, link-local, unique-local and the
// unspecified networks for both address families.
var blockedPrefixes = []netip.Prefix{ //nolint: gochecknoglobals
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// blockedHostnames are rejected without touching DNS.
var blockedHostnames = map[string]struct{}{ //nolint: gochecknoglobals
	"localhost": {},
	"0.0.0.0":   {},
	"::":        {},
	"::1":       {},
	"internal":  {},
	"metadata":  {},
	// cloud instance metadata endpoint
	"169.254.169.254": {},
}

// Resolver is the DNS dependency of the guard. *net.Resolver satisfies it;
// tests substitute deterministic fakes.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Guard validates hostnames and addresses against the internal-network
// policy. It is stateless and safe for concurrent use.
type Guard struct {
	resolver Resolver
}

// New creates a Guard backed by the given resolver. A nil resolver uses the
// system default.
func New(resolver Resolver) *Guard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	return &Guard{resolver: resolver}
}

// IsPrivateAddr reports whether addr falls in a blocked range. IPv4-mapped
// IPv6 addresses are checked as their embedded IPv4 address.
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}

	return false
}

// IsSafeHost resolves hostname and reports whether every returned address is
// outside the blocked ranges. Resolution failures fail closed: an
// unresolvable host is not safe. IP literals (including bracketed IPv6) are
// checked without touching DNS.
func (g *Guard) IsSafeHost(ctx context.Context, hostname string) bool {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if host == "" {
		return false
	}

	// URL hostnames for IPv6 literals can be bracketed (e.g. "[::1]"). A
	// bracketed value that is not an IP literal fails closed.
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		inner := host[1 : len(host)-1]
		addr, err := netip.ParseAddr(inner)
		if err != nil {
			return false
		}

		return !IsPrivateAddr(addr)
	}

	if _, blocked := blockedHostnames[host]; blocked {
		return false
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return !IsPrivateAddr(addr)
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		// fail closed
		return false
	}
	for _, addr := range addrs {
		if IsPrivateAddr(addr) {
			return false
		}
	}

	return true
}

// CheckHost is like IsSafeHost but returns the semantic error for callers
// that propagate the taxonomy.
func (g *Guard) CheckHost(ctx context.Context, hostname string) error {
	if !g.IsSafeHost(ctx, hostname) {
		return serrors.With(serrors.ErrSSRFBlocked, "host %q resolves to a blocked address", hostname)
	}

	return nil
}

// DialContext resolves the address itself, validates every candidate and
// connects to a validated IP, never to a name. Using the checked address for
// the actual connection is what makes the guard rebinding-safe: a resolver
// that returns a public address on the first lookup and a private one on the
// second cannot steer the connection inside.
func (g *Guard) DialContext(dialer *net.Dialer) func(ctx context.Context, network, address string) (net.Conn, error) {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 10 * time.Second}
	}

	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, fmt.Errorf("could not split host and port: %w", err)
		}

		var addrs []netip.Addr
		if addr, parseErr := netip.ParseAddr(strings.Trim(host, "[]")); parseErr == nil {
			addrs = []netip.Addr{addr}
		} else {
			addrs, err = g.resolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, serrors.Wrap(serrors.ErrSSRFBlocked, err, "could not resolve %q", host)
			}
		}
		if len(addrs) == 0 {
			return nil, serrors.With(serrors.ErrSSRFBlocked, "no addresses for %q", host)
		}

		var lastErr error
		for _, addr := range addrs {
			if IsPrivateAddr(addr) {
				return nil, serrors.With(serrors.ErrSSRFBlocked, "host %q resolves to blocked address %s", host, addr)
			}
		}
		for _, addr := range addrs {
			conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
			if dialErr == nil {
				return conn, nil
			}
			lastErr = dialErr
		}

		return nil, fmt.Errorf("could not dial %q: %w", address, lastErr)
	}
}
