package ssrfguard_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"wbscanner/pkg/serrors"
	"wbscanner/pkg/ssrfguard"

	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	addrs map[string][]netip.Addr
	err   error
}

func (f *fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.addrs[host], nil
}

func addr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func TestIsPrivateAddr(t *testing.T) {
	tests := []struct {
		addr    string
		private bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.32.0.1", false},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
		{"::1", true},
		{"fe80::1", true},
		{"fd00::1", true},
		{"2001:4860:4860::8888", false},
		// IPv4-mapped IPv6 is checked as its embedded IPv4 address
		{"::ffff:192.168.1.1", true},
		{"::ffff:8.8.8.8", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			require.Equal(t, tt.private, ssrfguard.IsPrivateAddr(addr(tt.addr)))
		})
	}
}

func TestIsSafeHost(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]netip.Addr{
		"public.test":  {addr("93.184.216.34")},
		"rebound.test": {addr("93.184.216.34"), addr("10.0.0.5")},
		"empty.test":   {},
	}}
	guard := ssrfguard.New(resolver)
	ctx := context.Background()

	tests := []struct {
		name string
		host string
		safe bool
	}{
		{"public hostname", "public.test", true},
		{"mixed public and private fails closed", "rebound.test", false},
		{"no addresses fails closed", "empty.test", false},
		{"unknown host fails closed", "unknown.test", false},
		{"localhost blocked without dns", "localhost", false},
		{"metadata endpoint blocked without dns", "169.254.169.254", false},
		{"public ip literal", "8.8.8.8", true},
		{"private ip literal", "192.168.0.10", false},
		{"bracketed loopback", "[::1]", false},
		{"bracketed public ipv6", "[2001:4860:4860::8888]", true},
		{"bracketed garbage fails closed", "[not-an-ip]", false},
		{"empty host", "", false},
		{"case insensitive hostname block", "LOCALHOST", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.safe, guard.IsSafeHost(ctx, tt.host))
		})
	}
}

func TestIsSafeHostResolverError(t *testing.T) {
	guard := ssrfguard.New(&fakeResolver{err: errors.New("dns broken")})

	require.False(t, guard.IsSafeHost(context.Background(), "example.com"))
}

func TestCheckHostReturnsSSRFKind(t *testing.T) {
	guard := ssrfguard.New(&fakeResolver{addrs: map[string][]netip.Addr{
		"public.test": {addr("93.184.216.34")},
	}})
	ctx := context.Background()

	require.NoError(t, guard.CheckHost(ctx, "public.test"))

	err := guard.CheckHost(ctx, "10.0.0.1")
	require.Error(t, err)
	require.ErrorIs(t, err, serrors.ErrSSRFBlocked)
}

func TestDialContextRejectsPrivateResolution(t *testing.T) {
	guard := ssrfguard.New(&fakeResolver{addrs: map[string][]netip.Addr{
		"rebind.test": {addr("10.0.0.5")},
	}})
	dial := guard.DialContext(nil)

	_, err := dial(context.Background(), "tcp", "rebind.test:443")
	require.Error(t, err)
	require.ErrorIs(t, err, serrors.ErrSSRFBlocked)

	_, err = dial(context.Background(), "tcp", "192.168.1.1:80")
	require.Error(t, err)
	require.ErrorIs(t, err, serrors.ErrSSRFBlocked)
}

// sequencedResolver answers each lookup from the next entry, the way a
// rebinding nameserver flips its answer between queries.
type sequencedResolver struct {
	responses [][]netip.Addr
	calls     int
}

func (s *sequencedResolver) LookupNetIP(context.Context, string, string) ([]netip.Addr, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++

	return s.responses[i], nil
}

func TestDialContextBlocksRebindingBetweenCheckAndDial(t *testing.T) {
	resolver := &sequencedResolver{responses: [][]netip.Addr{
		{addr("93.184.216.34")},
		{addr("10.0.0.5")},
	}}
	guard := ssrfguard.New(resolver)
	ctx := context.Background()

	// the pre-flight check sees the public answer and passes
	require.NoError(t, guard.CheckHost(ctx, "rebind.test"))

	// the dialer resolves again; the flipped private answer must not connect
	dial := guard.DialContext(nil)
	_, err := dial(ctx, "tcp", "rebind.test:443")
	require.Error(t, err)
	require.ErrorIs(t, err, serrors.ErrSSRFBlocked)
	require.Equal(t, 2, resolver.calls)
}

func TestDialContextRequiresHostPort(t *testing.T) {
	guard := ssrfguard.New(&fakeResolver{})
	dial := guard.DialContext(nil)

	_, err := dial(context.Background(), "tcp", "missing-port")
	require.Error(t, err)
}
