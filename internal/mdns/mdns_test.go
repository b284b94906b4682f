package mdns

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestFromEntryMergesAddresses(t *testing.T) {
	e := zeroconf.NewServiceEntry(`rtl_tcp\ on\ shack`, DefaultService, "local.")
	e.HostName = "shack.local."
	e.Port = 1234
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	e.Text = []string{"tuner=R820T"}

	s := fromEntry(e)
	if s.Instance != "rtl_tcp on shack" {
		t.Fatalf("expected unescaped instance, got %q", s.Instance)
	}
	if len(s.Addresses) != 2 || !s.Addresses[0].Equal(net.ParseIP("192.168.1.20")) {
		t.Fatalf("expected IPv4 first, got %v", s.Addresses)
	}
	if s.Address() != "192.168.1.20:1234" {
		t.Fatalf("unexpected address %q", s.Address())
	}
}

func TestAddressFallbacks(t *testing.T) {
	cases := []struct {
		name string
		srv  Server
		want string
	}{
		{"hostname", Server{Hostname: "pi.local.", Port: 1234}, "pi.local:1234"},
		{"ipv6 only", Server{Addresses: []net.IP{net.ParseIP("fe80::2")}, Port: 7373}, "[fe80::2]:7373"},
		{"ipv6 with hostname", Server{Hostname: "pi.local.", Addresses: []net.IP{net.ParseIP("fe80::2")}, Port: 1}, "pi.local:1"},
	}
	for _, tc := range cases {
		if got := tc.srv.Address(); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
