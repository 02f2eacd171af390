package dns

import (
	"context"
	"net"
	"testing"
)

func TestLookupPassesLiteralsThrough(t *testing.T) {
	for _, host := range []string{"127.0.0.1", "::1", "2606:4700:4700::1111"} {
		got, err := Lookup(context.Background(), host)
		if err != nil || got != host {
			t.Errorf("Lookup(%q) = %q, %v", host, got, err)
		}
	}
}

func TestLookupLocalhost(t *testing.T) {
	got, err := Lookup(context.Background(), "localhost")
	if err != nil {
		t.Skipf("no resolver for localhost: %v", err)
	}
	if ip := net.ParseIP(got); ip == nil || !ip.IsLoopback() {
		t.Fatalf("Lookup(localhost) = %q", got)
	}
}

func TestPublicResolversAreBareAddresses(t *testing.T) {
	for _, server := range publicDNS {
		if net.ParseIP(server) == nil {
			t.Errorf("%q is not an IP literal", server)
		}
	}
}
