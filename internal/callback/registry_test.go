package callback

import (
	"net"
	"testing"
	"time"
)

func addr(s string) net.Addr {
	a, _ := net.ResolveUDPAddr("udp", s)
	return a
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := New()
	r.Register(9999, addr("127.0.0.1:9000"), 60)
	r.Register(9999, addr("127.0.0.1:9000"), 60)
	if got := len(r.Addresses(0)); got != 1 {
		t.Fatalf("expected 1 address, got %d", got)
	}
}

func TestUnregisterReturnsWhetherExisted(t *testing.T) {
	r := New()
	if r.Unregister(1) {
		t.Fatalf("expected false for never-registered client")
	}
	r.Register(1, addr("127.0.0.1:9000"), 60)
	if !r.Unregister(1) {
		t.Fatalf("expected true for registered client")
	}
	if r.Unregister(1) {
		t.Fatalf("expected false on second unregister")
	}
}

func TestAddressesExcludesGivenClient(t *testing.T) {
	r := New()
	r.Register(1001, addr("127.0.0.1:9001"), 60)
	r.Register(9999, addr("127.0.0.1:9999"), 60)

	got := r.Addresses(1001)
	if len(got) != 1 || got[0].String() != "127.0.0.1:9999" {
		t.Fatalf("expected only monitor address, got %v", got)
	}
}

// TestRegistryExpiry exercises spec.md invariant 10: after a registration
// with TTL t, Addresses excludes that clientId once wall time has advanced
// by >= t.
func TestRegistryExpiry(t *testing.T) {
	r := New()
	base := time.Now()
	r.now = func() time.Time { return base }

	r.Register(9999, addr("127.0.0.1:9999"), 5)
	if len(r.Addresses(0)) != 1 {
		t.Fatalf("expected registrant present before expiry")
	}

	r.now = func() time.Time { return base.Add(5 * time.Second) }
	if got := r.Addresses(0); len(got) != 0 {
		t.Fatalf("expected registrant pruned at exact expiry, got %v", got)
	}
}

func TestLen(t *testing.T) {
	r := New()
	r.Register(1, addr("127.0.0.1:1"), 60)
	r.Register(2, addr("127.0.0.1:2"), 60)
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}
