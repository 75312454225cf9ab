package verify

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

type fakeResolver struct {
	ptrs        map[string][]string
	hosts       map[string][]string
	addrErr     error
	addrLookups atomic.Int64
}

func (f *fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	f.addrLookups.Add(1)
	if f.addrErr != nil {
		return nil, f.addrErr
	}
	names, ok := f.ptrs[addr]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: addr, IsNotFound: true}
	}
	return names, nil
}

func (f *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	addrs, ok := f.hosts[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func TestVerifyForwardConfirmed(t *testing.T) {
	resolver := &fakeResolver{
		ptrs:  map[string][]string{"66.249.66.1": {"crawl-66-249-66-1.googlebot.com."}},
		hosts: map[string][]string{"crawl-66-249-66-1.googlebot.com": {"66.249.66.1"}},
	}
	v := NewVerifier(resolver, time.Second, time.Hour)

	verified, known := v.Verify(context.Background(), "Google", "66.249.66.1")
	if !known {
		t.Fatal("expected a known answer")
	}
	if !verified {
		t.Fatal("expected forward-confirmed lookup to verify")
	}
}

func TestVerifySpoofedReverseName(t *testing.T) {
	resolver := &fakeResolver{
		ptrs:  map[string][]string{"203.0.113.50": {"googlebot.com.attacker.example."}},
		hosts: map[string][]string{"googlebot.com.attacker.example": {"203.0.113.50"}},
	}
	v := NewVerifier(resolver, time.Second, time.Hour)

	verified, known := v.Verify(context.Background(), "Google", "203.0.113.50")
	if !known {
		t.Fatal("expected a known answer")
	}
	if verified {
		t.Fatal("reverse name outside the operator domain must not verify")
	}
}

func TestVerifyForwardMismatch(t *testing.T) {
	resolver := &fakeResolver{
		ptrs:  map[string][]string{"203.0.113.51": {"crawl-66-249-66-1.googlebot.com."}},
		hosts: map[string][]string{"crawl-66-249-66-1.googlebot.com": {"66.249.66.1"}},
	}
	v := NewVerifier(resolver, time.Second, time.Hour)

	verified, known := v.Verify(context.Background(), "Google", "203.0.113.51")
	if !known {
		t.Fatal("expected a known answer")
	}
	if verified {
		t.Fatal("forward lookup resolving elsewhere must not verify")
	}
}

func TestVerifyNoPTRRecord(t *testing.T) {
	resolver := &fakeResolver{ptrs: map[string][]string{}, hosts: map[string][]string{}}
	v := NewVerifier(resolver, time.Second, time.Hour)

	verified, known := v.Verify(context.Background(), "OpenAI", "198.51.100.7")
	if !known {
		t.Fatal("a missing PTR record is a definitive answer")
	}
	if verified {
		t.Fatal("missing PTR record must not verify")
	}
}

func TestVerifyResolverOutageIsUnknown(t *testing.T) {
	resolver := &fakeResolver{
		addrErr: &net.DNSError{Err: "i/o timeout", Name: "198.51.100.8", IsTimeout: true},
	}
	v := NewVerifier(resolver, time.Second, time.Hour)

	if _, known := v.Verify(context.Background(), "Google", "198.51.100.8"); known {
		t.Fatal("resolver timeouts must not produce an answer")
	}
	// Unknown results are not cached, so the next call retries.
	v.Verify(context.Background(), "Google", "198.51.100.8")
	if got := resolver.addrLookups.Load(); got != 2 {
		t.Fatalf("expected 2 lookups, got %d", got)
	}
}

func TestVerifyUnknownCompany(t *testing.T) {
	v := NewVerifier(&fakeResolver{}, time.Second, time.Hour)

	if _, known := v.Verify(context.Background(), "HederaBot", "66.249.66.1"); known {
		t.Fatal("companies without published rDNS cannot be verified")
	}
	if Verifiable("HederaBot") {
		t.Fatal("HederaBot should not be verifiable")
	}
	if !Verifiable("Anthropic") {
		t.Fatal("Anthropic should be verifiable")
	}
}

func TestVerifyCachesKnownAnswers(t *testing.T) {
	resolver := &fakeResolver{
		ptrs:  map[string][]string{"17.241.75.9": {"17-241-75-9.applebot.apple.com."}},
		hosts: map[string][]string{"17-241-75-9.applebot.apple.com": {"17.241.75.9"}},
	}
	v := NewVerifier(resolver, time.Second, time.Hour)

	for i := 0; i < 5; i++ {
		if verified, _ := v.Verify(context.Background(), "Apple", "17.241.75.9"); !verified {
			t.Fatal("expected verification to hold")
		}
	}
	if got := resolver.addrLookups.Load(); got != 1 {
		t.Fatalf("expected a single resolver hit, got %d", got)
	}
}

func TestVerifyCacheExpires(t *testing.T) {
	resolver := &fakeResolver{
		ptrs:  map[string][]string{"17.241.75.9": {"17-241-75-9.applebot.apple.com."}},
		hosts: map[string][]string{"17-241-75-9.applebot.apple.com": {"17.241.75.9"}},
	}
	v := NewVerifier(resolver, time.Second, time.Hour)
	base := time.Now()
	v.now = func() time.Time { return base }

	v.Verify(context.Background(), "Apple", "17.241.75.9")
	v.now = func() time.Time { return base.Add(2 * time.Hour) }
	v.Verify(context.Background(), "Apple", "17.241.75.9")

	if got := resolver.addrLookups.Load(); got != 2 {
		t.Fatalf("expected a fresh lookup after expiry, got %d", got)
	}
}
