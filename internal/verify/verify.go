package verify

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"
)

// operatorDomains maps crawler operators to the DNS suffixes their
// published crawler ranges reverse-resolve under.
var operatorDomains = map[string][]string{
	"Google":     {".googlebot.com", ".google.com"},
	"Microsoft":  {".search.msn.com"},
	"Apple":      {".applebot.apple.com"},
	"OpenAI":     {".openai.com"},
	"Anthropic":  {".anthropic.com"},
	"Perplexity": {".perplexity.ai"},
	"Amazon":     {".crawl.amazonbot.amazon"},
	"DuckDuckGo": {".duckduckgo.com"},
	"Baidu":      {".crawl.baidu.com"},
	"Yandex":     {".yandex.ru", ".yandex.net", ".yandex.com"},
}

// Verifiable reports whether company publishes rDNS for its crawlers.
func Verifiable(company string) bool {
	_, ok := operatorDomains[company]
	return ok
}

// Resolver is the DNS surface needed for crawler verification.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type cacheEntry struct {
	verified bool
	expires  time.Time
}

const cacheCap = 4096

// Verifier confirms crawler identity with forward-confirmed reverse DNS:
// the client IP must reverse-resolve into the operator's domain, and that
// hostname must resolve back to the same IP. Results are cached so the
// logging path does not hit the resolver per event.
type Verifier struct {
	resolver Resolver
	timeout  time.Duration
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewVerifier builds a verifier. A nil resolver uses the system resolver.
func NewVerifier(resolver Resolver, timeout, ttl time.Duration) *Verifier {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Verifier{
		resolver: resolver,
		timeout:  timeout,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// Verify reports whether ip is genuine infrastructure of company, and
// whether an answer is known at all. Resolver outages answer unknown; a
// missing PTR record is a definitive no.
func (v *Verifier) Verify(ctx context.Context, company, ip string) (verified, known bool) {
	suffixes := operatorDomains[company]
	if len(suffixes) == 0 || ip == "" {
		return false, false
	}

	key := company + "|" + ip
	now := v.now()
	v.mu.Lock()
	if e, ok := v.cache[key]; ok && now.Before(e.expires) {
		v.mu.Unlock()
		return e.verified, true
	}
	v.mu.Unlock()

	verified, known = v.check(ctx, suffixes, ip)
	if known {
		v.mu.Lock()
		if len(v.cache) >= cacheCap {
			v.prune(now)
		}
		v.cache[key] = cacheEntry{verified: verified, expires: now.Add(v.ttl)}
		v.mu.Unlock()
	}
	return verified, known
}

func (v *Verifier) check(ctx context.Context, suffixes []string, ip string) (bool, bool) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	names, err := v.resolver.LookupAddr(ctx, ip)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return false, true
		}
		return false, false
	}

	want := net.ParseIP(ip)
	for _, name := range names {
		host := strings.TrimSuffix(strings.ToLower(name), ".")
		if !matchesSuffix(host, suffixes) {
			continue
		}
		addrs, err := v.resolver.LookupHost(ctx, host)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if got := net.ParseIP(addr); got != nil && got.Equal(want) {
				return true, true
			}
		}
	}
	return false, true
}

func matchesSuffix(host string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// prune drops expired entries; when nothing has expired the cache is
// reset outright, which is cheaper than tracking recency for a cache
// this small.
func (v *Verifier) prune(now time.Time) {
	for key, e := range v.cache {
		if !now.Before(e.expires) {
			delete(v.cache, key)
		}
	}
	if len(v.cache) >= cacheCap {
		v.cache = make(map[string]cacheEntry)
	}
}
