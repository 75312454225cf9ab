package admission

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Filter decides which requests bypass detection entirely. It is built once
// from configuration and is safe for concurrent use.
type Filter struct {
	rules      []rule
	originHost string
	skipAll    bool
}

// rule is one configured exclusion entry. Entries containing regex
// metacharacters that compile become unanchored patterns; everything else
// matches as a literal substring. Invalid patterns fall back to literal.
type rule struct {
	raw string
	re  *regexp.Regexp
}

func (r rule) matches(path string) bool {
	if r.re != nil {
		return r.re.MatchString(path)
	}
	return strings.Contains(path, r.raw)
}

const regexMeta = `\.+*?()|[]{}^$`

func classify(entry string) rule {
	if strings.ContainsAny(entry, regexMeta) {
		if re, err := regexp.Compile(entry); err == nil {
			return rule{raw: entry, re: re}
		}
	}
	return rule{raw: entry}
}

// New builds a Filter from exclusion entries and the configured origin URL.
// An empty origin disables hostname gating. An unparsable origin makes the
// filter skip every request instead of failing construction.
func New(excludePaths []string, origin string) *Filter {
	f := &Filter{rules: make([]rule, 0, len(excludePaths))}
	for _, entry := range excludePaths {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		f.rules = append(f.rules, classify(entry))
	}

	origin = strings.TrimSpace(origin)
	if origin == "" {
		return f
	}
	host, ok := originHostname(origin)
	if !ok {
		f.skipAll = true
		return f
	}
	f.originHost = host
	return f
}

// ShouldSkip reports whether the request identified by path and hostname
// bypasses detection. First matching exclusion entry wins.
func (f *Filter) ShouldSkip(path, hostname string) bool {
	if f.skipAll {
		return true
	}
	for _, r := range f.rules {
		if r.matches(path) {
			return true
		}
	}
	if f.originHost == "" {
		return false
	}
	return !strings.EqualFold(normaliseHost(hostname), f.originHost)
}

// originHostname extracts the hostname from a configured origin, assuming
// https when the scheme is absent.
func originHostname(origin string) (string, bool) {
	if !strings.Contains(origin, "://") {
		origin = "https://" + origin
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return strings.ToLower(u.Hostname()), true
}

// normaliseHost strips an optional port from a request host header value.
func normaliseHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}
