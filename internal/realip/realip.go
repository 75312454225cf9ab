package realip

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/yl2chen/cidranger"
)

// Resolver extracts the originating client address for a request.
// Forwarding headers are spoofable, so they are honoured only when the
// direct peer sits inside a configured trusted-proxy range.
type Resolver struct {
	ranger   cidranger.Ranger
	hasRules bool
}

// NewResolver builds a resolver from CIDR ranges. Bare addresses are
// accepted as single-host networks.
func NewResolver(trusted []string) (*Resolver, error) {
	ranger := cidranger.NewPCTrieRanger()
	count := 0
	for _, raw := range trusted {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", raw)
			}
			if ip.To4() != nil {
				raw += "/32"
			} else {
				raw += "/128"
			}
		}
		_, network, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		if err := ranger.Insert(cidranger.NewBasicRangerEntry(*network)); err != nil {
			return nil, fmt.Errorf("index trusted proxy %q: %w", raw, err)
		}
		count++
	}
	return &Resolver{ranger: ranger, hasRules: count > 0}, nil
}

func (r *Resolver) trustedPeer(ip net.IP) bool {
	if r == nil || !r.hasRules || ip == nil {
		return false
	}
	ok, err := r.ranger.Contains(ip)
	return err == nil && ok
}

// ClientIP resolves the client address. With a trusted peer the first
// valid X-Forwarded-For hop wins, then X-Real-IP; otherwise the peer
// address itself is the answer.
func (r *Resolver) ClientIP(req *http.Request) string {
	peer := remoteIP(req.RemoteAddr)
	if peer == nil {
		return req.RemoteAddr
	}
	if !r.trustedPeer(peer) {
		return peer.String()
	}

	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip.String()
			}
		}
	}
	if real := strings.TrimSpace(req.Header.Get("X-Real-IP")); real != "" {
		if ip := net.ParseIP(real); ip != nil {
			return ip.String()
		}
	}
	return peer.String()
}

func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(strings.Trim(host, "[]"))
}
