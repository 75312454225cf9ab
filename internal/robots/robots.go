package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// Checker answers whether the origin's robots.txt permits a crawler on a
// given path. It backs the compliance annotation on logged events, so
// lookups must stay cheap: the ruleset is cached per process and refreshed
// at most once per TTL, and an unavailable robots.txt yields "unknown"
// rather than a guess.
type Checker struct {
	client *http.Client
	origin *url.URL
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	rules   *robotstxt.RobotsData
	fetched time.Time
}

// NewChecker builds a checker for one origin. A nil origin produces a
// checker that always answers unknown.
func NewChecker(origin *url.URL, client *http.Client, ttl time.Duration) *Checker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Checker{
		client: client,
		origin: origin,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Allowed reports whether agent may fetch path, and whether an answer is
// known at all. known stays false until a robots.txt has been obtained.
func (c *Checker) Allowed(ctx context.Context, path, agent string) (allowed, known bool) {
	if c == nil || c.origin == nil {
		return false, false
	}
	rules := c.currentRules(ctx)
	if rules == nil {
		return false, false
	}
	group := rules.FindGroup(agent)
	if group == nil {
		group = rules.FindGroup("*")
		if group == nil {
			return true, true
		}
	}
	return group.Test(path), true
}

func (c *Checker) currentRules(ctx context.Context) *robotstxt.RobotsData {
	c.mu.RLock()
	rules, fetched := c.rules, c.fetched
	c.mu.RUnlock()
	if !fetched.IsZero() && c.now().Sub(fetched) < c.ttl {
		return rules
	}

	// Fetch outside the lock; two goroutines racing here at the TTL edge
	// cost one redundant fetch, not a correctness problem.
	fresh, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		// Keep whatever we had. Stamping anyway backs off refetches for
		// a full TTL instead of hammering a failing origin per event.
		c.fetched = c.now()
		return c.rules
	}
	c.rules = fresh
	c.fetched = c.now()
	return c.rules
}

func (c *Checker) fetch(ctx context.Context) (*robotstxt.RobotsData, error) {
	robotsURL := c.origin.Scheme + "://" + c.origin.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	// FromResponse folds the status into the ruleset: 2xx parses the
	// body, 4xx means allow-all, 5xx means disallow-all.
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}
