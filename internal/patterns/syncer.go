package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"botgate/pkg/types"
)

// Installer receives freshly obtained datasets.
type Installer interface {
	Install(ds types.Dataset)
}

// SyncerOptions wires a Syncer's collaborators.
type SyncerOptions struct {
	Fetcher   Fetcher
	Store     CacheStore
	Installer Installer
	TTL       time.Duration
	APIKey    string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Syncer keeps the detection dataset fresh across three tiers: a process
// local freshness marker, the shared cache store, and the remote fetch.
// Concurrent Ensure calls within one process collapse into a single
// refresh; two processes may still fetch concurrently when their markers
// expire together, which is acceptable staleness rather than an error.
type Syncer struct {
	fetcher   Fetcher
	store     CacheStore
	installer Installer
	ttl       time.Duration
	apiKey    string
	logger    *slog.Logger
	now       func() time.Time

	group    singleflight.Group
	lastSync atomic.Int64 // unix nanos of the last completed refresh, 0 = never
}

// NewSyncer creates a refresh coordinator.
func NewSyncer(opts SyncerOptions) *Syncer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		fetcher:   opts.Fetcher,
		store:     opts.Store,
		installer: opts.Installer,
		ttl:       opts.TTL,
		apiKey:    opts.APIKey,
		logger:    logger,
		now:       now,
	}
}

// Fresh reports whether the last completed refresh is within the TTL.
func (s *Syncer) Fresh() bool {
	last := s.lastSync.Load()
	if last == 0 {
		return false
	}
	return s.now().UnixNano()-last < s.ttl.Nanoseconds()
}

// LastSync returns when the last refresh completed, or the zero time.
func (s *Syncer) LastSync() time.Time {
	last := s.lastSync.Load()
	if last == 0 {
		return time.Time{}
	}
	return time.Unix(0, last)
}

// Reset clears the freshness marker so the next Ensure refreshes again.
func (s *Syncer) Reset() {
	s.lastSync.Store(0)
}

// Ensure makes the dataset fresh enough, collapsing concurrent callers into
// one in-flight refresh. The flight marker is released on every exit path,
// success or failure, so a later call can always retry.
func (s *Syncer) Ensure(ctx context.Context) error {
	if s.Fresh() {
		return nil
	}
	_, err, _ := s.group.Do("dataset", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *Syncer) refresh(ctx context.Context) error {
	// A caller that queued behind a completed flight must not fetch again.
	if s.Fresh() {
		return nil
	}
	now := s.now()

	// Without a credential the engine stays on its built-in patterns;
	// stamping the marker keeps later calls on the cheap path.
	if s.apiKey == "" || s.fetcher == nil {
		s.lastSync.Store(now.UnixNano())
		return nil
	}

	key := CacheKey(s.apiKey)
	if s.store != nil {
		rec, ok, err := s.store.Match(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("pattern cache read failed", "key", key, "error", err)
		case ok && now.Sub(rec.FetchedAt) < s.ttl:
			s.installer.Install(rec.Dataset)
			s.lastSync.Store(now.UnixNano())
			s.logger.Debug("patterns refreshed from shared cache",
				"version", rec.Dataset.Version, "age", now.Sub(rec.FetchedAt))
			return nil
		}
	}

	ds, err := s.fetcher.Fetch(ctx)
	if err != nil {
		// Prior state stays untouched; the engine keeps matching on
		// whatever patterns it already holds.
		return fmt.Errorf("refresh patterns: %w", err)
	}
	s.installer.Install(ds)
	s.lastSync.Store(s.now().UnixNano())

	if s.store != nil {
		rec := CacheRecord{Dataset: ds, FetchedAt: s.now()}
		if err := s.store.Put(ctx, key, rec); err != nil {
			s.logger.Warn("pattern cache write failed", "key", key, "error", err)
		}
	}
	s.logger.Info("patterns refreshed",
		"version", ds.Version,
		"patterns", len(ds.Patterns),
		"referrers", len(ds.AIReferrers))
	return nil
}
