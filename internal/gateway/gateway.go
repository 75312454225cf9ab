package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"botgate/internal/admission"
	"botgate/internal/config"
	"botgate/internal/detect"
	"botgate/internal/events"
	"botgate/internal/inject"
	"botgate/internal/patterns"
	"botgate/internal/realip"
	"botgate/internal/robots"
	"botgate/internal/verify"
	"botgate/pkg/types"
)

// Gateway is the edge handler: it admits requests, classifies them
// against the active pattern set, blocks or relays them, and reports
// detections to the configured sinks off the request path.
type Gateway struct {
	cfg    config.Config
	logger *slog.Logger

	filter   *admission.Filter
	engine   *detect.Engine
	syncer   *patterns.Syncer
	runner   *TaskRunner
	pipeline *events.Pipeline
	forward  *Forwarder
	clientIP *realip.Resolver
	robots   *robots.Checker
	verifier *verify.Verifier
	store    *events.SQLSink

	now func() time.Time

	closers   []func() error
	closeOnce sync.Once
}

// New builds a gateway from configuration, constructing its own logger.
func New(cfg config.Config) (*Gateway, error) {
	logger, err := NewLogger(cfg.Logging, cfg.Debug)
	if err != nil {
		return nil, err
	}
	return NewWithLogger(cfg, logger)
}

// NewWithLogger builds a gateway with a caller-supplied logger.
func NewWithLogger(cfg config.Config, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	origin := parseOrigin(cfg.Origin.URL)
	engine := detect.New(cfg.APIKey, logger.With("component", "detect"))

	var fetcher patterns.Fetcher
	if cfg.Patterns.Endpoint != "" {
		client, err := patterns.NewClient(patterns.ClientOptions{
			Endpoint:     cfg.Patterns.Endpoint,
			APIKey:       cfg.APIKey,
			Timeout:      cfg.Patterns.Timeout.OrDefault(10 * time.Second),
			MaxBodyBytes: cfg.Patterns.MaxBodyBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("patterns client: %w", err)
		}
		fetcher = client
	}

	var closers []func() error
	store, err := buildCacheStore(cfg)
	if err != nil {
		return nil, err
	}
	if store != nil {
		closers = append(closers, store.Close)
	}

	syncer := patterns.NewSyncer(patterns.SyncerOptions{
		Fetcher:   fetcher,
		Store:     store,
		Installer: engine,
		TTL:       cfg.Patterns.CacheTTL.OrDefault(time.Hour),
		APIKey:    cfg.APIKey,
		Logger:    logger.With("component", "patterns"),
	})

	pipeline, sqlSink, err := buildPipeline(cfg, logger)
	if err != nil {
		return nil, err
	}
	if pipeline != nil {
		closers = append(closers, pipeline.Close)
	}

	runner, err := NewTaskRunner(cfg.Tasks.Workers, cfg.Tasks.QueueSize, logger)
	if err != nil {
		return nil, err
	}

	var injector *inject.Injector
	if cfg.Inject.Enabled {
		injector, err = inject.New(cfg.Inject.BeaconURL, cfg.Inject.MaxBodyBytes, logger.With("component", "inject"))
		if err != nil {
			return nil, err
		}
	}

	resolver, err := realip.NewResolver(cfg.Origin.TrustedProxies)
	if err != nil {
		return nil, err
	}

	var checker *robots.Checker
	if cfg.Annotate.Robots && origin != nil {
		checker = robots.NewChecker(origin, nil, cfg.Annotate.RobotsTTL.OrDefault(6*time.Hour))
	}
	var verifier *verify.Verifier
	if cfg.Annotate.Verify {
		verifier = verify.NewVerifier(nil,
			cfg.Annotate.VerifyTimeout.OrDefault(2*time.Second),
			cfg.Annotate.VerifyTTL.OrDefault(time.Hour))
	}

	return &Gateway{
		cfg:      cfg,
		logger:   logger,
		filter:   admission.New(cfg.ExcludePaths, cfg.Origin.URL),
		engine:   engine,
		syncer:   syncer,
		runner:   runner,
		pipeline: pipeline,
		forward:  NewForwarder(origin, cfg.Origin.Timeout.OrDefault(30*time.Second), injector, logger.With("component", "forward")),
		clientIP: resolver,
		robots:   checker,
		verifier: verifier,
		store:    sqlSink,
		now:      time.Now,
		closers:  closers,
	}, nil
}

func buildCacheStore(cfg config.Config) (patterns.CacheStore, error) {
	ttl := cfg.Patterns.CacheTTL.OrDefault(time.Hour)
	switch cfg.Cache.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return patterns.NewMemoryStore(), nil
	case "redis":
		store, err := patterns.NewRedisStore(patterns.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Timeout:  cfg.Cache.Redis.Timeout.OrDefault(5 * time.Second),
		}, ttl)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

func buildPipeline(cfg config.Config, logger *slog.Logger) (*events.Pipeline, *events.SQLSink, error) {
	var sinks []events.Sink

	if cfg.Collector.Endpoint != "" && cfg.APIKey != "" {
		collector, err := events.NewCollector(cfg.Collector.Endpoint, cfg.APIKey, cfg.Collector.Timeout.OrDefault(10*time.Second))
		if err != nil {
			return nil, nil, fmt.Errorf("collector sink: %w", err)
		}
		sinks = append(sinks, collector)
	}

	var sqlSink *events.SQLSink
	if cfg.DB.Driver != "" && cfg.DB.DSN != "" {
		sink, err := events.NewSQLSink(cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("sql sink: %w", err)
		}
		sqlSink = sink
		sinks = append(sinks, sink)
	}

	throttle := events.NewThrottle(cfg.Collector.EventsPerSecond, cfg.Collector.EventsBurst)
	return events.NewPipeline(logger.With("component", "events"), throttle, sinks...), sqlSink, nil
}

// ServeHTTP classifies one request and either blocks it or relays it to
// the origin. Detection work that can be deferred runs off-path.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.filter.ShouldSkip(r.URL.Path, r.Host) {
		_, _ = g.forward.Forward(w, r)
		return
	}

	g.scheduleRefresh()

	det := g.engine.Detect(r.UserAgent(), referrerOf(r))
	if det.ShouldBlock {
		g.handleBlocked(w, r, det)
		return
	}

	status, err := g.forward.Forward(w, r)
	if err != nil {
		g.logger.Debug("forward failed", "path", r.URL.Path, "status", status, "error", err)
	}
	if g.shouldLog(det) {
		g.submitEvent(g.buildEvent(r, det, status))
	}
}

// handleBlocked synthesizes the 403 at the edge; blocked traffic never
// reaches the origin. The event is delivered before the response when
// await_blocked is set, bounded by block_timeout.
func (g *Gateway) handleBlocked(w http.ResponseWriter, r *http.Request, det types.Detection) {
	if g.shouldLog(det) {
		g.logBlocked(r, det)
	}

	w.Header().Set("X-Processed", "true")
	w.Header().Set("X-Blocked", "true")
	w.Header().Set("X-Block-Reason", det.SourceType)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

func (g *Gateway) logBlocked(r *http.Request, det types.Detection) {
	ev := g.buildEvent(r, det, http.StatusForbidden)

	if !g.cfg.Collector.AwaitBlocked {
		g.submitEvent(ev)
		return
	}

	done := make(chan struct{}, 1)
	err := g.runner.Submit(func(ctx context.Context) {
		g.deliver(ctx, ev)
		done <- struct{}{}
	})
	if err != nil {
		g.logger.Debug("blocked event dropped", "event_id", ev.ID, "error", err)
		return
	}

	select {
	case <-done:
	case <-time.After(g.cfg.Collector.BlockTimeout.OrDefault(2 * time.Second)):
		g.logger.Debug("blocked event delivery still pending", "event_id", ev.ID)
	}
}

// scheduleRefresh keeps the pattern set fresh without blocking requests.
// The freshness fast path makes this free after the first trigger per
// TTL window; queue-full rejections wait for the next request.
func (g *Gateway) scheduleRefresh() {
	if g.syncer.Fresh() {
		return
	}
	err := g.runner.Submit(func(ctx context.Context) {
		if err := g.syncer.Ensure(ctx); err != nil {
			g.logger.Warn("pattern refresh failed", "error", err)
		}
	})
	if err != nil {
		g.logger.Debug("pattern refresh not scheduled", "error", err)
	}
}

func (g *Gateway) shouldLog(det types.Detection) bool {
	return det.Matched() && g.engine.HasCredential() && g.pipeline != nil
}

func (g *Gateway) buildEvent(r *http.Request, det types.Detection, status int) events.Event {
	meta := types.RequestMeta{
		URL:            r.URL.RequestURI(),
		Method:         r.Method,
		Host:           r.Host,
		Path:           r.URL.Path,
		Query:          r.URL.RawQuery,
		UserAgent:      r.UserAgent(),
		Referrer:       referrerOf(r),
		ClientIP:       g.clientIP.ClientIP(r),
		Headers:        flattenHeaders(r.Header),
		ResponseStatus: status,
		Timestamp:      g.now().UTC(),
	}
	return events.New(g.cfg.Platform, det, meta)
}

func (g *Gateway) submitEvent(ev events.Event) {
	err := g.runner.Submit(func(ctx context.Context) {
		g.deliver(ctx, ev)
	})
	if err != nil {
		g.logger.Debug("event dropped", "event_id", ev.ID, "error", err)
	}
}

func (g *Gateway) deliver(ctx context.Context, ev events.Event) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	g.annotate(ctx, &ev)
	if err := g.pipeline.Submit(ctx, ev); err != nil {
		g.logger.Debug("event delivery failed", "event_id", ev.ID, "error", err)
	}
}

// annotate fills in the crawler annotations that need network lookups.
// Only bot detections qualify; both annotations stay nil when their
// answer is unknown.
func (g *Gateway) annotate(ctx context.Context, ev *events.Event) {
	det := ev.Detection
	if det.SourceType != types.SourceBot {
		return
	}
	if g.robots != nil {
		agent := robotsAgent(det, ev.Request.UserAgent)
		if allowed, known := g.robots.Allowed(ctx, ev.Request.Path, agent); known {
			compliant := allowed
			ev.Request.RobotsCompliant = &compliant
		}
	}
	if g.verifier != nil && verify.Verifiable(det.Company) {
		if verified, known := g.verifier.Verify(ctx, det.Company, ev.Request.ClientIP); known {
			v := verified
			ev.Request.VerifiedCrawler = &v
		}
	}
}

var plainTokenRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// robotsAgent picks the agent string for robots.txt group matching.
// Robots groups name bare product tokens, so a plain matched pattern
// beats the full user-agent header.
func robotsAgent(det types.Detection, userAgent string) string {
	if det.MatchedPattern != "" && plainTokenRe.MatchString(det.MatchedPattern) {
		return det.MatchedPattern
	}
	return userAgent
}

func referrerOf(r *http.Request) string {
	if v := r.Header.Get("Referer"); v != "" {
		return v
	}
	return r.Header.Get("Referrer")
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		// Credentials never leave the edge.
		switch http.CanonicalHeaderKey(key) {
		case "Authorization", "Cookie", "X-Api-Key":
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// Status is the admin view of the gateway's runtime state.
type Status struct {
	Dataset       detect.Stats `json:"dataset"`
	LastSync      time.Time    `json:"last_sync"`
	EventsDropped uint64       `json:"events_dropped"`
	Platform      string       `json:"platform"`
}

// Status reports the active dataset and pipeline counters.
func (g *Gateway) Status() Status {
	return Status{
		Dataset:       g.engine.Snapshot(),
		LastSync:      g.syncer.LastSync(),
		EventsDropped: g.pipeline.Dropped(),
		Platform:      g.cfg.Platform,
	}
}

// EventStore exposes the relational sink for the admin surface; nil
// when no database is configured.
func (g *Gateway) EventStore() *events.SQLSink {
	return g.store
}

// Close drains queued background work, then releases sinks and stores.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		if g.runner != nil {
			g.runner.Close()
		}
		for _, closer := range g.closers {
			if cerr := closer(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}

func parseOrigin(raw string) *url.URL {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}

// NewLogger builds the process logger from logging configuration. The
// debug flag forces debug verbosity whatever the configured level.
func NewLogger(cfg config.LoggingConfig, debug bool) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
