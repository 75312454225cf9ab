package detect

import (
	"log/slog"
	"sync/atomic"

	"botgate/pkg/types"
)

// Engine matches requests against the active pattern dataset. Detection is
// lock-free: Install publishes a freshly compiled ruleset with an atomic
// pointer swap while in-flight Detect calls keep reading the snapshot they
// started with.
type Engine struct {
	apiKey string
	logger *slog.Logger
	rules  atomic.Pointer[ruleset]
}

// New creates an engine seeded with the built-in dataset.
func New(apiKey string, logger *slog.Logger) *Engine {
	e := &Engine{apiKey: apiKey, logger: logger}
	e.rules.Store(compile(defaultDataset(), logger))
	return e
}

// HasCredential reports whether a dashboard credential is configured.
// Without one the engine stays on the built-in dataset and events are
// never delivered.
func (e *Engine) HasCredential() bool {
	return e.apiKey != ""
}

// Install compiles and publishes a new dataset. An empty dataset is ignored
// so a malformed remote response cannot blind the engine.
func (e *Engine) Install(ds types.Dataset) {
	if len(ds.Patterns) == 0 && len(ds.AIReferrers) == 0 {
		e.logger.Warn("ignoring empty dataset", "version", ds.Version)
		return
	}
	rs := compile(ds, e.logger)
	e.rules.Store(rs)
	e.logger.Debug("dataset installed",
		"version", rs.version,
		"patterns", len(rs.patterns),
		"referrers", len(rs.referrers))
}

// Detect classifies a request by user agent, then by referrer. The first
// matching user-agent rule wins; referrers are only consulted when no
// user-agent rule matched.
func (e *Engine) Detect(userAgent, referrer string) types.Detection {
	rs := e.rules.Load()

	if userAgent != "" {
		for _, cp := range rs.patterns {
			if !cp.re.MatchString(userAgent) {
				continue
			}
			return types.Detection{
				SourceType:     types.SourceBot,
				ShouldBlock:    rs.shouldBlockPattern(cp.src),
				MatchedPattern: cp.src.Pattern,
				Type:           cp.src.Type,
				Category:       cp.src.Category,
				Subcategory:    cp.src.Subcategory,
				Company:        cp.src.Company,
				IsCompliant:    cp.src.IsCompliant,
				IsAITrainer:    cp.src.IsAITrainer,
				Intent:         cp.src.Intent,
			}
		}
	}

	if referrer != "" {
		for _, cr := range rs.referrers {
			for _, re := range cr.res {
				if !re.MatchString(referrer) {
					continue
				}
				return types.Detection{
					SourceType:     types.SourceAIReferrer,
					ShouldBlock:    rs.shouldBlockReferrer(cr.src),
					MatchedPattern: cr.src.ID,
					Company:        cr.src.Company,
				}
			}
		}
	}

	return types.NoDetection()
}

// Stats summarises the active ruleset for the admin surface.
type Stats struct {
	Version   string `json:"version"`
	Patterns  int    `json:"patterns"`
	Referrers int    `json:"referrers"`
}

// Snapshot returns counts for the currently active ruleset.
func (e *Engine) Snapshot() Stats {
	rs := e.rules.Load()
	return Stats{
		Version:   rs.version,
		Patterns:  len(rs.patterns),
		Referrers: len(rs.referrers),
	}
}
