package detect

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"botgate/pkg/types"
)

// compiledPattern pairs a user-agent regex with its source rule.
type compiledPattern struct {
	re  *regexp.Regexp
	src types.Pattern
}

// compiledReferrer holds the compiled matchers for one AI platform.
type compiledReferrer struct {
	src types.Referrer
	res []*regexp.Regexp
}

// action is the outcome of a custom allow/block rule lookup.
type action int

const (
	actionNone action = iota
	actionAllow
	actionBlock
)

// settingsIndex resolves per-property custom rules. Keys follow the rule
// grammar used in dataset settings:
//
//	pattern:<pattern>
//	type:<category>:<subcategory>:<type>
//	subcategory:<category>:<subcategory>
//	category:<category>
//	referrer:<id>
//
// Lookups walk a matched rule's keys most-specific-first; at any single key
// an allow entry wins over a block entry.
type settingsIndex struct {
	allow         map[string]struct{}
	block         map[string]struct{}
	blockTrainers bool
}

func buildSettingsIndex(s types.PropertySettings) settingsIndex {
	idx := settingsIndex{
		allow:         make(map[string]struct{}, len(s.CustomAllows)),
		block:         make(map[string]struct{}, len(s.CustomBlocks)),
		blockTrainers: s.BlockAITrainers,
	}
	for _, key := range s.CustomAllows {
		if key = canonicalKey(key); key != "" {
			idx.allow[key] = struct{}{}
		}
	}
	for _, key := range s.CustomBlocks {
		if key = canonicalKey(key); key != "" {
			idx.block[key] = struct{}{}
		}
	}
	return idx
}

func canonicalKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// lookup resolves the first decisive action across keys, in order.
func (idx settingsIndex) lookup(keys ...string) action {
	for _, key := range keys {
		key = canonicalKey(key)
		if _, ok := idx.allow[key]; ok {
			return actionAllow
		}
		if _, ok := idx.block[key]; ok {
			return actionBlock
		}
	}
	return actionNone
}

// ruleset is one immutable compiled snapshot of the dataset. Engines swap
// whole rulesets atomically; a ruleset is never mutated after compile.
type ruleset struct {
	version   string
	patterns  []compiledPattern
	referrers []compiledReferrer
	settings  settingsIndex
}

// compile turns a dataset into matchable form. Entries that fail to compile
// are logged and dropped rather than poisoning the whole snapshot.
// User-agent patterns keep their own case conventions; referrer patterns
// match case-insensitively since they target hostnames.
func compile(ds types.Dataset, logger *slog.Logger) *ruleset {
	rs := &ruleset{
		version:  ds.Version,
		settings: buildSettingsIndex(ds.PropertySettings),
	}

	rs.patterns = make([]compiledPattern, 0, len(ds.Patterns))
	for _, p := range ds.Patterns {
		if strings.TrimSpace(p.Pattern) == "" {
			continue
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			logger.Warn("skipping invalid user-agent pattern", "pattern", p.Pattern, "error", err)
			continue
		}
		rs.patterns = append(rs.patterns, compiledPattern{re: re, src: p})
	}

	rs.referrers = make([]compiledReferrer, 0, len(ds.AIReferrers))
	for _, ref := range ds.AIReferrers {
		cr := compiledReferrer{src: ref, res: make([]*regexp.Regexp, 0, len(ref.Patterns))}
		for _, raw := range ref.Patterns {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			re, err := regexp.Compile("(?i)" + raw)
			if err != nil {
				logger.Warn("skipping invalid referrer pattern", "referrer", ref.ID, "pattern", raw, "error", err)
				continue
			}
			cr.res = append(cr.res, re)
		}
		if len(cr.res) > 0 {
			rs.referrers = append(rs.referrers, cr)
		}
	}
	return rs
}

// shouldBlockPattern applies custom rules to a matched user-agent rule,
// falling back to the block-AI-trainers property flag.
func (rs *ruleset) shouldBlockPattern(p types.Pattern) bool {
	keys := []string{
		"pattern:" + p.Pattern,
		fmt.Sprintf("type:%s:%s:%s", p.Category, p.Subcategory, p.Type),
		fmt.Sprintf("subcategory:%s:%s", p.Category, p.Subcategory),
		"category:" + p.Category,
	}
	switch rs.settings.lookup(keys...) {
	case actionAllow:
		return false
	case actionBlock:
		return true
	}
	return rs.settings.blockTrainers && p.IsAITrainer
}

// shouldBlockReferrer applies custom rules to a matched AI referrer.
// Referrer traffic is human-initiated, so the default is to let it through.
func (rs *ruleset) shouldBlockReferrer(ref types.Referrer) bool {
	return rs.settings.lookup("referrer:"+ref.ID) == actionBlock
}
