package types

import "time"

// Source classifications reported by the pattern engine.
const (
	SourceNone       = "none"
	SourceBot        = "bot"
	SourceAIReferrer = "ai_referrer"
)

// Pattern describes one user-agent detection rule and its taxonomy.
type Pattern struct {
	Pattern     string `json:"pattern"`
	URL         string `json:"url,omitempty"`
	Type        string `json:"type,omitempty"`
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
	Company     string `json:"company,omitempty"`
	IsCompliant bool   `json:"isCompliant"`
	IsAITrainer bool   `json:"isAiModelTrainer"`
	Intent      string `json:"intent,omitempty"`
}

// Referrer describes one AI platform recognised through the referrer header.
type Referrer struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Company  string   `json:"company,omitempty"`
	URL      string   `json:"url,omitempty"`
	Patterns []string `json:"patterns"`
}

// PropertySettings carries per-property overrides delivered with the dataset.
type PropertySettings struct {
	BlockAITrainers bool     `json:"blockAiModelTrainers"`
	CustomBlocks    []string `json:"customBlocks"`
	CustomAllows    []string `json:"customAllows"`
}

// Dataset is a versioned snapshot of detection patterns and referrer sources.
type Dataset struct {
	Version          string           `json:"version"`
	Patterns         []Pattern        `json:"patterns"`
	AIReferrers      []Referrer       `json:"aiReferrers"`
	PropertySettings PropertySettings `json:"propertySettings"`
	CapturedAt       time.Time        `json:"capturedAt,omitempty"`
}

// Detection is the outcome of matching one request against the active dataset.
type Detection struct {
	SourceType     string `json:"sourceType"`
	ShouldBlock    bool   `json:"shouldBlock"`
	MatchedPattern string `json:"matchedPattern,omitempty"`
	Type           string `json:"type,omitempty"`
	Category       string `json:"category,omitempty"`
	Subcategory    string `json:"subcategory,omitempty"`
	Company        string `json:"company,omitempty"`
	IsCompliant    bool   `json:"isCompliant,omitempty"`
	IsAITrainer    bool   `json:"isAiModelTrainer,omitempty"`
	Intent         string `json:"intent,omitempty"`
}

// NoDetection returns the result used for ordinary traffic.
func NoDetection() Detection {
	return Detection{SourceType: SourceNone}
}

// Matched reports whether the detection identified bot or AI-referrer traffic.
func (d Detection) Matched() bool {
	return d.SourceType != "" && d.SourceType != SourceNone
}

// RequestMeta is the read-only view of one request handed to the event pipeline.
type RequestMeta struct {
	URL            string
	Method         string
	Host           string
	Path           string
	Query          string
	UserAgent      string
	Referrer       string
	ClientIP       string
	Headers        map[string]string
	ResponseStatus int
	Timestamp      time.Time

	// Annotations filled in on the logging path; nil means not determined.
	RobotsCompliant *bool
	VerifiedCrawler *bool
}
