package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Collector delivers events to the central collector endpoint.
type Collector struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewCollector builds the HTTP sink. Both the endpoint and the credential
// are required; without a credential the collector rejects everything, so
// the sink refuses to exist instead.
func NewCollector(endpoint, apiKey string, timeout time.Duration) (*Collector, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("collector endpoint is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("collector credential is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Collector{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// collectorEvent is the wire shape the collector ingests.
type collectorEvent struct {
	EventID         string            `json:"event_id"`
	Timestamp       time.Time         `json:"timestamp"`
	Platform        string            `json:"platform_type"`
	URL             string            `json:"url"`
	Method          string            `json:"request_method"`
	Path            string            `json:"request_path"`
	Query           string            `json:"request_query,omitempty"`
	Host            string            `json:"request_host"`
	UserAgent       string            `json:"user_agent"`
	Referrer        string            `json:"referrer,omitempty"`
	IPAddress       string            `json:"ip_address"`
	Headers         map[string]string `json:"headers,omitempty"`
	ResponseStatus  int               `json:"response_status"`
	SourceType      string            `json:"source_type"`
	MatchedPattern  string            `json:"matched_pattern,omitempty"`
	Category        string            `json:"category,omitempty"`
	Subcategory     string            `json:"subcategory,omitempty"`
	Company         string            `json:"company,omitempty"`
	WasBlocked      bool              `json:"was_blocked"`
	RobotsCompliant *bool             `json:"robots_compliant,omitempty"`
	VerifiedCrawler *bool             `json:"verified_crawler,omitempty"`
}

func toWire(ev Event) collectorEvent {
	return collectorEvent{
		EventID:         ev.ID.String(),
		Timestamp:       ev.Request.Timestamp,
		Platform:        ev.Platform,
		URL:             ev.Request.URL,
		Method:          ev.Request.Method,
		Path:            ev.Request.Path,
		Query:           ev.Request.Query,
		Host:            ev.Request.Host,
		UserAgent:       ev.Request.UserAgent,
		Referrer:        ev.Request.Referrer,
		IPAddress:       ev.Request.ClientIP,
		Headers:         ev.Request.Headers,
		ResponseStatus:  ev.Request.ResponseStatus,
		SourceType:      ev.Detection.SourceType,
		MatchedPattern:  ev.Detection.MatchedPattern,
		Category:        ev.Detection.Category,
		Subcategory:     ev.Detection.Subcategory,
		Company:         ev.Detection.Company,
		WasBlocked:      ev.Detection.ShouldBlock,
		RobotsCompliant: ev.Request.RobotsCompliant,
		VerifiedCrawler: ev.Request.VerifiedCrawler,
	}
}

// Record posts one event. The response body is drained so the connection
// can be reused.
func (c *Collector) Record(ctx context.Context, ev Event) error {
	body, err := json.Marshal(toWire(ev))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Collector) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
