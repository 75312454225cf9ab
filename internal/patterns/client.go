package patterns

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"botgate/pkg/types"
)

// Fetcher retrieves the current pattern dataset from the remote service.
type Fetcher interface {
	Fetch(ctx context.Context) (types.Dataset, error)
}

// ClientOptions controls HTTP fetching behaviour.
type ClientOptions struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Client implements Fetcher via the Go http.Client.
type Client struct {
	client       *http.Client
	endpoint     string
	apiKey       string
	maxBodyBytes int64
}

// NewClient constructs a dataset fetcher using the provided options.
func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("patterns endpoint is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 * 1024 * 1024
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		client:       &http.Client{Timeout: opts.Timeout, Transport: transport},
		endpoint:     opts.Endpoint,
		apiKey:       opts.APIKey,
		maxBodyBytes: opts.MaxBodyBytes,
	}, nil
}

// Fetch downloads and decodes one dataset snapshot.
func (c *Client) Fetch(ctx context.Context) (types.Dataset, error) {
	var ds types.Dataset

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return ds, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ds, fmt.Errorf("patterns fetch failed: %w", err)
	}

	body, err := c.readBody(resp)
	if err != nil {
		return ds, err
	}
	if resp.StatusCode != http.StatusOK {
		return ds, fmt.Errorf("patterns fetch returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, &ds); err != nil {
		return ds, fmt.Errorf("decode dataset: %w", err)
	}
	if len(ds.Patterns) == 0 && len(ds.AIReferrers) == 0 {
		return ds, errors.New("dataset is empty")
	}
	if ds.CapturedAt.IsZero() {
		ds.CapturedAt = time.Now()
	}
	return ds, nil
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, c.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", c.maxBodyBytes)
	}
	return body, nil
}
