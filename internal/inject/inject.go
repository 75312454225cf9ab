package inject

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
)

// Injector appends a deferred beacon script to HTML responses so pages
// served to unblocked AI traffic can report back client-side signals.
type Injector struct {
	beaconURL string
	maxBody   int64
	logger    *slog.Logger
}

// New constructs an injector for the given beacon script URL. maxBody
// caps how large a response body will be buffered for injection.
func New(beaconURL string, maxBody int64, logger *slog.Logger) (*Injector, error) {
	if strings.TrimSpace(beaconURL) == "" {
		return nil, fmt.Errorf("beacon URL is required")
	}
	if maxBody <= 0 {
		maxBody = 2 * 1024 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{
		beaconURL: beaconURL,
		maxBody:   maxBody,
		logger:    logger,
	}, nil
}

// MaxBodyBytes reports the largest response body the injector accepts.
func (i *Injector) MaxBodyBytes() int64 {
	return i.maxBody
}

// Eligible reports whether a response with the given Content-Type header
// can carry the beacon tag. Only HTML documents qualify.
func (i *Injector) Eligible(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch strings.ToLower(mediaType) {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

// Apply returns the body with the beacon script appended inside <body>.
// Compressed bodies are decoded first and come back identity-encoded, so
// callers must drop Content-Encoding when injection succeeds. Any decode
// or parse failure returns the original bytes untouched.
func (i *Injector) Apply(body []byte, contentEncoding string) ([]byte, bool) {
	if len(body) == 0 || int64(len(body)) > i.maxBody {
		return body, false
	}

	decoded, err := decodeBody(body, contentEncoding)
	if err != nil {
		i.logger.Debug("beacon injection skipped", "encoding", contentEncoding, "error", err)
		return body, false
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		i.logger.Debug("beacon injection skipped", "error", err)
		return body, false
	}

	target := doc.Find("body").First()
	if target.Length() == 0 {
		return body, false
	}
	target.AppendHtml(fmt.Sprintf("<script defer src=%q></script>", i.beaconURL))

	out, err := doc.Html()
	if err != nil {
		i.logger.Debug("beacon injection skipped", "error", err)
		return body, false
	}
	return []byte(out), true
}

func decodeBody(body []byte, contentEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		defer zr.Close()
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decode gzip body: %w", err)
		}
		return decoded, nil
	case "br":
		decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("decode brotli body: %w", err)
		}
		return decoded, nil
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		decoded, err := io.ReadAll(fr)
		if err != nil {
			return nil, fmt.Errorf("decode deflate body: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}
