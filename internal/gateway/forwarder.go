package gateway

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"botgate/internal/inject"
)

// ErrNoOrigin marks a forward attempted without a configured origin.
var ErrNoOrigin = errors.New("origin not configured")

// hopByHopHeaders are connection-scoped and must not cross the proxy
// hop in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder relays admitted requests to the configured origin. One
// attempt, no retries; the caller decides what to do with the status.
type Forwarder struct {
	origin   *url.URL
	client   *http.Client
	injector *inject.Injector
	logger   *slog.Logger
}

// NewForwarder builds the origin hop. origin may be nil, in which case
// every forward fails with a configuration error response. injector may
// be nil to disable beacon injection.
func NewForwarder(origin *url.URL, timeout time.Duration, injector *inject.Injector, logger *slog.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Forwarder{
		origin: origin,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				// Origin redirects pass through to the client untouched.
				return http.ErrUseLastResponse
			},
		},
		injector: injector,
		logger:   logger,
	}
}

// Forward relays r to the origin and writes the origin's response to w.
// It returns the status written to the client and the forwarding error,
// if any. A missing origin answers 500; an unreachable origin answers
// 502. Successful relays carry X-Processed: true.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request) (int, error) {
	if f.origin == nil {
		http.Error(w, "origin not configured", http.StatusInternalServerError)
		return http.StatusInternalServerError, ErrNoOrigin
	}

	out := r.Clone(r.Context())
	out.URL.Scheme = f.origin.Scheme
	out.URL.Host = f.origin.Host
	out.Host = f.origin.Host
	out.RequestURI = ""

	stripHopByHop(out.Header)
	appendForwardingHeaders(out, r)

	resp, err := f.client.Do(out)
	if err != nil {
		f.logger.Warn("origin request failed", "url", out.URL.String(), "error", err)
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return http.StatusBadGateway, err
	}
	defer resp.Body.Close()

	stripHopByHop(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.Header().Set("X-Processed", "true")

	if f.injector != nil && f.injector.Eligible(resp.Header.Get("Content-Type")) {
		return f.writeInjected(w, resp)
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.Debug("response relay interrupted", "error", err)
	}
	return resp.StatusCode, nil
}

// writeInjected buffers an HTML body up to the injector's cap and
// appends the beacon tag. Bodies over the cap stream through untouched.
func (f *Forwarder) writeInjected(w http.ResponseWriter, resp *http.Response) (int, error) {
	limit := f.injector.MaxBodyBytes()
	buffered, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		f.logger.Debug("buffering origin body failed", "error", err)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(buffered)
		return resp.StatusCode, nil
	}

	if int64(len(buffered)) > limit {
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(buffered)
		if _, err := io.Copy(w, resp.Body); err != nil {
			f.logger.Debug("response relay interrupted", "error", err)
		}
		return resp.StatusCode, nil
	}

	body, injected := f.injector.Apply(buffered, resp.Header.Get("Content-Encoding"))
	if injected {
		w.Header().Del("Content-Encoding")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
	return resp.StatusCode, nil
}

func stripHopByHop(h http.Header) {
	for _, token := range h.Values("Connection") {
		for _, name := range strings.Split(token, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func appendForwardingHeaders(out, in *http.Request) {
	if peer, _, err := net.SplitHostPort(in.RemoteAddr); err == nil && peer != "" {
		prior := out.Header.Get("X-Forwarded-For")
		if prior != "" {
			peer = prior + ", " + peer
		}
		out.Header.Set("X-Forwarded-For", peer)
	}
	if out.Header.Get("X-Forwarded-Host") == "" {
		out.Header.Set("X-Forwarded-Host", in.Host)
	}
	if out.Header.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if in.TLS != nil {
			proto = "https"
		}
		out.Header.Set("X-Forwarded-Proto", proto)
	}
}
