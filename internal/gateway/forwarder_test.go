package gateway

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"botgate/internal/inject"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestForwardRewritesAuthorityOnly(t *testing.T) {
	var seen struct {
		host, path, query, xfHost, xfFor, method string
	}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.host = r.Host
		seen.path = r.URL.Path
		seen.query = r.URL.RawQuery
		seen.xfHost = r.Header.Get("X-Forwarded-Host")
		seen.xfFor = r.Header.Get("X-Forwarded-For")
		seen.method = r.Method
		w.Header().Set("X-Origin-Header", "yes")
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "origin says hi")
	}))
	defer origin.Close()

	f := NewForwarder(mustParseURL(t, origin.URL), 5*time.Second, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "http://shop.example.com/products?page=2", nil)
	req.RemoteAddr = "198.51.100.9:44444"
	rr := httptest.NewRecorder()

	status, err := f.Forward(rr, req)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if status != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", status, http.StatusTeapot)
	}

	originHost := mustParseURL(t, origin.URL).Host
	if seen.host != originHost {
		t.Errorf("origin saw Host %q, want %q", seen.host, originHost)
	}
	if seen.path != "/products" || seen.query != "page=2" {
		t.Errorf("path/query rewritten: %q %q", seen.path, seen.query)
	}
	if seen.xfHost != "shop.example.com" {
		t.Errorf("X-Forwarded-Host = %q", seen.xfHost)
	}
	if !strings.Contains(seen.xfFor, "198.51.100.9") {
		t.Errorf("X-Forwarded-For = %q, want the peer address", seen.xfFor)
	}

	if rr.Code != http.StatusTeapot {
		t.Errorf("client status = %d", rr.Code)
	}
	if rr.Body.String() != "origin says hi" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if rr.Header().Get("X-Origin-Header") != "yes" {
		t.Error("origin headers must pass through")
	}
	if rr.Header().Get("X-Processed") != "true" {
		t.Error("X-Processed marker missing")
	}
}

func TestForwardPreservesBody(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer origin.Close()

	f := NewForwarder(mustParseURL(t, origin.URL), 5*time.Second, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "http://shop.example.com/api/orders", strings.NewReader(`{"sku":"A1"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	if _, err := f.Forward(rr, req); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if rr.Body.String() != `{"sku":"A1"}` {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestForwardStripsHopByHopHeaders(t *testing.T) {
	var sawProxyAuth, sawDropped string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawProxyAuth = r.Header.Get("Proxy-Authorization")
		sawDropped = r.Header.Get("X-Per-Hop")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Write([]byte("ok"))
	}))
	defer origin.Close()

	f := NewForwarder(mustParseURL(t, origin.URL), 5*time.Second, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "http://shop.example.com/", nil)
	req.Header.Set("Proxy-Authorization", "Basic secret")
	req.Header.Set("X-Per-Hop", "drop-me")
	req.Header.Set("Connection", "X-Per-Hop")
	rr := httptest.NewRecorder()

	if _, err := f.Forward(rr, req); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if sawProxyAuth != "" {
		t.Error("Proxy-Authorization must not cross the hop")
	}
	if sawDropped != "" {
		t.Error("headers named by Connection must not cross the hop")
	}
	if rr.Header().Get("Keep-Alive") != "" {
		t.Error("hop-by-hop response headers must not reach the client")
	}
}

func TestForwardPassesRedirectsThrough(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/moved", http.StatusFound)
	}))
	defer origin.Close()

	f := NewForwarder(mustParseURL(t, origin.URL), 5*time.Second, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "http://shop.example.com/old", nil)
	rr := httptest.NewRecorder()

	status, err := f.Forward(rr, req)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if status != http.StatusFound {
		t.Fatalf("status = %d, want 302", status)
	}
	if got := rr.Header().Get("Location"); got != "/moved" {
		t.Fatalf("Location = %q, redirects must reach the client unfollowed", got)
	}
}

func TestForwardMissingOrigin(t *testing.T) {
	f := NewForwarder(nil, 5*time.Second, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "http://shop.example.com/", nil)
	rr := httptest.NewRecorder()

	status, err := f.Forward(rr, req)
	if !errors.Is(err, ErrNoOrigin) {
		t.Fatalf("err = %v, want ErrNoOrigin", err)
	}
	if status != http.StatusInternalServerError || rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d/%d, want 500", status, rr.Code)
	}
}

func TestForwardUnreachableOrigin(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := mustParseURL(t, origin.URL)
	origin.Close()

	f := NewForwarder(target, time.Second, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "http://shop.example.com/", nil)
	rr := httptest.NewRecorder()

	status, err := f.Forward(rr, req)
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if status != http.StatusBadGateway || rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d/%d, want 502", status, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "origin unreachable") {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func newTestBeacon(t *testing.T) *inject.Injector {
	t.Helper()
	inj, err := inject.New("https://edge.example.com/beacon.js", 1<<20, testLogger())
	if err != nil {
		t.Fatalf("inject.New: %v", err)
	}
	return inj
}

func TestForwardInjectsBeaconIntoHTML(t *testing.T) {
	const page = `<!DOCTYPE html><html><head></head><body><p>hi</p></body></html>`
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer origin.Close()

	f := NewForwarder(mustParseURL(t, origin.URL), 5*time.Second, newTestBeacon(t), testLogger())

	req := httptest.NewRequest(http.MethodGet, "http://shop.example.com/", nil)
	rr := httptest.NewRecorder()

	if _, err := f.Forward(rr, req); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "beacon.js") {
		t.Fatalf("beacon tag missing:\n%s", body)
	}
	if got := rr.Header().Get("Content-Length"); got != fmt.Sprint(len(body)) {
		t.Errorf("Content-Length = %q, want %d", got, len(body))
	}
}

func TestForwardInjectsIntoGzipHTML(t *testing.T) {
	const page = `<!DOCTYPE html><html><head></head><body><p>hi</p></body></html>`
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		fmt.Fprint(zw, page)
		zw.Close()
	}))
	defer origin.Close()

	f := NewForwarder(mustParseURL(t, origin.URL), 5*time.Second, newTestBeacon(t), testLogger())

	// Carrying the client's own Accept-Encoding keeps the transport from
	// transparently decompressing, so the gzip path is really exercised.
	req := httptest.NewRequest(http.MethodGet, "http://shop.example.com/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()

	if _, err := f.Forward(rr, req); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !strings.Contains(rr.Body.String(), "beacon.js") {
		t.Fatalf("beacon tag missing:\n%s", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Encoding"); got != "" {
		t.Fatalf("Content-Encoding = %q, injected bodies are identity-encoded", got)
	}
}

func TestForwardSkipsInjectionForNonHTML(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer origin.Close()

	f := NewForwarder(mustParseURL(t, origin.URL), 5*time.Second, newTestBeacon(t), testLogger())

	req := httptest.NewRequest(http.MethodGet, "http://shop.example.com/api", nil)
	rr := httptest.NewRecorder()

	if _, err := f.Forward(rr, req); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if rr.Body.String() != `{"ok":true}` {
		t.Fatalf("non-HTML body altered: %q", rr.Body.String())
	}
}
