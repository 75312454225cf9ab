package inject

import (
	"bytes"
	"compress/gzip"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

const samplePage = `<!DOCTYPE html><html><head><title>Docs</title></head><body><h1>Hello</h1><p>Welcome.</p></body></html>`

func newTestInjector(t *testing.T) *Injector {
	t.Helper()
	inj, err := New("https://edge.example.com/beacon.js", 1<<20, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return inj
}

func TestApplyAppendsScriptToBody(t *testing.T) {
	inj := newTestInjector(t)

	out, injected := inj.Apply([]byte(samplePage), "")
	if !injected {
		t.Fatal("expected injection to succeed")
	}
	html := string(out)
	// The parser stores bare boolean attributes with empty values, so the
	// serialized tag reads defer="".
	want := `<script defer="" src="https://edge.example.com/beacon.js"></script>`
	if !strings.Contains(html, want) {
		t.Fatalf("script tag missing from output:\n%s", html)
	}
	if idx := strings.Index(html, want); idx > strings.Index(html, "</body>") {
		t.Fatal("script tag must land inside <body>")
	}
	if !strings.Contains(html, "<h1>Hello</h1>") {
		t.Fatal("original content must survive injection")
	}
}

func TestApplyDecodesGzip(t *testing.T) {
	inj := newTestInjector(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(samplePage)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}

	out, injected := inj.Apply(buf.Bytes(), "gzip")
	if !injected {
		t.Fatal("expected injection to succeed")
	}
	if !strings.Contains(string(out), "beacon.js") {
		t.Fatal("script tag missing after gzip decode")
	}
	if bytes.HasPrefix(out, []byte{0x1f, 0x8b}) {
		t.Fatal("output must be identity-encoded, not gzip")
	}
}

func TestApplyDecodesBrotli(t *testing.T) {
	inj := newTestInjector(t)

	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	if _, err := bw.Write([]byte(samplePage)); err != nil {
		t.Fatalf("write brotli: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("close brotli: %v", err)
	}

	out, injected := inj.Apply(buf.Bytes(), "br")
	if !injected {
		t.Fatal("expected injection to succeed")
	}
	if !strings.Contains(string(out), "beacon.js") {
		t.Fatal("script tag missing after brotli decode")
	}
}

func TestApplyCorruptGzipFallsBack(t *testing.T) {
	inj := newTestInjector(t)
	body := []byte("not actually gzip")

	out, injected := inj.Apply(body, "gzip")
	if injected {
		t.Fatal("corrupt body must not report injection")
	}
	if !bytes.Equal(out, body) {
		t.Fatal("corrupt body must come back untouched")
	}
}

func TestApplyUnknownEncodingFallsBack(t *testing.T) {
	inj := newTestInjector(t)
	body := []byte(samplePage)

	out, injected := inj.Apply(body, "zstd")
	if injected {
		t.Fatal("unsupported encoding must not report injection")
	}
	if !bytes.Equal(out, body) {
		t.Fatal("body must come back untouched")
	}
}

func TestApplyOversizeBodySkipped(t *testing.T) {
	inj, err := New("https://edge.example.com/beacon.js", 16, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, injected := inj.Apply([]byte(samplePage), "")
	if injected {
		t.Fatal("oversize body must not be injected")
	}
	if string(out) != samplePage {
		t.Fatal("oversize body must come back untouched")
	}
}

func TestEligible(t *testing.T) {
	inj := newTestInjector(t)

	cases := []struct {
		contentType string
		want        bool
	}{
		{"text/html", true},
		{"text/html; charset=utf-8", true},
		{"TEXT/HTML", true},
		{"application/xhtml+xml", true},
		{"application/json", false},
		{"text/plain", false},
		{"", false},
		{"garbage;;;", false},
	}
	for _, tc := range cases {
		if got := inj.Eligible(tc.contentType); got != tc.want {
			t.Errorf("Eligible(%q) = %v, want %v", tc.contentType, got, tc.want)
		}
	}
}

func TestNewRequiresBeaconURL(t *testing.T) {
	if _, err := New("  ", 0, nil); err == nil {
		t.Fatal("expected an error for a blank beacon URL")
	}
}
