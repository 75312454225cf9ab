package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorRecord(t *testing.T) {
	var (
		gotMethod  string
		gotKey     string
		gotType    string
		gotPayload map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotKey = r.Header.Get("X-API-Key")
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, err := NewCollector(srv.URL, "aik-123", time.Second)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	ev := sampleEvent()
	if err := c.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotKey != "aik-123" {
		t.Errorf("X-API-Key = %q, want aik-123", gotKey)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}

	if gotPayload["event_id"] != ev.ID.String() {
		t.Errorf("event_id = %v, want %s", gotPayload["event_id"], ev.ID)
	}
	if gotPayload["source_type"] != "bot" {
		t.Errorf("source_type = %v, want bot", gotPayload["source_type"])
	}
	if gotPayload["matched_pattern"] != "GPTBot" {
		t.Errorf("matched_pattern = %v, want GPTBot", gotPayload["matched_pattern"])
	}
	if gotPayload["was_blocked"] != true {
		t.Errorf("was_blocked = %v, want true", gotPayload["was_blocked"])
	}
	if gotPayload["response_status"] != float64(403) {
		t.Errorf("response_status = %v, want 403", gotPayload["response_status"])
	}
	if gotPayload["ip_address"] != "203.0.113.9" {
		t.Errorf("ip_address = %v", gotPayload["ip_address"])
	}
	if _, present := gotPayload["robots_compliant"]; present {
		t.Error("robots_compliant should be omitted when not determined")
	}
}

func TestCollectorRecordAnnotations(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
	}))
	defer srv.Close()

	c, err := NewCollector(srv.URL, "aik-123", time.Second)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	ev := sampleEvent()
	compliant := true
	verified := false
	ev.Request.RobotsCompliant = &compliant
	ev.Request.VerifiedCrawler = &verified
	if err := c.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if gotPayload["robots_compliant"] != true {
		t.Errorf("robots_compliant = %v, want true", gotPayload["robots_compliant"])
	}
	if gotPayload["verified_crawler"] != false {
		t.Errorf("verified_crawler = %v, want false", gotPayload["verified_crawler"])
	}
}

func TestCollectorRecordStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewCollector(srv.URL, "aik-123", time.Second)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	if err := c.Record(context.Background(), sampleEvent()); err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("err = %v, want status 500 error", err)
	}
}

func TestNewCollectorValidation(t *testing.T) {
	if _, err := NewCollector("", "key", time.Second); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if _, err := NewCollector("https://collector.example.com", "", time.Second); err == nil {
		t.Error("expected error for missing credential")
	}
}
