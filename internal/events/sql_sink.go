package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"botgate/internal/config"
)

// SQLSink persists detection events into a relational database for local
// retention and the admin query surface.
type SQLSink struct {
	db          *sql.DB
	autoMigrate bool
}

// NewSQLSink initialises a SQLSink from configuration. With Postgres and
// create_if_missing set, a missing database is created through the admin
// database before reconnecting.
func NewSQLSink(cfg config.SQLConfig) (*SQLSink, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	sink := &SQLSink{
		db:          db,
		autoMigrate: cfg.AutoMigrate,
	}
	if cfg.AutoMigrate {
		if err := sink.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return sink, nil
}

// Record inserts one event. Inserts are idempotent on the event id, so a
// retried delivery never duplicates a row.
func (s *SQLSink) Record(ctx context.Context, ev Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.insertEvent(ctx, ev); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := s.insertEvent(ctx, ev); retryErr != nil {
				return fmt.Errorf("insert event: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLSink) insertEvent(ctx context.Context, ev Event) error {
	query := `
        INSERT INTO detection_events (
            event_id, occurred_at, platform, url, request_method, request_path,
            request_host, user_agent, referrer, ip_address, response_status,
            source_type, matched_pattern, category, subcategory, company,
            was_blocked, robots_compliant, verified_crawler
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
        ON CONFLICT (event_id) DO NOTHING
    `
	_, err := s.db.ExecContext(ctx, query,
		ev.ID.String(),
		ev.Request.Timestamp,
		ev.Platform,
		ev.Request.URL,
		ev.Request.Method,
		ev.Request.Path,
		ev.Request.Host,
		ev.Request.UserAgent,
		ev.Request.Referrer,
		ev.Request.ClientIP,
		ev.Request.ResponseStatus,
		ev.Detection.SourceType,
		ev.Detection.MatchedPattern,
		ev.Detection.Category,
		ev.Detection.Subcategory,
		ev.Detection.Company,
		ev.Detection.ShouldBlock,
		ev.Request.RobotsCompliant,
		ev.Request.VerifiedCrawler,
	)
	return err
}

// StoredEvent is one persisted row as served to the admin surface.
type StoredEvent struct {
	EventID         string    `json:"event_id"`
	OccurredAt      time.Time `json:"occurred_at"`
	Platform        string    `json:"platform"`
	URL             string    `json:"url"`
	Method          string    `json:"request_method"`
	Path            string    `json:"request_path"`
	Host            string    `json:"request_host"`
	UserAgent       string    `json:"user_agent"`
	Referrer        string    `json:"referrer,omitempty"`
	IPAddress       string    `json:"ip_address"`
	ResponseStatus  int       `json:"response_status"`
	SourceType      string    `json:"source_type"`
	MatchedPattern  string    `json:"matched_pattern,omitempty"`
	Category        string    `json:"category,omitempty"`
	Subcategory     string    `json:"subcategory,omitempty"`
	Company         string    `json:"company,omitempty"`
	WasBlocked      bool      `json:"was_blocked"`
	RobotsCompliant *bool     `json:"robots_compliant,omitempty"`
	VerifiedCrawler *bool     `json:"verified_crawler,omitempty"`
}

// RecentEvents returns the newest events, newest first.
func (s *SQLSink) RecentEvents(ctx context.Context, limit int) ([]StoredEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `
        SELECT event_id, occurred_at, platform, url, request_method, request_path,
               request_host, user_agent, referrer, ip_address, response_status,
               source_type, matched_pattern, category, subcategory, company,
               was_blocked, robots_compliant, verified_crawler
        FROM detection_events
        ORDER BY occurred_at DESC
        LIMIT $1
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]StoredEvent, 0, limit)
	for rows.Next() {
		var ev StoredEvent
		var robots, verified sql.NullBool
		err := rows.Scan(
			&ev.EventID, &ev.OccurredAt, &ev.Platform, &ev.URL, &ev.Method,
			&ev.Path, &ev.Host, &ev.UserAgent, &ev.Referrer, &ev.IPAddress,
			&ev.ResponseStatus, &ev.SourceType, &ev.MatchedPattern, &ev.Category,
			&ev.Subcategory, &ev.Company, &ev.WasBlocked, &robots, &verified,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if robots.Valid {
			ev.RobotsCompliant = &robots.Bool
		}
		if verified.Valid {
			ev.VerifiedCrawler = &verified.Bool
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the underlying DB connection.
func (s *SQLSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDSN := parsed.String()
	adminDB, err := sql.Open(cfg.Driver, adminDSN)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS detection_events (
		    event_id UUID PRIMARY KEY,
		    occurred_at TIMESTAMPTZ NOT NULL,
		    platform TEXT,
		    url TEXT,
		    request_method TEXT,
		    request_path TEXT,
		    request_host TEXT,
		    user_agent TEXT,
		    referrer TEXT,
		    ip_address TEXT,
		    response_status INT,
		    source_type TEXT,
		    matched_pattern TEXT,
		    category TEXT,
		    subcategory TEXT,
		    company TEXT,
		    was_blocked BOOLEAN,
		    robots_compliant BOOLEAN,
		    verified_crawler BOOLEAN
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_events_occurred_at ON detection_events (occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_events_source_type ON detection_events (source_type)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
