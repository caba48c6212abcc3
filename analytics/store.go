package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"log/slog"

	"github.com/m3rciful/supportbot/core/logger"
)

const topSubjects = 5

// Store is the append-only event log backed by Postgres.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Record appends an event, swallowing any failure. Analytics is best-effort:
// a lost row must never abort the user-facing interaction it is attached to.
func (s *Store) Record(ctx context.Context, e Event) {
	if err := s.append(ctx, e); err != nil {
		logger.Warn(ctx, "service.analytics", "append",
			slog.String("status", "fail"),
			slog.String("event_type", e.Type),
			slog.String("err", err.Error()),
		)
	}
}

func (s *Store) append(ctx context.Context, e Event) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("analytics: store not initialized")
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (ts, event_type, subject, user_id, username, full_name, chat_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ts.UTC(), e.Type,
		nullString(e.Subject),
		nullInt64(e.UserID),
		nullString(e.Username),
		nullString(e.FullName),
		nullInt64(e.ChatID),
		data,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// TypeCount is one per-event-type tally of the report window.
type TypeCount struct {
	Type  string `db:"event_type"`
	Count int    `db:"cnt"`
}

// SubjectCount is one ranked subject tally of the report window.
type SubjectCount struct {
	Subject string `db:"subject"`
	Count   int    `db:"cnt"`
}

// Report aggregates events over a trailing window. It is derived on demand
// and never stored.
type Report struct {
	Since       time.Time
	WindowDays  int
	Total       int
	UniqueUsers int
	ByType      []TypeCount
	TopFAQ      []SubjectCount
	TopInstall  []SubjectCount
	Helpful     int
	Unhelpful   int
}

// Query computes the aggregate report for the trailing windowDays window.
// Ranking ties keep the store's natural insertion order.
func (s *Store) Query(ctx context.Context, windowDays int) (*Report, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	r := &Report{Since: since, WindowDays: windowDays}

	start := time.Now()
	if err := s.db.GetContext(ctx, &r.Total,
		`SELECT COUNT(*) FROM events WHERE ts >= $1`, since); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	if err := s.db.GetContext(ctx, &r.UniqueUsers,
		`SELECT COUNT(DISTINCT user_id) FROM events WHERE ts >= $1 AND user_id IS NOT NULL`, since); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if err := s.db.SelectContext(ctx, &r.ByType, `
		SELECT event_type, COUNT(*) AS cnt
		FROM events
		WHERE ts >= $1
		GROUP BY event_type
		ORDER BY cnt DESC`, since); err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	var err error
	if r.TopFAQ, err = s.topSubjects(ctx, EventFAQAnswer, since); err != nil {
		return nil, err
	}
	if r.TopInstall, err = s.topSubjects(ctx, EventInstallAnswer, since); err != nil {
		return nil, err
	}
	if r.Helpful, err = s.countType(ctx, EventFeedbackHelpful, since); err != nil {
		return nil, err
	}
	if r.Unhelpful, err = s.countType(ctx, EventFeedbackUnhelpful, since); err != nil {
		return nil, err
	}

	logger.Debug(ctx, "service.analytics", "report",
		slog.Int("window_days", windowDays),
		slog.Int("events_total", r.Total),
		slog.Int("unique_users", r.UniqueUsers),
		slog.Duration("duration", logger.Took(start)),
	)
	return r, nil
}

func (s *Store) topSubjects(ctx context.Context, eventType string, since time.Time) ([]SubjectCount, error) {
	var out []SubjectCount
	err := s.db.SelectContext(ctx, &out, `
		SELECT subject, COUNT(*) AS cnt
		FROM events
		WHERE event_type = $1 AND ts >= $2 AND subject IS NOT NULL
		GROUP BY subject
		ORDER BY cnt DESC
		LIMIT $3`, eventType, since, topSubjects)
	if err != nil {
		return nil, fmt.Errorf("top subjects for %s: %w", eventType, err)
	}
	return out, nil
}

func (s *Store) countType(ctx context.Context, eventType string, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM events WHERE event_type = $1 AND ts >= $2`, eventType, since)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", eventType, err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
