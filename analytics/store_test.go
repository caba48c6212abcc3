package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func testStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres")), mock
}

func TestStoreRecordInsertsRow(t *testing.T) {
	s, mock := testStore(t)
	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(ts, EventFAQAnswer, "keys", int64(20), "jdoe", "John Doe", int64(10), []byte(`{"source":"menu"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s.Record(context.Background(), Event{
		Timestamp: ts,
		Type:      EventFAQAnswer,
		Subject:   "keys",
		UserID:    20,
		Username:  "jdoe",
		FullName:  "John Doe",
		ChatID:    10,
		Payload:   map[string]any{"source": "menu"},
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestStoreRecordNullsEmptyOptionals(t *testing.T) {
	s, mock := testStore(t)
	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// Empty subject, user, and names become SQL NULL; the payload
	// defaults to an empty object.
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(ts, EventStart, nil, nil, nil, nil, nil, []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s.Record(context.Background(), Event{Timestamp: ts, Type: EventStart})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestStoreRecordSwallowsFailure(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectExec(`INSERT INTO events`).
		WillReturnError(errors.New("connection refused"))

	// Must not panic or surface the error.
	s.Record(context.Background(), NewEvent(EventStart))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestStoreQueryAggregatesWindow(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events WHERE ts >= \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`COUNT\(DISTINCT user_id\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`GROUP BY event_type`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "cnt"}).
			AddRow(EventFAQAnswer, 6).
			AddRow(EventStart, 4))
	mock.ExpectQuery(`GROUP BY subject`).
		WithArgs(EventFAQAnswer, sqlmock.AnyArg(), topSubjects).
		WillReturnRows(sqlmock.NewRows([]string{"subject", "cnt"}).
			AddRow("keys", 4).
			AddRow("renew", 2))
	mock.ExpectQuery(`GROUP BY subject`).
		WithArgs(EventInstallAnswer, sqlmock.AnyArg(), topSubjects).
		WillReturnRows(sqlmock.NewRows([]string{"subject", "cnt"}))
	mock.ExpectQuery(`WHERE event_type = \$1 AND ts >= \$2`).
		WithArgs(EventFeedbackHelpful, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`WHERE event_type = \$1 AND ts >= \$2`).
		WithArgs(EventFeedbackUnhelpful, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	r, err := s.Query(context.Background(), 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if r.WindowDays != 7 {
		t.Fatalf("window = %d, want default 7", r.WindowDays)
	}
	wantSince := time.Now().UTC().AddDate(0, 0, -7)
	if d := r.Since.Sub(wantSince); d < -time.Minute || d > time.Minute {
		t.Fatalf("since = %v, want about %v", r.Since, wantSince)
	}
	if r.Total != 12 || r.UniqueUsers != 3 {
		t.Fatalf("totals = %d/%d, want 12/3", r.Total, r.UniqueUsers)
	}
	if len(r.ByType) != 2 || r.ByType[0].Type != EventFAQAnswer || r.ByType[0].Count != 6 {
		t.Fatalf("by type = %+v", r.ByType)
	}
	if len(r.TopFAQ) != 2 || r.TopFAQ[0].Subject != "keys" || r.TopFAQ[0].Count != 4 {
		t.Fatalf("top faq = %+v", r.TopFAQ)
	}
	if len(r.TopInstall) != 0 {
		t.Fatalf("top install = %+v, want empty", r.TopInstall)
	}
	if r.Helpful != 2 || r.Unhelpful != 1 {
		t.Fatalf("feedback = %d/%d, want 2/1", r.Helpful, r.Unhelpful)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("queries: %v", err)
	}
}

func TestStoreQueryPropagatesFailure(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events`).
		WillReturnError(errors.New("db down"))

	if _, err := s.Query(context.Background(), 7); err == nil {
		t.Fatal("expected error from failed count")
	}
}
