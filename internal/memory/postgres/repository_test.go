package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sqlmentor/sqlmentor/internal/memory"
)

func TestCreateConnection(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO connection (connection_id, name, engine, host, port, db_name, username, password, dsn, description)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING created_at, updated_at`)).
		WithArgs("conn-1", "Reporting DB", "postgres", "db.internal", 5432, "reports", "reader", "secret", "", "read replica").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	conn, err := repo.CreateConnection(context.Background(), memory.CreateConnectionInput{
		ID:          "conn-1",
		Name:        "Reporting DB",
		Engine:      "postgres",
		Host:        "db.internal",
		Port:        5432,
		Database:    "reports",
		Username:    "reader",
		Password:    "secret",
		Description: "read replica",
	})
	if err != nil {
		t.Fatalf("CreateConnection() error = %v", err)
	}
	if conn.ID != "conn-1" {
		t.Fatalf("ID = %q", conn.ID)
	}
	if !conn.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", conn.CreatedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestCreateConnectionAssignsID(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO connection").
		WithArgs(sqlmock.AnyArg(), "Reporting DB", "mysql", "", 0, "", "", "", "mysql://dsn", "").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	conn, err := repo.CreateConnection(context.Background(), memory.CreateConnectionInput{
		Name:   "Reporting DB",
		Engine: "mysql",
		DSN:    "mysql://dsn",
	})
	if err != nil {
		t.Fatalf("CreateConnection() error = %v", err)
	}
	if conn.ID == "" {
		t.Fatal("expected assigned connection id")
	}
	assertSQLMock(t, mock)
}

func TestCreateConnectionRejectsMissingName(t *testing.T) {
	db, _ := newSQLMock(t)
	repo := NewRepository(db, nil)

	_, err := repo.CreateConnection(context.Background(), memory.CreateConnectionInput{Engine: "postgres"})
	var verr *memory.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

func TestGetConnectionReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectQuery("SELECT (.+) FROM connection").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetConnection(context.Background(), "missing")
	if !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, memory.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestDeleteConnectionNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM connection
WHERE connection_id = $1`)).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.DeleteConnection(context.Background(), "missing"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, memory.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestAppendTurnSerializesResultSet(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO chat_turn (turn_id, connection_id, message, from_user, sql_text, exec_error, result_json, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)).
		WithArgs("turn-1", "conn-1", "here are the users", false, "SELECT id FROM users", "", `{"columns":["id"],"rows":[[1]]}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	turn, err := repo.AppendTurn(context.Background(), memory.AppendTurnInput{
		ID:           "turn-1",
		ConnectionID: "conn-1",
		Message:      "here are the users",
		SQL:          "SELECT id FROM users",
		Result: memory.ResultSet{
			Columns: []string{"id"},
			Rows:    [][]any{{1}},
		},
	})
	if err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if turn.CreatedAt.IsZero() {
		t.Fatal("expected assigned creation timestamp")
	}
	if turn.ResultJSON == "" {
		t.Fatal("expected serialized result text")
	}
	assertSQLMock(t, mock)
}

func TestAppendTurnEmptyResultStoresNoResultMarker(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectExec("INSERT INTO chat_turn").
		WithArgs("turn-2", "conn-1", "show active users", true, "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	turn, err := repo.AppendTurn(context.Background(), memory.AppendTurnInput{
		ID:           "turn-2",
		ConnectionID: "conn-1",
		Message:      "show active users",
		FromUser:     true,
	})
	if err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if turn.ResultJSON != "" {
		t.Fatalf("ResultJSON = %q, want empty", turn.ResultJSON)
	}
	assertSQLMock(t, mock)
}

func TestAppendTurnRejectsMissingMessage(t *testing.T) {
	db, _ := newSQLMock(t)
	repo := NewRepository(db, nil)

	_, err := repo.AppendTurn(context.Background(), memory.AppendTurnInput{ConnectionID: "conn-1"})
	var verr *memory.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

func TestHistoryDecodesResults(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"turn_id", "connection_id", "message", "from_user", "sql_text", "exec_error", "result_json", "created_at"}).
		AddRow("t1", "conn-1", "show users", true, "", "", "", now.Add(-time.Minute)).
		AddRow("t2", "conn-1", "two users found", false, "SELECT * FROM users", "", `{"columns":["a"],"rows":[[1]]}`, now)

	mock.ExpectQuery("SELECT (.+) FROM chat_turn").
		WithArgs("conn-1").
		WillReturnRows(rows)

	turns, err := repo.History(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d", len(turns))
	}
	if !turns[0].Result.Empty() {
		t.Fatalf("turns[0].Result = %#v, want empty", turns[0].Result)
	}
	if len(turns[1].Result.Rows) != 1 || turns[1].Result.Columns[0] != "a" {
		t.Fatalf("turns[1].Result = %#v", turns[1].Result)
	}
	assertSQLMock(t, mock)
}

func TestHistoryDegradesCorruptResultToEmpty(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	rows := sqlmock.NewRows([]string{"turn_id", "connection_id", "message", "from_user", "sql_text", "exec_error", "result_json", "created_at"}).
		AddRow("t1", "conn-1", "answer", false, "SELECT 1", "", `{"columns":["a"`, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM chat_turn").
		WithArgs("conn-1").
		WillReturnRows(rows)

	turns, err := repo.History(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d", len(turns))
	}
	if !turns[0].Result.Empty() {
		t.Fatalf("Result = %#v, want empty after corrupt decode", turns[0].Result)
	}
	if turns[0].SQL != "SELECT 1" {
		t.Fatalf("SQL = %q, authoritative field must survive degradation", turns[0].SQL)
	}
	assertSQLMock(t, mock)
}

func TestClearHistoryIsIdempotent(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectExec("DELETE FROM chat_turn").
		WithArgs("conn-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.ClearHistory(context.Background(), "conn-1"); err != nil {
		t.Fatalf("ClearHistory() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestCreateExampleCorrection(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO example").
		WithArgs("ex-1", "conn-1", "list active users", "SELECT * FROM users WHERE active = 1", "", "", "correction", "SELECT * FROM users", "reviewer").
		WillReturnRows(sqlmock.NewRows([]string{"enabled", "usage_count", "created_at", "updated_at"}).AddRow(true, int64(0), now, now))

	example, err := repo.CreateExample(context.Background(), memory.CreateExampleInput{
		ID:           "ex-1",
		ConnectionID: "conn-1",
		Question:     "list active users",
		SQL:          "SELECT * FROM users WHERE active = 1",
		Source:       memory.SourceCorrection,
		IncorrectSQL: "SELECT * FROM users",
		CreatedBy:    "reviewer",
	})
	if err != nil {
		t.Fatalf("CreateExample() error = %v", err)
	}
	if !example.Enabled {
		t.Fatal("expected new example to be enabled")
	}
	if example.Source != memory.SourceCorrection {
		t.Fatalf("Source = %q", example.Source)
	}
	assertSQLMock(t, mock)
}

func TestCreateExampleCorrectionRequiresIncorrectSQL(t *testing.T) {
	db, _ := newSQLMock(t)
	repo := NewRepository(db, nil)

	_, err := repo.CreateExample(context.Background(), memory.CreateExampleInput{
		ConnectionID: "conn-1",
		Question:     "q",
		SQL:          "SELECT 1",
		Source:       memory.SourceCorrection,
	})
	var verr *memory.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

func TestSearchExamplesEmptyKeywordListsEnabled(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE connection_id = $1 AND enabled
ORDER BY created_at ASC, example_id ASC`)).
		WithArgs("conn-1").
		WillReturnRows(exampleRows())

	examples, err := repo.SearchExamples(context.Background(), "conn-1", "")
	if err != nil {
		t.Fatalf("SearchExamples() error = %v", err)
	}
	if len(examples) != 1 {
		t.Fatalf("len(examples) = %d", len(examples))
	}
	assertSQLMock(t, mock)
}

func TestSearchExamplesKeywordIsCaseSensitiveSubstring(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`strpos(question, $2) > 0`)).
		WithArgs("conn-1", "Active").
		WillReturnRows(exampleRows())

	if _, err := repo.SearchExamples(context.Background(), "conn-1", "Active"); err != nil {
		t.Fatalf("SearchExamples() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRecordExampleUsage(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE example
SET usage_count = usage_count + 1,
    last_used_at = NOW(),
    updated_at = NOW()
WHERE example_id = $1`)).
		WithArgs("ex-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RecordExampleUsage(context.Background(), "ex-1"); err != nil {
		t.Fatalf("RecordExampleUsage() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRecordExampleUsageNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectExec("UPDATE example").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.RecordExampleUsage(context.Background(), "missing"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, memory.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestSetExamplesEnabledEmptyInputIsNoOp(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	if err := repo.SetExamplesEnabled(context.Background(), "conn-a", nil, true); err != nil {
		t.Fatalf("SetExamplesEnabled() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestSetExamplesEnabledNoneMatched(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectExec("UPDATE example").
		WithArgs(true, "conn-a", "nonexistent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetExamplesEnabled(context.Background(), "conn-a", []string{"nonexistent"}, true)
	if !errors.Is(err, memory.ErrNoneMatched) {
		t.Fatalf("error = %v, want %v", err, memory.ErrNoneMatched)
	}
	assertSQLMock(t, mock)
}

func TestSetExamplesEnabledScopesUpdateToConnection(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectExec(regexp.QuoteMeta(`WHERE connection_id = $2
  AND example_id IN ($3, $4)`)).
		WithArgs(false, "conn-a", "ex-1", "ex-2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.SetExamplesEnabled(context.Background(), "conn-a", []string{"ex-1", "ex-2"}, false); err != nil {
		t.Fatalf("SetExamplesEnabled() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestStats(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db, nil)

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"connections", "chat_turns", "examples"}).AddRow(int64(2), int64(40), int64(9)))

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Connections != 2 || stats.ChatTurns != 40 || stats.Examples != 9 {
		t.Fatalf("stats = %+v", stats)
	}
	assertSQLMock(t, mock)
}

func exampleRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"example_id", "connection_id", "question", "sql_text", "description", "category",
		"enabled", "source", "incorrect_sql", "usage_count", "last_used_at", "created_by",
		"created_at", "updated_at",
	}).AddRow("ex-1", "conn-1", "list active users", "SELECT * FROM users WHERE active = 1", "", "users", true, "manual", "", int64(3), now, "", now, now)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
