package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sqlmentor/sqlmentor/internal/memory"
	"github.com/sqlmentor/sqlmentor/internal/observability"
)

type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRepository(db *sql.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store db: %w", err)
	}
	return nil
}

func (r *Repository) CreateConnection(ctx context.Context, in memory.CreateConnectionInput) (memory.Connection, error) {
	if err := in.Validate(); err != nil {
		return memory.Connection{}, err
	}

	connectionID := in.ID
	if connectionID == "" {
		connectionID = uuid.NewString()
	}

	query := `
INSERT INTO connection (connection_id, name, engine, host, port, db_name, username, password, dsn, description)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING created_at, updated_at`

	conn := memory.Connection{
		ID:          connectionID,
		Name:        in.Name,
		Engine:      in.Engine,
		Host:        in.Host,
		Port:        in.Port,
		Database:    in.Database,
		Username:    in.Username,
		Password:    in.Password,
		DSN:         in.DSN,
		Description: in.Description,
	}
	if err := r.db.QueryRowContext(ctx, query,
		connectionID,
		in.Name,
		in.Engine,
		in.Host,
		in.Port,
		in.Database,
		in.Username,
		in.Password,
		in.DSN,
		in.Description,
	).Scan(&conn.CreatedAt, &conn.UpdatedAt); err != nil {
		return memory.Connection{}, fmt.Errorf("create connection: %w", err)
	}
	return conn, nil
}

const connectionColumns = `connection_id, name, engine, host, port, db_name, username, password, dsn, description, created_at, updated_at`

func (r *Repository) GetConnection(ctx context.Context, connectionID string) (memory.Connection, error) {
	query := `
SELECT ` + connectionColumns + `
FROM connection
WHERE connection_id = $1`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, connectionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return memory.Connection{}, memory.ErrNotFound
		}
		return memory.Connection{}, fmt.Errorf("get connection: %w", err)
	}
	return conn, nil
}

func (r *Repository) ListConnections(ctx context.Context) ([]memory.Connection, error) {
	query := `
SELECT ` + connectionColumns + `
FROM connection
ORDER BY name ASC, connection_id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	connections := make([]memory.Connection, 0)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		connections = append(connections, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection rows: %w", err)
	}
	return connections, nil
}

func (r *Repository) DeleteConnection(ctx context.Context, connectionID string) error {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM connection
WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete connection rows affected: %w", err)
	}
	if rows == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (r *Repository) AppendTurn(ctx context.Context, in memory.AppendTurnInput) (memory.ChatTurn, error) {
	if err := in.Validate(); err != nil {
		return memory.ChatTurn{}, err
	}

	turnID := in.ID
	if turnID == "" {
		turnID = uuid.NewString()
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	resultJSON, err := memory.EncodeResultSet(in.Result)
	if err != nil {
		return memory.ChatTurn{}, fmt.Errorf("encode result set: %w", err)
	}

	query := `
INSERT INTO chat_turn (turn_id, connection_id, message, from_user, sql_text, exec_error, result_json, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := r.db.ExecContext(ctx, query,
		turnID,
		in.ConnectionID,
		in.Message,
		in.FromUser,
		in.SQL,
		in.ExecError,
		resultJSON,
		createdAt,
	); err != nil {
		return memory.ChatTurn{}, fmt.Errorf("append chat turn: %w", err)
	}

	return memory.ChatTurn{
		ID:           turnID,
		ConnectionID: in.ConnectionID,
		Message:      in.Message,
		FromUser:     in.FromUser,
		SQL:          in.SQL,
		ExecError:    in.ExecError,
		ResultJSON:   resultJSON,
		Result:       in.Result,
		CreatedAt:    createdAt,
	}, nil
}

const turnColumns = `turn_id, connection_id, message, from_user, sql_text, exec_error, result_json, created_at`

func (r *Repository) History(ctx context.Context, connectionID string) ([]memory.ChatTurn, error) {
	query := `
SELECT ` + turnColumns + `
FROM chat_turn
WHERE connection_id = $1
ORDER BY created_at ASC, turn_id ASC`

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return r.collectTurns(rows)
}

func (r *Repository) RecentHistory(ctx context.Context, connectionID string, limit int) ([]memory.ChatTurn, error) {
	query := `
SELECT ` + turnColumns + `
FROM chat_turn
WHERE connection_id = $1
ORDER BY created_at DESC, turn_id DESC
LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return r.collectTurns(rows)
}

func (r *Repository) ClearHistory(ctx context.Context, connectionID string) error {
	if _, err := r.db.ExecContext(ctx, `
DELETE FROM chat_turn
WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}

func (r *Repository) collectTurns(rows *sql.Rows) ([]memory.ChatTurn, error) {
	turns := make([]memory.ChatTurn, 0)
	for rows.Next() {
		var turn memory.ChatTurn
		if err := rows.Scan(
			&turn.ID,
			&turn.ConnectionID,
			&turn.Message,
			&turn.FromUser,
			&turn.SQL,
			&turn.ExecError,
			&turn.ResultJSON,
			&turn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat turn row: %w", err)
		}
		result, err := memory.DecodeResultSet(turn.ResultJSON)
		if err != nil {
			observability.IncrementSerializationDegradation()
			if r.logger != nil {
				r.logger.Warn("corrupt cached result set, substituting empty",
					slog.String("turn_id", turn.ID),
					slog.Any("error", err),
				)
			}
		}
		turn.Result = result
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat turn rows: %w", err)
	}
	return turns, nil
}

func (r *Repository) CreateExample(ctx context.Context, in memory.CreateExampleInput) (memory.Example, error) {
	if err := in.Validate(); err != nil {
		return memory.Example{}, err
	}

	exampleID := in.ID
	if exampleID == "" {
		exampleID = uuid.NewString()
	}
	source := in.Source
	if source == "" {
		source = memory.SourceManual
	}

	query := `
INSERT INTO example (example_id, connection_id, question, sql_text, description, category, source, incorrect_sql, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING enabled, usage_count, created_at, updated_at`

	example := memory.Example{
		ID:           exampleID,
		ConnectionID: in.ConnectionID,
		Question:     in.Question,
		SQL:          in.SQL,
		Description:  in.Description,
		Category:     in.Category,
		Source:       source,
		IncorrectSQL: in.IncorrectSQL,
		CreatedBy:    in.CreatedBy,
	}
	if err := r.db.QueryRowContext(ctx, query,
		exampleID,
		in.ConnectionID,
		in.Question,
		in.SQL,
		in.Description,
		in.Category,
		string(source),
		in.IncorrectSQL,
		in.CreatedBy,
	).Scan(&example.Enabled, &example.UsageCount, &example.CreatedAt, &example.UpdatedAt); err != nil {
		return memory.Example{}, fmt.Errorf("create example: %w", err)
	}
	return example, nil
}

const exampleColumns = `example_id, connection_id, question, sql_text, description, category, enabled, source, incorrect_sql, usage_count, last_used_at, created_by, created_at, updated_at`

func (r *Repository) ListEnabledExamples(ctx context.Context, connectionID string) ([]memory.Example, error) {
	query := `
SELECT ` + exampleColumns + `
FROM example
WHERE connection_id = $1 AND enabled
ORDER BY created_at ASC, example_id ASC`
	return r.queryExamples(ctx, "list enabled examples", query, connectionID)
}

func (r *Repository) ListAllExamples(ctx context.Context, connectionID string) ([]memory.Example, error) {
	query := `
SELECT ` + exampleColumns + `
FROM example
WHERE connection_id = $1
ORDER BY created_at ASC, example_id ASC`
	return r.queryExamples(ctx, "list examples", query, connectionID)
}

func (r *Repository) ListExamplesByCategory(ctx context.Context, connectionID, category string) ([]memory.Example, error) {
	query := `
SELECT ` + exampleColumns + `
FROM example
WHERE connection_id = $1 AND enabled AND category = $2
ORDER BY created_at ASC, example_id ASC`
	return r.queryExamples(ctx, "list examples by category", query, connectionID, category)
}

// SearchExamples matches the keyword as a case-sensitive substring of the
// question, SQL, or description. strpos avoids LIKE pattern escaping for
// keywords containing % or _.
func (r *Repository) SearchExamples(ctx context.Context, connectionID, keyword string) ([]memory.Example, error) {
	if keyword == "" {
		return r.ListEnabledExamples(ctx, connectionID)
	}
	query := `
SELECT ` + exampleColumns + `
FROM example
WHERE connection_id = $1 AND enabled
  AND (strpos(question, $2) > 0 OR strpos(sql_text, $2) > 0 OR strpos(description, $2) > 0)
ORDER BY created_at ASC, example_id ASC`
	return r.queryExamples(ctx, "search examples", query, connectionID, keyword)
}

// RecordExampleUsage performs the increment inside a single UPDATE so that
// concurrent calls against the same example never lose updates.
func (r *Repository) RecordExampleUsage(ctx context.Context, exampleID string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE example
SET usage_count = usage_count + 1,
    last_used_at = NOW(),
    updated_at = NOW()
WHERE example_id = $1`, exampleID)
	if err != nil {
		return fmt.Errorf("record example usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record example usage rows affected: %w", err)
	}
	if rows == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// SetExamplesEnabled toggles the batch within one connection only; ids that
// belong to another connection count as unmatched.
func (r *Repository) SetExamplesEnabled(ctx context.Context, connectionID string, exampleIDs []string, enabled bool) error {
	if len(exampleIDs) == 0 {
		return nil
	}

	placeholders := make([]string, len(exampleIDs))
	args := make([]any, 0, len(exampleIDs)+2)
	args = append(args, enabled, connectionID)
	for i, id := range exampleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}

	query := `
UPDATE example
SET enabled = $1,
    updated_at = NOW()
WHERE connection_id = $2
  AND example_id IN (` + strings.Join(placeholders, ", ") + `)`

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set examples enabled: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set examples enabled rows affected: %w", err)
	}
	if rows == 0 {
		return memory.ErrNoneMatched
	}
	return nil
}

func (r *Repository) DeleteExamplesByConnection(ctx context.Context, connectionID string) error {
	if _, err := r.db.ExecContext(ctx, `
DELETE FROM example
WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("delete examples by connection: %w", err)
	}
	return nil
}

func (r *Repository) Stats(ctx context.Context) (memory.StoreStats, error) {
	var stats memory.StoreStats
	if err := r.db.QueryRowContext(ctx, `
SELECT
    (SELECT COUNT(*) FROM connection) AS connections,
    (SELECT COUNT(*) FROM chat_turn) AS chat_turns,
    (SELECT COUNT(*) FROM example) AS examples`).Scan(
		&stats.Connections,
		&stats.ChatTurns,
		&stats.Examples,
	); err != nil {
		return memory.StoreStats{}, fmt.Errorf("query store stats: %w", err)
	}
	return stats, nil
}

func (r *Repository) queryExamples(ctx context.Context, op, query string, args ...any) ([]memory.Example, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	examples := make([]memory.Example, 0)
	for rows.Next() {
		var example memory.Example
		var source string
		var lastUsedAt sql.NullTime
		if err := rows.Scan(
			&example.ID,
			&example.ConnectionID,
			&example.Question,
			&example.SQL,
			&example.Description,
			&example.Category,
			&example.Enabled,
			&source,
			&example.IncorrectSQL,
			&example.UsageCount,
			&lastUsedAt,
			&example.CreatedBy,
			&example.CreatedAt,
			&example.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan example row: %w", err)
		}
		example.Source = memory.ExampleSource(source)
		if lastUsedAt.Valid {
			t := lastUsedAt.Time
			example.LastUsedAt = &t
		}
		examples = append(examples, example)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate example rows: %w", err)
	}
	return examples, nil
}

type connectionScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row connectionScanner) (memory.Connection, error) {
	var conn memory.Connection
	if err := row.Scan(
		&conn.ID,
		&conn.Name,
		&conn.Engine,
		&conn.Host,
		&conn.Port,
		&conn.Database,
		&conn.Username,
		&conn.Password,
		&conn.DSN,
		&conn.Description,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	); err != nil {
		return memory.Connection{}, err
	}
	return conn, nil
}
