// Package dbgateway connects to the user's registered databases to read
// their schema and run generated queries. Every statement that passes
// through here must be read-only; the assistant never mutates user data.
package dbgateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sqlmentor/sqlmentor/internal/memory"
)

var ErrNotReadOnly = errors.New("dbgateway: statement is not a read-only query")

type ColumnSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

type Schema struct {
	Tables []TableSchema `json:"tables"`
}

type QueryResult struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	RowCount  int           `json:"row_count"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

type Introspector interface {
	IntrospectSchema(ctx context.Context, conn memory.Connection) (Schema, error)
}

type Executor interface {
	ExecuteQuery(ctx context.Context, conn memory.Connection, sqlText string, maxRows int) (QueryResult, error)
}

type Pinger interface {
	Ping(ctx context.Context, conn memory.Connection) error
}

// CheckReadOnly rejects anything that is not a single SELECT or WITH
// statement. The check is a prefix guard, not a parser; the database's own
// permissions remain the real enforcement line.
func CheckReadOnly(sqlText string) error {
	trimmed := stripTrailingSemicolons(sqlText)
	if trimmed == "" {
		return ErrNotReadOnly
	}
	if strings.Contains(trimmed, ";") {
		return ErrNotReadOnly
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ErrNotReadOnly
	}
	return nil
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
