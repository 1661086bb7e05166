// Package memory defines the connection-scoped conversational memory and
// example-feedback model: the tenant-rooted Connection registry, per-connection
// chat history, and the curated question→SQL example set that grounds future
// generations.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("memory: not found")
	// ErrNoneMatched reports a batch mutation whose id list resolved to zero
	// rows. Distinct from the empty-input no-op, which succeeds.
	ErrNoneMatched = errors.New("memory: no rows matched")
)

// ValidationError rejects an input before any persistence attempt.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("memory: invalid %s: %s", e.Field, e.Reason)
}

func missingField(field string) error {
	return &ValidationError{Field: field, Reason: "must not be empty"}
}

// Connection is the tenant root. ChatTurns and Examples reference it by id
// only; deleting a connection does not cascade to its dependents.
type Connection struct {
	ID          string
	Name        string
	Engine      string
	Host        string
	Port        int
	Database    string
	Username    string
	Password    string
	DSN         string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ChatTurn struct {
	ID           string
	ConnectionID string
	Message      string
	FromUser     bool
	SQL          string
	ExecError    string
	// ResultJSON is the authoritative serialized result set. Result is the
	// derived in-memory view, recomputed on read; it is never written back.
	ResultJSON string
	Result     ResultSet
	CreatedAt  time.Time
}

type ExampleSource string

const (
	SourceManual     ExampleSource = "manual"
	SourceCorrection ExampleSource = "correction"
)

// Example is a verified question→SQL pair. IncorrectSQL is set exactly when
// Source is SourceCorrection and records the rejected answer the example fixes.
type Example struct {
	ID           string
	ConnectionID string
	Question     string
	SQL          string
	Description  string
	Category     string
	Enabled      bool
	Source       ExampleSource
	IncorrectSQL string
	UsageCount   int64
	LastUsedAt   *time.Time
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CreateConnectionInput struct {
	ID          string
	Name        string
	Engine      string
	Host        string
	Port        int
	Database    string
	Username    string
	Password    string
	DSN         string
	Description string
}

func (in CreateConnectionInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return missingField("name")
	}
	if strings.TrimSpace(in.Engine) == "" {
		return missingField("engine")
	}
	return nil
}

type AppendTurnInput struct {
	ID           string
	ConnectionID string
	Message      string
	FromUser     bool
	SQL          string
	ExecError    string
	Result       ResultSet
	CreatedAt    time.Time
}

func (in AppendTurnInput) Validate() error {
	if strings.TrimSpace(in.ConnectionID) == "" {
		return missingField("connection id")
	}
	if strings.TrimSpace(in.Message) == "" {
		return missingField("message")
	}
	return nil
}

type CreateExampleInput struct {
	ID           string
	ConnectionID string
	Question     string
	SQL          string
	Description  string
	Category     string
	Source       ExampleSource
	IncorrectSQL string
	CreatedBy    string
}

func (in CreateExampleInput) Validate() error {
	if strings.TrimSpace(in.ConnectionID) == "" {
		return missingField("connection id")
	}
	if strings.TrimSpace(in.Question) == "" {
		return missingField("question")
	}
	if strings.TrimSpace(in.SQL) == "" {
		return missingField("sql")
	}
	switch in.Source {
	case SourceManual, "":
		if in.IncorrectSQL != "" {
			return &ValidationError{Field: "incorrect sql", Reason: "only allowed on correction examples"}
		}
	case SourceCorrection:
		if strings.TrimSpace(in.IncorrectSQL) == "" {
			return &ValidationError{Field: "incorrect sql", Reason: "required on correction examples"}
		}
	default:
		return &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", in.Source)}
	}
	return nil
}

type StoreStats struct {
	Connections int64
	ChatTurns   int64
	Examples    int64
}

type ConnectionStore interface {
	CreateConnection(ctx context.Context, in CreateConnectionInput) (Connection, error)
	GetConnection(ctx context.Context, connectionID string) (Connection, error)
	ListConnections(ctx context.Context) ([]Connection, error)
	DeleteConnection(ctx context.Context, connectionID string) error
}

type ChatStore interface {
	AppendTurn(ctx context.Context, in AppendTurnInput) (ChatTurn, error)
	History(ctx context.Context, connectionID string) ([]ChatTurn, error)
	RecentHistory(ctx context.Context, connectionID string, limit int) ([]ChatTurn, error)
	ClearHistory(ctx context.Context, connectionID string) error
}

type ExampleStore interface {
	CreateExample(ctx context.Context, in CreateExampleInput) (Example, error)
	ListEnabledExamples(ctx context.Context, connectionID string) ([]Example, error)
	ListAllExamples(ctx context.Context, connectionID string) ([]Example, error)
	ListExamplesByCategory(ctx context.Context, connectionID, category string) ([]Example, error)
	SearchExamples(ctx context.Context, connectionID, keyword string) ([]Example, error)
	RecordExampleUsage(ctx context.Context, exampleID string) error
	SetExamplesEnabled(ctx context.Context, connectionID string, exampleIDs []string, enabled bool) error
	DeleteExamplesByConnection(ctx context.Context, connectionID string) error
}

type StatsReader interface {
	Stats(ctx context.Context) (StoreStats, error)
}
