// Package tools is the externally invocable operation set of the assistant.
// Every per-connection operation resolves its target connection before any
// store or gateway access, so reads and writes stay scoped to one tenant.
package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlmentor/sqlmentor/internal/archive"
	"github.com/sqlmentor/sqlmentor/internal/dbgateway"
	"github.com/sqlmentor/sqlmentor/internal/memory"
	"github.com/sqlmentor/sqlmentor/internal/nl2sql"
	"github.com/sqlmentor/sqlmentor/internal/observability"
	"github.com/sqlmentor/sqlmentor/internal/retrieval"
	"github.com/sqlmentor/sqlmentor/internal/session"
)

type Config struct {
	MaxResultRows int
	HistoryLimit  int
}

// Archiver exports a connection's history to cold storage and streams
// exported objects back.
type Archiver interface {
	ArchiveHistory(ctx context.Context, connectionID string, clearAfter bool) (archive.Result, error)
	OpenArchive(ctx context.Context, connectionID, key string) (io.ReadCloser, error)
}

type Service struct {
	cfg          Config
	resolver     *session.Resolver
	connections  memory.ConnectionStore
	chats        memory.ChatStore
	examples     memory.ExampleStore
	stats        memory.StatsReader
	ranker       *retrieval.Ranker
	generator    nl2sql.Generator
	introspector dbgateway.Introspector
	executor     dbgateway.Executor
	pinger       dbgateway.Pinger
	archiver     Archiver
	logger       *slog.Logger
}

type Dependencies struct {
	Resolver     *session.Resolver
	Connections  memory.ConnectionStore
	Chats        memory.ChatStore
	Examples     memory.ExampleStore
	Stats        memory.StatsReader
	Ranker       *retrieval.Ranker
	Generator    nl2sql.Generator
	Introspector dbgateway.Introspector
	Executor     dbgateway.Executor
	Pinger       dbgateway.Pinger
	Archiver     Archiver
	Logger       *slog.Logger
}

func NewService(cfg Config, deps Dependencies) *Service {
	if cfg.MaxResultRows <= 0 {
		cfg.MaxResultRows = 100
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Service{
		cfg:          cfg,
		resolver:     deps.Resolver,
		connections:  deps.Connections,
		chats:        deps.Chats,
		examples:     deps.Examples,
		stats:        deps.Stats,
		ranker:       deps.Ranker,
		generator:    deps.Generator,
		introspector: deps.Introspector,
		executor:     deps.Executor,
		pinger:       deps.Pinger,
		archiver:     deps.Archiver,
		logger:       deps.Logger,
	}
}

func (s *Service) ListConnections(ctx context.Context) ([]memory.Connection, error) {
	return s.connections.ListConnections(ctx)
}

func (s *Service) CreateConnection(ctx context.Context, input memory.CreateConnectionInput) (memory.Connection, error) {
	return s.connections.CreateConnection(ctx, input)
}

// DeleteConnection removes a registered connection. With purge set its
// examples and chat history are removed first; without it, dependent rows are
// the caller's responsibility.
func (s *Service) DeleteConnection(ctx context.Context, connectionID string, purge bool) error {
	conn, err := s.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return err
	}
	if purge {
		if err := s.examples.DeleteExamplesByConnection(ctx, conn.ID); err != nil {
			return fmt.Errorf("purge examples for %q: %w", conn.ID, err)
		}
		if err := s.chats.ClearHistory(ctx, conn.ID); err != nil {
			return fmt.Errorf("purge history for %q: %w", conn.ID, err)
		}
	}
	return s.connections.DeleteConnection(ctx, conn.ID)
}

// TestConnection verifies the resolved connection is reachable with its
// stored credentials.
func (s *Service) TestConnection(ctx context.Context, connectionID string) error {
	conn, err := s.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return err
	}
	if s.pinger == nil {
		return fmt.Errorf("connection testing is not configured")
	}
	return s.pinger.Ping(ctx, conn)
}

func (s *Service) GetSchema(ctx context.Context, connectionID string) (dbgateway.Schema, error) {
	conn, err := s.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return dbgateway.Schema{}, err
	}
	schema, err := s.introspector.IntrospectSchema(ctx, conn)
	if err != nil {
		return dbgateway.Schema{}, fmt.Errorf("introspect schema for %q: %w", conn.ID, err)
	}
	return schema, nil
}

// Correction marks a previously generated SQL answer as wrong and supplies
// the statement that should have been produced. Recording it creates a
// correction example that future retrievals can surface.
type Correction struct {
	IncorrectSQL string `json:"incorrect_sql"`
	CorrectedSQL string `json:"corrected_sql"`
}

type GenerateSQLInput struct {
	ConnectionID string      `json:"connection_id,omitempty"`
	Question     string      `json:"question"`
	Execute      bool        `json:"execute,omitempty"`
	Correction   *Correction `json:"correction,omitempty"`
}

type UsedExample struct {
	ID       string  `json:"id"`
	Question string  `json:"question"`
	Score    float64 `json:"score"`
}

type GenerateSQLResult struct {
	ConnectionID string                 `json:"connection_id"`
	SQL          string                 `json:"sql"`
	Provider     string                 `json:"provider"`
	Model        string                 `json:"model"`
	Examples     []UsedExample          `json:"examples,omitempty"`
	Result       *dbgateway.QueryResult `json:"result,omitempty"`
	ExecError    string                 `json:"exec_error,omitempty"`
}

func (s *Service) GenerateSQL(ctx context.Context, input GenerateSQLInput) (GenerateSQLResult, error) {
	start := time.Now()
	result, err := s.generateSQL(ctx, input)
	observability.ObserveGeneration(time.Since(start), err != nil)
	return result, err
}

func (s *Service) generateSQL(ctx context.Context, input GenerateSQLInput) (GenerateSQLResult, error) {
	if strings.TrimSpace(input.Question) == "" {
		return GenerateSQLResult{}, &memory.ValidationError{Field: "question", Reason: "must not be empty"}
	}
	if s.generator == nil {
		return GenerateSQLResult{}, fmt.Errorf("sql generation is not configured")
	}

	conn, err := s.resolver.Resolve(ctx, input.ConnectionID)
	if err != nil {
		return GenerateSQLResult{}, err
	}

	if input.Correction != nil {
		if _, err := s.examples.CreateExample(ctx, memory.CreateExampleInput{
			ConnectionID: conn.ID,
			Question:     input.Question,
			SQL:          input.Correction.CorrectedSQL,
			Source:       memory.SourceCorrection,
			IncorrectSQL: input.Correction.IncorrectSQL,
		}); err != nil {
			return GenerateSQLResult{}, fmt.Errorf("record correction example: %w", err)
		}
	}

	schema, err := s.introspector.IntrospectSchema(ctx, conn)
	if err != nil {
		return GenerateSQLResult{}, fmt.Errorf("introspect schema for %q: %w", conn.ID, err)
	}

	enabled, err := s.examples.ListEnabledExamples(ctx, conn.ID)
	if err != nil {
		return GenerateSQLResult{}, fmt.Errorf("load examples for %q: %w", conn.ID, err)
	}
	ranked := s.ranker.Rank(input.Question, enabled)
	observability.ObserveRetrieval(len(ranked))

	exampleContext := make([]nl2sql.ExampleContext, 0, len(ranked))
	usedExamples := make([]UsedExample, 0, len(ranked))
	for _, item := range ranked {
		exampleContext = append(exampleContext, nl2sql.ExampleContext{
			Question:     item.Example.Question,
			SQL:          item.Example.SQL,
			Description:  item.Example.Description,
			IncorrectSQL: item.Example.IncorrectSQL,
		})
		usedExamples = append(usedExamples, UsedExample{
			ID:       item.Example.ID,
			Question: item.Example.Question,
			Score:    item.Score,
		})
		if err := s.examples.RecordExampleUsage(ctx, item.Example.ID); err != nil && s.logger != nil {
			s.logger.Warn("record example usage failed",
				slog.String("example_id", item.Example.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	history, err := s.historyContext(ctx, conn.ID)
	if err != nil {
		return GenerateSQLResult{}, err
	}

	generated, err := s.generator.Generate(ctx, nl2sql.Request{
		ConnectionID: conn.ID,
		Engine:       conn.Engine,
		Question:     input.Question,
		Schema:       schema,
		Examples:     exampleContext,
		History:      history,
	})
	if err != nil {
		return GenerateSQLResult{}, fmt.Errorf("generate sql: %w", err)
	}

	if _, err := s.chats.AppendTurn(ctx, memory.AppendTurnInput{
		ConnectionID: conn.ID,
		Message:      input.Question,
		FromUser:     true,
	}); err != nil {
		return GenerateSQLResult{}, fmt.Errorf("persist user turn: %w", err)
	}

	result := GenerateSQLResult{
		ConnectionID: conn.ID,
		SQL:          generated.SQL,
		Provider:     generated.Provider,
		Model:        generated.Model,
		Examples:     usedExamples,
	}

	assistantTurn := memory.AppendTurnInput{
		ConnectionID: conn.ID,
		Message:      generated.SQL,
		FromUser:     false,
		SQL:          generated.SQL,
	}

	if input.Execute {
		queryResult, execErr := s.executor.ExecuteQuery(ctx, conn, generated.SQL, s.cfg.MaxResultRows)
		if execErr != nil {
			result.ExecError = execErr.Error()
			assistantTurn.ExecError = execErr.Error()
		} else {
			result.Result = &queryResult
			assistantTurn.Result = memory.ResultSet{Columns: queryResult.Columns, Rows: queryResult.Rows}
		}
	}

	if _, err := s.chats.AppendTurn(ctx, assistantTurn); err != nil {
		return GenerateSQLResult{}, fmt.Errorf("persist assistant turn: %w", err)
	}
	return result, nil
}

// historyContext returns recent turns oldest first, sized for prompting.
func (s *Service) historyContext(ctx context.Context, connectionID string) ([]nl2sql.HistoryTurn, error) {
	recent, err := s.chats.RecentHistory(ctx, connectionID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history for %q: %w", connectionID, err)
	}
	turns := make([]nl2sql.HistoryTurn, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		turns = append(turns, nl2sql.HistoryTurn{
			Message:  recent[i].Message,
			FromUser: recent[i].FromUser,
			SQL:      recent[i].SQL,
		})
	}
	return turns, nil
}

type ExecuteSQLInput struct {
	ConnectionID string `json:"connection_id,omitempty"`
	SQL          string `json:"sql"`
	MaxRows      int    `json:"max_rows,omitempty"`
}

// ExecuteSQL runs a literal statement against the resolved connection. The
// configured row cap is a hard ceiling; callers may request fewer rows but
// never more.
func (s *Service) ExecuteSQL(ctx context.Context, input ExecuteSQLInput) (dbgateway.QueryResult, error) {
	if strings.TrimSpace(input.SQL) == "" {
		return dbgateway.QueryResult{}, &memory.ValidationError{Field: "sql", Reason: "must not be empty"}
	}
	conn, err := s.resolver.Resolve(ctx, input.ConnectionID)
	if err != nil {
		return dbgateway.QueryResult{}, err
	}

	maxRows := input.MaxRows
	if maxRows <= 0 || maxRows > s.cfg.MaxResultRows {
		maxRows = s.cfg.MaxResultRows
	}
	result, err := s.executor.ExecuteQuery(ctx, conn, input.SQL, maxRows)
	if err != nil {
		return dbgateway.QueryResult{}, fmt.Errorf("execute sql on %q: %w", conn.ID, err)
	}
	return result, nil
}

// GetHistory returns up to limit turns, most recent first.
func (s *Service) GetHistory(ctx context.Context, connectionID string, limit int) ([]memory.ChatTurn, error) {
	conn, err := s.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	turns, err := s.chats.RecentHistory(ctx, conn.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history for %q: %w", conn.ID, err)
	}
	return turns, nil
}

// ArchiveHistory exports the resolved connection's history to cold storage,
// optionally clearing the live turns afterwards.
func (s *Service) ArchiveHistory(ctx context.Context, connectionID string, clearAfter bool) (archive.Result, error) {
	if s.archiver == nil {
		return archive.Result{}, fmt.Errorf("history archiving is not configured")
	}
	conn, err := s.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return archive.Result{}, err
	}
	return s.archiver.ArchiveHistory(ctx, conn.ID, clearAfter)
}

// GetArchive streams one exported archive object for the resolved
// connection. Keys belonging to other connections surface as not found.
func (s *Service) GetArchive(ctx context.Context, connectionID, key string) (io.ReadCloser, error) {
	if s.archiver == nil {
		return nil, fmt.Errorf("history archiving is not configured")
	}
	if strings.TrimSpace(key) == "" {
		return nil, &memory.ValidationError{Field: "key", Reason: "must not be empty"}
	}
	conn, err := s.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return s.archiver.OpenArchive(ctx, conn.ID, key)
}

func (s *Service) ClearHistory(ctx context.Context, connectionID string) error {
	conn, err := s.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return err
	}
	return s.chats.ClearHistory(ctx, conn.ID)
}

type Status struct {
	Connections int64 `json:"connections"`
	ChatTurns   int64 `json:"chat_turns"`
	Examples    int64 `json:"examples"`
}

// GetStatus aggregates store sizes. It is the only operation that reads
// across tenants, and it reads counts only.
func (s *Service) GetStatus(ctx context.Context) (Status, error) {
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load store stats: %w", err)
	}
	return Status{
		Connections: stats.Connections,
		ChatTurns:   stats.ChatTurns,
		Examples:    stats.Examples,
	}, nil
}

func (s *Service) CreateExample(ctx context.Context, input memory.CreateExampleInput) (memory.Example, error) {
	conn, err := s.resolver.Resolve(ctx, input.ConnectionID)
	if err != nil {
		return memory.Example{}, err
	}
	input.ConnectionID = conn.ID
	return s.examples.CreateExample(ctx, input)
}

type ListExamplesInput struct {
	ConnectionID string
	All          bool
	Category     string
	Keyword      string
}

func (s *Service) ListExamples(ctx context.Context, input ListExamplesInput) ([]memory.Example, error) {
	conn, err := s.resolver.Resolve(ctx, input.ConnectionID)
	if err != nil {
		return nil, err
	}
	switch {
	case input.All:
		return s.examples.ListAllExamples(ctx, conn.ID)
	case input.Category != "":
		return s.examples.ListExamplesByCategory(ctx, conn.ID, input.Category)
	case input.Keyword != "":
		return s.examples.SearchExamples(ctx, conn.ID, input.Keyword)
	default:
		return s.examples.ListEnabledExamples(ctx, conn.ID)
	}
}

// SetExamplesEnabled toggles a batch. An empty id list is a no-op success;
// a list matching no rows surfaces memory.ErrNoneMatched.
func (s *Service) SetExamplesEnabled(ctx context.Context, connectionID string, ids []string, enabled bool) error {
	conn, err := s.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return err
	}
	return s.examples.SetExamplesEnabled(ctx, conn.ID, ids, enabled)
}

func (s *Service) DeleteExamples(ctx context.Context, connectionID string) error {
	conn, err := s.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return err
	}
	return s.examples.DeleteExamplesByConnection(ctx, conn.ID)
}
