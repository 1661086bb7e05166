package nl2sql

import (
	"context"

	"github.com/sqlmentor/sqlmentor/internal/dbgateway"
)

// ExampleContext is a curated question/SQL pair included in the prompt so
// the model can imitate queries that were confirmed correct for the target
// database.
type ExampleContext struct {
	Question     string `json:"question"`
	SQL          string `json:"sql"`
	Description  string `json:"description,omitempty"`
	IncorrectSQL string `json:"incorrect_sql,omitempty"`
}

// HistoryTurn is a prior conversation message, oldest first, letting the
// model resolve follow-up questions like "now only for March".
type HistoryTurn struct {
	Message  string `json:"message"`
	FromUser bool   `json:"from_user"`
	SQL      string `json:"sql,omitempty"`
}

type Request struct {
	ConnectionID string           `json:"connection_id"`
	Engine       string           `json:"engine"`
	Question     string           `json:"question"`
	Schema       dbgateway.Schema `json:"schema"`
	Examples     []ExampleContext `json:"examples"`
	History      []HistoryTurn    `json:"history"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}
