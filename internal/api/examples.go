package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sqlmentor/sqlmentor/internal/memory"
	"github.com/sqlmentor/sqlmentor/internal/tools"
)

type exampleResponse struct {
	ID           string     `json:"id"`
	ConnectionID string     `json:"connection_id"`
	Question     string     `json:"question"`
	SQL          string     `json:"sql"`
	Description  string     `json:"description,omitempty"`
	Category     string     `json:"category,omitempty"`
	Enabled      bool       `json:"enabled"`
	Source       string     `json:"source"`
	IncorrectSQL string     `json:"incorrect_sql,omitempty"`
	UsageCount   int64      `json:"usage_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedBy    string     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toExampleResponse(example memory.Example) exampleResponse {
	return exampleResponse{
		ID:           example.ID,
		ConnectionID: example.ConnectionID,
		Question:     example.Question,
		SQL:          example.SQL,
		Description:  example.Description,
		Category:     example.Category,
		Enabled:      example.Enabled,
		Source:       string(example.Source),
		IncorrectSQL: example.IncorrectSQL,
		UsageCount:   example.UsageCount,
		LastUsedAt:   example.LastUsedAt,
		CreatedBy:    example.CreatedBy,
		CreatedAt:    example.CreatedAt,
		UpdatedAt:    example.UpdatedAt,
	}
}

func handleListExamples(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	examples, err := deps.Tools.ListExamples(r.Context(), tools.ListExamplesInput{
		ConnectionID: query.Get("connection_id"),
		All:          query.Get("all") == "true",
		Category:     query.Get("category"),
		Keyword:      query.Get("keyword"),
	})
	if err != nil {
		writeDomainError(r.Context(), w, err, "EXAMPLES_LIST_FAILED")
		return
	}
	out := make([]exampleResponse, 0, len(examples))
	for _, example := range examples {
		out = append(out, toExampleResponse(example))
	}
	writeJSON(w, http.StatusOK, map[string]any{"examples": out})
}

type createExampleRequest struct {
	ConnectionID string `json:"connection_id"`
	Question     string `json:"question"`
	SQL          string `json:"sql"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	Source       string `json:"source"`
	IncorrectSQL string `json:"incorrect_sql"`
	CreatedBy    string `json:"created_by"`
}

func handleCreateExample(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request createExampleRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid example request body", false, map[string]any{"details": err.Error()})
		return
	}

	example, err := deps.Tools.CreateExample(r.Context(), memory.CreateExampleInput{
		ConnectionID: request.ConnectionID,
		Question:     request.Question,
		SQL:          request.SQL,
		Description:  request.Description,
		Category:     request.Category,
		Source:       memory.ExampleSource(request.Source),
		IncorrectSQL: request.IncorrectSQL,
		CreatedBy:    request.CreatedBy,
	})
	if err != nil {
		writeDomainError(r.Context(), w, err, "EXAMPLE_CREATE_FAILED")
		return
	}
	writeJSON(w, http.StatusCreated, toExampleResponse(example))
}

type setEnabledRequest struct {
	ConnectionID string   `json:"connection_id"`
	IDs          []string `json:"ids"`
	Enabled      bool     `json:"enabled"`
}

func handleSetExamplesEnabled(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request setEnabledRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid batch request body", false, map[string]any{"details": err.Error()})
		return
	}

	if err := deps.Tools.SetExamplesEnabled(r.Context(), request.ConnectionID, request.IDs, request.Enabled); err != nil {
		writeDomainError(r.Context(), w, err, "EXAMPLES_TOGGLE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(request.IDs), "enabled": request.Enabled})
}

func handleDeleteExamples(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	connectionID := r.URL.Query().Get("connection_id")
	if err := deps.Tools.DeleteExamples(r.Context(), connectionID); err != nil {
		writeDomainError(r.Context(), w, err, "EXAMPLES_DELETE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
