package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sqlmentor/sqlmentor/internal/memory"
)

type turnResponse struct {
	ID           string           `json:"id"`
	ConnectionID string           `json:"connection_id"`
	Message      string           `json:"message"`
	FromUser     bool             `json:"from_user"`
	SQL          string           `json:"sql,omitempty"`
	ExecError    string           `json:"exec_error,omitempty"`
	Result       memory.ResultSet `json:"result"`
	CreatedAt    time.Time        `json:"created_at"`
}

func handleGetHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer", false, nil)
			return
		}
		limit = parsed
	}

	turns, err := deps.Tools.GetHistory(r.Context(), r.URL.Query().Get("connection_id"), limit)
	if err != nil {
		writeDomainError(r.Context(), w, err, "HISTORY_FAILED")
		return
	}

	out := make([]turnResponse, 0, len(turns))
	for _, turn := range turns {
		out = append(out, turnResponse{
			ID:           turn.ID,
			ConnectionID: turn.ConnectionID,
			Message:      turn.Message,
			FromUser:     turn.FromUser,
			SQL:          turn.SQL,
			ExecError:    turn.ExecError,
			Result:       turn.Result,
			CreatedAt:    turn.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": out})
}

func handleClearHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	connectionID := r.URL.Query().Get("connection_id")
	if err := deps.Tools.ClearHistory(r.Context(), connectionID); err != nil {
		writeDomainError(r.Context(), w, err, "HISTORY_CLEAR_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

type archiveRequest struct {
	ConnectionID string `json:"connection_id"`
	Clear        bool   `json:"clear"`
}

func handleArchiveHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request archiveRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid archive request body", false, map[string]any{"details": err.Error()})
		return
	}

	result, err := deps.Tools.ArchiveHistory(r.Context(), request.ConnectionID, request.Clear)
	if err != nil {
		writeDomainError(r.Context(), w, err, "ARCHIVE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDownloadArchive streams one parquet export back to the caller.
func handleDownloadArchive(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	reader, err := deps.Tools.GetArchive(r.Context(), r.URL.Query().Get("connection_id"), r.URL.Query().Get("key"))
	if err != nil {
		writeDomainError(r.Context(), w, err, "ARCHIVE_READ_FAILED")
		return
	}
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}
