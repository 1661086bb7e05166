package api

import (
	"encoding/json"
	"net/http"

	"github.com/sqlmentor/sqlmentor/internal/tools"
)

func handleGetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	schema, err := deps.Tools.GetSchema(r.Context(), r.URL.Query().Get("connection_id"))
	if err != nil {
		writeDomainError(r.Context(), w, err, "SCHEMA_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func handleGenerateSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request tools.GenerateSQLInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid generate request body", false, map[string]any{"details": err.Error()})
		return
	}

	result, err := deps.Tools.GenerateSQL(r.Context(), request)
	if err != nil {
		writeDomainError(r.Context(), w, err, "GENERATE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleExecuteSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request tools.ExecuteSQLInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid execute request body", false, map[string]any{"details": err.Error()})
		return
	}

	result, err := deps.Tools.ExecuteSQL(r.Context(), request)
	if err != nil {
		writeDomainError(r.Context(), w, err, "EXECUTE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
