package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sqlmentor/sqlmentor/internal/memory"
)

type connectionResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Engine      string    `json:"engine"`
	Host        string    `json:"host,omitempty"`
	Port        int       `json:"port,omitempty"`
	Database    string    `json:"database,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// toConnectionResponse drops credentials: the DSN, username, and password
// never leave the service.
func toConnectionResponse(conn memory.Connection) connectionResponse {
	return connectionResponse{
		ID:          conn.ID,
		Name:        conn.Name,
		Engine:      conn.Engine,
		Host:        conn.Host,
		Port:        conn.Port,
		Database:    conn.Database,
		Description: conn.Description,
		CreatedAt:   conn.CreatedAt,
		UpdatedAt:   conn.UpdatedAt,
	}
}

func handleListConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	connections, err := deps.Tools.ListConnections(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, err, "CONNECTIONS_LIST_FAILED")
		return
	}
	out := make([]connectionResponse, 0, len(connections))
	for _, conn := range connections {
		out = append(out, toConnectionResponse(conn))
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": out})
}

type createConnectionRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Engine      string `json:"engine"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Database    string `json:"database"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DSN         string `json:"dsn"`
	Description string `json:"description"`
}

func handleCreateConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request createConnectionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid connection request body", false, map[string]any{"details": err.Error()})
		return
	}

	conn, err := deps.Tools.CreateConnection(r.Context(), memory.CreateConnectionInput{
		ID:          request.ID,
		Name:        request.Name,
		Engine:      request.Engine,
		Host:        request.Host,
		Port:        request.Port,
		Database:    request.Database,
		Username:    request.Username,
		Password:    request.Password,
		DSN:         request.DSN,
		Description: request.Description,
	})
	if err != nil {
		writeDomainError(r.Context(), w, err, "CONNECTION_CREATE_FAILED")
		return
	}
	writeJSON(w, http.StatusCreated, toConnectionResponse(conn))
}

func handleDeleteConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	purge := r.URL.Query().Get("purge") == "true"

	if err := deps.Tools.DeleteConnection(r.Context(), id, purge); err != nil {
		writeDomainError(r.Context(), w, err, "CONNECTION_DELETE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id, "purged": purge})
}

func handlePingConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := deps.Tools.TestConnection(r.Context(), id); err != nil {
		writeDomainError(r.Context(), w, err, "CONNECTION_PING_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reachable", "connection_id": id})
}
