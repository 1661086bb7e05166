// Package api exposes the tool façade over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlmentor/sqlmentor/internal/config"
	"github.com/sqlmentor/sqlmentor/internal/dbgateway"
	"github.com/sqlmentor/sqlmentor/internal/memory"
	"github.com/sqlmentor/sqlmentor/internal/observability"
	"github.com/sqlmentor/sqlmentor/internal/storage"
	"github.com/sqlmentor/sqlmentor/internal/tools"
)

type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Tools             *tools.Service
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleListConnections(deps, w, r)
	})
	mux.HandleFunc("POST /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleCreateConnection(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/connections/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteConnection(deps, w, r)
	})
	mux.HandleFunc("POST /v1/connections/{id}/ping", func(w http.ResponseWriter, r *http.Request) {
		handlePingConnection(deps, w, r)
	})

	mux.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleGetSchema(deps, w, r)
	})
	mux.HandleFunc("POST /v1/sql/generate", func(w http.ResponseWriter, r *http.Request) {
		handleGenerateSQL(deps, w, r)
	})
	mux.HandleFunc("POST /v1/sql/execute", func(w http.ResponseWriter, r *http.Request) {
		handleExecuteSQL(deps, w, r)
	})

	mux.HandleFunc("GET /v1/history", func(w http.ResponseWriter, r *http.Request) {
		handleGetHistory(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/history", func(w http.ResponseWriter, r *http.Request) {
		handleClearHistory(deps, w, r)
	})
	mux.HandleFunc("POST /v1/history/archive", func(w http.ResponseWriter, r *http.Request) {
		handleArchiveHistory(deps, w, r)
	})
	mux.HandleFunc("GET /v1/history/archive", func(w http.ResponseWriter, r *http.Request) {
		handleDownloadArchive(deps, w, r)
	})

	mux.HandleFunc("GET /v1/examples", func(w http.ResponseWriter, r *http.Request) {
		handleListExamples(deps, w, r)
	})
	mux.HandleFunc("POST /v1/examples", func(w http.ResponseWriter, r *http.Request) {
		handleCreateExample(deps, w, r)
	})
	mux.HandleFunc("POST /v1/examples/enabled", func(w http.ResponseWriter, r *http.Request) {
		handleSetExamplesEnabled(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/examples", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteExamples(deps, w, r)
	})

	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		handleGetStatus(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckStoreDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Store.DSN == "" {
			return errors.New("store dsn is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeDomainError maps the domain error kinds onto HTTP statuses.
// Persistence failures are the retryable remainder.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error, fallbackCode string) {
	var validationErr *memory.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(ctx, w, http.StatusBadRequest, "VALIDATION_FAILED", validationErr.Error(), false, nil)
	case errors.Is(err, memory.ErrNoneMatched):
		writeError(ctx, w, http.StatusNotFound, "NONE_MATCHED", err.Error(), false, nil)
	case errors.Is(err, memory.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, storage.ErrObjectNotFound):
		writeError(ctx, w, http.StatusNotFound, "NOT_FOUND", "archive object not found", false, nil)
	case errors.Is(err, dbgateway.ErrNotReadOnly):
		writeError(ctx, w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only read-only SELECT/WITH queries are allowed", false, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, fallbackCode, err.Error(), true, nil)
	}
}
