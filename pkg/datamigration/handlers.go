package datamigration

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/joomcode/errorx"
	"github.com/surrealdb/datamigration/pkg/api"
	"github.com/surrealdb/datamigration/pkg/migration"
)

// maxBodySize bounds request bodies; the only body the API accepts is a
// single version number.
const maxBodySize = 1 << 16

// respondJSON writes payload as the JSON response body with the given status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_, _ = w.Write(response)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, api.ErrorResponse{Error: message})
}

// respondFailure maps manager errors to status codes. Rejected operator
// requests are client errors, everything else is a server error.
func (a *App) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errorx.HasTrait(err, errorx.NotFound()):
		respondError(w, http.StatusNotFound, err.Error())
	case migration.IsInvalidRequest(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case errorx.IsOfType(err, AlreadyRunningError):
		respondError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleHealth reports that the process is serving and how many plugins it
// has registered.
//
// GET /api/health
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, api.HealthResponse{
		Status:  "ok",
		Plugins: len(a.manager.PluginNames()),
	})
}

// handleListPlugins returns every registered plugin in registration order.
//
// GET /api/plugins
func (a *App) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	list, err := a.PluginStatuses(r.Context())
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// GET /api/plugins/{name}
func (a *App) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	status, err := a.PluginStatus(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleSetVersion forces a plugin's persisted version, so the steps above
// it run again on the next migration.
//
// PUT /api/plugins/{name}/version
func (a *App) handleSetVersion(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req api.SetVersionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Version == nil {
		respondError(w, http.StatusBadRequest, "version is required")
		return
	}

	if err := a.manager.ResetToVersion(r.Context(), name, *req.Version); err != nil {
		a.respondFailure(w, r, err)
		return
	}
	a.logger.Warn().Str("plugin", name).Int("version", *req.Version).Msg("Plugin version reset by operator")

	status, err := a.PluginStatus(r.Context(), name)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleMigrate runs every pending plugin and returns their statuses once
// all of them finished. Plugin failures are part of the returned statuses.
// Only a run started by this process is rejected: a persisted RUNNING status
// may be left behind by a process that died, and running again resumes it.
//
// POST /api/migrate
func (a *App) handleMigrate(w http.ResponseWriter, r *http.Request) {
	if err := a.Migrate(r.Context()); err != nil && errorx.IsOfType(err, AlreadyRunningError) {
		a.respondFailure(w, r, err)
		return
	}

	list, err := a.PluginStatuses(r.Context())
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// GET /api/running
func (a *App) handleRunning(w http.ResponseWriter, r *http.Request) {
	running, err := a.manager.IsRunning(r.Context())
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, api.RunningResponse{Running: running || a.migrating.Load()})
}

// handleInvalidate drops the cached versions of this process only.
//
// POST /api/invalidate
func (a *App) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	a.manager.Invalidate()
	respondJSON(w, http.StatusOK, api.InvalidateResponse{Invalidated: true})
}

// statusWriter remembers the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// instrument logs every request and records it in the metrics collector
// under its route template.
func (a *App) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		if a.metrics != nil {
			a.metrics.RecordHTTPRequest(r.Method, route, sw.status, elapsed)
		}
		a.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", sw.status).
			Dur("elapsed", elapsed).
			Msg("Handled request")
	})
}
