package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/driftsync/gitmirrord/internal/sync"
	"github.com/driftsync/gitmirrord/internal/versions"
)

// Routes defines the status and health routes with dependency injection
type Routes struct {
	engine sync.Engine
}

// NewRoutes creates a new Routes instance with the provided engine
func NewRoutes(engine sync.Engine) *Routes {
	return &Routes{
		engine: engine,
	}
}

// HealthRouter creates a router for health, readiness, version and status endpoints
func HealthRouter(engine sync.Engine) http.Handler {
	routes := NewRoutes(engine)

	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", routes.readinessHandler)
	r.Get("/version", versionHandler)
	r.Get("/status", routes.statusHandler)

	return r
}

// healthHandler handles liveness check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessHandler reports ready once a revision has been committed, meaning
// the mirror directory holds a complete working tree. A later failed cycle
// does not un-ready: the stale mirror keeps serving.
func (rr *Routes) readinessHandler(w http.ResponseWriter, _ *http.Request) {
	status := rr.engine.Status()
	if status.Revision == "" {
		writeJSONResponse(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "no revision mirrored yet",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	writeJSONResponse(w, http.StatusOK, VersionResponse{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
		GoVersion: info.GoVersion,
		Platform:  info.Platform,
	})
}

// statusHandler returns the engine status snapshot
func (rr *Routes) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, rr.engine.Status())
}

// writeJSONResponse writes a JSON response with the given status and data
func writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
