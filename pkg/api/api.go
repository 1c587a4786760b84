// Package api holds the request and response bodies of the datamigration
// admin HTTP API. The server in pkg/datamigration and the client in
// pkg/client share them.
package api

import "github.com/surrealdb/datamigration/pkg/migration"

// PluginStatus is the persisted state of one plugin together with the
// version the serving process currently routes on.
type PluginStatus struct {
	Name          string               `json:"name"`
	MaxVersion    int                  `json:"max_version"`
	Version       int                  `json:"version"`
	CachedVersion int                  `json:"cached_version"`
	StatusCode    migration.StatusCode `json:"status_code"`
	State         string               `json:"state"`
	Message       string               `json:"message"`
}

// PluginList is returned by GET /api/plugins and POST /api/migrate.
type PluginList struct {
	Plugins []PluginStatus `json:"plugins"`
}

// SetVersionRequest is the body of PUT /api/plugins/{name}/version.
type SetVersionRequest struct {
	Version *int `json:"version"`
}

type RunningResponse struct {
	Running bool `json:"running"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Plugins int    `json:"plugins"`
}

type InvalidateResponse struct {
	Invalidated bool `json:"invalidated"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
