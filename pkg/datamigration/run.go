package datamigration

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
)

// Handler returns the admin API router.
func (a *App) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(a.instrument)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", a.handleHealth).Methods("GET")
	api.HandleFunc("/plugins", a.handleListPlugins).Methods("GET")
	api.HandleFunc("/plugins/{name}", a.handleGetPlugin).Methods("GET")
	api.HandleFunc("/plugins/{name}/version", a.handleSetVersion).Methods("PUT")
	api.HandleFunc("/migrate", a.handleMigrate).Methods("POST")
	api.HandleFunc("/running", a.handleRunning).Methods("GET")
	api.HandleFunc("/invalidate", a.handleInvalidate).Methods("POST")

	if a.metrics != nil {
		router.Handle("/metrics", a.metrics.Handler()).Methods("GET")
	}
	return router
}

// Run serves the admin API until ctx is cancelled, then shuts the server
// down gracefully. With migration.run_on_start set, a migration is started
// in the background as soon as the server is listening.
func (a *App) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    a.config.Server.Address,
		Handler: a.Handler(),
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	a.logger.Info().Str("address", server.Addr).Msg("Admin API listening")

	if a.config.Migration.RunOnStart {
		go func() {
			if err := a.Migrate(ctx); err != nil {
				a.logger.Error().Err(err).Msg("Migration on start failed")
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info().Msg("Shutting down admin API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
