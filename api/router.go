package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(WithRequestID)
	r.Use(WithRecover(app.logger))
	r.Use(WithLogging(app.logger))

	r.Get("/", app.listHandler)
	r.Post("/receiveSaleFeed", app.receiveSaleFeedHandler)
	r.Post("/saleFeed", app.receiveSaleFeedHandler)
	r.Get("/stats", app.statsHandler)
	r.Get("/export.csv", app.exportHandler)
	r.Get("/healthz", app.healthHandler)
	return r
}
