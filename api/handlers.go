package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"salefeed-relay/models"
	"salefeed-relay/services"
	"salefeed-relay/storage"
	"salefeed-relay/utils"
)

const (
	maxBodyBytes  = 10 << 20
	healthTimeout = 2 * time.Second
)

// App carries the dependencies shared by every handler.
type App struct {
	ingester *services.Ingester
	store    storage.Store
	insights *services.InsightService
	logger   *utils.Logger
}

func NewApp(ingester *services.Ingester, st storage.Store, insights *services.InsightService, logger *utils.Logger) *App {
	return &App{ingester: ingester, store: st, insights: insights, logger: logger}
}

type ingestAck struct {
	Status string `json:"status"`
	services.IngestResult
}

func (a *App) receiveSaleFeedHandler(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r.Header.Get("Content-Type")) {
		WriteJSONError(w, http.StatusBadRequest, "Request must be JSON", "")
		return
	}

	var feed models.SaleFeed
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&feed); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large", "")
			return
		}
		WriteJSONError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteJSONError(w, http.StatusBadRequest, "Invalid JSON", "unexpected data after the JSON document")
		return
	}

	result, err := a.ingester.Ingest(r.Context(), &feed)
	if err != nil {
		var verr *models.ValidationError
		switch {
		case errors.As(err, &verr):
			WriteJSONError(w, http.StatusBadRequest, "Invalid sale data", verr.Error())
		case errors.Is(err, storage.ErrDuplicateKey):
			a.logger.Warn("[api] Batch rejected: %v", err)
			WriteJSONError(w, http.StatusInternalServerError, "Failed to process data. It may already exist.", "")
		default:
			a.logger.Error("[api] Failed to process data: %v", err)
			WriteJSONError(w, http.StatusInternalServerError, "Failed to process data", "")
		}
		return
	}

	writeJSON(w, http.StatusOK, ingestAck{Status: "success", IngestResult: result})
}

func (a *App) listHandler(w http.ResponseWriter, r *http.Request) {
	listings, err := a.store.All(r.Context())
	if err != nil {
		a.logger.Error("[api] Failed to fetch listings: %v", err)
		WriteJSONError(w, http.StatusInternalServerError, "Failed to fetch listings", "")
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

func (a *App) statsHandler(w http.ResponseWriter, r *http.Request) {
	listings, err := a.store.All(r.Context())
	if err != nil {
		a.logger.Error("[api] Failed to fetch listings: %v", err)
		WriteJSONError(w, http.StatusInternalServerError, "Failed to fetch listings", "")
		return
	}
	writeJSON(w, http.StatusOK, a.insights.Generate(listings))
}

func (a *App) exportHandler(w http.ResponseWriter, r *http.Request) {
	listings, err := a.store.All(r.Context())
	if err != nil {
		a.logger.Error("[api] Failed to fetch listings: %v", err)
		WriteJSONError(w, http.StatusInternalServerError, "Failed to fetch listings", "")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="listings.csv"`)
	cw, err := storage.NewCSVWriter(w)
	if err != nil {
		a.logger.Error("[api] CSV export failed: %v", err)
		return
	}
	if err := cw.WriteListings(listings); err != nil {
		a.logger.Error("[api] CSV export failed: %v", err)
	}
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		WriteJSONError(w, http.StatusServiceUnavailable, "store unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// isJSON accepts application/json and any +json structured syntax suffix.
func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
