package server

import (
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"threat-enricher/internal/cache"
	"threat-enricher/internal/common/errors"
	"threat-enricher/internal/common/logging"
	"threat-enricher/internal/enricher"
	"threat-enricher/internal/ratelimit"
	"threat-enricher/internal/storage"
)

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	enricher *enricher.Enricher
	store    storage.Storage
	cache    *cache.TieredCache
	limiter  *ratelimit.Limiter
	logger   logging.Logger
}

// NewHandlers wires the handlers.
func NewHandlers(e *enricher.Enricher, store storage.Storage, tiered *cache.TieredCache, limiter *ratelimit.Limiter, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Global()
	}
	return &Handlers{
		enricher: e,
		store:    store,
		cache:    tiered,
		limiter:  limiter,
		logger:   logger,
	}
}

type enrichRequest struct {
	IPs   []string `json:"ips"`
	Limit int      `json:"limit"`
}

// Enrich triggers a batch run over the posted identifiers and answers with
// the run's result counts.
func (h *Handlers) Enrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ValidationError("invalid request body"))
		return
	}
	if len(req.IPs) == 0 {
		writeError(w, errors.ValidationError("ips is required"))
		return
	}

	result, err := h.enricher.EnrichBatch(r.Context(), req.IPs, req.Limit)
	if err != nil {
		// Cancellation mid-run still carries the partial result.
		h.logger.Warn("batch run interrupted", logging.Err(err))
	}

	writeJSON(w, http.StatusOK, result)
}

type observeRequest struct {
	IP string `json:"ip"`
}

// Observe records one sighting of an IP for the log pipeline.
func (h *Handlers) Observe(w http.ResponseWriter, r *http.Request) {
	var req observeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
		writeError(w, errors.ValidationError("ip is required"))
		return
	}

	record, err := h.enricher.RecordObservation(req.IP)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// GetIP returns one identifier record with its group-change history.
func (h *Handlers) GetIP(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]

	record, err := h.store.GetIP(ip)
	if err != nil {
		writeError(w, err)
		return
	}

	changes, err := h.store.ListGroupChanges(ip, 50)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record":  record,
		"changes": changes,
	})
}

// Stats answers with the run counters, cache counters, limiter state and
// inventory totals.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"enricher": h.enricher.Stats(),
		"cache":    h.cache.Stats(),
		"limiter":  h.limiter.Stats(),
	}

	if inventory, err := h.store.Stats(); err != nil {
		h.logger.Warn("inventory stats unavailable", logging.Err(err))
	} else {
		stats["inventory"] = inventory
	}

	writeJSON(w, http.StatusOK, stats)
}

// Health reports storage reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		status = http.StatusBadRequest
	case errors.ErrTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrTypeRateLimit:
		status = http.StatusTooManyRequests
	case errors.ErrTypeUnavailable, errors.ErrTypeTimeout:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
