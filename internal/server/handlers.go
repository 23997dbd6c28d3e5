package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alarmgate/internal/config"
	"alarmgate/internal/store"
)

// Handler holds the admin server dependencies
type Handler struct {
	cfg   *config.Config
	store *store.Store
}

// NewHandler creates a new handler
func NewHandler(cfg *config.Config, st *store.Store) *Handler {
	return &Handler{
		cfg:   cfg,
		store: st,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)
	r.Get("/alarms", h.HandleAlarms)
	r.Handle("/metrics", promhttp.Handler())
}

// HandleHealth returns health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReady returns readiness status
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ready",
	})
}

// HandleAlarms returns the most recent alarms from the audit store.
func (h *Handler) HandleAlarms(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "Alarm store not enabled", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	alarms, err := h.store.RecentAlarms(r.Context(), limit)
	if err != nil {
		log.Printf("Failed to query alarms: %v", err)
		http.Error(w, "Failed to query alarms", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":  len(alarms),
		"alarms": alarms,
	})
}
