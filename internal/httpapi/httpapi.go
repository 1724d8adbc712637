// Package httpapi is the admin HTTP surface: health, readiness and manual
// triggers for the background jobs.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"secretary/internal/service"
)

// Structures is the spreadsheet bootstrap.
type Structures interface {
	EnsureStructures(ctx context.Context) error
	Reset()
}

// Reminders is the reminder loop.
type Reminders interface {
	RunPass(ctx context.Context) service.PassResult
	State() service.State
	LastPass() *service.PassResult
}

// CacheResetter drops cached profiles.
type CacheResetter interface {
	Reset() int
}

type Handler struct {
	structures Structures
	reminders  Reminders
	cache      CacheResetter
}

func NewHandler(structures Structures, reminders Reminders, cache CacheResetter) *Handler {
	return &Handler{structures: structures, reminders: reminders, cache: cache}
}

// Router builds the chi router with every admin route.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)
	r.Post("/reminders/run", h.RunReminders)
	r.Post("/cache/reset", h.ResetCache)
}

// Health reports liveness along with the reminder loop state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"scheduler": h.reminders.State().String(),
		"last_pass": h.reminders.LastPass(),
	})
}

// Ready checks that the spreadsheet has every region. ?recheck=1 forgets an
// earlier success first, so hand-deleted sheets are recreated.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("recheck") == "1" {
		h.structures.Reset()
	}
	if err := h.structures.EnsureStructures(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// RunReminders runs one reminder pass now and returns its result.
func (h *Handler) RunReminders(w http.ResponseWriter, r *http.Request) {
	res := h.reminders.RunPass(r.Context())
	status := http.StatusOK
	if res.Error != "" {
		status = http.StatusBadGateway
	}
	JSON(w, status, res)
}

// ResetCache drops every cached profile so the next reads see hand edits.
func (h *Handler) ResetCache(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]int{"dropped": h.cache.Reset()})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}
