package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/nolongerevil/state-server-go/internal/model"
)

// DefaultsSeeder is the slice of service.PairingService the internal routes use.
type DefaultsSeeder interface {
	EnsureDeviceDefaults(ctx context.Context, serial string) (*model.DefaultsResult, error)
	BackfillDefaults(ctx context.Context) (*model.BackfillResult, error)
}

// InternalHandler serves operator routes guarded by the admin token.
type InternalHandler struct {
	state    StateStore
	defaults DefaultsSeeder
}

func NewInternalHandler(state StateStore, defaults DefaultsSeeder) *InternalHandler {
	return &InternalHandler{state: state, defaults: defaults}
}

func (h *InternalHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/state", h.GetAllState)
	r.Post("/devices/{serial}/defaults", h.EnsureDefaults)
	r.Post("/defaults/backfill", h.Backfill)

	return r
}

// GET /internal/state
func (h *InternalHandler) GetAllState(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.state.GetAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// POST /internal/devices/{serial}/defaults
func (h *InternalHandler) EnsureDefaults(w http.ResponseWriter, r *http.Request) {
	result, err := h.defaults.EnsureDeviceDefaults(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /internal/defaults/backfill
// Returns the partial counts alongside the error when a device fails midway.
func (h *InternalHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	result, err := h.defaults.BackfillDefaults(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("defaults backfill failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "Backfill failed",
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
