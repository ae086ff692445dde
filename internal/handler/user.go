package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nolongerevil/state-server-go/internal/middleware"
	"github.com/nolongerevil/state-server-go/internal/model"
)

type DeviceLister interface {
	ListOwnedDevices(ctx context.Context, userID string) ([]model.OwnedDevice, error)
}

// UserHandler serves the account-facing /api routes.
type UserHandler struct {
	state   StateStore
	devices DeviceLister
}

func NewUserHandler(state StateStore, devices DeviceLister) *UserHandler {
	return &UserHandler{state: state, devices: devices}
}

// GET /api/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"userId": identity.UserID,
		"email":  identity.Email,
	})
}

// GET /api/devices
func (h *UserHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	owned, err := h.devices.ListOwnedDevices(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	devices := make([]map[string]any, 0, len(owned))
	for _, d := range owned {
		devices = append(devices, map[string]any{
			"serial":   d.Serial,
			"linkedAt": formatTime(d.LinkedAt),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// GET /api/devices/state
func (h *UserHandler) GetState(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	snapshot, err := h.state.GetForUser(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// GET /api/devices/{serial}/state
func (h *UserHandler) GetDeviceState(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	view, err := h.state.GetDeviceForUser(r.Context(), identity.UserID, chi.URLParam(r, "serial"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PUT /api/devices/{serial}/state/{objectKey}
func (h *UserHandler) PutDeviceState(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req stateWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	rec, err := h.state.UpsertForUser(r.Context(), identity.UserID,
		req.params(chi.URLParam(r, "serial"), chi.URLParam(r, "objectKey")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
