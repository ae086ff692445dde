package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nolongerevil/state-server-go/internal/model"
	"github.com/nolongerevil/state-server-go/internal/value"
)

// StateStore is the slice of service.StateService the state routes use.
type StateStore interface {
	Upsert(ctx context.Context, params model.UpsertStateParams) (*model.StateRecord, error)
	Get(ctx context.Context, serial, objectKey string) (*model.StateRecord, error)
	GetAllForDevice(ctx context.Context, serial string) (model.DeviceState, error)
	GetAll(ctx context.Context) (*model.StateSnapshot, error)
	GetForUser(ctx context.Context, userID string) (*model.StateSnapshot, error)
	GetDeviceForUser(ctx context.Context, userID, serial string) (*model.DeviceStateView, error)
	UpsertForUser(ctx context.Context, userID string, params model.UpsertStateParams) (*model.StateRecord, error)
}

type stateWriteRequest struct {
	Revision  int64       `json:"revision"`
	Timestamp int64       `json:"timestamp"`
	Value     value.Value `json:"value"`
}

func (req stateWriteRequest) params(serial, objectKey string) model.UpsertStateParams {
	return model.UpsertStateParams{
		Serial:    serial,
		ObjectKey: objectKey,
		Revision:  req.Revision,
		Timestamp: req.Timestamp,
		Value:     req.Value,
	}
}

// DeviceHandler serves the routes devices call with the shared device key.
type DeviceHandler struct {
	state StateStore
}

func NewDeviceHandler(state StateStore) *DeviceHandler {
	return &DeviceHandler{state: state}
}

// PUT /device/{serial}/state/{objectKey}
func (h *DeviceHandler) PutState(w http.ResponseWriter, r *http.Request) {
	var req stateWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	rec, err := h.state.Upsert(r.Context(), req.params(chi.URLParam(r, "serial"), chi.URLParam(r, "objectKey")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GET /device/{serial}/state
func (h *DeviceHandler) GetState(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	state, err := h.state.GetAllForDevice(r.Context(), serial)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"serial": serial,
		"state":  state,
	})
}

// GET /device/{serial}/state/{objectKey}
func (h *DeviceHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	rec, err := h.state.Get(r.Context(), chi.URLParam(r, "serial"), chi.URLParam(r, "objectKey"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
