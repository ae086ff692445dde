package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/nolongerevil/state-server-go/internal/errors"
	"github.com/nolongerevil/state-server-go/internal/middleware"
	"github.com/nolongerevil/state-server-go/internal/model"
	"github.com/nolongerevil/state-server-go/internal/util"
)

// Pairing is the slice of service.PairingService the entry-key routes use.
type Pairing interface {
	GenerateCode(ctx context.Context, serial string, ttlSeconds int) (*model.GeneratedEntryKey, error)
	Claim(ctx context.Context, code, userID string) (*model.ClaimResult, error)
}

type UserEnsurer interface {
	EnsureUser(ctx context.Context, externalID, email string) (*model.User, error)
}

type EntryKeyHandler struct {
	pairing    Pairing
	users      UserEnsurer
	defaultTTL int
}

func NewEntryKeyHandler(pairing Pairing, users UserEnsurer, defaultTTL int) *EntryKeyHandler {
	return &EntryKeyHandler{
		pairing:    pairing,
		users:      users,
		defaultTTL: defaultTTL,
	}
}

// POST /api/entry-key/claim
func (h *EntryKeyHandler) Claim(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if req.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Entry key is required"})
		return
	}
	code := util.NormalizeEntryKey(req.Code)
	if len(code) != util.EntryKeyLength {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Entry key must be 7 alphanumeric characters"})
		return
	}

	ctx := r.Context()

	if _, err := h.users.EnsureUser(ctx, identity.UserID, identity.Email); err != nil {
		log.Error().Err(err).Str("userId", identity.UserID).Msg("failed to ensure user")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	result, err := h.pairing.Claim(ctx, code, identity.UserID)
	if err != nil {
		appErr, ok := apperrors.AsAppError(err)
		if !ok || appErr.Code == apperrors.ErrCodeDatabase || appErr.Code == apperrors.ErrCodeInternal {
			log.Error().Err(err).Str("userId", identity.UserID).Msg("failed to claim entry key")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Failed to claim entry key",
			"message": appErr.Message,
			"code":    appErr.Code,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"serial":  result.Serial,
	})
}

// POST /device/{serial}/entry-key
func (h *EntryKeyHandler) Generate(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var req struct {
		TTLSeconds int `json:"ttlSeconds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.TTLSeconds < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ttlSeconds must not be negative"})
		return
	}
	ttl := req.TTLSeconds
	if ttl == 0 {
		ttl = h.defaultTTL
	}

	key, err := h.pairing.GenerateCode(r.Context(), serial, ttl)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, key)
}
