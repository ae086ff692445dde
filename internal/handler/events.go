package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/nolongerevil/state-server-go/internal/middleware"
	"github.com/nolongerevil/state-server-go/internal/model"
	"github.com/nolongerevil/state-server-go/internal/sse"
)

type Authorizer interface {
	Authorize(ctx context.Context, userID, serial string, write bool) (model.Access, error)
}

// Subscriber is satisfied by *sse.Broker.
type Subscriber interface {
	Subscribe(serial string) *sse.Client
	Unsubscribe(client *sse.Client)
}

type EventsHandler struct {
	broker    Subscriber
	access    Authorizer
	state     StateStore
	heartbeat time.Duration
}

func NewEventsHandler(broker Subscriber, access Authorizer, state StateStore) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		access:    access,
		state:     state,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /api/devices/{serial}/events
// Streams committed writes for one device. The first event carries the full
// current state so clients need no separate fetch.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	serial := chi.URLParam(r, "serial")
	ctx := r.Context()

	access, err := h.access.Authorize(ctx, identity.UserID, serial, false)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	state, err := h.state.GetAllForDevice(ctx, serial)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(serial)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("serial", serial).
		Str("userId", identity.UserID).
		Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "connected", map[string]any{
		"serial":         serial,
		"hasWriteAccess": access.CanWrite,
		"state":          state,
	}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("serial", serial).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("serial", serial).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("serial", serial).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
