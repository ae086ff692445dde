package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nolongerevil/state-server-go/internal/errors"
	"github.com/nolongerevil/state-server-go/internal/model"
	"github.com/nolongerevil/state-server-go/internal/sse"
)

func eventsRouter(h *EventsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/devices/{serial}/events", h.ServeHTTP)
	return r
}

func TestEventsHandler_ServeHTTP(t *testing.T) {
	t.Run("returns 401 without identity", func(t *testing.T) {
		h := NewEventsHandler(nil, nil, nil)

		rec := httptest.NewRecorder()
		eventsRouter(h).ServeHTTP(rec, newRequest("GET", "/api/devices/A1/events", ""))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Unauthorized")
	})

	t.Run("returns 403 without read access", func(t *testing.T) {
		access := new(mockAccess)
		access.On("Authorize", mock.Anything, "user_b", "A1", false).
			Return(model.Access{}, apperrors.AccessDenied("Access denied: you do not have permission to view this device"))
		broker := newFakeBroker()
		h := NewEventsHandler(broker, access, new(mockStateStore))

		rec := httptest.NewRecorder()
		eventsRouter(h).ServeHTTP(rec, withUser(newRequest("GET", "/api/devices/A1/events", ""), "user_b"))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, broker.subscribed)
	})

	t.Run("streams initial state then updates", func(t *testing.T) {
		access := new(mockAccess)
		access.On("Authorize", mock.Anything, "user_a", "A1", false).Return(model.Access{Allowed: true, CanWrite: true}, nil)
		state := new(mockStateStore)
		state.On("GetAllForDevice", mock.Anything, "A1").Return(model.DeviceState{}, nil)
		broker := newFakeBroker()
		h := NewEventsHandler(broker, access, state)

		ctx, cancel := context.WithCancel(context.Background())
		req := withUser(newRequest("GET", "/api/devices/A1/events", "").WithContext(ctx), "user_a")
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			defer close(done)
			eventsRouter(h).ServeHTTP(rec, req)
		}()

		select {
		case serial := <-broker.subscribed:
			assert.Equal(t, "A1", serial)
		case <-time.After(time.Second):
			t.Fatal("handler did not subscribe")
		}

		payload, _ := json.Marshal(model.StateEvent{Serial: "A1", ObjectKey: "shared.A1", Revision: 3})
		broker.client.Events <- sse.Event{Type: sse.EventTypeState, Data: payload}

		// Let the handler drain the event before closing the connection.
		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler did not return after cancel")
		}

		assert.True(t, broker.unsubscribed)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		body := rec.Body.String()
		assert.Contains(t, body, "event: connected\n")
		assert.Contains(t, body, `"hasWriteAccess":true`)
		assert.Contains(t, body, "event: state_updated\n")
		assert.Contains(t, body, `"object_key":"shared.A1"`)
	})

	t.Run("returns when broker closes", func(t *testing.T) {
		access := new(mockAccess)
		access.On("Authorize", mock.Anything, "user_a", "A1", false).Return(model.Access{Allowed: true}, nil)
		state := new(mockStateStore)
		state.On("GetAllForDevice", mock.Anything, "A1").Return(model.DeviceState{}, nil)
		broker := newFakeBroker()
		close(broker.client.Done)
		h := NewEventsHandler(broker, access, state)

		rec := httptest.NewRecorder()
		eventsRouter(h).ServeHTTP(rec, withUser(newRequest("GET", "/api/devices/A1/events", ""), "user_a"))

		assert.Contains(t, rec.Body.String(), "event: connected\n")
	})
}

func TestEventsHandler_sendRawEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	err := handler.sendRawEvent(rec, rec, sse.Event{
		Type: sse.EventTypeState,
		Data: json.RawMessage(`{"serial":"A1"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, "event: state_updated\ndata: {\"serial\":\"A1\"}\n\n", rec.Body.String())
}
