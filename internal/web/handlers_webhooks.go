package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/webhook"
)

type subscriptionRequest struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Event   string `json:"event"`
	Enabled *bool  `json:"enabled"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", webhook.ErrInvalidSubscription, err)
	}
	return nil
}

func subscriptionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, webhook.ErrSubscriptionNotFound
	}
	return id, nil
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := s.deps.Subscriptions.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if subs == nil {
		subs = []webhook.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	sub := webhook.Subscription{Name: req.Name, URL: req.URL, Event: req.Event, Enabled: true}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}

	created, err := s.deps.Subscriptions.Create(r.Context(), sub)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sub, err := s.deps.Subscriptions.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleUpdateWebhook toggles enabled; other fields are immutable.
func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Enabled == nil {
		respondError(w, r, fmt.Errorf("%w: enabled is required", webhook.ErrInvalidSubscription))
		return
	}

	if err := s.deps.Subscriptions.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		respondError(w, r, err)
		return
	}
	sub, err := s.deps.Subscriptions.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.deps.Subscriptions.Delete(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type testDeliveryRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// handleTestWebhook queues a test delivery for the subscription's event,
// going through the same worker and retry policy as real events. The body
// may carry {"payload": ...} to send verbatim; otherwise a sample event is
// sent.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req testDeliveryRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, err)
		return
	}

	sub, err := s.deps.Subscriptions.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ev := webhook.Event{
		Event:  sub.Event,
		JobID:  "test-" + uuid.NewString(),
		Status: "test",
	}
	if sub.Event == webhook.EventImportFailed {
		ev.ErrorMessage = "This is a test delivery"
	}
	payload := []byte(req.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		if payload, err = ev.Payload(); err != nil {
			respondError(w, r, err)
			return
		}
	}

	err = s.deps.Deliveries.EnqueueDelivery(r.Context(), webhook.Delivery{
		SubscriptionID: sub.ID,
		URL:            sub.URL,
		Event:          sub.Event,
		JobID:          ev.JobID,
		Payload:        payload,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "job_id": ev.JobID})
}
