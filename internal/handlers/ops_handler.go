package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ridhamxdev/TaskNexus/internal/models"
	"github.com/ridhamxdev/TaskNexus/internal/services"
	"github.com/ridhamxdev/TaskNexus/internal/store"
)

// MessageReader serves message reads, normally through the cache.
type MessageReader interface {
	Get(ctx context.Context, id int64) (*models.Message, error)
	RecentSent(ctx context.Context, senderID int64) ([]models.Message, error)
}

// OpsHandler exposes manual batch runs and message inspection for operators.
type OpsHandler struct {
	batch    services.BatchRunner
	notifier services.Notifier
	messages MessageReader
	location *time.Location
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewOpsHandler(batch services.BatchRunner, notifier services.Notifier, messages MessageReader, location *time.Location, log logrus.FieldLogger) *OpsHandler {
	if location == nil {
		location = time.UTC
	}
	return &OpsHandler{
		batch:    batch,
		notifier: notifier,
		messages: messages,
		location: location,
		log:      log.WithField("component", "ops_handler"),
		now:      time.Now,
	}
}

func (h *OpsHandler) Routes(r chi.Router) {
	r.Post("/batches/daily", h.RunDailyBatch)
	r.Post("/messages", h.EnqueueMessage)
	r.Get("/messages/{messageId}", h.GetMessage)
	r.Get("/accounts/{accountId}/messages", h.RecentMessages)
}

// RunDailyBatch runs the deduction batch for today, or for the day given as
// ?date=YYYY-MM-DD in the batch time zone.
func (h *OpsHandler) RunDailyBatch(w http.ResponseWriter, r *http.Request) {
	asOf := h.now().In(h.location)
	if date := r.URL.Query().Get("date"); date != "" {
		day, err := time.ParseInLocation("2006-01-02", date, h.location)
		if err != nil {
			SendErrorResponse(w, "date must be formatted YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		asOf = day.Add(12 * time.Hour)
	}

	result, err := h.batch.Run(r.Context(), asOf)
	switch {
	case errors.Is(err, services.ErrCollectorNotFound):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
		return
	case err != nil:
		h.log.WithError(err).Error("manual batch run failed")
		SendErrorResponse(w, "Batch run failed", http.StatusInternalServerError, nil)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

func (h *OpsHandler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	var req services.EnqueueRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	msg, err := h.notifier.Enqueue(r.Context(), req)
	switch {
	case errors.Is(err, services.ErrInvalidMessage):
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	case errors.Is(err, services.ErrQueueUnavailable):
		SendErrorResponse(w, "Message queue unavailable", http.StatusServiceUnavailable, nil)
		return
	case err != nil:
		h.log.WithError(err).Error("enqueue failed")
		SendErrorResponse(w, "Could not queue message", http.StatusInternalServerError, nil)
		return
	}
	sendJSON(w, http.StatusAccepted, newMessageResponse(msg))
}

func (h *OpsHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "messageId")
	if !ok {
		return
	}

	msg, err := h.messages.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		SendErrorResponse(w, "Message not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("message_id", id).Error("message lookup failed")
		SendErrorResponse(w, "Message lookup failed", http.StatusInternalServerError, nil)
		return
	}
	sendJSON(w, http.StatusOK, newMessageResponse(msg))
}

func (h *OpsHandler) RecentMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}

	messages, err := h.messages.RecentSent(r.Context(), id)
	if err != nil {
		h.log.WithError(err).WithField("account_id", id).Error("recent messages lookup failed")
		SendErrorResponse(w, "Message lookup failed", http.StatusInternalServerError, nil)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"messages": newMessageResponses(messages)})
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		SendErrorResponse(w, "Invalid "+param, http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}
