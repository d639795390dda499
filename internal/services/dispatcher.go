package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ridhamxdev/TaskNexus/internal/cache"
	"github.com/ridhamxdev/TaskNexus/internal/models"
	"github.com/ridhamxdev/TaskNexus/internal/queue"
)

type EnqueueRequest struct {
	SenderAccountID int64  `json:"senderAccountId" validate:"required,gt=0"`
	Recipient       string `json:"recipient" validate:"required"`
	Subject         string `json:"subject" validate:"required"`
	Body            string `json:"body" validate:"required"`
	HTMLBody        string `json:"htmlBody,omitempty"`
}

func (r *EnqueueRequest) normalize() {
	r.Recipient = strings.TrimSpace(r.Recipient)
	r.Subject = strings.TrimSpace(r.Subject)
	if strings.TrimSpace(r.Body) == "" {
		r.Body = ""
	}
}

// Dispatcher persists outbound messages and hands them to the broker. It
// never talks to the mail transport.
type Dispatcher struct {
	store          MessageStore
	broker         queue.Broker
	queue          queue.Queue
	cache          cache.Cache
	validator      *ValidationHelper
	publishTimeout time.Duration
	log            logrus.FieldLogger
	now            func() time.Time
}

func NewDispatcher(st MessageStore, broker queue.Broker, q queue.Queue, c cache.Cache, publishTimeout time.Duration, log logrus.FieldLogger) *Dispatcher {
	if c == nil {
		c = cache.Noop{}
	}
	return &Dispatcher{
		store:          st,
		broker:         broker,
		queue:          q,
		cache:          c,
		validator:      NewValidationHelper(),
		publishTimeout: publishTimeout,
		log:            log.WithField("component", "dispatcher"),
		now:            time.Now,
	}
}

// Enqueue stores a PENDING message and publishes its envelope. When the
// broker refuses the publish the row is marked FAILED and the returned error
// wraps ErrQueueUnavailable.
func (d *Dispatcher) Enqueue(ctx context.Context, req EnqueueRequest) (*models.Message, error) {
	req.normalize()
	if err := d.validator.ValidateStruct(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	msg := &models.Message{
		SenderAccountID: req.SenderAccountID,
		Recipient:       req.Recipient,
		Subject:         req.Subject,
		Body:            req.Body,
		HTMLBody:        sql.NullString{String: req.HTMLBody, Valid: req.HTMLBody != ""},
	}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	log := d.log.WithFields(logrus.Fields{"message_id": msg.ID, "sender_account_id": msg.SenderAccountID})

	if err := d.publish(ctx, msg); err != nil {
		reason := "publish failed: " + err.Error()
		// the row must settle even when the caller is gone
		if markErr := d.store.MarkFailed(context.WithoutCancel(ctx), msg.ID, reason, d.now()); markErr != nil {
			log.WithError(markErr).Error("could not mark unpublished message failed")
		}
		log.WithError(err).Error("message could not be queued")
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	if err := d.cache.Invalidate(ctx, cache.RecentSentKey(msg.SenderAccountID)); err != nil {
		log.WithError(err).Warn("cache invalidation failed")
	}
	log.Debug("message queued")
	return msg, nil
}

func (d *Dispatcher) publish(ctx context.Context, msg *models.Message) error {
	body, err := json.Marshal(models.NewEnvelope(msg))
	if err != nil {
		return err
	}

	if d.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.publishTimeout)
		defer cancel()
	}
	return d.broker.Publish(ctx, d.queue.Name, body)
}
