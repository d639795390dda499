package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ridhamxdev/TaskNexus/internal/audit"
	"github.com/ridhamxdev/TaskNexus/internal/mailer"
	"github.com/ridhamxdev/TaskNexus/internal/models"
	"github.com/ridhamxdev/TaskNexus/internal/queue"
	"github.com/ridhamxdev/TaskNexus/internal/store"
)

type WorkerOptions struct {
	MaxRetries      int
	RetryDelay      time.Duration
	DeliveryTimeout time.Duration
	// ErrorBackoff is the pause after a broker error before consuming again.
	ErrorBackoff time.Duration
}

// Worker consumes the outbound queue one delivery at a time.
type Worker struct {
	store     MessageStore
	broker    queue.Broker
	queue     queue.Queue
	transport mailer.Transport
	views     *MessageView
	audit     *audit.Logger
	opts      WorkerOptions
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewWorker(st MessageStore, broker queue.Broker, q queue.Queue, transport mailer.Transport, views *MessageView, auditor *audit.Logger, opts WorkerOptions, log logrus.FieldLogger) *Worker {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	return &Worker{
		store:     st,
		broker:    broker,
		queue:     q,
		transport: transport,
		views:     views,
		audit:     auditor,
		opts:      opts,
		log:       log.WithField("component", "worker"),
		now:       time.Now,
	}
}

// RunPool runs n independent consumers until ctx is done.
func (w *Worker) RunPool(ctx context.Context, n int) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		id := i
		g.Go(func() error { return w.Run(ctx, id) })
	}
	return g.Wait()
}

// Run consumes until ctx is done. A delivery in progress is finished before
// Run returns.
func (w *Worker) Run(ctx context.Context, id int) error {
	log := w.log.WithField("worker", id)
	log.Info("worker started")
	defer log.Info("worker stopped")

	for {
		d, err := w.broker.Consume(ctx, w.queue)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, queue.ErrNoDelivery) {
			continue
		}
		if err != nil {
			log.WithError(err).Error("consume failed")
			if !sleepCtx(ctx, w.opts.ErrorBackoff) {
				return nil
			}
			continue
		}

		if err := w.Handle(ctx, d); err != nil {
			log.WithError(err).WithField("delivery_id", d.ID).Error("delivery handling failed")
		}
	}
}

// Handle drives one delivery through the state machine and settles it with
// the broker. The row is written before the delivery is acknowledged.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) error {
	// bookkeeping outlives shutdown so an attempt already made is recorded
	bookCtx := context.WithoutCancel(ctx)
	log := w.log.WithField("delivery_id", d.ID)

	var env models.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil || env.MessageID == 0 {
		log.WithError(err).Error("undecodable envelope, dead-lettering")
		return w.broker.Nack(bookCtx, w.queue, d, false)
	}
	log = log.WithField("message_id", env.MessageID)

	msg, err := w.store.BeginAttempt(bookCtx, env.MessageID, w.now())
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("message row missing, dropping delivery")
		return w.broker.Ack(bookCtx, w.queue, d)
	}
	if err != nil {
		w.pause(ctx)
		if nackErr := w.broker.Nack(bookCtx, w.queue, d, true); nackErr != nil {
			return errors.Join(err, nackErr)
		}
		return fmt.Errorf("counting attempt: %w", err)
	}
	if msg.Status.Terminal() {
		log.WithField("status", msg.Status).Info("message already settled, acknowledging redelivery")
		return w.broker.Ack(bookCtx, w.queue, d)
	}

	sendErr := w.deliver(ctx, msg)
	if sendErr != nil && ctx.Err() != nil {
		// stopped mid-attempt: the transport never got to answer
		log.WithError(sendErr).Warn("worker stopping, returning delivery to the queue")
		return w.broker.Nack(bookCtx, w.queue, d, true)
	}
	state := NextDeliveryState(msg.Attempts, w.opts.MaxRetries, sendErr)
	log = log.WithFields(logrus.Fields{"attempts": msg.Attempts, "state": state})

	switch state {
	case StateSent:
		return w.settleSent(bookCtx, log, d, msg)
	case StateRetry:
		log.WithError(sendErr).Warn("delivery failed, requeueing")
		if err := w.store.RecordFailure(bookCtx, msg.ID, sendErr.Error(), w.now()); err != nil {
			log.WithError(err).Error("could not record failure reason")
		}
		w.pause(ctx)
		return w.broker.Nack(bookCtx, w.queue, d, state.Requeue())
	default:
		log.WithError(sendErr).Error("delivery failed permanently, dead-lettering")
		if err := w.store.MarkFailed(bookCtx, msg.ID, sendErr.Error(), w.now()); err != nil {
			log.WithError(err).Error("could not mark message failed, leaving it to reconciliation")
		}
		w.views.Forget(bookCtx, msg.SenderAccountID, msg.ID)
		w.audit.LogDelivery(strconv.FormatInt(msg.ID, 10), msg.SenderAccountID, string(models.MessageFailed), msg.Attempts)
		return w.broker.Nack(bookCtx, w.queue, d, state.Requeue())
	}
}

func (w *Worker) deliver(ctx context.Context, msg *models.Message) error {
	if w.opts.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.DeliveryTimeout)
		defer cancel()
	}
	if err := w.transport.Deliver(ctx, msg.Recipient, msg.Subject, msg.Body, msg.HTMLBody.String); err != nil {
		return fmt.Errorf("%w: %v", ErrTransientDelivery, err)
	}
	return nil
}

func (w *Worker) settleSent(ctx context.Context, log logrus.FieldLogger, d *queue.Delivery, msg *models.Message) error {
	if err := w.store.MarkSent(ctx, msg.ID, w.now()); err != nil {
		// unacknowledged: the broker hands it out again and the send repeats
		if nackErr := w.broker.Nack(ctx, w.queue, d, true); nackErr != nil {
			return errors.Join(err, nackErr)
		}
		return fmt.Errorf("marking sent: %w", err)
	}
	if err := w.broker.Ack(ctx, w.queue, d); err != nil {
		return err
	}

	log.Info("message sent")
	w.audit.LogDelivery(strconv.FormatInt(msg.ID, 10), msg.SenderAccountID, string(models.MessageSent), msg.Attempts)
	w.views.Refresh(ctx, msg.SenderAccountID, msg.ID)
	return nil
}

func (w *Worker) pause(ctx context.Context) {
	sleepCtx(ctx, w.opts.RetryDelay)
}

// sleepCtx waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
