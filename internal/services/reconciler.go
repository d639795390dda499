package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ridhamxdev/TaskNexus/internal/audit"
	"github.com/ridhamxdev/TaskNexus/internal/models"
	"github.com/ridhamxdev/TaskNexus/internal/queue"
)

// Reconciler drains the dead-letter queue and makes sure every message that
// reached it is FAILED. Every delivery is acknowledged, whatever happens.
type Reconciler struct {
	store  MessageStore
	broker queue.Broker
	queue  queue.Queue
	views  *MessageView
	audit  *audit.Logger
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewReconciler(st MessageStore, broker queue.Broker, q queue.Queue, views *MessageView, auditor *audit.Logger, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		store:  st,
		broker: broker,
		queue:  q,
		views:  views,
		audit:  auditor,
		log:    log.WithField("component", "reconciler"),
		now:    time.Now,
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info("reconciler started")
	defer r.log.Info("reconciler stopped")

	for {
		d, err := r.broker.Consume(ctx, r.queue)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, queue.ErrNoDelivery) {
			continue
		}
		if err != nil {
			r.log.WithError(err).Error("consume failed")
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		if err := r.Handle(ctx, d); err != nil {
			r.log.WithError(err).WithField("delivery_id", d.ID).Error("dead letter handling failed")
		}
	}
}

// Handle reconciles one dead-lettered delivery and acknowledges it.
func (r *Reconciler) Handle(ctx context.Context, d *queue.Delivery) error {
	ctx = context.WithoutCancel(ctx)
	log := r.log.WithField("delivery_id", d.ID)
	defer func() {
		if err := r.broker.Ack(ctx, r.queue, d); err != nil {
			log.WithError(err).Error("dead letter ack failed")
		}
	}()

	var env models.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil || env.MessageID == 0 {
		log.WithError(err).Error("undecodable dead letter discarded")
		return nil
	}
	log = log.WithField("message_id", env.MessageID)

	changed, err := r.store.MarkDeadLettered(ctx, env.MessageID, r.now())
	if err != nil {
		r.audit.LogError(strconv.FormatInt(env.MessageID, 10), env.SenderAccountID, err)
		return err
	}

	r.views.Forget(ctx, env.SenderAccountID, env.MessageID)
	if changed {
		log.Warn("message failed by dead letter reconciliation")
		r.audit.LogDelivery(strconv.FormatInt(env.MessageID, 10), env.SenderAccountID, string(models.MessageFailed), env.Attempts)
	} else {
		log.Debug("dead letter already reconciled")
	}
	return nil
}
