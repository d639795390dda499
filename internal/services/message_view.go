package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ridhamxdev/TaskNexus/internal/cache"
	"github.com/ridhamxdev/TaskNexus/internal/models"
)

// MessageView serves message reads from the cache, falling back to the
// store. Cache failures only cost a database read.
type MessageView struct {
	store MessageStore
	cache cache.Cache
	ttl   time.Duration
	limit int
	log   logrus.FieldLogger
}

func NewMessageView(st MessageStore, c cache.Cache, ttl time.Duration, limit int, log logrus.FieldLogger) *MessageView {
	if c == nil {
		c = cache.Noop{}
	}
	if limit <= 0 {
		limit = 10
	}
	return &MessageView{store: st, cache: c, ttl: ttl, limit: limit, log: log.WithField("component", "message_view")}
}

// RecentSent returns the newest SENT messages of senderID.
func (v *MessageView) RecentSent(ctx context.Context, senderID int64) ([]models.Message, error) {
	key := cache.RecentSentKey(senderID)

	var cached []models.Message
	hit, err := v.cache.Get(ctx, key, &cached)
	if err != nil {
		v.log.WithError(err).WithField("key", key).Warn("cache read failed")
	}
	if hit {
		return cached, nil
	}

	return v.loadRecent(ctx, senderID)
}

func (v *MessageView) loadRecent(ctx context.Context, senderID int64) ([]models.Message, error) {
	messages, err := v.store.ListRecentByStatus(ctx, senderID, models.MessageSent, v.limit)
	if err != nil {
		return nil, err
	}
	if err := v.cache.Set(ctx, cache.RecentSentKey(senderID), messages, v.ttl); err != nil {
		v.log.WithError(err).Warn("cache write failed")
	}
	return messages, nil
}

// Get returns one message. Only settled messages are cached since pending
// rows still change.
func (v *MessageView) Get(ctx context.Context, id int64) (*models.Message, error) {
	key := cache.MessageKey(id)

	var cached models.Message
	hit, err := v.cache.Get(ctx, key, &cached)
	if err != nil {
		v.log.WithError(err).WithField("key", key).Warn("cache read failed")
	}
	if hit {
		return &cached, nil
	}

	msg, err := v.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Status.Terminal() {
		if err := v.cache.Set(ctx, key, msg, v.ttl); err != nil {
			v.log.WithError(err).Warn("cache write failed")
		}
	}
	return msg, nil
}

// Forget drops the cached views touched by a message state change.
func (v *MessageView) Forget(ctx context.Context, senderID, messageID int64) {
	if v == nil {
		return
	}
	if err := v.cache.Invalidate(ctx, cache.RecentSentKey(senderID), cache.MessageKey(messageID)); err != nil {
		v.log.WithError(err).Warn("cache invalidation failed")
	}
}

// Refresh drops stale views and reloads the recent-sent list of senderID.
func (v *MessageView) Refresh(ctx context.Context, senderID, messageID int64) {
	if v == nil {
		return
	}
	v.Forget(ctx, senderID, messageID)
	if _, err := v.loadRecent(ctx, senderID); err != nil {
		v.log.WithError(err).WithField("sender_account_id", senderID).Warn("recent view refresh failed")
	}
}
