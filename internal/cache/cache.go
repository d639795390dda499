package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is a best effort read cache. Values are stored as JSON.
type Cache interface {
	// Get decodes the value stored under key into dest and reports whether
	// the key was present.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

func RecentSentKey(accountID int64) string {
	return fmt.Sprintf("account:%d:messages:recent", accountID)
}

func MessageKey(messageID int64) string {
	return fmt.Sprintf("message:%d", messageID)
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (Noop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Noop) Invalidate(context.Context, ...string) error           { return nil }
