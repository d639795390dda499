package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ridhamxdev/TaskNexus/internal/models"
)

// MessageStore is the message persistence used by the pipeline. It is
// implemented by *store.Store.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	BeginAttempt(ctx context.Context, id int64, at time.Time) (*models.Message, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	RecordFailure(ctx context.Context, id int64, reason string, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error
	MarkDeadLettered(ctx context.Context, id int64, at time.Time) (bool, error)
	ListRecentByStatus(ctx context.Context, senderID int64, status models.MessageStatus, limit int) ([]models.Message, error)
}

// LedgerStore is the ledger persistence used by the batch job. It is
// implemented by *store.Store.
type LedgerStore interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	CountBatchEntries(ctx context.Context, batchID string) (int, error)
	LockCollector(ctx context.Context, tx *sql.Tx) (*models.Account, error)
	LockOrdinaryAccounts(ctx context.Context, tx *sql.Tx) ([]models.Account, error)
	PostEntry(ctx context.Context, tx *sql.Tx, account *models.Account, newBalance decimal.Decimal, entry *models.LedgerEntry) error
	InsertMarker(ctx context.Context, tx *sql.Tx, e *models.LedgerEntry) error
}

// Notifier queues outbound messages.
type Notifier interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*models.Message, error)
}
