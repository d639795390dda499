package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ridhamxdev/TaskNexus/internal/audit"
	"github.com/ridhamxdev/TaskNexus/internal/models"
	"github.com/ridhamxdev/TaskNexus/internal/store"
)

type BatchStatus string

const (
	BatchCompleted        BatchStatus = "completed"
	BatchAlreadyProcessed BatchStatus = "already_processed"
	// BatchConcurrentRunner means another process committed this batch while
	// this run was in flight.
	BatchConcurrentRunner BatchStatus = "concurrent_runner"
)

type BatchResult struct {
	BatchID             string          `json:"batchId"`
	Status              BatchStatus     `json:"status"`
	ProcessedCount      int             `json:"processedCount"`
	SkippedCount        int             `json:"skippedCount"`
	TotalMoved          decimal.Decimal `json:"totalMoved"`
	NotificationsFailed int             `json:"notificationsFailed"`
}

// BatchIDFor derives the batch id for the calendar day of asOf.
func BatchIDFor(asOf time.Time) string {
	return "daily_" + asOf.Format("2006-01-02")
}

// MarkerReference is the unique reference claimed by the marker entry of
// batchID. Only one transaction can ever commit it.
func MarkerReference(batchID string) string {
	return "marker_" + batchID
}

// BatchJob moves a fixed amount from every eligible ordinary account to the
// collector once per day.
type BatchJob struct {
	store    LedgerStore
	notifier Notifier
	amount   decimal.Decimal
	location *time.Location
	audit    *audit.Logger
	log      logrus.FieldLogger
	now      func() time.Time
	newRef   func() string
}

func NewBatchJob(st LedgerStore, notifier Notifier, amount decimal.Decimal, location *time.Location, auditor *audit.Logger, log logrus.FieldLogger) *BatchJob {
	if location == nil {
		location = time.UTC
	}
	return &BatchJob{
		store:    st,
		notifier: notifier,
		amount:   amount.Round(2),
		location: location,
		audit:    auditor,
		log:      log.WithField("component", "batch"),
		now:      time.Now,
		newRef:   uuid.NewString,
	}
}

type sweep struct {
	collector models.Account
	deducted  []models.Account
	skipped   int
	total     decimal.Decimal
}

// Run executes the batch for the day of asOf. It is safe to call any number
// of times, concurrently and from several processes: at most one call per day
// commits ledger entries.
func (j *BatchJob) Run(ctx context.Context, asOf time.Time) (*BatchResult, error) {
	batchID := BatchIDFor(asOf.In(j.location))
	log := j.log.WithField("batch_id", batchID)
	result := &BatchResult{BatchID: batchID, TotalMoved: decimal.Zero}

	existing, err := j.store.CountBatchEntries(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		log.Info("batch already processed")
		result.Status = BatchAlreadyProcessed
		return result, nil
	}

	// once started, the batch runs to commit or rollback and sends its
	// notifications even if the caller gives up
	detached := context.WithoutCancel(ctx)
	var sw sweep
	err = j.store.WithTx(detached, func(tx *sql.Tx) error {
		sw = sweep{total: decimal.Zero}
		return j.sweep(detached, tx, batchID, &sw)
	})
	if errors.Is(err, ErrConcurrentBatch) {
		log.Info("batch committed by a concurrent runner")
		result.Status = BatchConcurrentRunner
		return result, nil
	}
	if err != nil {
		j.audit.LogError(batchID, 0, err)
		return nil, fmt.Errorf("batch %s: %w", batchID, err)
	}

	result.Status = BatchCompleted
	result.ProcessedCount = len(sw.deducted)
	result.SkippedCount = sw.skipped
	result.TotalMoved = sw.total

	for _, acct := range sw.deducted {
		j.audit.LogDeduction(batchID, acct.ID, j.amount, acct.Balance)
	}
	if sw.total.IsPositive() {
		j.audit.LogCollection(batchID, sw.collector.ID, sw.total, len(sw.deducted))
	}
	log.WithFields(logrus.Fields{
		"processed":   result.ProcessedCount,
		"skipped":     result.SkippedCount,
		"total_moved": result.TotalMoved.StringFixed(2),
	}).Info("batch committed")

	result.NotificationsFailed = j.notify(detached, log, &sw)
	return result, nil
}

func (j *BatchJob) sweep(ctx context.Context, tx *sql.Tx, batchID string, sw *sweep) error {
	collector, err := j.store.LockCollector(ctx, tx)
	if errors.Is(err, store.ErrNotFound) {
		return ErrCollectorNotFound
	}
	if err != nil {
		return err
	}
	sw.collector = *collector

	accounts, err := j.store.LockOrdinaryAccounts(ctx, tx)
	if err != nil {
		return err
	}

	now := j.now()
	batch := sql.NullString{String: batchID, Valid: true}
	collectorRef := sql.NullInt64{Int64: collector.ID, Valid: true}

	for i := range accounts {
		acct := &accounts[i]
		if acct.ID == collector.ID || acct.IsDeleted() {
			continue
		}
		if acct.Balance.LessThan(j.amount) {
			sw.skipped++
			j.log.WithError(ErrInsufficientBalance).WithField("account_id", acct.ID).Debug("account skipped")
			continue
		}

		err := j.store.PostEntry(ctx, tx, acct, acct.Balance.Sub(j.amount), &models.LedgerEntry{
			Kind:                 models.EntryKindDebit,
			Amount:               j.amount,
			Description:          "Daily automatic deduction",
			Reference:            j.newRef(),
			BatchID:              batch,
			SourceAccountID:      sql.NullInt64{Int64: acct.ID, Valid: true},
			DestinationAccountID: collectorRef,
			OccurredAt:           now,
		})
		if err != nil {
			return err
		}
		sw.deducted = append(sw.deducted, *acct)
		sw.total = sw.total.Add(j.amount)
	}

	err = j.store.InsertMarker(ctx, tx, &models.LedgerEntry{
		AccountID:   collector.ID,
		Kind:        models.EntryKindMarker,
		Amount:      models.MarkerAmount,
		Description: "Daily deduction marker",
		Reference:   MarkerReference(batchID),
		BatchID:     batch,
		OccurredAt:  now,
	})
	if store.IsUniqueViolation(err) {
		return ErrConcurrentBatch
	}
	if err != nil {
		return err
	}

	if !sw.total.IsPositive() {
		return nil
	}
	err = j.store.PostEntry(ctx, tx, collector, collector.Balance.Add(sw.total), &models.LedgerEntry{
		Kind:                 models.EntryKindCredit,
		Amount:               sw.total,
		Description:          fmt.Sprintf("Daily collection from %d accounts", len(sw.deducted)),
		Reference:            j.newRef(),
		BatchID:              batch,
		DestinationAccountID: collectorRef,
		OccurredAt:           now,
	})
	if err != nil {
		return err
	}
	sw.collector = *collector
	return nil
}

// notify queues confirmations after commit. Failures are logged and counted
// but never undo the ledger.
func (j *BatchJob) notify(ctx context.Context, log logrus.FieldLogger, sw *sweep) int {
	if j.notifier == nil {
		return 0
	}

	failed := 0
	send := func(req EnqueueRequest) {
		if _, err := j.notifier.Enqueue(ctx, req); err != nil {
			failed++
			log.WithError(fmt.Errorf("%w: %w", ErrNotification, err)).
				WithField("recipient", req.Recipient).Warn("batch notification not queued")
		}
	}

	for _, acct := range sw.deducted {
		send(EnqueueRequest{
			SenderAccountID: sw.collector.ID,
			Recipient:       acct.Email,
			Subject:         "Daily deduction processed",
			Body: fmt.Sprintf("Hello %s, %s was deducted from your account. Your new balance is %s.",
				acct.Name, j.amount.StringFixed(2), acct.Balance.StringFixed(2)),
		})
	}

	if len(sw.deducted) > 0 {
		send(EnqueueRequest{
			SenderAccountID: sw.collector.ID,
			Recipient:       sw.collector.Email,
			Subject:         "Daily collection summary",
			Body: fmt.Sprintf("Collected %s from %d accounts. Collector balance is %s.",
				sw.total.StringFixed(2), len(sw.deducted), sw.collector.Balance.StringFixed(2)),
		})
	}
	return failed
}
