package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ridhamxdev/TaskNexus/internal/models"
)

const entryColumns = `id, account_id, kind, amount, description, reference, batch_id,
	source_account_id, destination_account_id, occurred_at`

func (s *Store) insertEntry(ctx context.Context, q Querier, e *models.LedgerEntry) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now()
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (account_id, kind, amount, description, reference, batch_id,
			source_account_id, destination_account_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		e.AccountID, e.Kind, e.Amount, e.Description, e.Reference, e.BatchID,
		e.SourceAccountID, e.DestinationAccountID, e.OccurredAt).Scan(&e.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("ledger entry %s: %w: %v", e.Reference, ErrDuplicate, err)
		}
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

// InsertMarker appends a marker entry. Markers carry a unique reference and
// never touch balances.
func (s *Store) InsertMarker(ctx context.Context, tx *sql.Tx, e *models.LedgerEntry) error {
	if e.Kind != models.EntryKindMarker {
		return fmt.Errorf("entry kind %q is not a marker", e.Kind)
	}
	return s.insertEntry(ctx, tx, e)
}

// CountBatchEntries counts entries tagged with batchID, marker included.
func (s *Store) CountBatchEntries(ctx context.Context, batchID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE batch_id = $1`, batchID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting entries of batch %s: %w", batchID, err)
	}
	return count, nil
}

func (s *Store) ListBatchEntries(ctx context.Context, batchID string) ([]models.LedgerEntry, error) {
	return s.listEntries(ctx, `WHERE batch_id = $1 ORDER BY id`, batchID)
}

func (s *Store) ListAccountEntries(ctx context.Context, accountID int64) ([]models.LedgerEntry, error) {
	return s.listEntries(ctx, `WHERE account_id = $1 ORDER BY id`, accountID)
}

func (s *Store) listEntries(ctx context.Context, where string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.Description, &e.Reference,
			&e.BatchID, &e.SourceAccountID, &e.DestinationAccountID, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
