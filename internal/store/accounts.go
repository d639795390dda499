package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ridhamxdev/TaskNexus/internal/models"
)

const accountColumns = `id, name, email, role, balance, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.Balance, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts the account. A non-zero opening balance is recorded
// as a credit entry in the same transaction.
func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	if a.Role == "" {
		a.Role = models.RoleOrdinary
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO accounts (name, email, role, balance, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			RETURNING id`,
			a.Name, a.Email, a.Role, a.Balance, now).Scan(&a.ID)
		if err != nil {
			if IsUniqueViolation(err) {
				return fmt.Errorf("account %s: %w", a.Email, ErrDuplicate)
			}
			return fmt.Errorf("inserting account: %w", err)
		}

		if !a.Balance.IsPositive() {
			return nil
		}
		return s.insertEntry(ctx, tx, &models.LedgerEntry{
			AccountID:            a.ID,
			Kind:                 models.EntryKindCredit,
			Amount:               a.Balance,
			Description:          "Opening balance",
			Reference:            uuid.NewString(),
			DestinationAccountID: sql.NullInt64{Int64: a.ID, Valid: true},
			OccurredAt:           now,
		})
	})
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, "account", id)
	}
	return a, nil
}

// LockCollector loads the collector account and holds its row lock for the
// rest of tx.
func (s *Store) LockCollector(ctx context.Context, tx *sql.Tx) (*models.Account, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE role = $1 AND deleted_at IS NULL
		LIMIT 1`+s.dialect.lockRows(),
		models.RoleCollector)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, "account", models.RoleCollector)
	}
	return a, nil
}

// LockOrdinaryAccounts loads every live ordinary account in id order and
// holds the row locks for the rest of tx.
func (s *Store) LockOrdinaryAccounts(ctx context.Context, tx *sql.Tx) ([]models.Account, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE role = $1 AND deleted_at IS NULL
		ORDER BY id`+s.dialect.lockRows(),
		models.RoleOrdinary)
	if err != nil {
		return nil, fmt.Errorf("loading ordinary accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// PostEntry moves account to newBalance and appends the entry that explains
// the movement. Both writes share tx.
func (s *Store) PostEntry(ctx context.Context, tx *sql.Tx, account *models.Account, newBalance decimal.Decimal, entry *models.LedgerEntry) error {
	if newBalance.IsNegative() {
		return fmt.Errorf("account %d would go negative (%s)", account.ID, newBalance.StringFixed(2))
	}

	now := s.now()
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, updated_at = $2
		WHERE id = $3`,
		newBalance, now, account.ID)
	if err != nil {
		return fmt.Errorf("updating balance of account %d: %w", account.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account %d: %w", account.ID, ErrNotFound)
	}

	entry.AccountID = account.ID
	if err := s.insertEntry(ctx, tx, entry); err != nil {
		return err
	}

	account.Balance = newBalance
	account.UpdatedAt = now
	return nil
}
