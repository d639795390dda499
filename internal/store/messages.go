package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ridhamxdev/TaskNexus/internal/models"
)

const messageColumns = `id, sender_account_id, recipient, subject, body, html_body, status, attempts,
	last_attempt_at, sent_at, failure_reason, created_at, updated_at`

// ReasonExhaustedRetries is recorded on messages failed by dead-letter
// reconciliation.
const ReasonExhaustedRetries = "exhausted retries"

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.SenderAccountID, &m.Recipient, &m.Subject, &m.Body, &m.HTMLBody,
		&m.Status, &m.Attempts, &m.LastAttemptAt, &m.SentAt, &m.FailureReason, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMessage inserts m as PENDING with no attempts.
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	now := s.now()
	m.Status = models.MessagePending
	m.Attempts = 0
	m.CreatedAt, m.UpdatedAt = now, now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (sender_account_id, recipient, subject, body, html_body, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
		RETURNING id`,
		m.SenderAccountID, m.Recipient, m.Subject, m.Body, m.HTMLBody, m.Status, now).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "message", id)
	}
	return m, nil
}

// BeginAttempt counts a delivery attempt on a PENDING message and returns the
// updated row. Terminal rows are returned untouched so redeliveries can be
// acknowledged without another send.
func (s *Store) BeginAttempt(ctx context.Context, id int64, at time.Time) (*models.Message, error) {
	var msg *models.Message
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMessage(tx.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE id = $1`+s.dialect.lockRows(), id))
		if err != nil {
			return notFound(err, "message", id)
		}

		if m.Status.Terminal() {
			msg = m
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE messages
			SET attempts = attempts + 1, last_attempt_at = $1, updated_at = $1
			WHERE id = $2`,
			at, id)
		if err != nil {
			return fmt.Errorf("counting attempt on message %d: %w", id, err)
		}

		m.Attempts++
		m.LastAttemptAt = sql.NullTime{Time: at, Valid: true}
		m.UpdatedAt = at
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkSent moves a PENDING message to SENT.
func (s *Store) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $1, sent_at = $2, failure_reason = NULL, updated_at = $2
		WHERE id = $3 AND status = $4`,
		models.MessageSent, at, id, models.MessagePending)
	if err != nil {
		return fmt.Errorf("marking message %d sent: %w", id, err)
	}
	return nil
}

// RecordFailure keeps the message PENDING and remembers why the last attempt
// failed.
func (s *Store) RecordFailure(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET failure_reason = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		reason, at, id, models.MessagePending)
	if err != nil {
		return fmt.Errorf("recording failure on message %d: %w", id, err)
	}
	return nil
}

// MarkFailed moves a message that has not been sent to FAILED.
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $1, failure_reason = $2, updated_at = $3
		WHERE id = $4 AND status <> $5`,
		models.MessageFailed, reason, at, id, models.MessageSent)
	if err != nil {
		return fmt.Errorf("marking message %d failed: %w", id, err)
	}
	return nil
}

// MarkDeadLettered forces a PENDING message to FAILED. Rows the worker already
// settled keep their status and reason. It reports whether the row changed.
func (s *Store) MarkDeadLettered(ctx context.Context, id int64, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $1,
			failure_reason = $2,
			updated_at = $3
		WHERE id = $4 AND status = $5`,
		models.MessageFailed, ReasonExhaustedRetries, at, id, models.MessagePending)
	if err != nil {
		return false, fmt.Errorf("reconciling message %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// ListRecentByStatus returns the newest messages of sender in status.
func (s *Store) ListRecentByStatus(ctx context.Context, senderID int64, status models.MessageStatus, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE sender_account_id = $1 AND status = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`,
		senderID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages of account %d: %w", senderID, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}
