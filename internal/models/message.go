package models

import (
	"database/sql"
	"time"
)

type MessageStatus string

const (
	MessagePending MessageStatus = "PENDING"
	MessageSent    MessageStatus = "SENT"
	MessageFailed  MessageStatus = "FAILED"
)

// Terminal reports whether no further delivery attempts are allowed.
func (s MessageStatus) Terminal() bool {
	return s == MessageSent || s == MessageFailed
}

type Message struct {
	ID              int64          `json:"id" db:"id"`
	SenderAccountID int64          `json:"sender_account_id" db:"sender_account_id"`
	Recipient       string         `json:"recipient" db:"recipient"`
	Subject         string         `json:"subject" db:"subject"`
	Body            string         `json:"body" db:"body"`
	HTMLBody        sql.NullString `json:"html_body" db:"html_body"`
	Status          MessageStatus  `json:"status" db:"status"`
	Attempts        int            `json:"attempts" db:"attempts"`
	LastAttemptAt   sql.NullTime   `json:"last_attempt_at" db:"last_attempt_at"`
	SentAt          sql.NullTime   `json:"sent_at" db:"sent_at"`
	FailureReason   sql.NullString `json:"failure_reason" db:"failure_reason"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Envelope is the queue payload for one outbound message. Attempts is
// advisory only; the row's counter decides retries.
type Envelope struct {
	MessageID       int64   `json:"messageId"`
	SenderAccountID int64   `json:"senderAccountId"`
	Recipient       string  `json:"recipient"`
	Subject         string  `json:"subject"`
	Body            string  `json:"body"`
	HTMLBody        *string `json:"htmlBody"`
	Attempts        int     `json:"attempts"`
}

func NewEnvelope(m *Message) Envelope {
	env := Envelope{
		MessageID:       m.ID,
		SenderAccountID: m.SenderAccountID,
		Recipient:       m.Recipient,
		Subject:         m.Subject,
		Body:            m.Body,
		Attempts:        m.Attempts,
	}
	if m.HTMLBody.Valid {
		html := m.HTMLBody.String
		env.HTMLBody = &html
	}
	return env
}
