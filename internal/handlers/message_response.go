package handlers

import (
	"database/sql"
	"time"

	"github.com/ridhamxdev/TaskNexus/internal/models"
)

// MessageResponse is the wire form of a message. Nullable columns become
// null rather than sql.Null* objects.
type MessageResponse struct {
	ID              int64                `json:"id"`
	SenderAccountID int64                `json:"senderAccountId"`
	Recipient       string               `json:"recipient"`
	Subject         string               `json:"subject"`
	Body            string               `json:"body"`
	HTMLBody        *string              `json:"htmlBody"`
	Status          models.MessageStatus `json:"status"`
	Attempts        int                  `json:"attempts"`
	LastAttemptAt   *time.Time           `json:"lastAttemptAt"`
	SentAt          *time.Time           `json:"sentAt"`
	FailureReason   *string              `json:"failureReason"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

func newMessageResponse(m *models.Message) MessageResponse {
	return MessageResponse{
		ID:              m.ID,
		SenderAccountID: m.SenderAccountID,
		Recipient:       m.Recipient,
		Subject:         m.Subject,
		Body:            m.Body,
		HTMLBody:        nullString(m.HTMLBody),
		Status:          m.Status,
		Attempts:        m.Attempts,
		LastAttemptAt:   nullTime(m.LastAttemptAt),
		SentAt:          nullTime(m.SentAt),
		FailureReason:   nullString(m.FailureReason),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func newMessageResponses(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for i := range messages {
		out = append(out, newMessageResponse(&messages[i]))
	}
	return out
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
