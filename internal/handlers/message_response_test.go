package handlers

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridhamxdev/TaskNexus/internal/models"
)

func TestNewMessageResponse(t *testing.T) {
	sentAt := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	resp := newMessageResponse(&models.Message{
		ID:            4,
		Status:        models.MessageSent,
		Attempts:      2,
		HTMLBody:      sql.NullString{String: "<p>hi</p>", Valid: true},
		SentAt:        sql.NullTime{Time: sentAt, Valid: true},
		LastAttemptAt: sql.NullTime{Time: sentAt, Valid: true},
	})

	body, err := json.Marshal(resp)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, "<p>hi</p>", raw["htmlBody"])
	assert.Equal(t, "2024-03-01T09:30:00Z", raw["sentAt"])
	assert.Equal(t, "2024-03-01T09:30:00Z", raw["lastAttemptAt"])
	assert.Nil(t, raw["failureReason"])
	assert.Equal(t, "SENT", raw["status"])

	assert.Empty(t, newMessageResponses(nil))
	assert.NotNil(t, newMessageResponses(nil))
}
