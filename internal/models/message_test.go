package models

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	t.Run("html body is null when absent", func(t *testing.T) {
		env := NewEnvelope(&Message{ID: 5, SenderAccountID: 2, Recipient: "a@example.com", Subject: "s", Body: "b"})

		raw, err := json.Marshal(env)
		require.NoError(t, err)
		assert.JSONEq(t, `{"messageId":5,"senderAccountId":2,"recipient":"a@example.com","subject":"s","body":"b","htmlBody":null,"attempts":0}`, string(raw))
	})

	t.Run("html body is carried", func(t *testing.T) {
		env := NewEnvelope(&Message{ID: 5, HTMLBody: sql.NullString{String: "<p>b</p>", Valid: true}})
		require.NotNil(t, env.HTMLBody)
		assert.Equal(t, "<p>b</p>", *env.HTMLBody)
	})
}

func TestMessageStatus_Terminal(t *testing.T) {
	assert.False(t, MessagePending.Terminal())
	assert.True(t, MessageSent.Terminal())
	assert.True(t, MessageFailed.Terminal())
}
