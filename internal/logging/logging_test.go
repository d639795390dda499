package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridhamxdev/TaskNexus/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("json output with fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newWithOutput(config.LogConfig{Level: "debug", Format: "json"}, &buf)

		logger.WithField("component", "worker").Debug("picked up delivery")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "worker", line["component"])
		assert.Equal(t, "picked up delivery", line["msg"])
		assert.Equal(t, "debug", line["level"])
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		logger := newWithOutput(config.LogConfig{Level: "chatty"}, &bytes.Buffer{})
		assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	})

	t.Run("text format", func(t *testing.T) {
		logger := newWithOutput(config.LogConfig{Level: "info", Format: "text"}, &bytes.Buffer{})
		_, ok := logger.Formatter.(*logrus.TextFormatter)
		assert.True(t, ok)
	})
}
