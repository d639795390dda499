package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "messages:outbound", cfg.Queue.OutboundQueue)
	assert.Equal(t, "messages:dead", cfg.Queue.DeadLetterQueue)
	assert.NotEmpty(t, cfg.Queue.ConsumerName)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Worker.RetryDelay)
	assert.True(t, cfg.Batch.DeductionAmount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "0 1 * * *", cfg.Batch.Schedule)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 10, cfg.Cache.RecentLimit)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("WORKER_RETRY_DELAY", "250ms")
	t.Setenv("BATCH_DEDUCTION_AMOUNT", "12.50")
	t.Setenv("QUEUE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Worker.Count)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.RetryDelay)
	assert.Equal(t, "12.5", cfg.Batch.DeductionAmount.String())
	assert.Equal(t, "memory", cfg.Queue.Driver)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SMTP_DRIVER=log\nBATCH_TIMEZONE=Europe/Berlin\nREDIS_PORT=6380\n"), 0o600))
	t.Setenv("REDIS_PORT", "6390")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "log", cfg.SMTP.Driver)
	assert.Equal(t, "Europe/Berlin", cfg.Batch.TimeZone)
	assert.Equal(t, "6390", cfg.Redis.Port)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"unknown database driver", "DATABASE_DRIVER", "mysql"},
		{"unknown queue driver", "QUEUE_DRIVER", "kafka"},
		{"zero retries", "WORKER_MAX_RETRIES", "0"},
		{"negative deduction", "BATCH_DEDUCTION_AMOUNT", "-5"},
		{"malformed deduction", "BATCH_DEDUCTION_AMOUNT", "fifty"},
		{"bad time zone", "BATCH_TIMEZONE", "Mars/Olympus"},
		{"same queue names", "QUEUE_DEAD_LETTER", "messages:outbound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
