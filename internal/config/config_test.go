package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretary/internal/repository"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", " token ")
	t.Setenv("STORE_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "token", cfg.TelegramToken)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 300*time.Second, cfg.ReminderInterval)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 20*time.Second, cfg.RemoteCallTimeout)
	assert.Equal(t, 8, cfg.HandlerWorkers)
	assert.Equal(t, repository.DefaultRegions(), cfg.Regions())
	assert.Equal(t, time.UTC, cfg.Location())
	assert.False(t, cfg.LogJournal)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("DATABASE_URL", "/tmp/regions.db")
	t.Setenv("REMINDER_INTERVAL_SECONDS", "60")
	t.Setenv("RETRY_BASE_DELAY", "250ms")
	t.Setenv("REMOTE_CALL_TIMEOUT", "5")
	t.Setenv("DIGEST_TIME", "08:30")
	t.Setenv("LOG_JOURNAL", "yes")
	t.Setenv("TASKS_SHEET", "Tasks2025")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, time.Minute, cfg.ReminderInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 5*time.Second, cfg.RemoteCallTimeout)
	assert.Equal(t, "08:30", cfg.DigestTime)
	assert.True(t, cfg.LogJournal)
	assert.Equal(t, "Tasks2025", cfg.Regions().Tasks)

	r := cfg.Retrier(nil)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, 250*time.Millisecond, r.BaseDelay)
	assert.Equal(t, 5*time.Second, r.Timeout)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing token":     {"TELEGRAM_TOKEN": ""},
		"google needs id":   {"STORE_BACKEND": "google"},
		"unknown backend":   {"STORE_BACKEND": "excel"},
		"bad digest time":   {"DIGEST_TIME": "8 am"},
		"zero interval":     {"REMINDER_INTERVAL_SECONDS": "0"},
		"zero workers":      {"HANDLER_WORKERS": "0"},
		"zero attempts":     {"RETRY_ATTEMPTS": "0"},
		"bad timezone":      {"DEFAULT_TIMEZONE": "Mars/Base"},
		"same sheet names":  {"NOTES_SHEET": "Users"},
		"empty sheet names": {"USERS_SHEET": ""},
		"caldav needs url":  {"CALENDAR_PROVIDER": "caldav"},
		"unknown calendar":  {"CALENDAR_PROVIDER": "outlook"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TELEGRAM_TOKEN", "token")
			t.Setenv("STORE_BACKEND", "memory")
			t.Setenv("GOOGLE_SHEETS_ID", "")
			t.Setenv("CALDAV_URL", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestLoad_CalendarProvider(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("GOOGLE_CALENDAR_ID", "")
	t.Setenv("CALENDAR_PROVIDER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, CalendarNone, cfg.CalendarProvider)

	t.Setenv("CALDAV_URL", "https://caldav.yandex.ru/")
	t.Setenv("CALDAV_LOGIN", "anna@yandex.ru")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, CalendarCalDAV, cfg.CalendarProvider)
	assert.Equal(t, 2*time.Second, cfg.CalDAVRetrier(nil).BaseDelay)
	assert.Equal(t, time.Second, cfg.Retrier(nil).BaseDelay)

	t.Setenv("GOOGLE_CALENDAR_ID", "team@example.com")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, CalendarGoogle, cfg.CalendarProvider)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "1.5")

	assert.Equal(t, 7, getEnvInt("X_INT", 7))
	assert.True(t, getEnvBool("X_BOOL", true))
	assert.Equal(t, 1500*time.Millisecond, getEnvDuration("X_DUR", 0))
	assert.Equal(t, "fallback", getEnv("X_UNSET_FOR_TEST", "fallback"))
}
