package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"secretary/internal/repository"
	"secretary/internal/retry"
)

// Calendar providers.
const (
	CalendarNone   = "none"
	CalendarGoogle = "google"
	CalendarCalDAV = "caldav"
)

// Store backends.
const (
	BackendGoogle = "google"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config keeps runtime settings for the bot. It is read once at startup.
type Config struct {
	TelegramToken string

	StoreBackend    string
	SheetsID        string
	CredentialsFile string
	CalendarID      string
	DatabaseURL     string

	CalendarProvider     string
	CalDAVURL            string
	CalDAVLogin          string
	CalDAVPassword       string
	CalDAVCalendar       string
	CalDAVCalendarPath   string
	CalDAVRetryBaseDelay time.Duration

	UsersSheet string
	NotesSheet string
	TasksSheet string

	ReminderInterval time.Duration
	DigestTime       string

	RetryAttempts     int
	RetryBaseDelay    time.Duration
	RemoteCallTimeout time.Duration

	HandlerWorkers  int
	AdminAddr       string
	DefaultTimezone string

	LogLevel   string
	LogFile    string
	LogJournal bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	cfg := Config{
		TelegramToken: strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),

		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", BackendGoogle)),
		SheetsID:        getEnv("GOOGLE_SHEETS_ID", ""),
		CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		CalendarID:      getEnv("GOOGLE_CALENDAR_ID", ""),
		DatabaseURL:     getEnv("DATABASE_URL", "secretary.db"),

		CalendarProvider:     strings.ToLower(getEnv("CALENDAR_PROVIDER", "")),
		CalDAVURL:            getEnv("CALDAV_URL", ""),
		CalDAVLogin:          getEnv("CALDAV_LOGIN", ""),
		CalDAVPassword:       os.Getenv("CALDAV_PASSWORD"),
		CalDAVCalendar:       getEnv("CALDAV_CALENDAR", ""),
		CalDAVCalendarPath:   getEnv("CALDAV_CALENDAR_PATH", ""),
		CalDAVRetryBaseDelay: getEnvDuration("CALDAV_RETRY_BASE_DELAY", 2*time.Second),

		UsersSheet: getEnv("USERS_SHEET", "Users"),
		NotesSheet: getEnv("NOTES_SHEET", "PersonalNotes"),
		TasksSheet: getEnv("TASKS_SHEET", "PersonalTasks"),

		ReminderInterval: time.Duration(getEnvInt("REMINDER_INTERVAL_SECONDS", 300)) * time.Second,
		DigestTime:       getEnv("DIGEST_TIME", ""),

		RetryAttempts:     getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay:    getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RemoteCallTimeout: getEnvDuration("REMOTE_CALL_TIMEOUT", 20*time.Second),

		HandlerWorkers:  getEnvInt("HANDLER_WORKERS", 8),
		AdminAddr:       getEnv("ADMIN_ADDR", ""),
		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "UTC"),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFile:    getEnv("LOG_FILE", ""),
		LogJournal: getEnvBool("LOG_JOURNAL", false),
	}

	if cfg.CalendarProvider == "" {
		switch {
		case cfg.CalendarID != "":
			cfg.CalendarProvider = CalendarGoogle
		case cfg.CalDAVURL != "":
			cfg.CalendarProvider = CalendarCalDAV
		default:
			cfg.CalendarProvider = CalendarNone
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	switch c.StoreBackend {
	case BackendGoogle:
		if c.SheetsID == "" {
			return fmt.Errorf("GOOGLE_SHEETS_ID is required for the google backend")
		}
	case BackendSQLite:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL cannot be empty for the sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.CalendarProvider {
	case CalendarNone:
	case CalendarGoogle:
		if c.CalendarID == "" {
			return fmt.Errorf("GOOGLE_CALENDAR_ID is required for the google calendar")
		}
	case CalendarCalDAV:
		if c.CalDAVURL == "" || c.CalDAVLogin == "" {
			return fmt.Errorf("CALDAV_URL and CALDAV_LOGIN are required for the caldav calendar")
		}
		if c.CalDAVRetryBaseDelay < 0 {
			return fmt.Errorf("CALDAV_RETRY_BASE_DELAY cannot be negative")
		}
	default:
		return fmt.Errorf("unknown CALENDAR_PROVIDER %q", c.CalendarProvider)
	}
	if c.UsersSheet == "" || c.NotesSheet == "" || c.TasksSheet == "" {
		return fmt.Errorf("sheet names cannot be empty")
	}
	if c.UsersSheet == c.NotesSheet || c.UsersSheet == c.TasksSheet || c.NotesSheet == c.TasksSheet {
		return fmt.Errorf("sheet names must differ")
	}
	if c.ReminderInterval < time.Second {
		return fmt.Errorf("REMINDER_INTERVAL_SECONDS must be > 0")
	}
	if c.DigestTime != "" {
		if _, err := time.Parse("15:04", c.DigestTime); err != nil {
			return fmt.Errorf("DIGEST_TIME must be HH:MM, got %q", c.DigestTime)
		}
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("RETRY_ATTEMPTS must be > 0")
	}
	if c.RetryBaseDelay < 0 || c.RemoteCallTimeout < 0 {
		return fmt.Errorf("retry delays cannot be negative")
	}
	if c.HandlerWorkers <= 0 {
		return fmt.Errorf("HANDLER_WORKERS must be > 0")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	return nil
}

// Regions returns the sheet names the repositories work with.
func (c Config) Regions() repository.Regions {
	return repository.Regions{Users: c.UsersSheet, Notes: c.NotesSheet, Tasks: c.TasksSheet}
}

// Retrier builds the retry policy shared by the store and calendar clients.
func (c Config) Retrier(logger *slog.Logger) *retry.Retrier {
	return &retry.Retrier{
		Attempts:  c.RetryAttempts,
		BaseDelay: c.RetryBaseDelay,
		Timeout:   c.RemoteCallTimeout,
		Logger:    logger,
	}
}

// CalDAVRetrier is Retrier with the slower backoff CalDAV servers need.
func (c Config) CalDAVRetrier(logger *slog.Logger) *retry.Retrier {
	r := c.Retrier(logger)
	r.BaseDelay = c.CalDAVRetryBaseDelay
	return r
}

// Location resolves DefaultTimezone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("1500ms") and plain seconds ("2").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
