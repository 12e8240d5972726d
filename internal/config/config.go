// Package config contains everything related to configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/j-veylop/antigravity-reset-agent/internal/models"
)

// Config holds the application configuration.
type Config struct {
	AccountsDir          string
	SchedulePath         string
	DatabasePath         string
	GoogleClientID       string
	GoogleClientSecret   string
	CloudCodeBaseURL     string
	WebhookURL           string
	NtfyURL              string
	HTTPAddr             string
	LogLevel             string
	QuotaRefreshInterval time.Duration
	CheckInterval        time.Duration
	PreNotifyWindow      time.Duration
	RetentionWindow      time.Duration
	NewCycleGrace        time.Duration
	DisplayUTCOffset     int
	MaxConcurrent        int
	DesktopNotifications bool
	AutoPreheat          bool
	WorkHours            models.WorkHours
}

// Default values
const (
	defaultQuotaRefreshInterval = 60 * time.Second
	defaultCheckInterval        = 30 * time.Second
	defaultPreNotifyWindow      = 5 * time.Minute
	defaultRetentionWindow      = 48 * time.Hour
	defaultNewCycleGrace        = 5 * time.Minute
	defaultDisplayUTCOffset     = 7
	defaultMaxConcurrent        = 5
	defaultCloudCodeBaseURL     = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	defaultHTTPAddr             = "127.0.0.1:8765"
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	// Try loading .env from multiple locations
	envPaths := getEnvPaths()
	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	antigravityConstants := LoadAntigravityConstants()
	var defaultClientID, defaultClientSecret string
	if antigravityConstants != nil {
		defaultClientID = antigravityConstants.ClientID
		defaultClientSecret = antigravityConstants.ClientSecret
	}

	cfg := &Config{
		AccountsDir:          getEnvString("ACCOUNTS_DIR", getDefaultAccountsDir()),
		SchedulePath:         getEnvString("SCHEDULE_PATH", getDefaultSchedulePath()),
		DatabasePath:         getEnvString("DATABASE_PATH", getDefaultDatabasePath()),
		GoogleClientID:       getEnvString("GOOGLE_CLIENT_ID", defaultClientID),
		GoogleClientSecret:   getEnvString("GOOGLE_CLIENT_SECRET", defaultClientSecret),
		CloudCodeBaseURL:     getEnvString("CLOUDCODE_BASE_URL", defaultCloudCodeBaseURL),
		WebhookURL:           getEnvString("WEBHOOK_URL", ""),
		NtfyURL:              getEnvString("NTFY_URL", ""),
		HTTPAddr:             getEnvOptional("HTTP_ADDR", defaultHTTPAddr),
		LogLevel:             getEnvString("LOG_LEVEL", "info"),
		QuotaRefreshInterval: getEnvDuration("QUOTA_REFRESH_INTERVAL", defaultQuotaRefreshInterval),
		CheckInterval:        getEnvDuration("CHECK_INTERVAL", defaultCheckInterval),
		PreNotifyWindow:      getEnvDuration("PRE_NOTIFY_WINDOW", defaultPreNotifyWindow),
		RetentionWindow:      getEnvDuration("RETENTION_WINDOW", defaultRetentionWindow),
		NewCycleGrace:        getEnvDuration("NEW_CYCLE_GRACE", defaultNewCycleGrace),
		DisplayUTCOffset:     getEnvInt("DISPLAY_UTC_OFFSET", defaultDisplayUTCOffset),
		MaxConcurrent:        getEnvInt("MAX_CONCURRENT", defaultMaxConcurrent),
		DesktopNotifications: getEnvBool("DESKTOP_NOTIFICATIONS", true),
		AutoPreheat:          getEnvBool("AUTO_PREHEAT", true),
	}

	workHours, err := models.ParseWorkHours(os.Getenv("WORK_HOURS"))
	if err != nil {
		return nil, fmt.Errorf("WORK_HOURS: %w", err)
	}
	cfg.WorkHours = workHours

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return nil, fmt.Errorf(
			"GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required (set via env or opencode-antigravity-auth)")
	}

	if cfg.DisplayUTCOffset < -12 || cfg.DisplayUTCOffset > 14 {
		return nil, fmt.Errorf("DISPLAY_UTC_OFFSET out of range: %d", cfg.DisplayUTCOffset)
	}

	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}

	if err := ensureDir(cfg.AccountsDir); err != nil {
		return nil, err
	}
	if err := ensureDir(filepath.Dir(cfg.SchedulePath)); err != nil {
		return nil, err
	}
	if err := ensureDir(filepath.Dir(cfg.DatabasePath)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DisplayLocation returns the fixed civil timezone used for reset times.
func (c *Config) DisplayLocation() *time.Location {
	return FixedZone(c.DisplayUTCOffset)
}

// FixedZone builds a UTC+N zone named like "UTC+7".
func FixedZone(hours int) *time.Location {
	name := fmt.Sprintf("UTC%+d", hours)
	if hours == 0 {
		name = "UTC"
	}
	return time.FixedZone(name, hours*3600)
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	// Current directory
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	// Home directory locations
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "antigravity-agent", ".env"),
			filepath.Join(home, ".antigravity", ".env"),
		)
	}

	return paths
}

// baseDir returns the directory holding all agent state.
func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "antigravity-agent")
}

func getDefaultAccountsDir() string {
	return filepath.Join(baseDir(), "accounts")
}

func getDefaultSchedulePath() string {
	return filepath.Join(baseDir(), "reset_tracker.json")
}

func getDefaultDatabasePath() string {
	return filepath.Join(baseDir(), "history.db")
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOptional is like getEnvString but keeps a value that is set and
// empty, so a key can be disabled explicitly.
func getEnvOptional(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		// Try parsing as seconds if no unit specified
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimPrefix(value, "+")); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
