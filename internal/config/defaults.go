package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // zone lookups must not depend on the host's zoneinfo

	"boilbot/internal/calendar"
)

const (
	DefaultTimezone       = "America/New_York"
	DefaultRestDay        = "sunday"
	DefaultDigestSchedule = "0 9 * * 1"
	DefaultStorageDriver  = "file"
	DefaultStoragePath    = "./data/machines.json"
	DefaultRetryAttempts  = 3
	DefaultRetryBackoff   = "200ms"
	DefaultMetricsAddr    = "127.0.0.1:9108"
)

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Telegram.MinLevel == "" {
		c.Logging.Telegram.MinLevel = "error"
	}
	if c.Logging.Telegram.RatePerSec <= 0 {
		c.Logging.Telegram.RatePerSec = 1
	}
	if strings.TrimSpace(c.Calendar.Timezone) == "" {
		c.Calendar.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(c.Calendar.RestDay) == "" {
		c.Calendar.RestDay = DefaultRestDay
	}
	if strings.TrimSpace(c.Digest.Schedule) == "" {
		c.Digest.Schedule = DefaultDigestSchedule
	}
	if strings.TrimSpace(c.Digest.Timezone) == "" {
		c.Digest.Timezone = c.Calendar.Timezone
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Registry.RetryAttempts <= 0 {
		c.Registry.RetryAttempts = DefaultRetryAttempts
	}
	if strings.TrimSpace(c.Registry.RetryBackoff) == "" {
		c.Registry.RetryBackoff = DefaultRetryBackoff
	}
	if strings.TrimSpace(c.Registry.DuplicateNames) == "" {
		c.Registry.DuplicateNames = "allow"
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Telegram.CommandsPerMinute < 0 {
		errs = append(errs, errors.New("telegram.commands_per_minute must be >= 0"))
	}
	if c.Logging.Telegram.Enabled && c.Telegram.GroupLog.IsZero() {
		errs = append(errs, errors.New("logging.telegram requires telegram.group_log.chat_id"))
	}
	if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("calendar.timezone: %w", err))
	}
	if _, ok := calendar.ParseWeekday(c.Calendar.RestDay); !ok {
		errs = append(errs, fmt.Errorf("calendar.rest_day: unknown weekday %q", c.Calendar.RestDay))
	}
	if c.Digest.IsEnabled() && c.Telegram.DigestChat.IsZero() {
		errs = append(errs, errors.New("digest requires telegram.digest_chat.chat_id"))
	}
	if _, err := time.LoadLocation(c.Digest.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("digest.timezone: %w", err))
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("registry.retry_backoff", c.Registry.RetryBackoff); err != nil {
		errs = append(errs, err)
	}
	switch c.Registry.DuplicateNames {
	case "allow", "reject":
	default:
		errs = append(errs, fmt.Errorf("registry.duplicate_names: want allow or reject, got %q", c.Registry.DuplicateNames))
	}
	return errors.Join(errs...)
}

// Location returns the operating zone. Call after Validate.
func (c CalendarConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Rest returns the configured rest weekday, Sunday when unset.
func (c CalendarConfig) Rest() time.Weekday {
	wd, _ := calendar.ParseWeekday(c.RestDay)
	return wd
}

// Build returns the business calendar described by c.
func (c CalendarConfig) Build() calendar.Calendar {
	return calendar.New(c.Rest(), c.Location())
}
