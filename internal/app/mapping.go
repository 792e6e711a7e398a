package app

import (
	"fmt"
	"strings"
	"time"

	"boilbot/internal/config"
	"boilbot/internal/digest"
	"boilbot/internal/registry"
	"boilbot/internal/storage"
	"boilbot/internal/transport"
	logx "boilbot/pkg/logx"
)

func chatTarget(r config.ChatRef) transport.ChatTarget {
	return transport.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID}
}

// mapLogConfig routes the chat sink to the group log; logging.telegram.thread_id
// overrides the group log thread when set.
func mapLogConfig(cfg *config.Config) logx.Config {
	target := chatTarget(cfg.Telegram.GroupLog)
	if cfg.Logging.Telegram.ThreadID != 0 {
		target.ThreadID = cfg.Logging.Telegram.ThreadID
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && target.ChatID != 0,
			Target:     target,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapDigestConfig(cfg *config.Config) digest.Config {
	return digest.Config{
		Enabled:  cfg.Digest.IsEnabled(),
		Schedule: cfg.Digest.Schedule,
		Timezone: cfg.Digest.Timezone,
		Target:   chatTarget(cfg.Telegram.DigestChat),
	}
}

func mapRetryPolicy(cfg *config.Config) registry.RetryPolicy {
	return registry.RetryPolicy{
		Attempts: cfg.Registry.RetryAttempts,
		Backoff:  config.MustDuration(cfg.Registry.RetryBackoff, 200*time.Millisecond),
	}
}

func mapDuplicatePolicy(cfg *config.Config) registry.DuplicatePolicy {
	if strings.EqualFold(strings.TrimSpace(cfg.Registry.DuplicateNames), string(registry.DuplicatesReject)) {
		return registry.DuplicatesReject
	}
	return registry.DuplicatesAllow
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path, Audit: sc.Audit}, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Audit: sc.Audit}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// validateLive rejects reloads the running components could not apply.
func validateLive(cfg *config.Config) error {
	if cfg.Digest.IsEnabled() {
		if _, err := digest.ParseSchedule(cfg.Digest.Schedule); err != nil {
			return fmt.Errorf("digest.schedule: %w", err)
		}
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
