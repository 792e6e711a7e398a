package config

// Config is the on-disk configuration (JSON, or YAML by file extension).
//
// Durations are Go duration strings ("500ms", "10s"). Call ApplyDefaults and
// Validate after decoding; Parse does both.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Calendar CalendarConfig `json:"calendar"`
	Digest   DigestConfig   `json:"digest"`
	Storage  StorageConfig  `json:"storage"`
	Registry RegistryConfig `json:"registry"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// ChatRef addresses a chat, optionally a forum topic inside it.
type ChatRef struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

func (c ChatRef) IsZero() bool { return c.ChatID == 0 }

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`

	// RestrictMutations limits /boilout and /addfryer to owners. /cadence is always owner-only.
	RestrictMutations bool `json:"restrict_mutations,omitempty"`

	// DigestChat receives the weekly schedule; GroupLog receives submission notices
	// and, when logging.telegram is enabled, error logs.
	DigestChat ChatRef `json:"digest_chat"`
	GroupLog   ChatRef `json:"group_log"`

	PollTimeout string `json:"poll_timeout"`

	// CommandsPerMinute is the per-user command budget. 0 disables limiting.
	CommandsPerMinute int `json:"commands_per_minute,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// CalendarConfig sets the operating zone and the rest day for business-day math.
type CalendarConfig struct {
	Timezone string `json:"timezone"`
	RestDay  string `json:"rest_day"`
}

// DigestConfig controls the weekly schedule post.
//
// Enabled is a pointer so an omitted key defaults to true while an explicit false
// turns the post off.
type DigestConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule"`
	// Timezone defaults to calendar.timezone.
	Timezone string `json:"timezone,omitempty"`
}

func (d DigestConfig) IsEnabled() bool { return d.Enabled == nil || *d.Enabled }

// StorageConfig selects where the fryer state lives.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/boilbot.db", "audit": true }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Audit       bool   `json:"audit,omitempty"`
}

type RegistryConfig struct {
	RetryAttempts int    `json:"retry_attempts"`
	RetryBackoff  string `json:"retry_backoff"`
	// DuplicateNames is "allow" or "reject".
	DuplicateNames string `json:"duplicate_names"`
}

// MetricsConfig controls the Prometheus endpoint. Prefer a loopback address.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	// Pprof also mounts /debug/pprof on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}
