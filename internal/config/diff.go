package config

import (
	"reflect"
	"sort"
	"strings"

	logx "boilbot/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe log fields
// (never secrets such as the bot token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (token only as a boolean)
	oT, nT := oldCfg.Telegram, newCfg.Telegram
	if oT.Token != nT.Token ||
		strings.TrimSpace(oT.PollTimeout) != strings.TrimSpace(nT.PollTimeout) ||
		!reflect.DeepEqual(oT.OwnerUserIDs, nT.OwnerUserIDs) ||
		oT.RestrictMutations != nT.RestrictMutations ||
		oT.DigestChat != nT.DigestChat ||
		oT.GroupLog != nT.GroupLog ||
		oT.CommandsPerMinute != nT.CommandsPerMinute {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oT.Token != nT.Token),
			logx.Int("telegram.owner_count", len(nT.OwnerUserIDs)),
			logx.Bool("telegram.restrict_mutations", nT.RestrictMutations),
			logx.Int("telegram.commands_per_minute", nT.CommandsPerMinute),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Calendar != newCfg.Calendar {
		changed = append(changed, "calendar")
		attrs = append(attrs,
			logx.String("calendar.timezone", newCfg.Calendar.Timezone),
			logx.String("calendar.rest_day", newCfg.Calendar.RestDay),
		)
	}

	if oldCfg.Digest.IsEnabled() != newCfg.Digest.IsEnabled() ||
		oldCfg.Digest.Schedule != newCfg.Digest.Schedule ||
		oldCfg.Digest.Timezone != newCfg.Digest.Timezone {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.Bool("digest.enabled", newCfg.Digest.IsEnabled()),
			logx.String("digest.schedule", newCfg.Digest.Schedule),
			logx.String("digest.timezone", newCfg.Digest.Timezone),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.audit", newCfg.Storage.Audit),
		)
	}

	if oldCfg.Registry != newCfg.Registry {
		changed = append(changed, "registry")
		attrs = append(attrs,
			logx.Int("registry.retry_attempts", newCfg.Registry.RetryAttempts),
			logx.String("registry.retry_backoff", newCfg.Registry.RetryBackoff),
			logx.String("registry.duplicate_names", newCfg.Registry.DuplicateNames),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// liveSections are applied without a restart; everything else is read once at boot.
var liveSections = map[string]bool{
	"logging":  true,
	"digest":   true,
	"registry": true,
	"telegram": true,
}

// RestartRequired filters changed down to the sections a running process ignores.
// Telegram counts as live except for the token and poll timeout.
func RestartRequired(oldCfg, newCfg *Config, changed []string) []string {
	var out []string
	for _, s := range changed {
		if !liveSections[s] {
			out = append(out, s)
			continue
		}
		if s == "telegram" && oldCfg != nil && newCfg != nil &&
			(oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout) {
			out = append(out, s)
		}
	}
	return out
}
