package config

import (
	"reflect"
	"sort"
	"strings"

	logx "psarbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.APIRatePerSec != nt.APIRatePerSec ||
		(ot.Token != nt.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Int("telegram.api_rate_per_sec", nt.APIRatePerSec),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		nl := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Moderation, newCfg.Moderation) {
		nm := newCfg.Moderation
		changed = append(changed, "moderation")
		attrs = append(attrs,
			logx.String("moderation.min_duration", strings.TrimSpace(nm.MinDuration)),
			logx.String("moderation.max_duration", strings.TrimSpace(nm.MaxDuration)),
			logx.String("moderation.command_timeout", strings.TrimSpace(nm.CommandTimeout)),
		)
	}

	// Nil storage means disabled.
	var oDriver, nDriver, oBusy, nBusy, oPath, nPath string
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if oDriver != nDriver || oBusy != nBusy || oPath != nPath {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	if !reflect.DeepEqual(oldCfg.Housekeeping, newCfg.Housekeeping) {
		nh := newCfg.Housekeeping
		changed = append(changed, "housekeeping")
		attrs = append(attrs,
			logx.String("housekeeping.audit_retention", strings.TrimSpace(nh.AuditRetention)),
			logx.String("housekeeping.prune_schedule", strings.TrimSpace(nh.PruneSchedule)),
			logx.String("housekeeping.timezone", strings.TrimSpace(nh.Timezone)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
