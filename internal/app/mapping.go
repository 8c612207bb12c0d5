package app

import (
	"strconv"
	"strings"
	"time"

	"psarbot/internal/config"
	"psarbot/internal/housekeeping"
	"psarbot/internal/moderation"
	"psarbot/internal/storage"
	telegram "psarbot/internal/transport/telegram/adapter"
	logx "psarbot/pkg/logx"
)

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:         cfg.Telegram.Token,
		PollTimeout:   poll,
		APIRatePerSec: cfg.Telegram.APIRatePerSec,
	}, nil
}

// mapLoggingConfig resolves the Telegram sink target from telegram.group_log.
// The sink stays off while no target is configured.
func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	var chatID int64
	if s := strings.TrimSpace(cfg.Telegram.GroupLog); s != "" {
		chatID, _ = strconv.ParseInt(s, 10, 64)
	}
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled && chatID != 0,
			ChatID:     chatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapModerationConfig(cfg *config.Config) (moderation.Config, error) {
	mc := cfg.Moderation
	minD, err := config.ParseDuration("moderation.min_duration", mc.MinDuration, moderation.DefaultMinDuration)
	if err != nil {
		return moderation.Config{}, err
	}
	maxD, err := config.ParseDuration("moderation.max_duration", mc.MaxDuration, moderation.DefaultMaxDuration)
	if err != nil {
		return moderation.Config{}, err
	}
	timeout, err := config.ParseDuration("moderation.command_timeout", mc.CommandTimeout, moderation.DefaultCommandTimeout)
	if err != nil {
		return moderation.Config{}, err
	}
	protect := true
	if mc.ProtectAdmins != nil {
		protect = *mc.ProtectAdmins
	}
	return moderation.Config{
		MinDuration:    minD,
		MaxDuration:    maxD,
		CommandTimeout: timeout,
		ProtectAdmins:  protect,
	}, nil
}

// mapStorageConfig reports enabled=false for a missing section or driver "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, true, nil
}

func mapHousekeepingConfig(cfg *config.Config) (housekeeping.Config, error) {
	hc := cfg.Housekeeping
	retention, err := config.ParseDuration("housekeeping.audit_retention", hc.AuditRetention, 0)
	if err != nil {
		return housekeeping.Config{}, err
	}
	schedule := strings.TrimSpace(hc.PruneSchedule)
	if schedule == "" {
		schedule = housekeeping.DefaultSchedule
	}
	return housekeeping.Config{
		Retention: retention,
		Schedule:  schedule,
		Timezone:  strings.TrimSpace(hc.Timezone),
	}, nil
}
