package config

type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Moderation   ModerationConfig   `json:"moderation"`
	Storage      *StorageConfig     `json:"storage,omitempty"`
	Housekeeping HousekeepingConfig `json:"housekeeping"`
}

type TelegramConfig struct {
	Token        string  `json:"token" validate:"required"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id (as string) that receives forwarded warnings.
	GroupLog string `json:"group_log" validate:"omitempty,number"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// APIRatePerSec bounds restrict/member-lookup calls. Telegram allows ~30/s per bot.
	APIRatePerSec int `json:"api_rate_per_sec" validate:"gte=0,lte=30"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
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
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// ModerationConfig bounds what /block accepts.
//
// Durations are Go duration strings. Defaults:
//   - min_duration: "30s" (Telegram treats restrictions under 30s as forever)
//   - max_duration: "8784h" (366 days; longer is also treated as forever)
//   - command_timeout: "15s"
//   - protect_admins: true
type ModerationConfig struct {
	MinDuration    string `json:"min_duration"`
	MaxDuration    string `json:"max_duration"`
	CommandTimeout string `json:"command_timeout"`
	ProtectAdmins  *bool  `json:"protect_admins,omitempty"`
}

// StorageConfig controls the audit log backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/psarbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3 badger"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// HousekeepingConfig controls background maintenance.
type HousekeepingConfig struct {
	// AuditRetention is how long audit rows are kept; "0s" keeps them forever.
	AuditRetention string `json:"audit_retention"`
	// PruneSchedule is a robfig/cron spec, default "@daily".
	PruneSchedule string `json:"prune_schedule"`
	Timezone      string `json:"timezone,omitempty"`
}
