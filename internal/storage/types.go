package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": audit log as <path minus ext>.audit.jsonl
//   - "sqlite" / "sqlite3": SQLite database file
//   - "badger": badger directory
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Action string

const (
	ActionMute       Action = "mute"
	ActionUnmute     Action = "unmute"
	ActionAutoUnmute Action = "auto_unmute"
)

// AuditEntry records one moderation action and its outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Action        Action    `json:"action"`
	TargetID      int64     `json:"target_id"`
	TargetName    string    `json:"target_name,omitempty"`
	RestrictionID string    `json:"restriction_id,omitempty"`
	DurationSec   int64     `json:"duration_sec,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
}
