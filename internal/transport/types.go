package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

type Message struct {
	ID            int
	ChatID        int64
	ChatType      ChatType
	ThreadID      int // telegram forum topic thread id (0 if none)
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string

	// Reply is set when the message answers another message.
	Reply *Replied
}

func (m *Message) IsGroup() bool {
	return m != nil && (m.ChatType == ChatGroup || m.ChatType == ChatSupergroup)
}

// Replied describes the author of the message being replied to.
type Replied struct {
	MessageID int
	FromID    int64
	Username  string
	FirstName string
	IsBot     bool
}

// DisplayName prefers the @username and falls back to the first name.
func (r *Replied) DisplayName() string {
	if r == nil {
		return ""
	}
	if r.Username != "" {
		return r.Username
	}
	return r.FirstName
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int // message id to reply to (0 = none)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Role is a chat member's status as reported by the platform.
type Role string

const (
	RoleCreator       Role = "creator"
	RoleAdministrator Role = "administrator"
	RoleMember        Role = "member"
	RoleRestricted    Role = "restricted"
	RoleLeft          Role = "left"
	RoleKicked        Role = "kicked"
)

func (r Role) IsAdmin() bool { return r == RoleCreator || r == RoleAdministrator }

// Moderator is implemented by adapters that can change member permissions.
//
// Both calls are idempotent on the platform side and safe to retry.
type Moderator interface {
	// RestrictPosting blocks sending messages, media and previews until the given time.
	RestrictPosting(ctx context.Context, chatID, userID int64, until time.Time) error
	// RestorePosting gives back the default member permissions.
	RestorePosting(ctx context.Context, chatID, userID int64) error
	MemberRole(ctx context.Context, chatID, userID int64) (Role, error)
	// SelfID is the bot's own user id.
	SelfID() int64
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
