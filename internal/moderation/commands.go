package moderation

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/samber/lo"

	"psarbot/internal/restrict"
	"psarbot/internal/router"
	"psarbot/internal/storage"
	kit "psarbot/internal/transport"
	logx "psarbot/pkg/logx"
	"psarbot/pkg/tgui"
)

const (
	defaultLogLimit = 10
	maxLogLimit     = 50
)

// Commands returns the chat commands served by s.
func (s *Service) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "start",
			Description: "как пользоваться",
			Handle:      s.handleStart,
		},
		{
			Route:       "block",
			Aliases:     []string{"mute"},
			Description: "надеть намордник (ответом на сообщение)",
			Usage:       "/block <время>   время: 30 | 5m | 2h | 1d",
			Handle:      s.timed(s.handleBlock),
		},
		{
			Route:       "unblock",
			Aliases:     []string{"unmute"},
			Description: "снять намордник (ответом на сообщение)",
			Usage:       "/unblock",
			Handle:      s.timed(s.handleUnblock),
		},
		{
			Route:       "muted",
			Aliases:     []string{"blocked"},
			Description: "кто сейчас в наморднике",
			Handle:      s.timed(s.handleMuted),
		},
		{
			Route:       "mutelog",
			Description: "журнал действий (для админов)",
			Usage:       "/mutelog [n]",
			Handle:      s.timed(s.handleMuteLog),
		},
		{
			Route:       "status",
			Description: "состояние бота",
			Access:      router.AccessOwnerOnly,
			Handle:      s.timed(s.handleStatus),
		},
	}
}

// timed bounds a handler by the CommandTimeout current at call time.
func (s *Service) timed(h router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		ctx, cancel := context.WithTimeout(ctx, s.Config().CommandTimeout)
		defer cancel()
		return h(ctx, req)
	}
}

func reply(ctx context.Context, req *router.Request, h tgui.H) error {
	return req.Reply(ctx, h.String())
}

const maxNameRunes = 32

// label is the plain name stored with a restriction and in the audit log.
func label(r *kit.Replied) string {
	if r.Username != "" {
		return "@" + r.Username
	}
	if name := tgui.Clip(r.FirstName, maxNameRunes); name != "" {
		return name
	}
	return strconv.FormatInt(r.FromID, 10)
}

// labelHTML links users without a @username so the reply still pings them.
func labelHTML(r *kit.Replied) tgui.H {
	if r.Username != "" {
		return tgui.Esc("@" + r.Username)
	}
	return tgui.Mention(label(r), r.FromID)
}

// requireAdmin replies and returns false when the caller may not moderate.
func (s *Service) requireAdmin(ctx context.Context, req *router.Request) (bool, error) {
	role, err := s.platform.MemberRole(ctx, req.Message.ChatID, req.FromID)
	if err != nil {
		_ = reply(ctx, req, textRoleLookupFailed)
		return false, fmt.Errorf("caller role: %w", err)
	}
	if !role.IsAdmin() {
		return false, reply(ctx, req, textAdminOnly)
	}
	return true, nil
}

func (s *Service) handleStart(ctx context.Context, req *router.Request) error {
	return reply(ctx, req, textUsage)
}

func (s *Service) handleBlock(ctx context.Context, req *router.Request) error {
	msg := req.Message
	if !msg.IsGroup() {
		return reply(ctx, req, textGroupOnly)
	}
	if ok, err := s.requireAdmin(ctx, req); !ok {
		return err
	}
	target := msg.Reply
	if target == nil {
		return reply(ctx, req, textReplyRequired)
	}
	if len(req.Args) == 0 {
		return reply(ctx, req, textDurationRequired)
	}
	switch target.FromID {
	case s.platform.SelfID():
		return reply(ctx, req, textTargetBot)
	case req.FromID:
		return reply(ctx, req, textTargetSelf)
	}

	seconds, err := restrict.Parse(req.Args[0])
	if err != nil {
		return reply(ctx, req, textBadFormat)
	}
	cfg := s.Config()
	if err := cfg.checkDuration(seconds); err != nil {
		req.Logger.Debug("duration rejected", logx.Err(err))
		return reply(ctx, req, textOutOfRange(cfg))
	}
	if cfg.ProtectAdmins {
		role, err := s.platform.MemberRole(ctx, msg.ChatID, target.FromID)
		switch {
		case err != nil:
			req.Logger.Warn("target role lookup failed", logx.Int64("target", target.FromID), logx.Err(err))
		case role.IsAdmin():
			return reply(ctx, req, textTargetAdmin)
		}
	}

	name := label(target)
	entry := storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: msg.FromUsername,
		ChatID:        msg.ChatID,
		Action:        storage.ActionMute,
		TargetID:      target.FromID,
		TargetName:    name,
		DurationSec:   seconds,
	}
	until := s.clock.Now().Add(time.Duration(seconds) * time.Second)
	if err := s.platform.RestrictPosting(ctx, msg.ChatID, target.FromID, until); err != nil {
		s.audit(ctx, entry, outcomeOf(err))
		_ = reply(ctx, req, textRestrictFailed)
		return fmt.Errorf("restrict %d in %d: %w", target.FromID, msg.ChatID, err)
	}

	res := s.reg.Apply(target.FromID, msg.ChatID, seconds, name)
	entry.RestrictionID = res.ID
	s.audit(ctx, entry, Outcome{})
	req.Logger.Info("muted",
		logx.String("id", res.ID),
		logx.Int64("target", target.FromID),
		logx.Int64("seconds", seconds),
	)
	return reply(ctx, req, textMuted(labelHTML(target), restrict.Format(seconds)))
}

func (s *Service) handleUnblock(ctx context.Context, req *router.Request) error {
	msg := req.Message
	if !msg.IsGroup() {
		return reply(ctx, req, textGroupOnly)
	}
	target := msg.Reply
	if target == nil {
		return reply(ctx, req, textReplyRequired)
	}
	if ok, err := s.requireAdmin(ctx, req); !ok {
		return err
	}
	if target.FromID == s.platform.SelfID() {
		return reply(ctx, req, textTargetBot)
	}

	name := label(target)
	res, tracked := s.reg.LiftIn(target.FromID, msg.ChatID)
	out := outcomeOf(s.platform.RestorePosting(ctx, msg.ChatID, target.FromID))

	entry := storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: msg.FromUsername,
		ChatID:        msg.ChatID,
		Action:        storage.ActionUnmute,
		TargetID:      target.FromID,
		TargetName:    name,
	}
	if tracked {
		entry.RestrictionID = res.ID
		entry.DurationSec = int64(res.Duration() / time.Second)
	}
	s.audit(ctx, entry, out)

	if !out.OK() {
		_ = reply(ctx, req, textFreeFailed(labelHTML(target)))
		return fmt.Errorf("restore %d in %d: %w", target.FromID, msg.ChatID, out.Err)
	}
	req.Logger.Info("unmuted", logx.Int64("target", target.FromID), logx.Bool("tracked", tracked))
	return reply(ctx, req, textFreed(labelHTML(target)))
}

func (s *Service) handleMuted(ctx context.Context, req *router.Request) error {
	msg := req.Message
	if !msg.IsGroup() {
		return reply(ctx, req, textGroupOnly)
	}
	now := s.clock.Now()
	active := slices.Collect(s.reg.List(msg.ChatID))
	if len(active) == 0 {
		return reply(ctx, req, textNobodyMuted)
	}
	rows := lo.Map(active, func(r restrict.Restriction, _ int) tgui.H {
		return textMutedRow(r.DisplayName, restrict.Format(r.RemainingSeconds(now)))
	})
	return reply(ctx, req, tgui.Lines(append([]tgui.H{tgui.Fmt("🐕 В намордниках (%d):", len(rows))}, rows...)...))
}

func (s *Service) handleMuteLog(ctx context.Context, req *router.Request) error {
	msg := req.Message
	if !msg.IsGroup() {
		return reply(ctx, req, textGroupOnly)
	}
	if ok, err := s.requireAdmin(ctx, req); !ok {
		return err
	}
	st, _ := s.storeSnapshot()
	if st == nil {
		return reply(ctx, req, textStorageDisabled)
	}

	limit := defaultLogLimit
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil && n > 0 {
			limit = min(n, maxLogLimit)
		}
	}
	entries, err := st.RecentAudit(ctx, msg.ChatID, limit)
	if err != nil {
		_ = reply(ctx, req, textStorageDisabled)
		return fmt.Errorf("recent audit: %w", err)
	}
	if len(entries) == 0 {
		return reply(ctx, req, textLogEmpty)
	}
	rows := lo.Map(entries, func(e storage.AuditEntry, _ int) tgui.H { return auditRow(e) })
	return reply(ctx, req, tgui.Lines(append([]tgui.H{tgui.B("📜 Журнал")}, rows...)...))
}

func auditRow(e storage.AuditEntry) tgui.H {
	target := e.TargetName
	if target == "" {
		target = strconv.FormatInt(e.TargetID, 10)
	}
	parts := []tgui.H{tgui.Code(e.At.Format("02.01 15:04")), tgui.Esc(actionIcon(e.Action)), tgui.Esc(target)}
	if e.Action == storage.ActionMute && e.DurationSec > 0 {
		parts = append(parts, tgui.Fmt("на %s", restrict.Format(e.DurationSec)))
	}
	switch {
	case e.ActorUsername != "":
		parts = append(parts, tgui.Fmt("(@%s)", e.ActorUsername))
	case e.ActorID != 0:
		parts = append(parts, tgui.Fmt("(%d)", e.ActorID))
	}
	if !e.OK {
		parts = append(parts, tgui.Fmt("⚠️ %s", tgui.Clip(e.Error, 60)))
	}
	return tgui.JoinH(" ", parts...)
}

func (s *Service) handleStatus(ctx context.Context, req *router.Request) error {
	st := s.reg.Stats()
	_, driver := s.storeSnapshot()
	if driver == "" {
		driver = "none"
	}
	cfg := s.Config()
	uptime := restrict.FormatDuration(s.clock.Now().Sub(s.started))
	return reply(ctx, req, tgui.Lines(
		tgui.B("🐕 Состояние"),
		tgui.Fmt("Аптайм: %s", uptime),
		tgui.Fmt("Активных намордников: %d", st.Active),
		tgui.Fmt("Надето: %d, заменено: %d, снято: %d, истекло: %d", st.Applied, st.Replaced, st.Lifted, st.AutoExpired),
		tgui.Fmt("Границы: %s … %s", restrict.FormatDuration(cfg.MinDuration), restrict.FormatDuration(cfg.MaxDuration)),
		tgui.Fmt("Журнал: %s", driver),
	))
}
