package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"psarbot/internal/restrict"
	"psarbot/internal/router"
	"psarbot/internal/storage"
	kit "psarbot/internal/transport"
	logx "psarbot/pkg/logx"
)

const (
	chatID  = int64(-100500)
	botID   = int64(999)
	adminID = int64(1)
	userID  = int64(42)
)

type platformCall struct {
	op    string
	chat  int64
	user  int64
	until time.Time
}

type fakePlatform struct {
	mu          sync.Mutex
	roles       map[int64]kit.Role
	restrictErr error
	restoreErr  error
	calls       []platformCall

	// onRestore runs before RestorePosting records its call, without f.mu.
	onRestore func()
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{roles: map[int64]kit.Role{adminID: kit.RoleAdministrator}}
}

func (f *fakePlatform) RestrictPosting(_ context.Context, chat, user int64, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, platformCall{op: "restrict", chat: chat, user: user, until: until})
	return f.restrictErr
}

func (f *fakePlatform) RestorePosting(_ context.Context, chat, user int64) error {
	if f.onRestore != nil {
		f.onRestore()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, platformCall{op: "restore", chat: chat, user: user})
	return f.restoreErr
}

func (f *fakePlatform) MemberRole(_ context.Context, _, user int64) (kit.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.roles[user]; ok {
		return r, nil
	}
	return kit.RoleMember, nil
}

func (f *fakePlatform) SelfID() int64 { return botID }

func (f *fakePlatform) ops() []platformCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platformCall(nil), f.calls...)
}

type fakeSender struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

type fixture struct {
	svc      *Service
	reg      *restrict.Registry
	clock    *restrict.ManualClock
	platform *fakePlatform
	sender   *fakeSender
	store    storage.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := restrict.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	reg := restrict.New(restrict.WithClock(clock))
	t.Cleanup(reg.Close)

	st, err := storage.Open(storage.Config{Driver: "badger", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p := newFakePlatform()
	svc := New(reg, p, WithClock(clock), WithStore(st, "badger"))
	return &fixture{svc: svc, reg: reg, clock: clock, platform: p, sender: &fakeSender{}, store: st}
}

// run invokes a command the way the router would.
func (f *fixture) run(t *testing.T, route string, from int64, args []string, reply *kit.Replied) error {
	t.Helper()
	return f.runIn(t, route, kit.ChatSupergroup, from, args, reply)
}

func (f *fixture) runIn(t *testing.T, route string, chatType kit.ChatType, from int64, args []string, reply *kit.Replied) error {
	t.Helper()
	var h router.HandlerFunc
	for _, c := range f.svc.Commands() {
		if c.Route == route {
			h = c.Handle
		}
	}
	require.NotNil(t, h, "no command %q", route)
	msg := &kit.Message{ID: 10, ChatID: chatID, ChatType: chatType, FromID: from, FromUsername: "boss", Reply: reply}
	return h(context.Background(), &router.Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: chatID},
		FromID:  from,
		Command: route,
		Args:    args,
		Logger:  logx.Nop(),
		Sender:  f.sender,
	})
}

func (f *fixture) audit(t *testing.T) []storage.AuditEntry {
	t.Helper()
	entries, err := f.store.RecentAudit(context.Background(), chatID, 50)
	require.NoError(t, err)
	return entries
}

var alice = &kit.Replied{MessageID: 9, FromID: userID, Username: "alice", FirstName: "Alice"}

func TestBlockRestrictsThenRecords(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.NoError(f.run(t, "block", adminID, []string{"5m"}, alice))

	ops := f.platform.ops()
	req.Len(ops, 1)
	req.Equal("restrict", ops[0].op)
	req.Equal(userID, ops[0].user)
	req.Equal(f.clock.Now().Add(5*time.Minute), ops[0].until)

	res, ok := f.reg.Get(userID)
	req.True(ok)
	req.Equal(chatID, res.GroupID)
	req.Equal("@alice", res.DisplayName)

	req.Contains(f.sender.last(), "@alice в наморднике")
	req.Contains(f.sender.last(), "5m")

	entries := f.audit(t)
	req.Len(entries, 1)
	req.Equal(storage.ActionMute, entries[0].Action)
	req.Equal(res.ID, entries[0].RestrictionID)
	req.Equal(int64(300), entries[0].DurationSec)
	req.True(entries[0].OK)
}

func TestBlockRejections(t *testing.T) {
	cases := []struct {
		name  string
		from  int64
		chat  kit.ChatType
		args  []string
		reply *kit.Replied
		want  string
	}{
		{"private chat", adminID, kit.ChatPrivate, []string{"5m"}, alice, "Только для групп"},
		{"not admin", userID + 1, kit.ChatSupergroup, []string{"5m"}, alice, "Только администратор"},
		{"no reply", adminID, kit.ChatSupergroup, []string{"5m"}, nil, "ответом на сообщение"},
		{"no duration", adminID, kit.ChatSupergroup, nil, alice, "Укажи время"},
		{"bad format", adminID, kit.ChatSupergroup, []string{"5x"}, alice, "Неверный формат"},
		{"fractional", adminID, kit.ChatSupergroup, []string{"1.5h"}, alice, "Неверный формат"},
		{"too short", adminID, kit.ChatSupergroup, []string{"10"}, alice, "Время должно быть от 30s"},
		{"negative", adminID, kit.ChatSupergroup, []string{"-5m"}, alice, "Время должно быть"},
		{"too long", adminID, kit.ChatSupergroup, []string{"400d"}, alice, "Время должно быть"},
		{"the bot", adminID, kit.ChatSupergroup, []string{"5m"}, &kit.Replied{FromID: botID, IsBot: true}, "вне юрисдикции"},
		{"self", adminID, kit.ChatSupergroup, []string{"5m"}, &kit.Replied{FromID: adminID}, "Самоистязание"},
		{"admin target", adminID, kit.ChatSupergroup, []string{"5m"}, &kit.Replied{FromID: 7, FirstName: "Mod"}, "администратора"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t)
			f.platform.roles[7] = kit.RoleCreator

			req.NoError(f.runIn(t, "block", tc.chat, tc.from, tc.args, tc.reply))
			req.Contains(f.sender.last(), tc.want)
			req.Empty(f.platform.ops(), "platform must not be touched")
			req.Zero(f.reg.Len())
		})
	}
}

func TestBlockAdminTargetAllowedWhenUnprotected(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.ProtectAdmins = false
	f.svc.SetConfig(cfg)
	f.platform.roles[7] = kit.RoleAdministrator

	require.NoError(t, f.run(t, "block", adminID, []string{"1h"}, &kit.Replied{FromID: 7, FirstName: "Mod"}))
	res, ok := f.reg.Get(7)
	require.True(t, ok)
	require.Equal(t, "Mod", res.DisplayName)
	require.Contains(t, f.sender.last(), `<a href="tg://user?id=7">Mod</a> в наморднике`)
}

func TestBlockRemoteFailureLeavesNoLocalState(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.platform.restrictErr = errors.New("not enough rights")

	err := f.run(t, "block", adminID, []string{"5m"}, alice)
	req.ErrorContains(err, "not enough rights")
	req.Zero(f.reg.Len())
	req.Contains(f.sender.last(), "Telegram не дал")

	entries := f.audit(t)
	req.Len(entries, 1)
	req.False(entries[0].OK)
	req.Equal("not enough rights", entries[0].Error)
}

func TestReblockReplaces(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.NoError(f.run(t, "block", adminID, []string{"1h"}, alice))
	first, _ := f.reg.Get(userID)
	f.clock.Advance(10 * time.Minute)
	req.NoError(f.run(t, "block", adminID, []string{"5m"}, alice))
	second, _ := f.reg.Get(userID)

	req.NotEqual(first.ID, second.ID)
	req.Equal(f.clock.Now().Add(5*time.Minute), second.ExpiresAt)
	req.Equal(1, f.reg.Len())
}

func TestUnblockClearsLocalEvenWhenRemoteFails(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.run(t, "block", adminID, []string{"1h"}, alice))
	f.clock.Advance(time.Second)
	f.platform.restoreErr = errors.New("timeout")

	err := f.run(t, "unblock", adminID, nil, alice)
	req.Error(err)
	req.Zero(f.reg.Len())
	req.Contains(f.sender.last(), "снят с учёта")

	// The stale timer must not fire a second restore.
	f.clock.Advance(2 * time.Hour)
	restores := 0
	for _, c := range f.platform.ops() {
		if c.op == "restore" {
			restores++
		}
	}
	req.Equal(1, restores)

	entries := f.audit(t)
	req.Equal(storage.ActionUnmute, entries[0].Action)
	req.False(entries[0].OK)
	req.NotEmpty(entries[0].RestrictionID)
}

func TestUnblockUntrackedStillRestores(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.NoError(f.run(t, "unblock", adminID, nil, alice))
	ops := f.platform.ops()
	req.Len(ops, 1)
	req.Equal("restore", ops[0].op)
	req.Contains(f.sender.last(), "@alice свободен")
	req.Empty(f.audit(t)[0].RestrictionID)
}

func TestUnblockOtherGroupKeepsEntry(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.reg.Apply(userID, -777, 3600, "@alice")

	req.NoError(f.run(t, "unblock", adminID, nil, alice))
	res, ok := f.reg.Get(userID)
	req.True(ok)
	req.Equal(int64(-777), res.GroupID)
}

func TestAutoExpiryRestoresAndAudits(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.run(t, "block", adminID, []string{"45"}, alice))

	f.clock.Advance(44 * time.Second)
	req.Equal(1, f.reg.Len())
	f.clock.Advance(time.Second)
	req.Zero(f.reg.Len())

	ops := f.platform.ops()
	req.Len(ops, 2)
	req.Equal("restore", ops[1].op)
	req.Equal(chatID, ops[1].chat)

	entries := f.audit(t)
	req.Equal(storage.ActionAutoUnmute, entries[0].Action)
	req.Equal(int64(45), entries[0].DurationSec)
	req.True(entries[0].OK)
}

func TestAutoExpiryRemoteFailureKeepsBookkeeping(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.run(t, "block", adminID, []string{"45"}, alice))
	f.platform.restoreErr = errors.New("boom")

	f.clock.Advance(45 * time.Second)
	req.Zero(f.reg.Len())
	_, ok := f.reg.Lift(userID)
	req.False(ok, "entry stays removed after a failed restore")

	entries := f.audit(t)
	req.Equal(storage.ActionAutoUnmute, entries[0].Action)
	req.False(entries[0].OK)
	req.Equal("boom", entries[0].Error)
}

func TestAutoExpiryReassertsNewerBlock(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.run(t, "block", adminID, []string{"45"}, alice))

	// A second /block lands while the restore for the first one is in flight.
	var newer restrict.Restriction
	f.platform.onRestore = func() {
		f.platform.onRestore = nil
		newer = f.reg.Apply(userID, chatID, 600, "@alice")
	}
	f.clock.Advance(45 * time.Second)

	cur, ok := f.reg.Get(userID)
	req.True(ok)
	req.Equal(newer.ID, cur.ID)

	ops := f.platform.ops()
	req.Len(ops, 3)
	req.Equal([]string{"restrict", "restore", "restrict"}, []string{ops[0].op, ops[1].op, ops[2].op})
	req.Equal(newer.ExpiresAt, ops[2].until)
	req.Equal(chatID, ops[2].chat)
}

func TestAutoExpiryLeavesOtherGroupAlone(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.run(t, "block", adminID, []string{"45"}, alice))

	f.platform.onRestore = func() {
		f.platform.onRestore = nil
		f.reg.Apply(userID, -777, 600, "@alice")
	}
	f.clock.Advance(45 * time.Second)

	ops := f.platform.ops()
	req.Len(ops, 2)
	req.Equal("restore", ops[1].op)
}

func TestMutedListsActiveSoonestFirst(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.NoError(f.run(t, "muted", userID, nil, nil))
	req.Contains(f.sender.last(), "никого нет")

	f.reg.Apply(5, chatID, 3600, "@later")
	f.reg.Apply(6, chatID, 60, "<b>soon</b>")
	f.reg.Apply(7, -777, 60, "@elsewhere")

	req.NoError(f.run(t, "muted", userID, nil, nil))
	out := f.sender.last()
	req.Contains(out, "(2)")
	req.Contains(out, "&lt;b&gt;soon&lt;/b&gt;: осталось 1m")
	req.Less(strings.Index(out, "soon"), strings.Index(out, "@later"))
	req.NotContains(out, "elsewhere")
}

func TestMuteLog(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	req.NoError(f.run(t, "block", adminID, []string{"2h"}, alice))
	f.clock.Advance(time.Minute)
	req.NoError(f.run(t, "unblock", adminID, nil, alice))

	req.NoError(f.run(t, "mutelog", userID, nil, nil))
	req.Contains(f.sender.last(), "Только администратор")

	req.NoError(f.run(t, "mutelog", adminID, []string{"1"}, nil))
	out := f.sender.last()
	req.Contains(out, "🔓 @alice")
	req.NotContains(out, "🤐")

	req.NoError(f.run(t, "mutelog", adminID, nil, nil))
	out = f.sender.last()
	req.Contains(out, "🤐 @alice на 2h (@boss)")
	req.Less(strings.Index(out, "🔓"), strings.Index(out, "🤐"))
}

func TestMuteLogWithoutStore(t *testing.T) {
	f := newFixture(t)
	f.svc.SetStore(nil, "")
	require.NoError(t, f.run(t, "mutelog", adminID, nil, nil))
	require.Contains(t, f.sender.last(), "Журнал отключён")
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, "block", adminID, []string{"5m"}, alice))
	f.clock.Advance(90 * time.Second)

	require.NoError(t, f.run(t, "status", adminID, nil, nil))
	out := f.sender.last()
	require.Contains(t, out, "Аптайм: 1m 30s")
	require.Contains(t, out, "Активных намордников: 1")
	require.Contains(t, out, "Журнал: badger")
}

func TestConfigDefaultsAndBounds(t *testing.T) {
	cfg := Config{MinDuration: time.Minute}.withDefaults()
	require.Equal(t, DefaultMaxDuration, cfg.MaxDuration)
	require.Equal(t, DefaultCommandTimeout, cfg.CommandTimeout)

	require.NoError(t, cfg.checkDuration(60))
	require.Error(t, cfg.checkDuration(59))
	require.Error(t, cfg.checkDuration(0))
	require.NoError(t, cfg.checkDuration(int64(DefaultMaxDuration/time.Second)))
	require.Error(t, cfg.checkDuration(int64(DefaultMaxDuration/time.Second)+1))
}
