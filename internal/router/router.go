// Package router turns chat messages that start with "/" into handler calls
// on a bounded worker pool.
package router

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"psarbot/internal/runtime/supervisor"
	kit "psarbot/internal/transport"
	logx "psarbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

const slowCommand = 750 * time.Millisecond

type Command struct {
	Route       string   // command word without the slash, e.g. "block"
	Aliases     []string // extra words for the same command, e.g. "mute"
	Description string
	Usage       string
	Access      Access
	Handle      HandlerFunc
}

// Sender is the outbound half of the transport adapter.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string // canonical route, also when called by alias
	Args    []string
	ReqID   string

	Logger logx.Logger
	Owners []int64
	Sender Sender
}

func (r *Request) IsOwner() bool { return lo.Contains(r.Owners, r.FromID) }

// Reply answers the command message in HTML parse mode.
func (r *Request) Reply(ctx context.Context, text string) error {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if r.Message != nil {
		opt.ReplyTo = r.Message.ID
	}
	_, err := r.Sender.SendText(ctx, r.Chat, text, opt)
	return err
}

type Option func(*Manager)

// WithWorkers sets the worker pool size (default: NumCPU, at least 2).
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queue = n
		}
	}
}

type Manager struct {
	mu      sync.RWMutex
	table   *table
	owners  []int64
	botName string

	log     logx.Logger
	sender  Sender
	workers int
	queue   int
}

func NewManager(log logx.Logger, sender Sender, owners []int64, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		table:   &table{byWord: map[string]*Command{}},
		owners:  append([]int64(nil), owners...),
		log:     log,
		sender:  sender,
		workers: max(runtime.NumCPU(), 2),
		queue:   256,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetBotUsername makes the manager skip "/cmd@other" lines meant for other bots.
func (m *Manager) SetBotUsername(name string) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
	m.mu.Lock()
	m.botName = name
	m.mu.Unlock()
}

// SetOwners replaces the ids allowed to run AccessOwnerOnly commands.
func (m *Manager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

// SetRegistry replaces the command table. A "help" command is added unless
// cmds already has one. On error the previous table stays.
func (m *Manager) SetRegistry(cmds []Command) error {
	cmds = append([]Command(nil), cmds...)
	if !lo.ContainsBy(cmds, func(c Command) bool { return c.Route == "help" }) {
		cmds = append(cmds, Command{
			Route:       "help",
			Description: "список команд",
			Usage:       "/help [команда]",
			Handle: func(ctx context.Context, req *Request) error {
				word := ""
				if len(req.Args) > 0 {
					word = req.Args[0]
				}
				return req.Reply(ctx, m.HelpText(word))
			},
		})
	}
	t, err := buildTable(cmds)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.table = t
	m.mu.Unlock()
	return nil
}

func (m *Manager) tableSnapshot() *table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table
}

// Menu returns the public commands for the chat command menu.
func (m *Manager) Menu() []kit.BotCommand {
	return m.tableSnapshot().menu()
}

// UpdateMenu pushes Menu() to the sender if it supports command menus.
func (m *Manager) UpdateMenu(ctx context.Context) error {
	up, ok := m.sender.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, m.Menu())
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on the worker pool; a full queue is answered with "busy".
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	jobs := make(chan func(), m.queue)
	sup := supervisor.New(ctx, supervisor.WithLogger(m.log))
	for i := range m.workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					job()
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("queue", m.queue))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sup.Stop(wctx); err != nil {
			m.log.Warn("command workers did not stop", logx.Err(err))
		}
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			if job := m.route(ctx, up.Message); job != nil {
				select {
				case jobs <- job:
				default:
					m.notify(ctx, up.Message, textBusy)
				}
			}
		}
	}
}

// route resolves msg to a ready-to-run job, or nil when there is nothing to run.
func (m *Manager) route(ctx context.Context, msg *kit.Message) func() {
	inv, ok := parseInvocation(msg.Text)
	if !ok {
		return nil
	}
	m.mu.RLock()
	t, botName, owners := m.table, m.botName, append([]int64(nil), m.owners...)
	m.mu.RUnlock()

	if inv.bot != "" && botName != "" && inv.bot != botName {
		return nil
	}
	cmd, ok := t.lookup(inv.word)
	if !ok {
		// Groups share commands between bots; only answer when addressed.
		if inv.bot != "" || !msg.IsGroup() {
			m.notify(ctx, msg, textUnknownCommand)
		}
		return nil
	}
	if cmd.Access == AccessOwnerOnly && !lo.Contains(owners, msg.FromID) {
		m.notify(ctx, msg, textOwnerOnly)
		return nil
	}

	rid := newReqID()
	req := &Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Route,
		Args:    inv.args,
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
		Owners: owners,
		Sender: m.sender,
	}
	h := Chain(cmd.Handle, LogRequests(slowCommand), Recover())
	return func() { _ = h(ctx, req) }
}

func (m *Manager) notify(ctx context.Context, msg *kit.Message, text string) {
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := m.sender.SendText(ctx, to, text, &kit.SendOptions{ReplyTo: msg.ID}); err != nil {
		m.log.Debug("notify failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}
