package adapter

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "psarbot/internal/runtime/supervisor"
	kit "psarbot/internal/transport"
	logx "psarbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIRatePerSec bounds outbound moderation calls (restrict/member lookups).
	APIRatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	limiter *rate.Limiter

	droppedUpdates uint64

	menuMu  sync.Mutex
	menu    []kit.BotCommand
	menuSet bool
}

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.Moderator          = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.APIRatePerSec
	if rps <= 0 {
		rps = 20
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Commands without a telebot endpoint fall through to OnText, so this
	// single handler sees every text message including "/block 5m".
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: convertMessage(m)})
		return nil
	})
}

func convertMessage(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:            m.ID,
		ChatID:        m.Chat.ID,
		ChatType:      kit.ChatType(m.Chat.Type),
		ThreadID:      m.ThreadID,
		FromID:        m.Sender.ID,
		FromUsername:  m.Sender.Username,
		FromFirstName: m.Sender.FirstName,
		Text:          m.Text,
	}
	if r := m.ReplyTo; r != nil && r.Sender != nil {
		out.Reply = &kit.Replied{
			MessageID: r.ID,
			FromID:    r.Sender.ID,
			Username:  r.Sender.Username,
			FirstName: r.Sender.FirstName,
			IsBot:     r.Sender.IsBot,
		}
	}
	return out
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Run("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})

	sup.Run("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// telebot's Start() can return on some failure modes; restart it while the context lives.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.bot.Me.Username))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithRestartOnCleanExit(),
	)
	return nil
}

func (a *Adapter) reportDropped(chanCap int) {
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()
	go a.bot.Stop()

	// Don't let a pending getUpdates long-poll hold up shutdown.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if i == 0 && opt.ReplyTo != 0 {
			sendOpt.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SelfID() int64 {
	if a.bot.Me == nil {
		return 0
	}
	return a.bot.Me.ID
}

// Username is the bot's @name without the "@".
func (a *Adapter) Username() string {
	if a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

// mutedRights blocks text, media, polls and link previews.
func mutedRights() tele.Rights {
	return tele.Rights{
		CanSendMessages: false,
		CanSendPolls:    false,
		CanSendOther:    false,
		CanAddPreviews:  false,
	}
}

func (a *Adapter) RestrictPosting(ctx context.Context, chatID, userID int64, until time.Time) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	member := &tele.ChatMember{
		User:            &tele.User{ID: userID},
		Rights:          mutedRights(),
		RestrictedUntil: until.Unix(),
	}
	if err := a.bot.Restrict(&tele.Chat{ID: chatID}, member); err != nil {
		return fmt.Errorf("restrict chat=%d user=%d: %w", chatID, userID, err)
	}
	return nil
}

func (a *Adapter) RestorePosting(ctx context.Context, chatID, userID int64) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	member := &tele.ChatMember{
		User:   &tele.User{ID: userID},
		Rights: tele.NoRestrictions(),
	}
	if err := a.bot.Restrict(&tele.Chat{ID: chatID}, member); err != nil {
		return fmt.Errorf("unrestrict chat=%d user=%d: %w", chatID, userID, err)
	}
	return nil
}

func (a *Adapter) MemberRole(ctx context.Context, chatID, userID int64) (kit.Role, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return "", fmt.Errorf("chat member chat=%d user=%d: %w", chatID, userID, err)
	}
	return kit.Role(m.Role), nil
}

// UpdateMenuCommands updates Telegram's /menu command list (setMyCommands).
// It only performs a network call when the command list changes.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	if a.menuSet && slices.Equal(cmds, a.menu) {
		return nil
	}
	tc := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		tc = append(tc, tele.Command{Text: c.Command, Description: cmp.Or(c.Description, c.Command)})
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := a.bot.SetCommands(tc); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	a.menu = slices.Clone(cmds)
	a.menuSet = true
	a.log.Info("menu commands updated", logx.Int("count", len(tc)))
	return nil
}
