package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "psarbot/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
	opts []kit.SendOptions
}

func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	c.to = append(c.to, to)
	if opt != nil {
		c.opts = append(c.opts, *opt)
	}
	return kit.MessageRef{}, nil
}

func (c *captureSender) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func TestZeroAndNopLoggersAreSafe(t *testing.T) {
	var l Logger
	require.True(t, l.IsZero())
	l.Info("nothing", String("k", "v"))
	Nop().With(Int("n", 1)).Error("nothing", Err(errors.New("boom")))
}

func TestWithDoesNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug").With(String("comp", "a"))
	first := base.With(String("x", "1"))
	second := base.With(String("y", "2"))

	second.Info("hello")
	out := buf.String()
	require.Contains(t, out, `"comp":"a"`)
	require.Contains(t, out, `"y":"2"`)
	require.NotContains(t, out, `"x":"1"`)

	buf.Reset()
	first.Debug("again")
	require.Contains(t, buf.String(), `"x":"1"`)
	require.NotContains(t, buf.String(), `"y":"2"`)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, "warn", parseLevel("WARNING", 0).String())
	require.Equal(t, "debug", parseLevel(" debug ", 0).String())
	require.Equal(t, "info", parseLevel("loud", parseLevel("info", 0)).String())
	require.Equal(t, "error", parseLevel("", parseLevel("error", 0)).String())
}

func TestServiceRedactsSecretsInFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)
	svc.Redact("123:SECRET", "  ")

	log.Warn("request failed", String("url", "https://api.telegram.org/bot123:SECRET/getUpdates"))
	log.Debug("filtered by level")
	require.NoError(t, svc.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	require.Contains(t, out, "/bot***/getUpdates")
	require.NotContains(t, out, "SECRET")
	require.NotContains(t, out, "filtered by level")
}

func TestServiceApplySwapsLevelForExistingLoggers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	cfg := Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}}
	svc, log := New(cfg, nil)
	child := log.With(String("comp", "x"))

	child.Info("dropped")
	cfg.Level = "info"
	svc.Apply(cfg)
	child.Info("kept")
	require.NoError(t, svc.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "dropped")
	require.Contains(t, string(data), "kept")
}

func TestTelegramSinkForwardsWarnings(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     -100777,
			ThreadID:   5,
			MinLevel:   "warn",
			RatePerSec: 10,
		},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })
	svc.Redact("s3cr3t")

	log.Info("not forwarded")
	log.Warn("restore <failed>", String("token", "s3cr3t"), Int64("chat", -1))

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := sender.messages()[0]
	require.True(t, strings.HasPrefix(msg, "⚠️ <b>WARN</b> restore &lt;failed&gt;"), msg)
	require.Contains(t, msg, "<code>token</code> ***")
	require.Less(t, strings.Index(msg, "<code>chat</code>"), strings.Index(msg, "<code>token</code>"))

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Equal(t, kit.ChatTarget{ChatID: -100777, ThreadID: 5}, sender.to[0])
	require.Equal(t, "HTML", sender.opts[0].ParseMode)
}

func TestFormatTelegram(t *testing.T) {
	line := `{"level":"error","time":"x","caller":"a.go:1","message":"сбой","b":"2","a":1}`
	got := formatTelegram([]byte(line))
	require.Equal(t, "🛑 <b>ERROR</b> сбой\n<code>a</code> 1\n<code>b</code> 2\n<i>a.go:1</i>", got)

	require.Equal(t, "not &lt;json&gt;", formatTelegram([]byte("not <json>\n")))

	long := `{"level":"warn","message":"m","v":"` + strings.Repeat("я", 1000) + `"}`
	got = formatTelegram([]byte(long))
	v := strings.TrimPrefix(strings.Split(got, "\n")[1], "<code>v</code> ")
	require.Equal(t, tgMaxValRunes, len([]rune(v)))
	require.True(t, strings.HasSuffix(v, "…"))
}

func TestClipHTMLKeepsWholeLines(t *testing.T) {
	s := "<b>head</b>\n<code>k</code> " + strings.Repeat("x", 20) + "\ntail"
	got := clipHTML(s, 20)
	require.Equal(t, "<b>head</b>\n…", got)
	require.Equal(t, "short", clipHTML("short", 20))
}
