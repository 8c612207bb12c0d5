package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	kit "psarbot/internal/transport"
	"psarbot/pkg/tgui"
)

const (
	tgMaxRunes    = 3500
	tgMaxValRunes = 300
	tgSendTimeout = 10 * time.Second
)

func (s *Service) startTelegramWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	s.tgCancel = cancel
	s.tgWG.Add(1)
	go func() {
		defer s.tgWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-s.tgText:
				if s.sender == nil {
					continue
				}
				s.mu.Lock()
				to := kit.ChatTarget{ChatID: s.cfg.Telegram.ChatID, ThreadID: s.cfg.Telegram.ThreadID}
				s.mu.Unlock()
				sctx, scancel := context.WithTimeout(ctx, tgSendTimeout)
				_, _ = s.sender.SendText(sctx, to, msg, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
				scancel()
			}
		}
	}()
}

type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	lim := s.limiter
	minLevel := s.minLevel
	s.mu.Unlock()

	if level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	msg := formatTelegram(p)
	if msg == "" {
		return len(p), nil
	}
	// Never block the caller; drop when the queue is full.
	select {
	case s.tgText <- msg:
	default:
	}
	return len(p), nil
}

var levelIcons = map[string]string{
	"warn":  "⚠️",
	"error": "🛑",
	"fatal": "💀",
	"panic": "💀",
}

// formatTelegram renders one JSON log line as HTML: a bold level and message,
// then the fields sorted by key. Lengths are counted in runes so Cyrillic
// text is never cut mid-character.
func formatTelegram(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return html.EscapeString(tgui.Clip(raw, tgMaxRunes))
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if icon := levelIcons[lvl]; icon != "" {
		b.WriteString(icon + " ")
	}
	if lvl != "" {
		b.WriteString("<b>" + html.EscapeString(strings.ToUpper(lvl)) + "</b> ")
	}
	b.WriteString(html.EscapeString(msg))

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := tgui.Clip(fmt.Sprint(m[k]), tgMaxValRunes)
		b.WriteString("\n<code>" + html.EscapeString(k) + "</code> " + html.EscapeString(v))
	}
	if c, _ := m[zerolog.CallerFieldName].(string); c != "" {
		b.WriteString("\n<i>" + html.EscapeString(c) + "</i>")
	}
	return clipHTML(b.String(), tgMaxRunes)
}

// clipHTML cuts at a line boundary so no tag is left open.
func clipHTML(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	lines := strings.Split(s, "\n")
	var b strings.Builder
	used := 0
	for i, ln := range lines {
		w := len([]rune(ln)) + 1
		if used+w > n-2 {
			if i == 0 {
				return html.EscapeString(tgui.Clip(ln, n))
			}
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(ln)
		used += w
	}
	b.WriteString("\n…")
	return b.String()
}
