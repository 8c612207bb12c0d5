package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "psarbot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./psarbot.log"

// Sender is the subset of the transport adapter the Telegram sink needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service owns the outputs behind every Logger it hands out.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root   atomic.Value // zerolog.Logger
	redact atomic.Pointer[strings.Replacer]

	file *os.File

	sender   Sender
	tgText   chan string
	tgOnce   sync.Once
	tgCancel context.CancelFunc
	tgWG     sync.WaitGroup

	// guarded by mu
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

// New creates the logging service, applies cfg and returns the root Logger.
func New(cfg Config, sender Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{
		sender: sender,
		tgText: make(chan string, 128),
	}
	s.root.Store(zerolog.New(newConsoleWriter(os.Stdout)).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

// Redact replaces every occurrence of the given secrets with "***" in all
// outputs. Blank values are ignored; each call replaces the previous set.
func (s *Service) Redact(secrets ...string) {
	pairs := make([]string, 0, 2*len(secrets))
	for _, v := range secrets {
		if v = strings.TrimSpace(v); v != "" {
			pairs = append(pairs, v, "***")
		}
	}
	if len(pairs) == 0 {
		s.redact.Store(nil)
		return
	}
	s.redact.Store(strings.NewReplacer(pairs...))
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	cancel := s.tgCancel
	s.tgCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.tgWG.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps outputs and levels at runtime. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.minLevel = parseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.Telegram.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: failed opening log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled {
		if cfg.Telegram.ChatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: telegram logging enabled but telegram.group_log is not set")
		} else {
			s.tgOnce.Do(s.startTelegramWorker)
			writers = append(writers, &telegramWriter{svc: s})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}

	out := &redactWriter{next: zerolog.MultiLevelWriter(writers...), svc: s}
	zl := zerolog.New(out).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(zl)
}

// redactWriter scrubs secrets from each encoded event before fan-out.
type redactWriter struct {
	next zerolog.LevelWriter
	svc  *Service
}

func (w *redactWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w *redactWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	r := w.svc.redact.Load()
	if r == nil {
		return w.next.WriteLevel(level, p)
	}
	if _, err := w.next.WriteLevel(level, []byte(r.Replace(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
