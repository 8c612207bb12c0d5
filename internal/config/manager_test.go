package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "psarbot/pkg/logx"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
  poll_timeout: 10s
logging:
  level: info
  console: true
moderation:
  min_duration: 30s
  max_duration: 8784h
storage:
  driver: sqlite
  path: ./data/psarbot.db
housekeeping:
  audit_retention: 720h
  prune_schedule: "@daily"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

// unsetEnv removes keys for the duration of the test. An empty but set
// prefixed variable would otherwise shadow its unprefixed alternative.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("PSARBOT_BOT_TOKEN", "")
	t.Setenv("BOT_TOKEN", "")
	req := require.New(t)

	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	req.NoError(err)
	req.Equal("123:abc", cfg.Telegram.Token)
	req.Equal([]int64{1, 2}, cfg.Telegram.OwnerUserIDs)
	req.Equal("sqlite", cfg.Storage.Driver)
	req.Same(cfg, m.Get())
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	_, err := NewManager(writeFile(t, "c.json", `{"telegram":{"token":"x"},"bogus":1}`)).Parse()
	require.Error(t, err)

	_, err = NewManager(writeFile(t, "c.json", `{"telegram":{"token":"x"}}{}`)).Parse()
	require.Error(t, err)
}

func TestParseYAMLStrictness(t *testing.T) {
	unsetEnv(t, "PSARBOT_BOT_TOKEN", "BOT_TOKEN")
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "non-string key", body: "telegram:\n  token: x\n  1: y\n", wantErr: "line 3"},
		{name: "two documents", body: "telegram:\n  token: x\n---\ntelegram:\n  token: y\n", wantErr: "single document"},
		{name: "unknown field", body: "telegram:\n  token: x\n  tokne: y\n", wantErr: "tokne"},
		{name: "anchors resolve", body: "x: &t \"abc\"\n", wantErr: "unknown field"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewManager(writeFile(t, "c.yml", tc.body)).Parse()
			require.ErrorContains(t, err, tc.wantErr)
		})
	}

	cfg, err := NewManager(writeFile(t, "c.yml", "telegram:\n  token: &tok \"1:a\"\nlogging:\n  level: *tok\n")).Parse()
	require.NoError(t, err)
	require.Equal(t, "1:a", cfg.Logging.Level)

	cfg, err = NewManager(writeFile(t, "empty.yaml", "")).Parse()
	require.NoError(t, err)
	require.Empty(t, cfg.Telegram.Token)
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: time.Minute},
		{raw: "0s", want: time.Minute},
		{raw: "90s", want: 90 * time.Second},
		{raw: " 2h30m ", want: 150 * time.Minute},
		{raw: "30d", want: 30 * 24 * time.Hour},
		{raw: "1.5d", wantErr: true},
		{raw: "-1h", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseDuration("x.y", tc.raw, time.Minute)
		if tc.wantErr {
			require.ErrorContains(t, err, "x.y", tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		require.Equal(t, tc.want, got, tc.raw)
	}
}

func TestEnvOverridesToken(t *testing.T) {
	req := require.New(t)
	p := writeFile(t, "c.json", `{"telegram":{"token":""}}`)

	unsetEnv(t, "PSARBOT_BOT_TOKEN")
	t.Setenv("BOT_TOKEN", "from-env")
	cfg, err := NewManager(p).Load()
	req.NoError(err)
	req.Equal("from-env", cfg.Telegram.Token)

	t.Setenv("PSARBOT_BOT_TOKEN", "prefixed")
	cfg, err = NewManager(p).Load()
	req.NoError(err)
	req.Equal("prefixed", cfg.Telegram.Token)
}

func TestEnvOverridesStorage(t *testing.T) {
	t.Setenv("PSARBOT_STORAGE_DRIVER", "file")
	t.Setenv("PSARBOT_STORAGE_PATH", "/tmp/audit.jsonl")
	cfg, err := NewManager(writeFile(t, "c.json", `{"telegram":{"token":"t"}}`)).Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Storage)
	require.Equal(t, "file", cfg.Storage.Driver)
	require.Equal(t, "/tmp/audit.jsonl", cfg.Storage.Path)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Telegram: TelegramConfig{Token: "t"}}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "minimal", mutate: func(*Config) {}, ok: true},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }},
		{name: "bad duration", mutate: func(c *Config) { c.Moderation.MinDuration = "5 minutes" }},
		{name: "negative duration", mutate: func(c *Config) { c.Moderation.CommandTimeout = "-1s" }},
		{name: "min above max", mutate: func(c *Config) {
			c.Moderation.MinDuration = "2h"
			c.Moderation.MaxDuration = "1h"
		}},
		{name: "storage without path", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }},
		{name: "storage none", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "none"} }, ok: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "mongo", Path: "x"} }},
		{name: "bad schedule", mutate: func(c *Config) { c.Housekeeping.PruneSchedule = "every day" }},
		{name: "bad timezone", mutate: func(c *Config) { c.Housekeeping.Timezone = "Mars/Olympus" }},
		{name: "group log not numeric", mutate: func(c *Config) { c.Telegram.GroupLog = "@chan" }},
		{name: "api rate too high", mutate: func(c *Config) { c.Telegram.APIRatePerSec = 100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("relies on filesystem notifications")
	}
	t.Setenv("PSARBOT_BOT_TOKEN", "")
	t.Setenv("BOT_TOKEN", "")
	req := require.New(t)

	p := writeFile(t, "config.json", `{"telegram":{"token":"t"},"logging":{"level":"info"}}`)
	m := NewManager(p)
	_, err := m.Load()
	req.NoError(err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	// Invalid level is rejected and never published.
	req.NoError(os.WriteFile(p, []byte(`{"telegram":{"token":"t"},"logging":{"level":"loud"}}`), 0o600))
	select {
	case cfg := <-sub:
		t.Fatalf("unexpected publish: %+v", cfg.Logging)
	case <-time.After(600 * time.Millisecond):
	}

	req.NoError(os.WriteFile(p, []byte(`{"telegram":{"token":"t"},"logging":{"level":"debug"}}`), 0o600))
	select {
	case cfg := <-sub:
		req.Equal("debug", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
	req.Equal("debug", m.Get().Logging.Level)

	cancel()
	<-done
}

func TestSummarizeConfigChange(t *testing.T) {
	req := require.New(t)
	oldCfg := &Config{Telegram: TelegramConfig{Token: "secret"}}
	newCfg := &Config{
		Telegram:   TelegramConfig{Token: "secret"},
		Moderation: ModerationConfig{MaxDuration: "24h"},
		Storage:    &StorageConfig{Driver: "file", Path: "a.jsonl"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	req.Equal([]string{"moderation", "storage"}, changed)
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	req.NotContains(buf.String(), "secret")
	req.Contains(buf.String(), `"storage.driver":"file"`)
}
