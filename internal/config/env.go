package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces overrides: PSARBOT_LOG_LEVEL, PSARBOT_STORAGE_DRIVER, ...
const envPrefix = "psarbot"

// envOverrides are applied on top of the file config on every parse.
// BOT_TOKEN is also read without the prefix.
type envOverrides struct {
	Token         string `envconfig:"BOT_TOKEN"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	StorageDriver string `envconfig:"STORAGE_DRIVER"`
	StoragePath   string `envconfig:"STORAGE_PATH"`
}

// LoadDotEnv loads variables from the given .env files (default "./.env").
// Missing files are not an error; existing variables are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var ov envOverrides
	if err := envconfig.Process(envPrefix, &ov); err != nil {
		return err
	}
	if v := strings.TrimSpace(ov.Token); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(ov.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if ov.StorageDriver != "" || ov.StoragePath != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		if ov.StorageDriver != "" {
			cfg.Storage.Driver = ov.StorageDriver
		}
		if ov.StoragePath != "" {
			cfg.Storage.Path = ov.StoragePath
		}
	}
	return nil
}
