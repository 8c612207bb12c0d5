package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = validator.New()

// Validate checks struct tags and the fields tags cannot express:
// durations, bounds between durations, storage paths and the prune schedule.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	var errs []error
	check := func(path, raw string) time.Duration {
		d, err := ParseDuration(path, raw, 0)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	check("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	minD := check("moderation.min_duration", cfg.Moderation.MinDuration)
	maxD := check("moderation.max_duration", cfg.Moderation.MaxDuration)
	check("moderation.command_timeout", cfg.Moderation.CommandTimeout)
	if minD > 0 && maxD > 0 && minD > maxD {
		errs = append(errs, fmt.Errorf("moderation: min_duration %s exceeds max_duration %s", minD, maxD))
	}

	if st := cfg.Storage; st != nil {
		driver := strings.ToLower(strings.TrimSpace(st.Driver))
		if driver != "" && driver != "none" && strings.TrimSpace(st.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", driver))
		}
		check("storage.busy_timeout", st.BusyTimeout)
	}

	check("housekeeping.audit_retention", cfg.Housekeeping.AuditRetention)
	if spec := strings.TrimSpace(cfg.Housekeeping.PruneSchedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("housekeeping.prune_schedule: %w", err))
		}
	}
	if tz := strings.TrimSpace(cfg.Housekeeping.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("housekeeping.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}
