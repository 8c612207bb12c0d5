package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "psarbot/pkg/logx"
)

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// startWatchdog pings systemd at half of WatchdogSec while the app runs.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := max(interval/2, time.Second)
	a.log.Info("systemd watchdog enabled", logx.Duration("every", every))
	a.sup.Run("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					a.log.Warn("watchdog ping failed", logx.Err(err))
				}
			}
		}
	})
}
