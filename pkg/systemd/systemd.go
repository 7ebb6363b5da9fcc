// Package systemd wraps sd_notify so the daemon can report readiness and
// feed the service watchdog when run under systemd (Type=notify). Every
// call is a no-op outside systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the service finished starting up.
// Returns false when not running under systemd supervision.
func NotifyReady() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd a shutdown has begun.
func NotifyStopping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// WatchdogInterval returns how often Heartbeat should ping, or 0 when no
// watchdog is configured. Pings run at half the WatchdogSec deadline.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// Heartbeat pings the systemd watchdog until ctx is canceled. It returns
// immediately when no watchdog is configured.
func Heartbeat(ctx context.Context) {
	interval := WatchdogInterval()
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
