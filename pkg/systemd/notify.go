// Package systemd reports service state to systemd when running under a
// Type=notify unit. Outside systemd every call is a no-op.
package systemd

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify states. The zero value is usable.
type Notifier struct {
	// UnsetEnv clears NOTIFY_SOCKET after the first call so children do not inherit it.
	UnsetEnv bool
}

// Ready reports READY=1. sent is false when not running under systemd.
func (n Notifier) Ready() (sent bool, err error) {
	return daemon.SdNotify(n.UnsetEnv, daemon.SdNotifyReady)
}

func (n Notifier) Stopping() (bool, error) {
	return daemon.SdNotify(n.UnsetEnv, daemon.SdNotifyStopping)
}

func (n Notifier) Reloading() (bool, error) {
	return daemon.SdNotify(n.UnsetEnv, daemon.SdNotifyReloading)
}

// Status sets the free-form STATUS= line shown by systemctl status.
func (n Notifier) Status(format string, args ...any) (bool, error) {
	return daemon.SdNotify(n.UnsetEnv, "STATUS="+fmt.Sprintf(format, args...))
}
