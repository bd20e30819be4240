// Package systemd reports service state to systemd through sd_notify.
// Outside a Type=notify unit every call is a silent no-op.
package systemd

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/lspvisor/internal/logging"
)

// Notifier sends readiness, status and watchdog messages to systemd.
type Notifier struct {
	logger   logging.Logger
	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewNotifier creates a notifier bound to $NOTIFY_SOCKET.
func NewNotifier(logger logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.GetLogger("main")
	}
	return &Notifier{
		logger: logger,
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		watchdog: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}
}

// Ready tells systemd that activation finished.
func (n *Notifier) Ready() {
	n.send(daemon.SdNotifyReady)
}

// Stopping tells systemd that deactivation began.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

// Reloading brackets a configuration reload; call Ready when done.
func (n *Notifier) Reloading() {
	n.send(daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(text string) {
	n.send("STATUS=" + text)
}

// StartWatchdog pings the watchdog at half of WatchdogSec until
// StopWatchdog. It does nothing if the unit has no watchdog.
func (n *Notifier) StartWatchdog() {
	interval, err := n.watchdog()
	if err != nil {
		n.logger.Warn("Cannot read systemd watchdog settings", "error", err)
		return
	}
	if interval <= 0 {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stop != nil {
		return
	}
	n.stop = make(chan struct{})
	n.done = make(chan struct{})
	go n.pingLoop(interval/2, n.stop, n.done)
	n.logger.Info("Systemd watchdog enabled", "interval", interval)
}

// StopWatchdog stops the ping loop and waits for it to exit.
func (n *Notifier) StopWatchdog() {
	n.mu.Lock()
	stop, done := n.stop, n.done
	n.stop, n.done = nil, nil
	n.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (n *Notifier) pingLoop(every time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	switch {
	case err != nil:
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
	case sent:
		n.logger.Debug("sd_notify sent", "state", state)
	}
}
