package reload

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/driftsync/gitmirrord/internal/config"
)

// signalNames maps accepted signal names to signals. Only signals that are
// conventionally used for reload or shutdown are allowed.
var signalNames = map[string]syscall.Signal{
	"SIGHUP":  syscall.SIGHUP,
	"SIGINT":  syscall.SIGINT,
	"SIGTERM": syscall.SIGTERM,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

// signalNotifier sends a signal to a process identified by pid or pidfile
type signalNotifier struct {
	signal  syscall.Signal
	name    string
	pid     int
	pidFile string
}

func newSignalNotifier(cfg *config.SignalReloadConfig) (*signalNotifier, error) {
	sig, err := ParseSignal(cfg.Name)
	if err != nil {
		return nil, err
	}

	return &signalNotifier{
		signal:  sig,
		name:    strings.ToUpper(cfg.Name),
		pid:     cfg.PID,
		pidFile: cfg.PIDFile,
	}, nil
}

// ParseSignal resolves a signal name like "SIGHUP" or "hup" to a signal
func ParseSignal(name string) (syscall.Signal, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(normalized, "SIG") {
		normalized = "SIG" + normalized
	}

	sig, ok := signalNames[normalized]
	if !ok {
		return 0, fmt.Errorf("unsupported signal %q (supported: SIGHUP, SIGINT, SIGTERM, SIGUSR1, SIGUSR2)", name)
	}
	return sig, nil
}

// Notify sends the configured signal to the target process. The pidfile is
// re-read on every attempt since the target may have restarted.
func (n *signalNotifier) Notify(_ context.Context, _ string) error {
	pid := n.pid
	if n.pidFile != "" {
		var err error
		pid, err = readPIDFile(n.pidFile)
		if err != nil {
			return err
		}
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := proc.Signal(n.signal); err != nil {
		return fmt.Errorf("failed to signal process %d with %s: %w", pid, n.name, err)
	}

	return nil
}

// Name identifies the notifier
func (n *signalNotifier) Name() string {
	return "signal:" + n.name
}

// readPIDFile reads and parses a pidfile
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pidfile %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pidfile %s does not contain a valid pid: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pidfile %s contains non-positive pid %d", path, pid)
	}

	return pid, nil
}
