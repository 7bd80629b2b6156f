// Package notify raises desktop notifications when usage crosses the
// warning and critical thresholds.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/tnunamak/clawpulse/internal/logger"
	"github.com/tnunamak/clawpulse/internal/usage"
)

const (
	WarningPct  = 80
	CriticalPct = 95
)

type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

type Sender interface {
	Send(title, body string, urgency Urgency) error
}

type SenderFunc func(title, body string, urgency Urgency) error

func (f SenderFunc) Send(title, body string, urgency Urgency) error { return f(title, body, urgency) }

// Desktop delivers through notify-send on Linux and osascript on macOS.
// Other platforms are silently skipped.
type Desktop struct {
	goos string
	run  func(name string, args ...string) error
}

func NewDesktop() *Desktop {
	return &Desktop{
		goos: runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

func (d *Desktop) Send(title, body string, urgency Urgency) error {
	switch d.goos {
	case "linux":
		return d.run("notify-send", "-u", string(urgency), title, body)
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, body, title)
		return d.run("osascript", "-e", script)
	}
	return nil
}

// Notifier remembers the last observed peak so each threshold fires once
// per upward crossing.
type Notifier struct {
	sender Sender
	logger *zap.Logger

	mu   sync.Mutex
	last float64
}

func New(sender Sender, l *zap.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger.OrNop(l)}
}

// Observe checks snap against the thresholds. Failed snapshots are ignored
// and do not reset the remembered peak.
func (n *Notifier) Observe(snap *usage.Snapshot) {
	if snap == nil || !snap.OK() {
		return
	}
	pct := max(snap.Session.Utilization, snap.Weekly.Utilization) * 100

	n.mu.Lock()
	prev := n.last
	n.last = pct
	n.mu.Unlock()

	title, body, urgency, ok := crossing(prev, pct)
	if !ok {
		return
	}
	if err := n.sender.Send(title, body, urgency); err != nil {
		n.logger.Warn("send notification", zap.Error(err))
	}
}

func crossing(prev, pct float64) (title, body string, urgency Urgency, ok bool) {
	switch {
	case pct >= CriticalPct && prev < CriticalPct:
		return "Claude usage critical", fmt.Sprintf("Usage at %.0f%%, you may be rate limited soon", pct), UrgencyCritical, true
	case pct >= WarningPct && prev < WarningPct:
		return "Claude usage warning", fmt.Sprintf("Usage at %.0f%%", pct), UrgencyNormal, true
	}
	return "", "", "", false
}
