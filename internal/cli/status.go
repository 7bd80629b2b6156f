// Package cli renders usage snapshots for the terminal.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/tnunamak/clawpulse/internal/forecast"
	"github.com/tnunamak/clawpulse/internal/usage"
)

const barWidth = 20

type Format string

const (
	FormatColor Format = "color"
	FormatPlain Format = "plain"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitAuth  = 2
)

// IsTTY reports whether f is an interactive terminal.
func IsTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// AutoFormat picks color for terminals and plain text otherwise.
func AutoFormat(f *os.File) Format {
	if IsTTY(f) {
		return FormatColor
	}
	return FormatPlain
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "now"
	}
	d = d.Round(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh%02dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func color(pct float64) string {
	switch {
	case pct >= 80:
		return "\033[31m" // red
	case pct >= 60:
		return "\033[33m" // yellow
	default:
		return "\033[32m" // green
	}
}

const reset = "\033[0m"

func bar(pct float64) string {
	filled := int(math.Round(pct / 100 * barWidth))
	filled = max(0, min(filled, barWidth))
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

func resetsIn(w usage.Window, now time.Time) string {
	if w.Reset == nil {
		return "-"
	}
	return formatDuration(time.Unix(*w.Reset, 0).Sub(now))
}

func projection(w usage.Window, window time.Duration, now time.Time) (forecast.Projection, bool) {
	if w.Reset == nil {
		return forecast.Projection{}, false
	}
	return forecast.Project(w.Utilization, time.Unix(*w.Reset, 0), window, now), true
}

type row struct {
	label  string
	w      usage.Window
	window time.Duration
}

func rows(snap *usage.Snapshot) []row {
	return []row{
		{"5h", snap.Session, forecast.SessionWindow},
		{"7d", snap.Weekly, forecast.WeeklyWindow},
		{"sonnet", snap.WeeklySonnet, forecast.WeeklyWindow},
	}
}

func PrintColor(w io.Writer, snap *usage.Snapshot, now time.Time) {
	for i, r := range rows(snap) {
		prefix := "clawpulse"
		if i > 0 {
			prefix = ""
		}
		pct := r.w.Utilization * 100
		line := fmt.Sprintf("%-9s %6s %s%s%s %3.0f%%  resets %s",
			prefix, r.label, color(pct), bar(pct), reset, pct, resetsIn(r.w, now))
		if p, ok := projection(r.w, r.window, now); ok && r.label != "sonnet" {
			line += "  " + p.ColorIndicator()
		}
		fmt.Fprintln(w, line)
	}
	if o := overageLine(snap, now); o != "" {
		fmt.Fprintf(w, "%16s %s\n", "overage", o)
	}
	if a := activityLine(snap); a != "" {
		fmt.Fprintf(w, "%16s %s\n", "today", a)
	}
	fmt.Fprintf(w, "%16s %s (%s)  %s\n", "plan", snap.SubscriptionType, snap.RateLimitTier, statusColor(snap.OverallStatus))
}

func statusColor(s usage.Status) string {
	switch s {
	case usage.StatusRateLimited:
		return "\033[31m" + string(s) + reset
	case usage.StatusWarning:
		return "\033[33m" + string(s) + reset
	default:
		return "\033[32m" + string(s) + reset
	}
}

func PrintPlain(w io.Writer, snap *usage.Snapshot, now time.Time) {
	parts := make([]string, 0, 5)
	for _, r := range rows(snap) {
		parts = append(parts, fmt.Sprintf("%s: %.0f%% (resets %s)", r.label, r.w.Utilization*100, resetsIn(r.w, now)))
	}
	if o := overageLine(snap, now); o != "" {
		parts = append(parts, "overage: "+o)
	}
	parts = append(parts, "status: "+string(snap.OverallStatus))
	fmt.Fprintln(w, strings.Join(parts, "  "))
	if a := activityLine(snap); a != "" {
		fmt.Fprintln(w, "today: "+a)
	}
}

func overageLine(snap *usage.Snapshot, now time.Time) string {
	o := snap.Overage
	if o.Spent == nil && o.Limit == nil {
		return ""
	}
	spent, limit := "?", "?"
	if o.Spent != nil {
		spent = *o.Spent
	}
	if o.Limit != nil {
		limit = *o.Limit
	}
	line := fmt.Sprintf("$%s of $%s (%.0f%%)", spent, limit, o.Utilization*100)
	if o.Reset != nil {
		line += ", resets " + humanize.RelTime(time.Unix(*o.Reset, 0), now, "ago", "from now")
	}
	return line
}

func activityLine(snap *usage.Snapshot) string {
	s := snap.LocalStats
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%s messages, %s sessions, %s tool calls (%s)",
		humanize.Comma(int64(s.TodayMessages)),
		humanize.Comma(int64(s.TodaySessions)),
		humanize.Comma(int64(s.TodayToolCalls)),
		s.ActivityDate,
	)
}

func PrintJSON(w io.Writer, snap *usage.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func PrintYAML(w io.Writer, snap *usage.Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// ExitCode maps a snapshot to the process exit status.
func ExitCode(snap *usage.Snapshot) int {
	switch {
	case snap.OK():
		return ExitOK
	case snap.Err.Type.NeedsLogin():
		return ExitAuth
	default:
		return ExitError
	}
}

type Refresher interface {
	Refresh(ctx context.Context) *usage.Snapshot
}

type StatusOptions struct {
	Format Format
	Out    io.Writer
	Err    io.Writer
	Now    func() time.Time
}

// Status fetches one snapshot, prints it and returns the exit code.
// Structured formats print error snapshots as data; text formats send the
// message to Err.
func Status(ctx context.Context, r Refresher, opts StatusOptions) int {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	snap := r.Refresh(ctx)

	switch opts.Format {
	case FormatJSON:
		if err := PrintJSON(opts.Out, snap); err != nil {
			fmt.Fprintf(opts.Err, "clawpulse: %v\n", err)
			return ExitError
		}
		return ExitCode(snap)
	case FormatYAML:
		if err := PrintYAML(opts.Out, snap); err != nil {
			fmt.Fprintf(opts.Err, "clawpulse: %v\n", err)
			return ExitError
		}
		return ExitCode(snap)
	}

	if !snap.OK() {
		fmt.Fprintf(opts.Err, "clawpulse: %s\n", snap.Err.Message)
		if snap.Err.Type.NeedsLogin() {
			fmt.Fprintln(opts.Err, "Run `clawpulse login` to sign in.")
		}
		return ExitCode(snap)
	}

	if opts.Format == FormatColor {
		PrintColor(opts.Out, snap, now())
	} else {
		PrintPlain(opts.Out, snap, now())
	}
	return ExitOK
}
