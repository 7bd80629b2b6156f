// Package forecast extrapolates window utilization to the reset time.
package forecast

import "time"

const (
	SessionWindow = 5 * time.Hour
	WeeklyWindow  = 7 * 24 * time.Hour
)

type Projection struct {
	// ProjectedPct is the estimated utilization at reset, 0-100 and beyond.
	ProjectedPct float64
	// OnTrack is true if projected usage stays under 100% at reset.
	OnTrack bool
}

// Project assumes usage keeps its average pace since the window opened.
// ratio is the current utilization (1 = limit) and reset is when a window
// of length window closes.
func Project(ratio float64, reset time.Time, window time.Duration, now time.Time) Projection {
	pct := ratio * 100
	elapsed := window - reset.Sub(now)

	if elapsed <= 0 || pct <= 0 {
		return Projection{ProjectedPct: pct, OnTrack: pct < 100}
	}
	if elapsed > window {
		elapsed = window
	}

	projected := pct / elapsed.Seconds() * window.Seconds()
	return Projection{
		ProjectedPct: projected,
		OnTrack:      projected < 100,
	}
}

// Indicator returns a short status string for the projection.
func (p Projection) Indicator() string {
	switch {
	case p.ProjectedPct >= 100:
		return "over limit"
	case p.ProjectedPct >= 90:
		return "tight"
	default:
		return "on track"
	}
}

// ColorIndicator is Indicator with an ANSI color and a glyph.
func (p Projection) ColorIndicator() string {
	switch {
	case p.ProjectedPct >= 100:
		return "\033[31m⚠ over limit\033[0m"
	case p.ProjectedPct >= 90:
		return "\033[33m~ tight\033[0m"
	default:
		return "\033[32m✓ on track\033[0m"
	}
}
