package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func TestProject(t *testing.T) {
	tests := []struct {
		name      string
		ratio     float64
		remaining time.Duration
		window    time.Duration
		wantPct   float64
		onTrack   bool
		indicator string
	}{
		{name: "halfway at 40%", ratio: 0.4, remaining: 150 * time.Minute, window: SessionWindow, wantPct: 80, onTrack: true, indicator: "on track"},
		{name: "halfway at 46%", ratio: 0.46, remaining: 150 * time.Minute, window: SessionWindow, wantPct: 92, onTrack: true, indicator: "tight"},
		{name: "one day into the week at 20%", ratio: 0.2, remaining: 6 * 24 * time.Hour, window: WeeklyWindow, wantPct: 140, onTrack: false, indicator: "over limit"},
		{name: "window just opened", ratio: 0.1, remaining: SessionWindow, window: SessionWindow, wantPct: 10, onTrack: true, indicator: "on track"},
		{name: "unused", ratio: 0, remaining: time.Hour, window: SessionWindow, wantPct: 0, onTrack: true, indicator: "on track"},
		{name: "reset already passed", ratio: 0.5, remaining: -time.Hour, window: SessionWindow, wantPct: 50, onTrack: true, indicator: "on track"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Project(tt.ratio, now.Add(tt.remaining), tt.window, now)
			assert.InDelta(t, tt.wantPct, p.ProjectedPct, 1e-9)
			assert.Equal(t, tt.onTrack, p.OnTrack)
			assert.Equal(t, tt.indicator, p.Indicator())
		})
	}
}

func TestColorIndicator(t *testing.T) {
	assert.Contains(t, Projection{ProjectedPct: 120}.ColorIndicator(), "over limit")
	assert.Contains(t, Projection{ProjectedPct: 95}.ColorIndicator(), "tight")
	assert.Contains(t, Projection{ProjectedPct: 10}.ColorIndicator(), "on track")
}
