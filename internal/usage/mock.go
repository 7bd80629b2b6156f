package usage

import (
	"time"

	"github.com/tnunamak/clawpulse/internal/activity"
)

// Mock returns a plausible Max-plan snapshot for demos and --mock.
func Mock(now time.Time, stats *activity.Stats) *Snapshot {
	now = now.UTC()

	session := time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, time.UTC)
	if !session.After(now) {
		session = session.AddDate(0, 0, 1)
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekly := day.AddDate(0, 0, 3).Add(4 * time.Hour)
	sonnet := day.AddDate(0, 0, 2)
	overage := nextMonthStart(now)

	epoch := func(t time.Time) *int64 {
		s := t.Unix()
		return &s
	}
	str := func(s string) *string { return &s }

	return &Snapshot{
		Timestamp: now.UnixMilli(),
		AllHeaders: map[string]string{
			"five_hour.utilization":        "21%",
			"five_hour.resets_at":          session.Format(time.RFC3339),
			"seven_day.utilization":        "68%",
			"seven_day.resets_at":          weekly.Format(time.RFC3339),
			"seven_day_sonnet.utilization": "2%",
			"seven_day_sonnet.resets_at":   sonnet.Format(time.RFC3339),
			"extra_usage.is_enabled":       "true",
			"extra_usage.utilization":      "31%",
			"extra_usage.used_credits":     "1582",
			"extra_usage.monthly_limit":    "5000",
		},
		Session:      Window{Utilization: 0.21, Reset: epoch(session)},
		Weekly:       Window{Utilization: 0.68, Reset: epoch(weekly)},
		WeeklySonnet: Window{Utilization: 0.02, Reset: epoch(sonnet)},
		Overage: Overage{
			Utilization: 0.31,
			Spent:       str("15.82"),
			Limit:       str("50.00"),
			Reset:       &overage,
		},
		OverallStatus:    StatusActive,
		SubscriptionType: "max",
		RateLimitTier:    "default_claude_max_5x",
		LocalStats:       stats,
	}
}
