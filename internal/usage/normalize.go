package usage

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tnunamak/clawpulse/internal/api"
)

const (
	warningPct     = 80
	rateLimitedPct = 100
)

// normalize converts the API's percentages and ISO instants into ratios
// and Unix seconds. The caller fills in timestamp, account and local stats.
func normalize(resp *api.UsageResponse, now time.Time) *Snapshot {
	return &Snapshot{
		AllHeaders:    allHeaders(resp),
		Session:       window(resp.FiveHour),
		Weekly:        window(resp.SevenDay),
		WeeklySonnet:  window(resp.SevenDaySonnet),
		Overage:       overage(resp.ExtraUsage, now),
		OverallStatus: deriveStatus(resp),
	}
}

func window(w *api.UsageWindow) Window {
	out := Window{Utilization: w.Percent() / 100}
	if w != nil && w.ResetsAt != nil {
		out.Reset = isoToEpoch(*w.ResetsAt)
	}
	return out
}

func overage(e *api.ExtraUsage, now time.Time) Overage {
	if !e.Enabled() {
		return Overage{}
	}
	reset := nextMonthStart(now)
	return Overage{
		Utilization: deref(e.Utilization) / 100,
		Spent:       dollars(e.UsedCredits),
		Limit:       dollars(e.MonthlyLimit),
		Reset:       &reset,
	}
}

// deriveStatus looks only at the session and weekly windows.
func deriveStatus(resp *api.UsageResponse) Status {
	pct := max(resp.FiveHour.Percent(), resp.SevenDay.Percent())
	switch {
	case pct >= rateLimitedPct:
		return StatusRateLimited
	case pct >= warningPct:
		return StatusWarning
	default:
		return StatusActive
	}
}

// isoToEpoch returns nil for an empty or unparsable instant.
func isoToEpoch(s string) *int64 {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	sec := t.Unix()
	return &sec
}

// nextMonthStart is the first instant of the next calendar month in UTC.
func nextMonthStart(now time.Time) int64 {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC).Unix()
}

// dollars formats a cent amount, nil when absent.
func dollars(cents *float64) *string {
	if cents == nil {
		return nil
	}
	s := fmt.Sprintf("%.2f", *cents/100)
	return &s
}

// allHeaders flattens the raw response for display, keyed like
// "five_hour.utilization".
func allHeaders(resp *api.UsageResponse) map[string]string {
	out := make(map[string]string)
	windows := []struct {
		key string
		w   *api.UsageWindow
	}{
		{"five_hour", resp.FiveHour},
		{"seven_day", resp.SevenDay},
		{"seven_day_sonnet", resp.SevenDaySonnet},
	}
	for _, w := range windows {
		if w.w == nil || w.w.Utilization == nil {
			continue
		}
		out[w.key+".utilization"] = number(*w.w.Utilization) + "%"
		resets := ""
		if w.w.ResetsAt != nil {
			resets = *w.w.ResetsAt
		}
		out[w.key+".resets_at"] = resets
	}

	if e := resp.ExtraUsage; e != nil && e.IsEnabled != nil {
		out["extra_usage.is_enabled"] = strconv.FormatBool(*e.IsEnabled)
		out["extra_usage.utilization"] = number(deref(e.Utilization)) + "%"
		out["extra_usage.used_credits"] = number(deref(e.UsedCredits))
		out["extra_usage.monthly_limit"] = number(deref(e.MonthlyLimit))
	}
	return out
}

func number(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
