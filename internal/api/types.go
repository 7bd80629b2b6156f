package api

// UsageResponse is the body of GET /api/oauth/usage. Every window is
// optional; utilization is a 0-100 percentage.
type UsageResponse struct {
	FiveHour       *UsageWindow `json:"five_hour"`
	SevenDay       *UsageWindow `json:"seven_day"`
	SevenDaySonnet *UsageWindow `json:"seven_day_sonnet"`
	ExtraUsage     *ExtraUsage  `json:"extra_usage"`
}

type UsageWindow struct {
	Utilization *float64 `json:"utilization"`
	ResetsAt    *string  `json:"resets_at"` // ISO-8601
}

// ExtraUsage is spend-based overage. Credits are in cents.
type ExtraUsage struct {
	IsEnabled    *bool    `json:"is_enabled"`
	Utilization  *float64 `json:"utilization"`
	UsedCredits  *float64 `json:"used_credits"`
	MonthlyLimit *float64 `json:"monthly_limit"`
}

// Percent returns the window utilization, 0 when absent.
func (w *UsageWindow) Percent() float64 {
	if w == nil || w.Utilization == nil {
		return 0
	}
	return *w.Utilization
}

func (e *ExtraUsage) Enabled() bool {
	return e != nil && e.IsEnabled != nil && *e.IsEnabled
}
