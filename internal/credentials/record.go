package credentials

import "time"

const unknown = "unknown"

// Record is the OAuth section of the credential file.
type Record struct {
	AccessToken      string   `json:"accessToken"`
	RefreshToken     string   `json:"refreshToken"`
	ExpiresAt        int64    `json:"expiresAt"` // Unix milliseconds
	Scopes           []string `json:"scopes"`
	SubscriptionType string   `json:"subscriptionType,omitempty"`
	RateLimitTier    string   `json:"rateLimitTier,omitempty"`
}

// Expired reports whether the access token is past its expiry. A zero
// ExpiresAt means the expiry is unknown and the token is used as is.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != 0 && now.UnixMilli() > r.ExpiresAt
}

func (r *Record) ExpiresIn(now time.Time) time.Duration {
	return time.UnixMilli(r.ExpiresAt).Sub(now)
}

// CanRefresh reports whether a refresh token is available.
func (r *Record) CanRefresh() bool {
	return r.RefreshToken != ""
}

func (r *Record) Subscription() string {
	if r.SubscriptionType == "" {
		return unknown
	}
	return r.SubscriptionType
}

func (r *Record) Tier() string {
	if r.RateLimitTier == "" {
		return unknown
	}
	return r.RateLimitTier
}
