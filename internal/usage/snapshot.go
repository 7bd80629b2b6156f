// Package usage turns the usage API response and local activity into a
// Snapshot, the model every front end renders.
package usage

import (
	"encoding/json"

	"github.com/tnunamak/clawpulse/internal/activity"
)

type Status string

const (
	StatusActive      Status = "active"
	StatusWarning     Status = "warning"
	StatusRateLimited Status = "rate_limited"
)

type ErrorType string

const (
	ErrCredentialsNotFound ErrorType = "credentials_not_found"
	ErrNoOAuthData         ErrorType = "no_oauth_data"
	ErrParse               ErrorType = "parse_error"
	ErrNoToken             ErrorType = "no_token"
	ErrAuthExpired         ErrorType = "auth_expired"
	ErrAPI                 ErrorType = "api_error"
	ErrNetwork             ErrorType = "network_error"
	ErrUnexpected          ErrorType = "unexpected"
)

// NeedsLogin reports whether the user has to sign in again to recover.
func (t ErrorType) NeedsLogin() bool {
	switch t {
	case ErrCredentialsNotFound, ErrNoOAuthData, ErrParse, ErrNoToken, ErrAuthExpired:
		return true
	}
	return false
}

// Failure is why a snapshot could not be produced. Message is meant for
// the user.
type Failure struct {
	Type    ErrorType
	Message string
}

func (f *Failure) Error() string { return f.Message }

// Window is one quota window. Utilization is a ratio, 1 meaning the limit.
type Window struct {
	Utilization float64 `json:"utilization" yaml:"utilization"`
	Reset       *int64  `json:"reset" yaml:"reset"` // Unix seconds
}

// Overage is spend-based extra usage. It is zero-valued when disabled.
type Overage struct {
	Utilization float64 `json:"utilization" yaml:"utilization"`
	Spent       *string `json:"spent" yaml:"spent"` // dollars, two decimals
	Limit       *string `json:"limit" yaml:"limit"`
	Reset       *int64  `json:"reset" yaml:"reset"`
}

// Snapshot is one observation of usage. Exactly one of Err and the success
// fields is meaningful.
type Snapshot struct {
	Err *Failure

	Timestamp        int64 // Unix milliseconds
	AllHeaders       map[string]string
	Session          Window
	Weekly           Window
	WeeklySonnet     Window
	Overage          Overage
	OverallStatus    Status
	SubscriptionType string
	RateLimitTier    string
	LocalStats       *activity.Stats
}

func Fail(t ErrorType, message string) *Snapshot {
	return &Snapshot{Err: &Failure{Type: t, Message: message}}
}

func (s *Snapshot) OK() bool { return s.Err == nil }

type errorView struct {
	Error        bool      `json:"error" yaml:"error"`
	ErrorType    ErrorType `json:"errorType" yaml:"errorType"`
	ErrorMessage string    `json:"errorMessage" yaml:"errorMessage"`
}

type successView struct {
	Error            bool              `json:"error" yaml:"error"`
	Timestamp        int64             `json:"timestamp" yaml:"timestamp"`
	AllHeaders       map[string]string `json:"allHeaders" yaml:"allHeaders"`
	Session          Window            `json:"session" yaml:"session"`
	Weekly           Window            `json:"weekly" yaml:"weekly"`
	WeeklySonnet     Window            `json:"weeklySonnet" yaml:"weeklySonnet"`
	Overage          Overage           `json:"overage" yaml:"overage"`
	OverallStatus    Status            `json:"overallStatus" yaml:"overallStatus"`
	SubscriptionType string            `json:"subscriptionType" yaml:"subscriptionType"`
	RateLimitTier    string            `json:"rateLimitTier" yaml:"rateLimitTier"`
	LocalStats       *activity.Stats   `json:"localStats" yaml:"localStats"`
}

func (s Snapshot) view() any {
	if s.Err != nil {
		return errorView{Error: true, ErrorType: s.Err.Type, ErrorMessage: s.Err.Message}
	}
	headers := s.AllHeaders
	if headers == nil {
		headers = map[string]string{}
	}
	return successView{
		Timestamp:        s.Timestamp,
		AllHeaders:       headers,
		Session:          s.Session,
		Weekly:           s.Weekly,
		WeeklySonnet:     s.WeeklySonnet,
		Overage:          s.Overage,
		OverallStatus:    s.OverallStatus,
		SubscriptionType: s.SubscriptionType,
		RateLimitTier:    s.RateLimitTier,
		LocalStats:       s.LocalStats,
	}
}

// MarshalJSON emits either the error shape or the success shape, never both.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.view())
}

func (s Snapshot) MarshalYAML() (any, error) {
	return s.view(), nil
}
