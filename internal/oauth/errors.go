package oauth

// Kind classifies why a login attempt failed.
type Kind string

const (
	KindDenied         Kind = "authorization_denied"
	KindNoCode         Kind = "no_code"
	KindWindowClosed   Kind = "window_closed"
	KindTimeout        Kind = "timeout"
	KindExchangeFailed Kind = "exchange_failed"
)

// LoginError is the rejection returned by Flow.Login. Message is meant for
// the user.
type LoginError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *LoginError) Error() string { return e.Message }

func (e *LoginError) Unwrap() error { return e.Err }
