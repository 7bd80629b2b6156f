// Package oauth implements the Claude OAuth authorization-code flow with
// PKCE and the refresh-token grant.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/tnunamak/clawpulse/internal/credentials"
	"github.com/tnunamak/clawpulse/internal/logger"
)

const (
	DefaultTimeout   = 5 * time.Minute
	defaultExpiresIn = 86400
)

// State is the position of a login attempt.
type State int32

const (
	StateIdle State = iota
	StateAwaitingRedirect
	StateExchangingCode
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRedirect:
		return "awaiting_redirect"
	case StateExchangingCode:
		return "exchanging_code"
	case StateSettled:
		return "settled"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// TokenWriter persists the tokens of a successful login.
type TokenWriter interface {
	Write(rec *credentials.Record) error
}

type FlowOptions struct {
	ClientID     string
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string
	Scopes       []string
	// Timeout bounds the whole attempt. Defaults to DefaultTimeout.
	Timeout    time.Duration
	HTTPClient *http.Client
	Store      TokenWriter
	UserAgent  string
	Now        func() time.Time
	Logger     *zap.Logger
}

// Flow drives interactive logins. A Flow may be reused, but callers must not
// run two logins at once.
type Flow struct {
	conf      *oauth2.Config
	timeout   time.Duration
	http      *http.Client
	store     TokenWriter
	userAgent string
	now       func() time.Time
	logger    *zap.Logger
}

func NewFlow(opts FlowOptions) *Flow {
	f := &Flow{
		conf: &oauth2.Config{
			ClientID:    opts.ClientID,
			RedirectURL: opts.RedirectURI,
			Scopes:      opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  opts.AuthorizeURL,
				TokenURL: opts.TokenURL,
			},
		},
		timeout:   opts.Timeout,
		http:      opts.HTTPClient,
		store:     opts.Store,
		userAgent: opts.UserAgent,
		now:       opts.Now,
		logger:    logger.OrNop(opts.Logger),
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.http == nil {
		f.http = &http.Client{Timeout: 30 * time.Second}
	}
	if f.userAgent == "" {
		f.userAgent = "clawpulse"
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// AuthURL builds the authorization URL for sess. code=true asks the server
// to display the code instead of silently redirecting.
func (f *Flow) AuthURL(sess *Session) string {
	return f.conf.AuthCodeURL(sess.State,
		oauth2.SetAuthURLParam("code", "true"),
		oauth2.S256ChallengeOption(sess.Verifier),
	)
}

// Login runs one authorization attempt on surface and blocks until it
// settles: a captured redirect that exchanges successfully, an error, the
// user closing the surface, ctx being done, or the timeout. The surface is
// closed exactly once on every path. Failures are *LoginError.
func (f *Flow) Login(ctx context.Context, surface Surface) (*Tokens, error) {
	sess, err := NewSession()
	if err != nil {
		return nil, &LoginError{Kind: KindExchangeFailed, Message: err.Error(), Err: err}
	}

	a := &attempt{
		flow:    f,
		ctx:     ctx,
		session: sess,
		surface: surface,
		done:    make(chan outcome, 1),
	}
	surface.OnWillNavigate(a.observe)
	surface.OnWillRedirect(a.observe)
	surface.OnBeforeRequest(f.conf.RedirectURL, a.filter)
	surface.OnClosed(a.closed)

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	a.setState(StateAwaitingRedirect)
	if err := surface.Load(f.AuthURL(sess)); err != nil {
		a.fail(&LoginError{Kind: KindWindowClosed, Message: "Could not open login window", Err: err})
	}

	select {
	case out := <-a.done:
		return out.tokens, out.err
	case <-timer.C:
		a.fail(&LoginError{Kind: KindTimeout, Message: "Login timed out"})
	case <-ctx.Done():
		a.fail(&LoginError{Kind: KindWindowClosed, Message: "Login was cancelled", Err: ctx.Err()})
	}

	// Either we just settled, or a captured redirect is mid-exchange and
	// will settle on its own.
	out := <-a.done
	return out.tokens, out.err
}

type outcome struct {
	tokens *Tokens
	err    error
}

// attempt holds the per-login state. settled is the single guard shared by
// every observer; whichever observer wins the compare-and-swap owns the
// transition and every later signal is a no-op.
type attempt struct {
	flow    *Flow
	ctx     context.Context
	session *Session
	surface Surface

	settled   atomic.Bool
	state     atomic.Int32
	closeOnce sync.Once
	done      chan outcome
}

func (a *attempt) claim() bool {
	return a.settled.CompareAndSwap(false, true)
}

func (a *attempt) setState(s State) {
	prev := State(a.state.Swap(int32(s)))
	a.flow.logger.Debug("login state", zap.Stringer("from", prev), zap.Stringer("to", s))
}

func (a *attempt) matches(u string) bool {
	return strings.HasPrefix(u, a.flow.conf.RedirectURL)
}

// observe backs the navigate and redirect hooks.
func (a *attempt) observe(u string) bool {
	if a.settled.Load() || !a.matches(u) {
		return false
	}
	if a.claim() {
		go a.capture(u)
	}
	return true
}

// filter backs the request hook. Requests to the redirect URI are always
// blocked, even after settling.
func (a *attempt) filter(u string) bool {
	if !a.matches(u) {
		return false
	}
	if a.claim() {
		go a.capture(u)
	}
	return true
}

func (a *attempt) closed() {
	if a.claim() {
		a.finish(outcome{err: &LoginError{Kind: KindWindowClosed, Message: "Login window was closed"}})
	}
}

// fail settles the attempt with err unless another signal already did.
func (a *attempt) fail(err *LoginError) {
	if a.claim() {
		a.finish(outcome{err: err})
	}
}

// finish must only be called by the claim winner.
func (a *attempt) finish(out outcome) {
	a.closeOnce.Do(a.surface.Close)
	a.setState(StateSettled)
	a.done <- out
}

func (a *attempt) capture(raw string) {
	tokens, err := a.redeem(raw)
	if err != nil {
		a.flow.logger.Warn("login failed", zap.Error(err))
		a.finish(outcome{err: err})
		return
	}
	a.flow.logger.Info("login succeeded")
	a.finish(outcome{tokens: tokens})
}

func (a *attempt) redeem(raw string) (*Tokens, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &LoginError{Kind: KindNoCode, Message: "No authorization code received", Err: err}
	}
	q := u.Query()

	if e := q.Get("error"); e != "" {
		return nil, &LoginError{Kind: KindDenied, Message: "Authorization failed: " + e}
	}
	if st := q.Get("state"); st != "" && st != a.session.State {
		return nil, &LoginError{Kind: KindDenied, Message: "Authorization failed: state mismatch"}
	}
	code := q.Get("code")
	if code == "" {
		return nil, &LoginError{Kind: KindNoCode, Message: "No authorization code received"}
	}
	code, _, _ = strings.Cut(code, "#")

	a.setState(StateExchangingCode)
	tokens, err := a.flow.exchange(a.ctx, code, a.session)
	if err != nil && a.ctx.Err() != nil {
		return nil, &LoginError{Kind: KindWindowClosed, Message: "Login was cancelled", Err: a.ctx.Err()}
	}
	if err != nil {
		return nil, &LoginError{Kind: KindExchangeFailed, Message: err.Error(), Err: err}
	}

	if err := a.flow.persist(tokens); err != nil {
		return nil, &LoginError{Kind: KindExchangeFailed, Message: err.Error(), Err: err}
	}
	return tokens, nil
}

func (f *Flow) persist(t *Tokens) error {
	expiresIn := t.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	scopes := strings.Fields(t.Scope)
	if len(scopes) == 0 {
		scopes = append([]string(nil), f.conf.Scopes...)
	}

	rec := &credentials.Record{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    f.now().Add(time.Duration(expiresIn) * time.Second).UnixMilli(),
		Scopes:       scopes,
	}
	if err := f.store.Write(rec); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// IsKind reports whether err is a *LoginError of kind k.
func IsKind(err error, k Kind) bool {
	var le *LoginError
	return errors.As(err, &le) && le.Kind == k
}
