// Package service exposes the operations a front end needs: login, logout
// and refresh, plus a polling loop that keeps the last snapshot current.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/clawpulse/internal/activity"
	"github.com/tnunamak/clawpulse/internal/logger"
	"github.com/tnunamak/clawpulse/internal/metrics"
	"github.com/tnunamak/clawpulse/internal/oauth"
	"github.com/tnunamak/clawpulse/internal/usage"
)

const DefaultInterval = 2 * time.Minute

// MsgLoginInProgress rejects a second concurrent login.
const MsgLoginInProgress = "Login already in progress"

type Fetcher interface {
	Fetch(ctx context.Context) *usage.Snapshot
}

type Authenticator interface {
	Login(ctx context.Context, surface oauth.Surface) (*oauth.Tokens, error)
}

type CredentialClearer interface {
	Clear() error
}

type Activity interface {
	Today(ctx context.Context) *activity.Stats
	Reset()
}

type Observer interface {
	Observe(snap *usage.Snapshot)
}

type Options struct {
	Fetcher Fetcher
	Flow    Authenticator
	Store   CredentialClearer
	// Activity may be nil.
	Activity Activity
	// Surface builds the surface for each login attempt.
	Surface func() oauth.Surface
	// Observers see every snapshot Refresh produces.
	Observers []Observer
	// Mock serves usage.Mock instead of calling the API.
	Mock   bool
	Now    func() time.Time
	Logger *zap.Logger
}

type LoginResult struct {
	Success bool            `json:"success"`
	Data    *usage.Snapshot `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type LogoutResult struct {
	Success bool `json:"success"`
}

type Service struct {
	fetcher   Fetcher
	flow      Authenticator
	store     CredentialClearer
	activity  Activity
	surface   func() oauth.Surface
	observers []Observer
	mock      bool
	now       func() time.Time
	logger    *zap.Logger

	loggingIn atomic.Bool
	trigger   chan struct{}

	mu   sync.RWMutex
	last *usage.Snapshot
}

func New(opts Options) *Service {
	s := &Service{
		fetcher:   opts.Fetcher,
		flow:      opts.Flow,
		store:     opts.Store,
		activity:  opts.Activity,
		surface:   opts.Surface,
		observers: opts.Observers,
		mock:      opts.Mock,
		now:       opts.Now,
		logger:    logger.OrNop(opts.Logger),
		trigger:   make(chan struct{}, 1),
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// LoginInProgress reports whether a login is running.
func (s *Service) LoginInProgress() bool {
	return s.loggingIn.Load()
}

// Login runs one interactive login and, on success, an immediate refresh.
// A second call while one is running is rejected without touching the
// first.
func (s *Service) Login(ctx context.Context) (res LoginResult) {
	if !s.loggingIn.CompareAndSwap(false, true) {
		return LoginResult{Error: MsgLoginInProgress}
	}
	defer s.loggingIn.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("login panicked", zap.Any("panic", r))
			metrics.LoginTotal.WithLabelValues("error").Inc()
			res = LoginResult{Error: fmt.Sprintf("Unexpected error: %v", r)}
		}
	}()

	if _, err := s.flow.Login(ctx, s.surface()); err != nil {
		metrics.LoginTotal.WithLabelValues(loginLabel(err)).Inc()
		s.logger.Info("login failed", zap.Error(err))
		return LoginResult{Error: err.Error()}
	}
	metrics.LoginTotal.WithLabelValues("ok").Inc()

	return LoginResult{Success: true, Data: s.Refresh(ctx)}
}

func loginLabel(err error) string {
	for _, k := range []oauth.Kind{oauth.KindDenied, oauth.KindNoCode, oauth.KindWindowClosed, oauth.KindTimeout, oauth.KindExchangeFailed} {
		if oauth.IsKind(err, k) {
			return string(k)
		}
	}
	return "error"
}

// Logout removes the stored OAuth section and forgets local activity.
// It always succeeds; a failed clear is only logged.
func (s *Service) Logout() LogoutResult {
	if err := s.store.Clear(); err != nil {
		s.logger.Warn("clear credentials", zap.Error(err))
	}
	if s.activity != nil {
		s.activity.Reset()
	}
	s.mu.Lock()
	s.last = nil
	s.mu.Unlock()
	s.logger.Info("logged out")
	return LogoutResult{Success: true}
}

// Refresh produces a new snapshot, remembers it as the latest and hands
// it to the observers. It never returns nil.
func (s *Service) Refresh(ctx context.Context) (snap *usage.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("refresh panicked", zap.Any("panic", r))
			snap = usage.Fail(usage.ErrUnexpected, fmt.Sprintf("Unexpected error: %v", r))
			s.record(snap)
		}
	}()

	if s.mock {
		var stats *activity.Stats
		if s.activity != nil {
			stats = s.activity.Today(ctx)
		}
		snap = usage.Mock(s.now(), stats)
	} else {
		snap = s.fetcher.Fetch(ctx)
	}
	s.record(snap)

	for _, o := range s.observers {
		o.Observe(snap)
	}
	return snap
}

func (s *Service) record(snap *usage.Snapshot) {
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()

	if !snap.OK() {
		metrics.FetchTotal.WithLabelValues(string(snap.Err.Type)).Inc()
		s.logger.Warn("usage unavailable", zap.String("error_type", string(snap.Err.Type)), zap.String("message", snap.Err.Message))
		return
	}
	metrics.FetchTotal.WithLabelValues("ok").Inc()
	metrics.UtilizationRatio.WithLabelValues("session").Set(snap.Session.Utilization)
	metrics.UtilizationRatio.WithLabelValues("weekly").Set(snap.Weekly.Utilization)
	metrics.UtilizationRatio.WithLabelValues("weekly_sonnet").Set(snap.WeeklySonnet.Utilization)
	metrics.UtilizationRatio.WithLabelValues("overage").Set(snap.Overage.Utilization)
	s.logger.Debug("usage refreshed",
		zap.Float64("session", snap.Session.Utilization),
		zap.Float64("weekly", snap.Weekly.Utilization),
		zap.String("status", string(snap.OverallStatus)),
	)
}

// Last returns the most recent snapshot, nil before the first refresh or
// after logout.
func (s *Service) Last() *usage.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// TriggerRefresh asks a running Watch loop for an out-of-band refresh.
// Requests made while one is already pending are coalesced.
func (s *Service) TriggerRefresh() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Watch refreshes immediately, then every interval and on TriggerRefresh,
// until ctx is done. Refreshes never overlap.
func (s *Service) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.logger.Info("watching usage", zap.Duration("interval", interval))

	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		case <-s.trigger:
			s.Refresh(ctx)
		}
	}
}
