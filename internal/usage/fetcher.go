package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/clawpulse/internal/activity"
	"github.com/tnunamak/clawpulse/internal/api"
	"github.com/tnunamak/clawpulse/internal/credentials"
	"github.com/tnunamak/clawpulse/internal/logger"
)

type CredentialReader interface {
	Read() (*credentials.Record, error)
}

type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

type UsageClient interface {
	FetchUsage(ctx context.Context, accessToken string) (*api.UsageResponse, error)
}

type StatsSource interface {
	Today(ctx context.Context) *activity.Stats
}

type Options struct {
	Store     CredentialReader
	Refresher TokenRefresher
	Client    UsageClient
	// Stats may be nil, in which case LocalStats is always nil.
	Stats  StatsSource
	Now    func() time.Time
	Logger *zap.Logger
}

// Fetcher produces Snapshots. Fetch never fails: every problem becomes an
// error-shaped Snapshot.
type Fetcher struct {
	store     CredentialReader
	refresher TokenRefresher
	client    UsageClient
	stats     StatsSource
	now       func() time.Time
	logger    *zap.Logger
}

func NewFetcher(opts Options) *Fetcher {
	f := &Fetcher{
		store:     opts.Store,
		refresher: opts.Refresher,
		client:    opts.Client,
		stats:     opts.Stats,
		now:       opts.Now,
		logger:    logger.OrNop(opts.Logger),
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

func (f *Fetcher) Fetch(ctx context.Context) (snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("usage fetch panicked", zap.Any("panic", r))
			snap = Fail(ErrUnexpected, fmt.Sprintf("Unexpected error: %v", r))
		}
	}()
	return f.fetch(ctx)
}

func (f *Fetcher) fetch(ctx context.Context) *Snapshot {
	rec, err := f.store.Read()
	if err != nil {
		return credentialFailure(err)
	}
	if rec.AccessToken == "" {
		return Fail(ErrNoToken, "No access token found. Please login to continue.")
	}

	token := rec.AccessToken
	expired := rec.Expired(f.now())
	if !expired && rec.ExpiresAt != 0 {
		f.logger.Debug("using stored token", zap.Duration("expires_in", rec.ExpiresIn(f.now())))
	}
	if expired && rec.CanRefresh() && f.refresher != nil {
		fresh, err := f.refresher.Refresh(ctx, rec.RefreshToken)
		if err != nil {
			// The server may still accept the old token.
			f.logger.Warn("refresh failed, using stored token", zap.Error(err))
		} else {
			token = fresh
		}
	}

	resp, err := f.client.FetchUsage(ctx, token)
	if err != nil {
		return apiFailure(err)
	}

	now := f.now()
	snap := normalize(resp, now)
	snap.Timestamp = now.UnixMilli()
	snap.SubscriptionType = rec.Subscription()
	snap.RateLimitTier = rec.Tier()
	if f.stats != nil {
		snap.LocalStats = f.stats.Today(ctx)
	}
	return snap
}

func credentialFailure(err error) *Snapshot {
	var ce *credentials.Error
	if !errors.As(err, &ce) {
		return Fail(ErrParse, "Error reading credentials: "+err.Error())
	}
	if ce.Kind == credentials.KindNotFound {
		return Fail(ErrCredentialsNotFound, "No credentials found. Please login to continue.")
	}
	msg := string(ce.Kind)
	if ce.Err != nil {
		msg = ce.Err.Error()
	}
	return Fail(ErrorType(ce.Kind), "Error reading credentials: "+msg)
}

func apiFailure(err error) *Snapshot {
	var se *api.StatusError
	switch {
	case errors.As(err, &se) && se.Unauthorized():
		return Fail(ErrAuthExpired, "Session expired. Please login again.")
	case errors.As(err, &se):
		return Fail(ErrAPI, fmt.Sprintf("API error (HTTP %d). Please try again later.", se.StatusCode))
	case errors.Is(err, api.ErrDecode):
		return Fail(ErrAPI, "API error (unreadable response). Please try again later.")
	default:
		return Fail(ErrNetwork, "Network error: "+err.Error())
	}
}
