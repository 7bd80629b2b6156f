package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/tnunamak/clawpulse/internal/credentials"
	"github.com/tnunamak/clawpulse/internal/logger"
	"github.com/tnunamak/clawpulse/internal/metrics"
)

// CredentialStore is the subset of credentials.Store the OAuth code needs.
type CredentialStore interface {
	Read() (*credentials.Record, error)
	Write(rec *credentials.Record) error
}

type RefresherOptions struct {
	ClientID   string
	TokenURL   string
	HTTPClient *http.Client
	Store      CredentialStore
	Logger     *zap.Logger
}

// Refresher exchanges a refresh token for a new access token and records
// the result in the credential store.
type Refresher struct {
	conf   *oauth2.Config
	http   *http.Client
	store  CredentialStore
	logger *zap.Logger
}

func NewRefresher(opts RefresherOptions) *Refresher {
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Refresher{
		conf: &oauth2.Config{
			ClientID: opts.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:   hc,
		store:  opts.Store,
		logger: logger.OrNop(opts.Logger),
	}
}

// Refresh posts grant_type=refresh_token and persists the new access token,
// a rotated refresh token if one was issued, and the new expiry. On any
// failure the stored credentials are left exactly as they were.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	accessToken, err := r.refresh(ctx, refreshToken)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		r.logger.Warn("token refresh failed", zap.Error(err))
		return "", err
	}
	metrics.TokenRefreshTotal.WithLabelValues("ok").Inc()
	r.logger.Info("access token refreshed")
	return accessToken, nil
}

func (r *Refresher) refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", errors.New("no refresh token")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.http)
	tok, err := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", describe(err))
	}

	rec, err := r.store.Read()
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	rec.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		rec.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		rec.ExpiresAt = tok.Expiry.UnixMilli()
	}
	if err := r.store.Write(rec); err != nil {
		return "", fmt.Errorf("save credentials: %w", err)
	}
	return tok.AccessToken, nil
}

// describe prefers the server's error_description over the raw body.
func describe(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	switch {
	case re.ErrorDescription != "":
		return fmt.Errorf("%s: %w", re.ErrorDescription, err)
	case re.ErrorCode != "":
		return fmt.Errorf("%s: %w", re.ErrorCode, err)
	}
	return err
}
