package usage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tnunamak/clawpulse/internal/activity"
	"github.com/tnunamak/clawpulse/internal/api"
	"github.com/tnunamak/clawpulse/internal/credentials"
	"github.com/tnunamak/clawpulse/internal/oauth"
)

var fetchNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

const usageBody = `{
  "five_hour": {"utilization": 21, "resets_at": "2026-02-10T17:00:00+00:00"},
  "seven_day": {"utilization": 85, "resets_at": "2026-02-13T04:00:00+00:00"},
  "seven_day_sonnet": {"utilization": 2, "resets_at": null},
  "extra_usage": {"is_enabled": true, "utilization": 31, "used_credits": 1582, "monthly_limit": 5000}
}`

// --- Mock ---

type stubStats struct{ stats *activity.Stats }

func (s stubStats) Today(context.Context) *activity.Stats { return s.stats }

type panicStats struct{}

func (panicStats) Today(context.Context) *activity.Stats { panic("boom") }

type stubRefresher struct {
	token string
	err   error
	calls atomic.Int32
}

func (r *stubRefresher) Refresh(context.Context, string) (string, error) {
	r.calls.Add(1)
	return r.token, r.err
}

// --- Helpers ---

func writeCredentials(t *testing.T, body string) *credentials.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".credentials.json")
	if body != "" {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	return credentials.NewStore(path, nil)
}

func validCredentials(expiresAt int64) string {
	b, _ := json.Marshal(map[string]any{
		"claudeAiOauth": map[string]any{
			"accessToken":      "stored-at",
			"refreshToken":     "stored-rt",
			"expiresAt":        expiresAt,
			"scopes":           []string{"user:inference"},
			"subscriptionType": "max",
		},
	})
	return string(b)
}

type usageServer struct {
	*httptest.Server
	lastAuth atomic.Value
}

func newUsageServer(t *testing.T, status int, body string) *usageServer {
	t.Helper()
	s := &usageServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lastAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func newFetcher(store CredentialReader, srv *usageServer, refresher TokenRefresher, stats StatsSource) *Fetcher {
	return NewFetcher(Options{
		Store:     store,
		Refresher: refresher,
		Client:    api.New(api.Options{URL: srv.URL, HTTPClient: srv.Client()}),
		Stats:     stats,
		Now:       func() time.Time { return fetchNow },
	})
}

// --- Tests ---

func TestFetch_EndToEnd(t *testing.T) {
	store := writeCredentials(t, validCredentials(fetchNow.Add(time.Hour).UnixMilli()))
	srv := newUsageServer(t, http.StatusOK, usageBody)
	local := &activity.Stats{ActivityDate: "2026-02-10", TodayMessages: 3}
	refresher := &stubRefresher{}

	snap := newFetcher(store, srv, refresher, stubStats{local}).Fetch(context.Background())

	require.True(t, snap.OK(), "unexpected failure: %+v", snap.Err)
	assert.Equal(t, "Bearer stored-at", srv.lastAuth.Load())
	assert.Equal(t, int32(0), refresher.calls.Load())

	assert.Equal(t, fetchNow.UnixMilli(), snap.Timestamp)
	assert.InDelta(t, 0.21, snap.Session.Utilization, 1e-12)
	assert.Equal(t, time.Date(2026, 2, 10, 17, 0, 0, 0, time.UTC).Unix(), *snap.Session.Reset)
	assert.InDelta(t, 0.85, snap.Weekly.Utilization, 1e-12)
	assert.InDelta(t, 0.02, snap.WeeklySonnet.Utilization, 1e-12)
	assert.Nil(t, snap.WeeklySonnet.Reset)
	assert.Equal(t, "15.82", *snap.Overage.Spent)
	assert.Equal(t, "50.00", *snap.Overage.Limit)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix(), *snap.Overage.Reset)
	assert.Equal(t, StatusWarning, snap.OverallStatus)
	assert.Equal(t, "max", snap.SubscriptionType)
	assert.Equal(t, "unknown", snap.RateLimitTier)
	assert.Equal(t, local, snap.LocalStats)
	assert.Equal(t, "21%", snap.AllHeaders["five_hour.utilization"])
}

func TestFetch_RefreshesExpiredToken(t *testing.T) {
	store := writeCredentials(t, validCredentials(fetchNow.Add(-time.Minute).UnixMilli()))
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-at","refresh_token":"fresh-rt","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer tokenSrv.Close()
	srv := newUsageServer(t, http.StatusOK, usageBody)

	refresher := oauth.NewRefresher(oauth.RefresherOptions{
		ClientID:   "client-id",
		TokenURL:   tokenSrv.URL,
		HTTPClient: tokenSrv.Client(),
		Store:      store,
	})
	snap := newFetcher(store, srv, refresher, nil).Fetch(context.Background())

	require.True(t, snap.OK(), "unexpected failure: %+v", snap.Err)
	assert.Equal(t, "Bearer fresh-at", srv.lastAuth.Load())

	rec, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, "fresh-at", rec.AccessToken)
	assert.Equal(t, "fresh-rt", rec.RefreshToken)
	assert.Nil(t, snap.LocalStats)
}

func TestFetch_RefreshFailureFallsBackToStoredToken(t *testing.T) {
	store := writeCredentials(t, validCredentials(fetchNow.Add(-time.Minute).UnixMilli()))
	srv := newUsageServer(t, http.StatusOK, usageBody)
	refresher := &stubRefresher{err: errors.New("invalid_grant")}

	snap := newFetcher(store, srv, refresher, nil).Fetch(context.Background())

	require.True(t, snap.OK())
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, "Bearer stored-at", srv.lastAuth.Load())
}

func TestFetch_LogsRemainingTokenLifetime(t *testing.T) {
	store := writeCredentials(t, validCredentials(fetchNow.Add(90*time.Minute).UnixMilli()))
	srv := newUsageServer(t, http.StatusOK, usageBody)
	core, logs := observer.New(zapcore.DebugLevel)
	refresher := &stubRefresher{token: "never"}

	snap := NewFetcher(Options{
		Store:     store,
		Refresher: refresher,
		Client:    api.New(api.Options{URL: srv.URL, HTTPClient: srv.Client()}),
		Now:       func() time.Time { return fetchNow },
		Logger:    zap.New(core),
	}).Fetch(context.Background())

	require.True(t, snap.OK())
	assert.Equal(t, int32(0), refresher.calls.Load())
	entries := logs.FilterMessage("using stored token").All()
	require.Len(t, entries, 1)
	assert.Equal(t, 90*time.Minute, entries[0].ContextMap()["expires_in"])
}

func TestFetch_NoRefreshWithoutRefreshToken(t *testing.T) {
	store := writeCredentials(t, `{"claudeAiOauth":{"accessToken":"at","expiresAt":1}}`)
	srv := newUsageServer(t, http.StatusOK, usageBody)
	refresher := &stubRefresher{token: "never"}

	snap := newFetcher(store, srv, refresher, nil).Fetch(context.Background())

	require.True(t, snap.OK())
	assert.Equal(t, int32(0), refresher.calls.Load())
	assert.Equal(t, "Bearer at", srv.lastAuth.Load())
}

func TestFetch_Failures(t *testing.T) {
	valid := validCredentials(fetchNow.Add(time.Hour).UnixMilli())

	tests := []struct {
		name    string
		creds   string
		status  int
		body    string
		down    bool
		want    ErrorType
		message string
	}{
		{name: "no file", want: ErrCredentialsNotFound, message: "No credentials found. Please login to continue."},
		{name: "malformed file", creds: "{oops", want: ErrParse},
		{name: "no section", creds: `{"other":1}`, want: ErrNoOAuthData, message: "Error reading credentials: no_oauth_data"},
		{name: "empty token", creds: `{"claudeAiOauth":{"refreshToken":"rt"}}`, want: ErrNoToken, message: "No access token found. Please login to continue."},
		{name: "unauthorized", creds: valid, status: http.StatusUnauthorized, want: ErrAuthExpired, message: "Session expired. Please login again."},
		{name: "server error", creds: valid, status: http.StatusInternalServerError, want: ErrAPI, message: "API error (HTTP 500). Please try again later."},
		{name: "rate limited", creds: valid, status: http.StatusTooManyRequests, want: ErrAPI, message: "API error (HTTP 429). Please try again later."},
		{name: "garbage body", creds: valid, status: http.StatusOK, body: "<html>", want: ErrAPI},
		{name: "unreachable", creds: valid, down: true, want: ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := writeCredentials(t, tt.creds)
			srv := newUsageServer(t, tt.status, tt.body)
			if tt.down {
				srv.Close()
			}

			snap := newFetcher(store, srv, &stubRefresher{}, stubStats{}).Fetch(context.Background())

			require.NotNil(t, snap)
			require.False(t, snap.OK())
			assert.Equal(t, tt.want, snap.Err.Type)
			if tt.message != "" {
				assert.Equal(t, tt.message, snap.Err.Message)
			}
			if tt.want == ErrParse {
				assert.Contains(t, snap.Err.Message, "Error reading credentials: ")
			}
			if tt.want == ErrNetwork {
				assert.Contains(t, snap.Err.Message, "Network error: ")
			}
		})
	}
}

func TestFetch_RecoversPanic(t *testing.T) {
	store := writeCredentials(t, validCredentials(0))
	srv := newUsageServer(t, http.StatusOK, usageBody)

	snap := newFetcher(store, srv, nil, panicStats{}).Fetch(context.Background())

	require.False(t, snap.OK())
	assert.Equal(t, ErrUnexpected, snap.Err.Type)
	assert.Equal(t, "Unexpected error: boom", snap.Err.Message)
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	t.Run("error shape", func(t *testing.T) {
		b, err := json.Marshal(Fail(ErrAuthExpired, "Session expired. Please login again."))
		require.NoError(t, err)
		assert.JSONEq(t, `{"error":true,"errorType":"auth_expired","errorMessage":"Session expired. Please login again."}`, string(b))
	})

	t.Run("success shape", func(t *testing.T) {
		snap := Mock(fetchNow, nil)
		b, err := json.Marshal(snap)
		require.NoError(t, err)

		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m))
		assert.Equal(t, false, m["error"])
		assert.NotContains(t, m, "errorType")
		assert.Contains(t, m, "overage")
		assert.Contains(t, m, "localStats")
		assert.Equal(t, "active", m["overallStatus"])
	})

	t.Run("disabled overage stays present", func(t *testing.T) {
		b, err := json.Marshal(&Snapshot{OverallStatus: StatusActive})
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m))
		assert.Equal(t, map[string]any{"utilization": 0.0, "spent": nil, "limit": nil, "reset": nil}, m["overage"])
		assert.Equal(t, map[string]any{}, m["allHeaders"])
	})
}

func TestMock(t *testing.T) {
	local := &activity.Stats{ActivityDate: "2026-02-10"}
	snap := Mock(fetchNow, local)

	require.True(t, snap.OK())
	assert.Equal(t, time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC).Unix(), *snap.Session.Reset)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix(), *snap.Overage.Reset)
	assert.Equal(t, local, snap.LocalStats)
	assert.True(t, ErrAuthExpired.NeedsLogin())
	assert.False(t, ErrNetwork.NeedsLogin())
}
