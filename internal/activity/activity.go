// Package activity derives today's local message, session and tool-call
// counts from the Claude stats cache or, failing that, from session logs.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tnunamak/clawpulse/internal/cache"
	"github.com/tnunamak/clawpulse/internal/logger"
)

const (
	dateLayout = "2006-01-02"
	DefaultTTL = 5 * time.Minute
)

// Stats is one day of local activity.
type Stats struct {
	ActivityDate   string `json:"activityDate" yaml:"activityDate"`
	TodayMessages  int    `json:"todayMessages" yaml:"todayMessages"`
	TodaySessions  int    `json:"todaySessions" yaml:"todaySessions"`
	TodayToolCalls int    `json:"todayToolCalls" yaml:"todayToolCalls"`
}

type dailyActivity struct {
	Date          string `json:"date"`
	MessageCount  int    `json:"messageCount"`
	SessionCount  int    `json:"sessionCount"`
	ToolCallCount int    `json:"toolCallCount"`
}

type statsCache struct {
	DailyActivity []dailyActivity `json:"dailyActivity"`
}

func (d dailyActivity) stats() *Stats {
	return &Stats{
		ActivityDate:   d.Date,
		TodayMessages:  d.MessageCount,
		TodaySessions:  d.SessionCount,
		TodayToolCalls: d.ToolCallCount,
	}
}

type Options struct {
	StatsCachePath string
	ProjectsDir    string
	TTL            time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
}

// Aggregator is safe for concurrent use. Log scans are memoized for TTL
// and concurrent scans for the same day share one walk.
type Aggregator struct {
	statsCachePath string
	projectsDir    string
	now            func() time.Time
	logger         *zap.Logger

	memo  *cache.Memo[*Stats]
	group singleflight.Group
}

func New(opts Options) *Aggregator {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		statsCachePath: opts.StatsCachePath,
		projectsDir:    opts.ProjectsDir,
		now:            now,
		logger:         logger.OrNop(opts.Logger),
		memo:           cache.NewMemo[*Stats](ttl),
	}
}

// Today returns today's activity, the most recent cached day when today has
// no data, or nil when nothing is available. It never fails.
func (a *Aggregator) Today(ctx context.Context) (stats *Stats) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("local stats panicked", zap.Any("panic", r))
			stats = nil
		}
	}()

	now := a.now().UTC()
	today := now.Format(dateLayout)

	daily, err := a.readCache()
	if err != nil {
		a.logger.Debug("stats cache unreadable", zap.String("path", a.statsCachePath), zap.Error(err))
	}
	for _, d := range daily {
		if d.Date == today {
			return d.stats()
		}
	}

	if live := a.live(ctx, today); live != nil {
		return live
	}

	if len(daily) > 0 {
		sorted := append([]dailyActivity(nil), daily...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date > sorted[j].Date })
		return sorted[0].stats()
	}
	return nil
}

// Reset drops the memoized scan.
func (a *Aggregator) Reset() {
	a.memo.Reset()
}

// readCache returns nil without error when the cache file does not exist.
func (a *Aggregator) readCache() ([]dailyActivity, error) {
	if a.statsCachePath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(a.statsCachePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sc statsCache
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return sc.DailyActivity, nil
}

func (a *Aggregator) live(ctx context.Context, today string) *Stats {
	if s, ok := a.memo.Get(a.now()); ok && s.ActivityDate == today {
		return s
	}

	v, _, _ := a.group.Do(today, func() (any, error) {
		s := a.scan(ctx, today)
		if s != nil {
			a.memo.Set(s, a.now())
		}
		return s, nil
	})
	s, _ := v.(*Stats)
	return s
}
