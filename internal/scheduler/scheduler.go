// Package scheduler runs the recurring background jobs: the weekly
// flyer refresh, daily cleanup of expired deals, and weekly store
// metadata refresh. Jobs run in the configured market timezone and a
// slow run suppresses the next firing instead of overlapping it.
package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/danharris923/flyerflipper/internal/cache"
	"github.com/danharris923/flyerflipper/internal/config"
	"github.com/danharris923/flyerflipper/internal/db"
	"github.com/danharris923/flyerflipper/internal/dealstore"
	"github.com/danharris923/flyerflipper/internal/feed"
	"github.com/danharris923/flyerflipper/internal/observability"
	"github.com/danharris923/flyerflipper/internal/places"
)

// Relaxed variant of the postal code grammar: addresses usually embed
// the code with its interior space ("M5V 2T6").
var addressPostalPattern = regexp.MustCompile(`[A-Z]\d[A-Z]\s?\d[A-Z]\d`)

// FeedRefresher is the slice of the feed client the scheduler needs.
type FeedRefresher interface {
	BulkRefresh(ctx context.Context, areaCode string) (*feed.BulkResult, error)
}

// DealSink is the slice of the deal store the scheduler needs.
type DealSink interface {
	UpsertMatched(ctx context.Context, deals []feed.Deal) (dealstore.UpsertResult, error)
	CleanupExpired(ctx context.Context, cutoffDays int) (int64, error)
	ListStores(ctx context.Context) ([]db.Store, error)
	UpdateStoreMetadata(ctx context.Context, id int64, rating *float64, phone, website *string) error
}

// Options configures a Scheduler. Delay fields exist for tests; zero
// values take production defaults.
type Options struct {
	AreaDelay  time.Duration
	StoreDelay time.Duration
}

type Scheduler struct {
	cfg        config.Config
	feedClient FeedRefresher
	deals      DealSink
	placesAPI  *places.Client
	searches   *cache.Cache
	logger     zerolog.Logger

	areaDelay  time.Duration
	storeDelay time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func New(cfg config.Config, feedClient FeedRefresher, deals DealSink, placesAPI *places.Client, searches *cache.Cache, logger zerolog.Logger, opts Options) *Scheduler {
	areaDelay := opts.AreaDelay
	if areaDelay <= 0 {
		areaDelay = 5 * time.Second
	}
	storeDelay := opts.StoreDelay
	if storeDelay <= 0 {
		storeDelay = 2 * time.Second
	}

	return &Scheduler{
		cfg:        cfg,
		feedClient: feedClient,
		deals:      deals,
		placesAPI:  placesAPI,
		searches:   searches,
		logger:     logger,
		areaDelay:  areaDelay,
		storeDelay: storeDelay,
	}
}

// Start registers and launches the cron jobs. Calling Start on a
// running scheduler logs a warning and does nothing.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("scheduler already running")
		return nil
	}

	location, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load scheduler timezone %q: %w", s.cfg.Timezone, err)
	}

	cronLog := cronLogger{logger: s.logger}
	runner := cron.New(
		cron.WithLocation(location),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLog),
			cron.Recover(cronLog),
		),
	)

	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{
			name: "weekly flyer refresh",
			spec: fmt.Sprintf("0 %d * * %s", s.cfg.RefreshHour, s.cfg.RefreshDay),
			fn:   func() { s.RefreshAll(context.Background()) },
		},
		{
			name: "daily expired deal cleanup",
			spec: fmt.Sprintf("0 %d * * *", s.cfg.CleanupHour),
			fn:   func() { s.CleanupExpired(context.Background()) },
		},
		{
			name: "weekly store data refresh",
			spec: fmt.Sprintf("0 %d * * %s", s.cfg.StoreRefreshHour, s.cfg.StoreRefreshDay),
			fn:   func() { s.RefreshStoreData(context.Background()) },
		},
	}

	for _, job := range jobs {
		if _, err := runner.AddFunc(job.spec, job.fn); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.name, job.spec, err)
		}
		s.logger.Info().Str("job", job.name).Str("spec", job.spec).Msg("job scheduled")
	}

	runner.Start()
	s.cron = runner
	s.running = true
	s.logger.Info().Str("timezone", s.cfg.Timezone).Msg("scheduler started")
	return nil
}

// Shutdown stops the cron loop and waits for in-flight jobs, bounded
// by the context deadline.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info().Msg("scheduler shut down")
	case <-ctx.Done():
		s.logger.Warn().Msg("scheduler shutdown timed out with jobs still running")
	}

	s.cron = nil
	s.running = false
	return ctx.Err()
}

// Running reports whether the cron loop is live.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RefreshStats aggregates one full refresh pass.
type RefreshStats struct {
	AreaCodes int      `json:"postal_codes"`
	NewItems  int      `json:"new_items"`
	Updated   int      `json:"updated_items"`
	Errors    []string `json:"errors,omitempty"`
}

// RefreshAll refreshes flyer data for every postal code found in the
// store table. Per-area failures are collected, never fatal.
func (s *Scheduler) RefreshAll(ctx context.Context) RefreshStats {
	s.logger.Info().Msg("starting flyer refresh for all areas")

	var stats RefreshStats

	stores, err := s.deals.ListStores(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("flyer refresh aborted: cannot list stores")
		stats.Errors = append(stats.Errors, err.Error())
		return stats
	}

	areaCodes := collectAreaCodes(stores)
	stats.AreaCodes = len(areaCodes)
	s.logger.Info().Int("postal_codes", len(areaCodes)).Msg("areas discovered for refresh")

	for i, areaCode := range areaCodes {
		if ctx.Err() != nil {
			stats.Errors = append(stats.Errors, ctx.Err().Error())
			return stats
		}

		saved, updated, err := s.refreshArea(ctx, areaCode)
		if err != nil {
			msg := fmt.Sprintf("failed to refresh flyers for %s: %v", areaCode, err)
			s.logger.Error().Str("postal_code", areaCode).Err(err).Msg("area refresh failed")
			stats.Errors = append(stats.Errors, msg)
		} else {
			stats.NewItems += saved
			stats.Updated += updated
		}

		if i < len(areaCodes)-1 {
			select {
			case <-ctx.Done():
				stats.Errors = append(stats.Errors, ctx.Err().Error())
				return stats
			case <-time.After(s.areaDelay):
			}
		}
	}

	s.logger.Info().
		Int("new", stats.NewItems).
		Int("updated", stats.Updated).
		Int("errors", len(stats.Errors)).
		Msg("flyer refresh completed")
	return stats
}

func (s *Scheduler) refreshArea(ctx context.Context, areaCode string) (saved, updated int, err error) {
	start := time.Now()
	defer func() {
		observability.RefreshDuration.Observe(time.Since(start).Seconds())
	}()

	result, err := s.feedClient.BulkRefresh(ctx, areaCode)
	if err != nil {
		return 0, 0, err
	}

	upsert, err := s.deals.UpsertMatched(ctx, result.Items)
	if err != nil {
		return 0, 0, err
	}

	observability.DealsIngestedTotal.WithLabelValues("saved").Add(float64(upsert.Saved))
	observability.DealsIngestedTotal.WithLabelValues("updated").Add(float64(upsert.Updated))
	observability.DealsIngestedTotal.WithLabelValues("skipped").Add(float64(upsert.Skipped))

	s.searches.InvalidateArea(ctx, areaCode)

	s.logger.Info().
		Str("postal_code", areaCode).
		Int("new", upsert.Saved).
		Int("updated", upsert.Updated).
		Msg("area refresh persisted")
	return upsert.Saved, upsert.Updated, nil
}

// CleanupExpired removes deals whose sale ended over a week ago.
func (s *Scheduler) CleanupExpired(ctx context.Context) {
	s.logger.Info().Msg("starting cleanup of expired deals")

	deleted, err := s.deals.CleanupExpired(ctx, 7)
	if err != nil {
		s.logger.Error().Err(err).Msg("cleanup failed")
		return
	}
	observability.DealsCleanedTotal.Add(float64(deleted))
}

// RefreshStoreData updates store contact details from the places API.
// A no-op when store discovery is disabled.
func (s *Scheduler) RefreshStoreData(ctx context.Context) {
	if s.placesAPI == nil {
		s.logger.Warn().Msg("places lookup disabled; skipping store refresh")
		return
	}

	s.logger.Info().Msg("starting store data refresh")

	stores, err := s.deals.ListStores(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("store refresh aborted: cannot list stores")
		return
	}

	refreshed := 0
	for _, store := range stores {
		if ctx.Err() != nil {
			return
		}

		results, err := s.placesAPI.NearbySearch(ctx, store.Lat, store.Lng, 100, 1)
		if err != nil {
			s.logger.Error().Err(err).Int64("store_id", store.ID).Msg("store lookup failed")
			continue
		}
		if len(results) > 0 {
			place := results[0]
			if err := s.deals.UpdateStoreMetadata(ctx, store.ID, place.Rating, place.Phone, place.Website); err != nil {
				s.logger.Error().Err(err).Int64("store_id", store.ID).Msg("store update failed")
				continue
			}
			refreshed++
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.storeDelay):
		}
	}

	s.logger.Info().Int("refreshed", refreshed).Msg("store data refresh completed")
}

// collectAreaCodes extracts the unique postal codes embedded in store
// addresses, preserving first-seen order.
func collectAreaCodes(stores []db.Store) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, store := range stores {
		code := ExtractAreaCode(store.Address)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

// ExtractAreaCode pulls the first Canadian postal code out of a
// free-form address, with its interior space removed.
func ExtractAreaCode(address string) string {
	if address == "" {
		return ""
	}
	match := addressPostalPattern.FindString(strings.ToUpper(address))
	return strings.ReplaceAll(match, " ", "")
}

// cronLogger adapts zerolog to the cron logging interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
