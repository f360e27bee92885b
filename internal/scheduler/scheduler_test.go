package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danharris923/flyerflipper/internal/config"
	"github.com/danharris923/flyerflipper/internal/db"
	"github.com/danharris923/flyerflipper/internal/dealstore"
	"github.com/danharris923/flyerflipper/internal/feed"
)

type fakeFeed struct {
	failFor string
	calls   []string
}

func (f *fakeFeed) BulkRefresh(_ context.Context, areaCode string) (*feed.BulkResult, error) {
	f.calls = append(f.calls, areaCode)
	if areaCode == f.failFor {
		return nil, errors.New("feed unavailable")
	}
	return &feed.BulkResult{
		Items: []feed.Deal{
			{Name: "Whole Milk 4L", Price: 4.99, ExternalID: "abc123", MerchantName: "metro"},
		},
		Total:    1,
		AreaCode: areaCode,
	}, nil
}

type fakeSink struct {
	stores []db.Store

	upserted    [][]feed.Deal
	cleanupDays []int
	listCalls   int
}

func (f *fakeSink) UpsertMatched(_ context.Context, deals []feed.Deal) (dealstore.UpsertResult, error) {
	f.upserted = append(f.upserted, deals)
	return dealstore.UpsertResult{Saved: len(deals)}, nil
}

func (f *fakeSink) CleanupExpired(_ context.Context, cutoffDays int) (int64, error) {
	f.cleanupDays = append(f.cleanupDays, cutoffDays)
	return 2, nil
}

func (f *fakeSink) ListStores(context.Context) ([]db.Store, error) {
	f.listCalls++
	return f.stores, nil
}

func (f *fakeSink) UpdateStoreMetadata(context.Context, int64, *float64, *string, *string) error {
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Timezone:         "UTC",
		RefreshDay:       "THU",
		RefreshHour:      6,
		CleanupHour:      2,
		StoreRefreshDay:  "SUN",
		StoreRefreshHour: 3,
	}
}

func newTestScheduler(feedClient FeedRefresher, deals DealSink) *Scheduler {
	return New(testConfig(), feedClient, deals, nil, nil, zerolog.Nop(), Options{
		AreaDelay:  time.Millisecond,
		StoreDelay: time.Millisecond,
	})
}

func TestExtractAreaCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		address string
		want    string
	}{
		{"123 Queen St W, Toronto, ON M5V 2T6, Canada", "M5V2T6"},
		{"456 Rue Sainte-Catherine, Montreal QC H2X1Y4", "H2X1Y4"},
		{"789 king st, hamilton on l8p 1a1", "L8P1A1"},
		{"Online/Multiple Locations", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractAreaCode(tt.address); got != tt.want {
			t.Errorf("ExtractAreaCode(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestCollectAreaCodesDeduplicates(t *testing.T) {
	t.Parallel()

	stores := []db.Store{
		{Address: "123 Queen St W, Toronto ON M5V 2T6"},
		{Address: "200 Bay St, Toronto ON M5V 2T6"},
		{Address: "Online/Multiple Locations"},
		{Address: "456 Rue Sainte-Catherine, Montreal QC H2X 1Y4"},
	}

	got := collectAreaCodes(stores)
	want := []string{"M5V2T6", "H2X1Y4"}
	if len(got) != len(want) {
		t.Fatalf("collectAreaCodes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("collectAreaCodes()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()

	sched := newTestScheduler(&fakeFeed{}, &fakeSink{})

	if sched.Running() {
		t.Fatalf("scheduler running before Start()")
	}
	if err := sched.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !sched.Running() {
		t.Fatalf("scheduler not running after Start()")
	}

	// Second Start must be a no-op, not an error.
	if err := sched.Start(); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if sched.Running() {
		t.Fatalf("scheduler still running after Shutdown()")
	}
	if err := sched.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() on stopped scheduler error: %v", err)
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	sched := New(cfg, &fakeFeed{}, &fakeSink{}, nil, nil, zerolog.Nop(), Options{})

	if err := sched.Start(); err == nil {
		t.Fatalf("Start() accepted unknown timezone")
	}
	if sched.Running() {
		t.Fatalf("scheduler running after failed Start()")
	}
}

func TestRefreshAllIsolatesAreaFailures(t *testing.T) {
	t.Parallel()

	feedClient := &fakeFeed{failFor: "H2X1Y4"}
	sink := &fakeSink{stores: []db.Store{
		{ID: 1, Name: "Metro", Address: "123 Queen St W, Toronto ON M5V 2T6"},
		{ID: 2, Name: "IGA", Address: "456 Rue Sainte-Catherine, Montreal QC H2X 1Y4"},
		{ID: 3, Name: "Placeholder", Address: "Online/Multiple Locations"},
	}}
	sched := newTestScheduler(feedClient, sink)

	stats := sched.RefreshAll(context.Background())

	if stats.AreaCodes != 2 {
		t.Fatalf("AreaCodes = %d, want 2", stats.AreaCodes)
	}
	if stats.NewItems != 1 {
		t.Fatalf("NewItems = %d, want 1 from the healthy area", stats.NewItems)
	}
	if len(stats.Errors) != 1 || !strings.Contains(stats.Errors[0], "H2X1Y4") {
		t.Fatalf("Errors = %v, want one mentioning the failed area", stats.Errors)
	}
	if len(feedClient.calls) != 2 {
		t.Fatalf("feed called for %v, want both areas despite the failure", feedClient.calls)
	}
	if len(sink.upserted) != 1 {
		t.Fatalf("persisted %d batches, want 1", len(sink.upserted))
	}
}

func TestRefreshAllHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &fakeSink{stores: []db.Store{
		{ID: 1, Address: "123 Queen St W, Toronto ON M5V 2T6"},
	}}
	sched := newTestScheduler(&fakeFeed{}, sink)

	stats := sched.RefreshAll(ctx)
	if len(stats.Errors) == 0 {
		t.Fatalf("expected cancellation to surface in stats errors")
	}
	if len(sink.upserted) != 0 {
		t.Fatalf("persisted %d batches after cancellation, want 0", len(sink.upserted))
	}
}

func TestCleanupExpiredUsesWeekCutoff(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	sched := newTestScheduler(&fakeFeed{}, sink)

	sched.CleanupExpired(context.Background())

	if len(sink.cleanupDays) != 1 || sink.cleanupDays[0] != 7 {
		t.Fatalf("cleanup cutoffs = %v, want a single 7-day cutoff", sink.cleanupDays)
	}
}

func TestRefreshStoreDataSkipsWhenPlacesDisabled(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{stores: []db.Store{{ID: 1, Name: "Metro"}}}
	sched := newTestScheduler(&fakeFeed{}, sink)

	sched.RefreshStoreData(context.Background())

	if sink.listCalls != 0 {
		t.Fatalf("store refresh touched the database with places lookups disabled")
	}
}
