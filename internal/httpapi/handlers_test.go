package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/danharris923/flyerflipper/internal/auth"
	"github.com/danharris923/flyerflipper/internal/config"
	"github.com/danharris923/flyerflipper/internal/db"
	"github.com/danharris923/flyerflipper/internal/dealstore"
	"github.com/danharris923/flyerflipper/internal/feed"
	"github.com/danharris923/flyerflipper/internal/globaltime"
	"github.com/danharris923/flyerflipper/internal/match"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	pool, err := db.NewPoolFromGorm(gdb)
	if err != nil {
		t.Fatalf("wrap pool: %v", err)
	}
	if err := pool.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	matcher, err := match.New(match.Options{})
	if err != nil {
		t.Fatalf("build matcher: %v", err)
	}

	return &Server{
		pool:    pool,
		deals:   dealstore.New(pool, zerolog.Nop()),
		matcher: matcher,
		cfg:     config.Config{},
		logger:  zerolog.Nop(),
	}
}

func seedDeal(t *testing.T, s *Server, merchant, name string, price float64) {
	t.Helper()

	now := globaltime.UTC()
	deal := feed.Deal{
		Name:         name,
		Category:     "dairy",
		Price:        price,
		SaleStart:    now.Add(-24 * time.Hour),
		SaleEnd:      now.Add(6 * 24 * time.Hour),
		ExternalID:   feed.ExternalID(merchant, name, price),
		MerchantName: merchant,
		Source:       "flipp",
	}
	if _, err := s.deals.Upsert(context.Background(), []feed.Deal{deal}); err != nil {
		t.Fatalf("seed deal %q: %v", name, err)
	}
}

func invokeHandler(t *testing.T, handler echo.HandlerFunc, target string, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for name, value := range params {
		c.SetParamNames(name)
		c.SetParamValues(value)
	}
	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()

	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := invokeHandler(t, s.handleHealth, "/api/v1/health", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Data   struct {
			Service string `json:"service"`
		} `json:"data"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "success" || body.Data.Service != "flyerflipper" {
		t.Fatalf("body = %s, want jsend success with service name", rec.Body.String())
	}
}

func TestHandleDealsListsPersisted(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	seedDeal(t, s, "metro", "Whole Milk 4L", 4.99)
	seedDeal(t, s, "metro", "White Bread", 2.99)

	rec := invokeHandler(t, s.handleDeals, "/api/v1/deals?q=milk", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Data   struct {
			Items      []dealResponse `json:"items"`
			Pagination struct {
				Total int64 `json:"total"`
			} `json:"pagination"`
		} `json:"data"`
	}
	decodeBody(t, rec, &body)
	if len(body.Data.Items) != 1 || body.Data.Items[0].Name != "Whole Milk 4L" {
		t.Fatalf("items = %+v, want only the milk deal", body.Data.Items)
	}
	if body.Data.Pagination.Total != 1 {
		t.Fatalf("total = %d, want 1", body.Data.Pagination.Total)
	}
}

func TestHandleDealsRejectsBadPage(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := invokeHandler(t, s.handleDeals, "/api/v1/deals?page=abc", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCompareDealsRanksByPrice(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	seedDeal(t, s, "metro", "Whole Milk 4L", 4.99)
	seedDeal(t, s, "sobeys", "Whole Milk 4L", 3.99)

	rec := invokeHandler(t, s.handleCompareDeals, "/api/v1/deals/compare?product=Whole+Milk", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data struct {
			BestDeal struct {
				StoreName string  `json:"store_name"`
				Price     float64 `json:"price"`
			} `json:"best_deal"`
			OtherDeals  []json.RawMessage `json:"other_deals"`
			TotalStores int               `json:"total_stores"`
		} `json:"data"`
	}
	decodeBody(t, rec, &body)
	if body.Data.BestDeal.StoreName != "Sobeys" || body.Data.BestDeal.Price != 3.99 {
		t.Fatalf("best deal = %+v, want the cheaper Sobeys milk", body.Data.BestDeal)
	}
	if len(body.Data.OtherDeals) != 1 || body.Data.TotalStores != 2 {
		t.Fatalf("got %d other deals across %d stores, want 1 and 2",
			len(body.Data.OtherDeals), body.Data.TotalStores)
	}
}

func TestHandleCompareDealsNotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	seedDeal(t, s, "metro", "Whole Milk 4L", 4.99)

	rec := invokeHandler(t, s.handleCompareDeals, "/api/v1/deals/compare?product=garden+furniture", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for a product with no deals", rec.Code)
	}

	rec = invokeHandler(t, s.handleCompareDeals, "/api/v1/deals/compare", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a missing product", rec.Code)
	}
}

func TestHandleStoresWithoutCoordinates(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	seedDeal(t, s, "metro", "Whole Milk 4L", 4.99)

	rec := invokeHandler(t, s.handleStores, "/api/v1/stores", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Data struct {
			Items []storeResponse `json:"items"`
			Total int             `json:"total"`
		} `json:"data"`
	}
	decodeBody(t, rec, &body)
	if body.Data.Total != 1 || body.Data.Items[0].Name != "Metro" {
		t.Fatalf("stores = %+v, want the single Metro store", body.Data.Items)
	}
}

func TestHandleStoresRejectsBadCoordinates(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := invokeHandler(t, s.handleStores, "/api/v1/stores?lat=91&lng=-79.38", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for latitude out of range", rec.Code)
	}
}

func TestHandleStoreDetail(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	seedDeal(t, s, "metro", "Whole Milk 4L", 4.99)

	store, err := s.deals.GetOrCreateStore(context.Background(), "metro")
	if err != nil {
		t.Fatalf("resolve store: %v", err)
	}

	rec := invokeHandler(t, s.handleStoreDetail, "/api/v1/stores/1",
		map[string]string{"store_id": "1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Data struct {
			Store storeResponse  `json:"store"`
			Deals []dealResponse `json:"deals"`
		} `json:"data"`
	}
	decodeBody(t, rec, &body)
	if body.Data.Store.ID != store.ID || body.Data.Store.ActiveDeals != 1 {
		t.Fatalf("store = %+v, want Metro with one active deal", body.Data.Store)
	}
	if len(body.Data.Deals) != 1 {
		t.Fatalf("got %d deals, want 1", len(body.Data.Deals))
	}

	rec = invokeHandler(t, s.handleStoreDetail, "/api/v1/stores/999",
		map[string]string{"store_id": "999"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown store", rec.Code)
	}

	rec = invokeHandler(t, s.handleStoreDetail, "/api/v1/stores/zero",
		map[string]string{"store_id": "zero"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a non-numeric id", rec.Code)
	}
}

func TestRequireAdminKey(t *testing.T) {
	t.Parallel()

	next := func(c echo.Context) error { return success(c, map[string]any{"ok": true}) }

	disabled := newTestServer(t)
	guarded := disabled.requireAdminKey()(next)
	rec := invokeHandler(t, guarded, "/api/v1/refresh", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when no admin key hash is configured", rec.Code)
	}

	hash, err := auth.HashKey("letmein")
	if err != nil {
		t.Fatalf("hash admin key: %v", err)
	}
	s := newTestServer(t)
	s.cfg.AdminKeyHash = hash
	guarded = s.requireAdminKey()(next)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
	req.Header.Set(adminKeyHeader, "wrong")
	rec = httptest.NewRecorder()
	if err := guarded(e.NewContext(req, rec)); err != nil {
		t.Fatalf("middleware error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for a wrong key", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
	req.Header.Set(adminKeyHeader, "letmein")
	rec = httptest.NewRecorder()
	if err := guarded(e.NewContext(req, rec)); err != nil {
		t.Fatalf("middleware error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with the correct key", rec.Code)
	}
}
