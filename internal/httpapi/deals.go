package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/danharris923/flyerflipper/internal/db"
	"github.com/danharris923/flyerflipper/internal/dealstore"
	"github.com/danharris923/flyerflipper/internal/feed"
	"github.com/danharris923/flyerflipper/internal/match"
	"github.com/danharris923/flyerflipper/internal/observability"
)

type dealResponse struct {
	ID              int64     `json:"id"`
	StoreID         int64     `json:"store_id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	Category        string    `json:"category"`
	Price           float64   `json:"price"`
	OriginalPrice   *float64  `json:"original_price,omitempty"`
	DiscountPercent *float64  `json:"discount_percent,omitempty"`
	ImageURL        *string   `json:"image_url,omitempty"`
	FlyerURL        *string   `json:"flyer_url,omitempty"`
	SaleStart       time.Time `json:"sale_start"`
	SaleEnd         time.Time `json:"sale_end"`
	Savings         *float64  `json:"savings,omitempty"`
	Language        string    `json:"language,omitempty"`
}

func toDealResponse(item db.FlyerItem) dealResponse {
	return dealResponse{
		ID:              item.ID,
		StoreID:         item.StoreID,
		Name:            item.Name,
		Description:     item.Description,
		Category:        item.Category,
		Price:           item.Price,
		OriginalPrice:   item.OriginalPrice,
		DiscountPercent: item.DiscountPercent,
		ImageURL:        item.ImageURL,
		FlyerURL:        item.FlyerURL,
		SaleStart:       item.SaleStart.UTC(),
		SaleEnd:         item.SaleEnd.UTC(),
		Savings:         item.Savings(),
		Language:        item.Language,
	}
}

// handleDeals answers GET /deals. With a postal code it searches the
// live feed (through the cache); otherwise it lists persisted deals.
func (s *Server) handleDeals(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	perPage, err := parsePositiveInt(c.QueryParam("per_page"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"per_page": err.Error()})
	}

	areaCode := strings.TrimSpace(c.QueryParam("postal_code"))
	if areaCode != "" {
		return s.handleLiveDeals(c, areaCode, perPage)
	}

	storeID := int64(0)
	if raw := strings.TrimSpace(c.QueryParam("store_id")); raw != "" {
		id, parseErr := parsePositiveInt(raw, 0, 1, 1<<31)
		if parseErr != nil {
			return failValidation(c, map[string]string{"store_id": parseErr.Error()})
		}
		storeID = int64(id)
	}

	items, total, err := s.deals.ListDeals(c.Request().Context(), dealstore.DealQuery{
		StoreID:    storeID,
		Category:   strings.TrimSpace(c.QueryParam("category")),
		Search:     strings.TrimSpace(c.QueryParam("q")),
		ActiveOnly: c.QueryParam("active") != "false",
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("list deals failed")
		return internalError(c, "Failed to load deals")
	}

	minDiscount, err := parseFloatParam(c.QueryParam("min_discount"))
	if err != nil {
		return failValidation(c, map[string]string{"min_discount": err.Error()})
	}

	responses := make([]dealResponse, 0, len(items))
	for _, item := range items {
		if minDiscount != nil && (item.DiscountPercent == nil || *item.DiscountPercent < *minDiscount) {
			continue
		}
		responses = append(responses, toDealResponse(item))
	}

	return success(c, map[string]any{
		"items": responses,
		"pagination": map[string]any{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

func (s *Server) handleLiveDeals(c echo.Context, areaCode string, perPage int) error {
	query := strings.TrimSpace(c.QueryParam("q"))

	var result feed.SearchResult
	if s.searches.GetSearch(c.Request().Context(), areaCode, query, &result) {
		observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return success(c, map[string]any{
			"items":  result.Items,
			"total":  result.Total,
			"cached": true,
		})
	}
	observability.CacheLookupsTotal.WithLabelValues("miss").Inc()

	searched, err := s.feedClient.Search(c.Request().Context(), areaCode, query, perPage*2)
	if err != nil {
		if errors.Is(err, feed.ErrInvalidAreaCode) {
			return failValidation(c, map[string]string{"postal_code": "must be a valid Canadian postal code"})
		}
		observability.FeedRequestsTotal.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("postal_code", areaCode).Msg("live deal search failed")
		return internalError(c, "Failed to search deals")
	}
	observability.FeedRequestsTotal.WithLabelValues("success").Inc()

	s.searches.SetSearch(c.Request().Context(), areaCode, query, searched)

	items := searched.Items
	if len(items) > perPage {
		items = items[:perPage]
	}
	return success(c, map[string]any{
		"items":  items,
		"total":  len(items),
		"cached": false,
	})
}

type comparedDeal struct {
	dealResponse
	StoreName string  `json:"store_name"`
	Score     float64 `json:"match_score"`
	Reason    string  `json:"relevance_reason"`
}

// handleCompareDeals answers GET /deals/compare: rank active deals for
// one product across stores, cheapest relevant deal first.
func (s *Server) handleCompareDeals(c echo.Context) error {
	product := strings.TrimSpace(c.QueryParam("product"))
	if product == "" {
		return failValidation(c, map[string]string{"product": "is required"})
	}

	items, err := s.deals.ActiveDealsMatching(c.Request().Context(), product, 200)
	if err != nil {
		s.logger.Error().Err(err).Str("product", product).Msg("deal comparison query failed")
		return internalError(c, "Failed to compare deals")
	}
	if len(items) == 0 {
		return failNotFound(c, "No deals found for product: "+product)
	}

	candidates := make([]match.Candidate, len(items))
	for i, item := range items {
		candidates[i] = match.Candidate{Name: item.Name, Price: item.Price}
	}

	ranked := s.matcher.FilterAndRank(product, candidates)
	if len(ranked) == 0 {
		return failNotFound(c, "No relevant deals found for product: "+product)
	}

	storeNames, err := s.storeNameIndex(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("store name lookup failed")
		return internalError(c, "Failed to compare deals")
	}

	compared := make([]comparedDeal, 0, len(ranked))
	storeSet := make(map[int64]bool)
	minPrice, maxPrice := items[ranked[0].Index].Price, items[ranked[0].Index].Price
	for _, m := range ranked {
		item := items[m.Index]
		storeSet[item.StoreID] = true
		if item.Price < minPrice {
			minPrice = item.Price
		}
		if item.Price > maxPrice {
			maxPrice = item.Price
		}
		compared = append(compared, comparedDeal{
			dealResponse: toDealResponse(item),
			StoreName:    storeNames[item.StoreID],
			Score:        m.Score,
			Reason:       m.Reason,
		})
	}

	best := compared[0]
	others := compared[1:]
	if len(others) > 4 {
		others = others[:4]
	}

	return success(c, map[string]any{
		"product_name": product,
		"category":     best.Category,
		"best_deal":    best,
		"other_deals":  others,
		"max_savings":  maxPrice - minPrice,
		"total_stores": len(storeSet),
	})
}

func (s *Server) storeNameIndex(ctx context.Context) (map[int64]string, error) {
	stores, err := s.deals.ListStores(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(stores))
	for _, store := range stores {
		names[store.ID] = store.Name
	}
	return names, nil
}
