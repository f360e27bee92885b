package httpapi

import (
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/danharris923/flyerflipper/internal/db"
	"github.com/danharris923/flyerflipper/internal/globaltime"
	"github.com/danharris923/flyerflipper/internal/places"
)

type storeResponse struct {
	ID          int64    `json:"id"`
	PlaceID     string   `json:"place_id"`
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Phone       *string  `json:"phone,omitempty"`
	Website     *string  `json:"website,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	StoreType   *string  `json:"store_type,omitempty"`
	Distance    *float64 `json:"distance,omitempty"`
	ActiveDeals int      `json:"active_deals_count"`
}

func toStoreResponse(store db.Store) storeResponse {
	active := 0
	now := globaltime.UTC()
	for _, item := range store.FlyerItems {
		if item.IsActive(now) {
			active++
		}
	}
	return storeResponse{
		ID:          store.ID,
		PlaceID:     store.PlaceID,
		Name:        store.Name,
		Address:     store.Address,
		Lat:         store.Lat,
		Lng:         store.Lng,
		Phone:       store.Phone,
		Website:     store.Website,
		Rating:      store.Rating,
		StoreType:   store.StoreType,
		ActiveDeals: active,
	}
}

// handleStores answers GET /stores. With lat/lng it merges fresh
// places results into the store table and returns everything within
// the radius, nearest first. Without coordinates it lists all stores.
func (s *Server) handleStores(c echo.Context) error {
	latParam := strings.TrimSpace(c.QueryParam("lat"))
	lngParam := strings.TrimSpace(c.QueryParam("lng"))

	if latParam == "" && lngParam == "" {
		stores, err := s.deals.ListStores(c.Request().Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("list stores failed")
			return internalError(c, "Failed to load stores")
		}
		responses := make([]storeResponse, 0, len(stores))
		for _, store := range stores {
			responses = append(responses, toStoreResponse(store))
		}
		return success(c, map[string]any{"items": responses, "total": len(responses)})
	}

	lat, err := strconv.ParseFloat(latParam, 64)
	if err != nil || lat < -90 || lat > 90 {
		return failValidation(c, map[string]string{"lat": "must be between -90 and 90"})
	}
	lng, err := strconv.ParseFloat(lngParam, 64)
	if err != nil || lng < -180 || lng > 180 {
		return failValidation(c, map[string]string{"lng": "must be between -180 and 180"})
	}
	radius, err := parsePositiveInt(c.QueryParam("radius"), 5000, 100, 50000)
	if err != nil {
		return failValidation(c, map[string]string{"radius": err.Error()})
	}
	maxResults, err := parsePositiveInt(c.QueryParam("max_results"), 20, 1, 100)
	if err != nil {
		return failValidation(c, map[string]string{"max_results": err.Error()})
	}

	ctx := c.Request().Context()

	// Discovery is best effort; the database answers regardless.
	if s.placesAPI != nil {
		found, searchErr := s.placesAPI.NearbySearch(ctx, lat, lng, radius, min(maxResults, 20))
		if searchErr != nil {
			s.logger.Error().Err(searchErr).Msg("nearby store discovery failed")
		} else {
			s.mergeDiscoveredStores(c, found)
		}
	}

	stores, err := s.deals.ListStores(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list stores failed")
		return internalError(c, "Failed to load stores")
	}

	radiusKm := float64(radius) / 1000
	responses := make([]storeResponse, 0, len(stores))
	for _, store := range stores {
		distance := places.Haversine(lat, lng, store.Lat, store.Lng)
		if distance > radiusKm {
			continue
		}
		resp := toStoreResponse(store)
		resp.Distance = &distance
		responses = append(responses, resp)
	}

	sort.Slice(responses, func(a, b int) bool {
		return *responses[a].Distance < *responses[b].Distance
	})
	if len(responses) > maxResults {
		responses = responses[:maxResults]
	}

	return success(c, map[string]any{"items": responses, "total": len(responses)})
}

func (s *Server) mergeDiscoveredStores(c echo.Context, found []places.Place) {
	ctx := c.Request().Context()
	gdb := s.pool.GORM().WithContext(ctx)
	now := globaltime.UTC()

	for _, place := range found {
		var existing db.Store
		err := gdb.Where("place_id = ?", place.PlaceID).First(&existing).Error
		switch {
		case err == nil:
			updates := map[string]any{"updated_at": now}
			if place.Rating != nil {
				updates["rating"] = *place.Rating
			}
			if place.Phone != nil {
				updates["phone"] = *place.Phone
			}
			if place.Website != nil {
				updates["website"] = *place.Website
			}
			if updateErr := gdb.Model(&existing).Updates(updates).Error; updateErr != nil {
				s.logger.Error().Err(updateErr).Str("place_id", place.PlaceID).Msg("store update failed")
			}
		case db.IsNoRows(err):
			storeType := place.StoreType
			store := db.Store{
				PlaceID:   place.PlaceID,
				Name:      place.Name,
				Address:   place.Address,
				Lat:       place.Lat,
				Lng:       place.Lng,
				Phone:     place.Phone,
				Website:   place.Website,
				Rating:    place.Rating,
				StoreType: &storeType,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if createErr := gdb.Create(&store).Error; createErr != nil {
				s.logger.Error().Err(createErr).Str("place_id", place.PlaceID).Msg("store create failed")
			}
		default:
			s.logger.Error().Err(err).Str("place_id", place.PlaceID).Msg("store lookup failed")
		}
	}
}

func (s *Server) handleStoreDetail(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("store_id"), 10, 64)
	if err != nil || id < 1 {
		return failValidation(c, map[string]string{"store_id": "must be a positive integer"})
	}

	store, err := s.deals.GetStore(c.Request().Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Int64("store_id", id).Msg("store detail query failed")
		return internalError(c, "Failed to load store")
	}
	if store == nil {
		return failNotFound(c, "Store not found")
	}

	resp := toStoreResponse(*store)
	deals := make([]dealResponse, 0, len(store.FlyerItems))
	for _, item := range store.FlyerItems {
		deals = append(deals, toDealResponse(item))
	}

	return success(c, map[string]any{
		"store": resp,
		"deals": deals,
	})
}
