package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/danharris923/flyerflipper/internal/auth"
	"github.com/danharris923/flyerflipper/internal/feed"
	"github.com/danharris923/flyerflipper/internal/globaltime"
)

const adminKeyHeader = "X-Admin-Key"

// requireAdminKey guards mutating endpoints with the configured admin
// key hash. No hash configured means the endpoints are disabled.
func (s *Server) requireAdminKey() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.TrimSpace(s.cfg.AdminKeyHash) == "" {
				return fail(c, http.StatusServiceUnavailable, "Admin endpoints are disabled", nil)
			}
			if !auth.VerifyKey(c.Request().Header.Get(adminKeyHeader), s.cfg.AdminKeyHash) {
				return fail(c, http.StatusUnauthorized, "Invalid admin key", nil)
			}
			return next(c)
		}
	}
}

// handleRefresh answers POST /refresh: kick off a bulk refresh for a
// postal code in the background and return immediately.
func (s *Server) handleRefresh(c echo.Context) error {
	areaCode, err := feed.NormalizeAreaCode(c.QueryParam("postal_code"))
	if err != nil {
		return failValidation(c, map[string]string{"postal_code": "must be a valid Canadian postal code"})
	}

	taskID := uuid.NewString()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		result, refreshErr := s.feedClient.BulkRefresh(ctx, areaCode)
		if refreshErr != nil {
			s.logger.Error().Err(refreshErr).Str("task_id", taskID).Str("postal_code", areaCode).Msg("background refresh failed")
			return
		}

		upsert, saveErr := s.deals.Upsert(ctx, result.Items)
		if saveErr != nil {
			s.logger.Error().Err(saveErr).Str("task_id", taskID).Str("postal_code", areaCode).Msg("background refresh persist failed")
			return
		}

		s.searches.InvalidateArea(ctx, areaCode)
		s.logger.Info().
			Str("task_id", taskID).
			Str("postal_code", areaCode).
			Int("fetched", result.Total).
			Int("saved", upsert.Saved).
			Int("updated", upsert.Updated).
			Msg("background refresh completed")
	}()

	return successWithStatus(c, http.StatusAccepted, map[string]any{
		"message":     "Deal refresh initiated for postal code: " + areaCode,
		"postal_code": areaCode,
		"task_id":     taskID,
		"status":      "background_task_started",
	})
}

// handleFeedTest answers POST /feed/test: run feed connectivity and a
// small trial search.
func (s *Server) handleFeedTest(c echo.Context) error {
	areaCode := strings.TrimSpace(c.QueryParam("postal_code"))
	if areaCode == "" {
		areaCode = "K1A0A6"
	}
	normalized, err := feed.NormalizeAreaCode(areaCode)
	if err != nil {
		return failValidation(c, map[string]string{"postal_code": "must be a valid Canadian postal code"})
	}
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		query = "milk"
	}

	ctx := c.Request().Context()
	connection := s.feedClient.TestConnection(ctx, normalized)

	searchTest := map[string]any{"query": query}
	search, err := s.feedClient.Search(ctx, normalized, query, 5)
	if err != nil {
		if errors.Is(err, feed.ErrInvalidAreaCode) {
			return failValidation(c, map[string]string{"postal_code": "must be a valid Canadian postal code"})
		}
		searchTest["error"] = err.Error()
	} else {
		searchTest["items_found"] = len(search.Items)
		if len(search.Items) > 0 {
			searchTest["sample_item"] = search.Items[0]
		}
	}

	return success(c, map[string]any{
		"connection_test": connection,
		"search_test":     searchTest,
		"timestamp":       globaltime.UTC(),
	})
}
