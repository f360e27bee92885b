// Package dealstore persists normalized deals and answers deal and
// store queries. Writes are idempotent: re-ingesting the same feed
// batch updates rows in place instead of duplicating them.
package dealstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/danharris923/flyerflipper/internal/db"
	"github.com/danharris923/flyerflipper/internal/feed"
	"github.com/danharris923/flyerflipper/internal/globaltime"
)

// Fallback geodata for stores created from feed merchant names alone.
// Roughly downtown Toronto; replaced when the places refresh runs.
const (
	placeholderLat     = 43.6532
	placeholderLng     = -79.3832
	placeholderAddress = "Online/Multiple Locations"
)

var titleCaser = cases.Title(language.English)

type DealStore struct {
	pool   *db.Pool
	logger zerolog.Logger
}

func New(pool *db.Pool, logger zerolog.Logger) *DealStore {
	return &DealStore{pool: pool, logger: logger}
}

// UpsertResult tallies one persistence pass.
type UpsertResult struct {
	Saved   int `json:"saved"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Upsert persists a batch of deals, creating stores for unknown
// merchants. The whole batch commits in one transaction; individual
// bad deals are skipped, not fatal.
func (s *DealStore) Upsert(ctx context.Context, deals []feed.Deal) (UpsertResult, error) {
	var result UpsertResult

	err := s.pool.GORM().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range deals {
			deal := &deals[i]
			store, err := s.getOrCreateStore(tx, deal.MerchantName)
			if err != nil {
				s.logger.Error().Err(err).Str("merchant", deal.MerchantName).Msg("store lookup failed; skipping deal")
				result.Skipped++
				continue
			}

			updated, err := s.upsertItem(tx, store.ID, deal)
			if err != nil {
				s.logger.Error().Err(err).Str("external_id", deal.ExternalID).Msg("deal upsert failed; skipping")
				result.Skipped++
				continue
			}
			if updated {
				result.Updated++
			} else {
				result.Saved++
			}
		}
		return nil
	})
	if err != nil {
		return UpsertResult{Skipped: len(deals)}, fmt.Errorf("upsert deals: %w", err)
	}

	s.logger.Info().
		Int("saved", result.Saved).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Msg("deal batch persisted")
	return result, nil
}

// UpsertMatched persists deals only for merchants that already map to
// a known store by substring match. Deals from unknown merchants are
// skipped rather than spawning placeholder stores.
func (s *DealStore) UpsertMatched(ctx context.Context, deals []feed.Deal) (UpsertResult, error) {
	var result UpsertResult

	err := s.pool.GORM().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stores []db.Store
		if err := tx.Find(&stores).Error; err != nil {
			return fmt.Errorf("list stores: %w", err)
		}

		for i := range deals {
			deal := &deals[i]
			store := findStoreByMerchant(stores, deal.MerchantName)
			if store == nil {
				result.Skipped++
				continue
			}

			updated, err := s.upsertItem(tx, store.ID, deal)
			if err != nil {
				s.logger.Error().Err(err).Str("external_id", deal.ExternalID).Msg("deal upsert failed; skipping")
				result.Skipped++
				continue
			}
			if updated {
				result.Updated++
			} else {
				result.Saved++
			}
		}
		return nil
	})
	if err != nil {
		return UpsertResult{Skipped: len(deals)}, fmt.Errorf("upsert matched deals: %w", err)
	}

	s.logger.Info().
		Int("new", result.Saved).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Msg("matched deal batch persisted")
	return result, nil
}

func (s *DealStore) upsertItem(tx *gorm.DB, storeID int64, deal *feed.Deal) (updated bool, err error) {
	if deal.ExternalID == "" {
		return false, fmt.Errorf("deal %q has no external id", deal.Name)
	}

	now := globaltime.UTC()

	var existing db.FlyerItem
	err = tx.Where("store_id = ? AND external_id = ?", storeID, deal.ExternalID).First(&existing).Error
	switch {
	case err == nil:
		existing.Name = deal.Name
		existing.Description = deal.Description
		existing.Category = deal.Category
		existing.Price = deal.Price
		existing.OriginalPrice = deal.OriginalPrice
		existing.DiscountPercent = deal.DiscountPercent
		existing.ImageURL = deal.ImageURL
		existing.FlyerURL = deal.FlyerURL
		existing.SaleStart = deal.SaleStart
		existing.SaleEnd = deal.SaleEnd
		existing.Language = deal.Language
		existing.UpdatedAt = now
		if err := tx.Save(&existing).Error; err != nil {
			return false, fmt.Errorf("update flyer item: %w", err)
		}
		return true, nil
	case db.IsNoRows(err):
		item := db.FlyerItem{
			StoreID:         storeID,
			Name:            deal.Name,
			Description:     deal.Description,
			Category:        deal.Category,
			Price:           deal.Price,
			OriginalPrice:   deal.OriginalPrice,
			DiscountPercent: deal.DiscountPercent,
			ImageURL:        deal.ImageURL,
			FlyerURL:        deal.FlyerURL,
			SaleStart:       deal.SaleStart,
			SaleEnd:         deal.SaleEnd,
			ExternalID:      deal.ExternalID,
			Source:          deal.Source,
			Language:        deal.Language,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Create(&item).Error; err != nil {
			return false, fmt.Errorf("create flyer item: %w", err)
		}
		return false, nil
	default:
		return false, fmt.Errorf("look up flyer item: %w", err)
	}
}

// GetOrCreateStore resolves a merchant name to a store row, creating
// one with placeholder geodata when it does not exist yet.
func (s *DealStore) GetOrCreateStore(ctx context.Context, merchantName string) (*db.Store, error) {
	var store *db.Store
	err := s.pool.GORM().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inner error
		store, inner = s.getOrCreateStore(tx, merchantName)
		return inner
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (s *DealStore) getOrCreateStore(tx *gorm.DB, merchantName string) (*db.Store, error) {
	cleanName := titleCaser.String(strings.TrimSpace(merchantName))
	if cleanName == "" {
		cleanName = "Unknown Store"
	}

	var store db.Store
	err := tx.Where("name = ?", cleanName).First(&store).Error
	if err == nil {
		return &store, nil
	}
	if !db.IsNoRows(err) {
		return nil, fmt.Errorf("look up store %q: %w", cleanName, err)
	}

	now := globaltime.UTC()
	storeType := "Grocery Store"
	store = db.Store{
		PlaceID:   "flipp_" + strings.ReplaceAll(strings.ToLower(cleanName), " ", "_"),
		Name:      cleanName,
		Address:   placeholderAddress,
		Lat:       placeholderLat,
		Lng:       placeholderLng,
		StoreType: &storeType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Create(&store).Error; err != nil {
		return nil, fmt.Errorf("create store %q: %w", cleanName, err)
	}

	s.logger.Info().Str("store", cleanName).Msg("created new store")
	return &store, nil
}

func findStoreByMerchant(stores []db.Store, merchantName string) *db.Store {
	normalized := strings.ToLower(strings.TrimSpace(merchantName))
	if normalized == "" {
		return nil
	}
	for i := range stores {
		if strings.Contains(strings.ToLower(stores[i].Name), normalized) {
			return &stores[i]
		}
	}
	return nil
}

// CleanupExpired deletes items whose sale ended more than cutoffDays
// ago. Items exactly on the boundary are retained.
func (s *DealStore) CleanupExpired(ctx context.Context, cutoffDays int) (int64, error) {
	if cutoffDays <= 0 {
		cutoffDays = 7
	}
	cutoff := globaltime.UTC().Add(-time.Duration(cutoffDays) * 24 * time.Hour)

	res := s.pool.GORM().WithContext(ctx).Where("sale_end < ?", cutoff).Delete(&db.FlyerItem{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup expired deals: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info().Int64("deleted", res.RowsAffected).Msg("cleaned up expired deals")
	}
	return res.RowsAffected, nil
}

// DealQuery filters ListDeals.
type DealQuery struct {
	StoreID    int64
	Category   string
	Search     string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// ListDeals returns flyer items ordered by steepest discount first.
func (s *DealStore) ListDeals(ctx context.Context, q DealQuery) ([]db.FlyerItem, int64, error) {
	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	tx := s.pool.GORM().WithContext(ctx).Model(&db.FlyerItem{})
	if q.StoreID > 0 {
		tx = tx.Where("store_id = ?", q.StoreID)
	}
	if q.Category != "" {
		tx = tx.Where("category = ?", strings.ToLower(q.Category))
	}
	if q.Search != "" {
		pattern := "%" + strings.ToLower(q.Search) + "%"
		tx = tx.Where("LOWER(name) LIKE ?", pattern)
	}
	if q.ActiveOnly {
		now := globaltime.UTC()
		tx = tx.Where("sale_start <= ? AND sale_end >= ?", now, now)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count deals: %w", err)
	}

	var items []db.FlyerItem
	err := tx.Order("discount_percent DESC NULLS LAST, price ASC").
		Limit(limit).
		Offset(q.Offset).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list deals: %w", err)
	}
	return items, total, nil
}

// ActiveDealsMatching returns currently running deals whose name
// contains the query, for comparison ranking.
func (s *DealStore) ActiveDealsMatching(ctx context.Context, query string, limit int) ([]db.FlyerItem, error) {
	if limit <= 0 {
		limit = 200
	}
	now := globaltime.UTC()

	var items []db.FlyerItem
	err := s.pool.GORM().WithContext(ctx).
		Where("sale_start <= ? AND sale_end >= ?", now, now).
		Where("LOWER(name) LIKE ?", "%"+strings.ToLower(strings.TrimSpace(query))+"%").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("search active deals: %w", err)
	}
	return items, nil
}

// ListStores returns all stores ordered by name.
func (s *DealStore) ListStores(ctx context.Context) ([]db.Store, error) {
	var stores []db.Store
	if err := s.pool.GORM().WithContext(ctx).Order("name ASC").Find(&stores).Error; err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	return stores, nil
}

// GetStore fetches one store with its flyer items preloaded.
func (s *DealStore) GetStore(ctx context.Context, id int64) (*db.Store, error) {
	var store db.Store
	err := s.pool.GORM().WithContext(ctx).Preload("FlyerItems").First(&store, id).Error
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get store %d: %w", id, err)
	}
	return &store, nil
}

// UpdateStoreMetadata refreshes contact fields from a places lookup.
func (s *DealStore) UpdateStoreMetadata(ctx context.Context, id int64, rating *float64, phone, website *string) error {
	updates := map[string]any{"updated_at": globaltime.UTC()}
	if rating != nil {
		updates["rating"] = *rating
	}
	if phone != nil {
		updates["phone"] = *phone
	}
	if website != nil {
		updates["website"] = *website
	}
	err := s.pool.GORM().WithContext(ctx).Model(&db.Store{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("update store %d: %w", id, err)
	}
	return nil
}
