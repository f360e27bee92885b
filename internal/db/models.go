package db

import (
	"time"
)

// Store maps stores. One row per merchant sighted in the feed or
// discovered through the places API.
type Store struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PlaceID   string    `gorm:"column:place_id;type:varchar(255);not null;uniqueIndex"`
	Name      string    `gorm:"column:name;type:varchar(255);not null;index"`
	Address   string    `gorm:"column:address;type:varchar(500);not null"`
	Lat       float64   `gorm:"column:lat;index"`
	Lng       float64   `gorm:"column:lng;index"`
	Phone     *string   `gorm:"column:phone;type:varchar(20)"`
	Website   *string   `gorm:"column:website;type:varchar(500)"`
	Rating    *float64  `gorm:"column:rating"`
	StoreType *string   `gorm:"column:store_type;type:varchar(100)"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`

	FlyerItems []FlyerItem `gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE"`
}

func (Store) TableName() string { return "stores" }

// FlyerItem maps flyer_items. ExternalID is the dedup key, unique per
// store; SaleEnd is indexed for expiry cleanup, Category and Name for
// the matcher's candidate queries.
type FlyerItem struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	StoreID         int64     `gorm:"column:store_id;not null;index;uniqueIndex:idx_store_external,priority:1"`
	Name            string    `gorm:"column:name;type:varchar(255);not null;index"`
	Description     *string   `gorm:"column:description;type:text"`
	Category        string    `gorm:"column:category;type:varchar(100);not null;index"`
	Price           float64   `gorm:"column:price;not null"`
	OriginalPrice   *float64  `gorm:"column:original_price"`
	DiscountPercent *float64  `gorm:"column:discount_percent"`
	ImageURL        *string   `gorm:"column:image_url;type:varchar(500)"`
	FlyerURL        *string   `gorm:"column:flyer_url;type:varchar(500)"`
	SaleStart       time.Time `gorm:"column:sale_start;not null;index"`
	SaleEnd         time.Time `gorm:"column:sale_end;not null;index"`
	ExternalID      string    `gorm:"column:external_id;type:varchar(255);not null;uniqueIndex:idx_store_external,priority:2"`
	Source          string    `gorm:"column:source;type:varchar(50);not null;default:flipp"`
	Language        string    `gorm:"column:language;type:varchar(8);not null;default:''"`
	CreatedAt       time.Time `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null"`
}

func (FlyerItem) TableName() string { return "flyer_items" }

// Savings is the absolute discount when an original price exists.
func (f *FlyerItem) Savings() *float64 {
	if f.OriginalPrice != nil && *f.OriginalPrice > f.Price {
		s := *f.OriginalPrice - f.Price
		return &s
	}
	return nil
}

// IsActive reports whether the sale window covers now.
func (f *FlyerItem) IsActive(now time.Time) bool {
	return !f.SaleStart.After(now) && !f.SaleEnd.Before(now)
}

func autoMigrateModels() []any {
	return []any{
		&Store{},
		&FlyerItem{},
	}
}
