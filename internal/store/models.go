// Package store implements the Price History Store and Competitor Tracker
// Store (spec.md §4.9, §4.10) over gorm/postgres, following the teacher's
// distribution_service/src/database connection and migration pattern.
package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrackerRow is the gorm row for a model.CompetitorTracker. The unique index
// on (product_id, canonical_url) backs the uniqueness invariant in spec.md
// §3, enforced at the database layer rather than only in application code.
type TrackerRow struct {
	ID               string `gorm:"primaryKey;type:uuid"`
	ProductID        string `gorm:"index;uniqueIndex:idx_tracker_product_url"`
	CompetitorName   string
	RawURL           string
	CanonicalURL     string `gorm:"uniqueIndex:idx_tracker_product_url"`
	Active           bool
	LastPrice        *decimal.Decimal `gorm:"type:numeric"`
	LastCurrency     string
	LastCheckedAt    *time.Time
	LastStatus       string `gorm:"index"`
	FailureStreak    int
	IntervalOverride *time.Duration
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (TrackerRow) TableName() string { return "trackers" }

// PricePointRow is the gorm row for an immutable model.PricePoint.
type PricePointRow struct {
	ID             string `gorm:"primaryKey;type:uuid"`
	ProductID      string `gorm:"index:idx_price_product_captured,priority:1"`
	TrackerID      string `gorm:"index:idx_price_tracker_captured,priority:1"`
	CompetitorName string
	Price          decimal.Decimal `gorm:"type:numeric"`
	Currency       string
	CapturedAt     time.Time `gorm:"index:idx_price_tracker_captured,priority:2;index:idx_price_product_captured,priority:2"`
	Source         string
	AdapterID      string
}

func (PricePointRow) TableName() string { return "price_history" }
