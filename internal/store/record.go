package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/iaros/pricewatch/internal/model"
)

// Recorder applies the write half of spec.md §4.8 atomically: the tracker
// update and, on a successful scrape, the PricePoint append must be
// "observable together" per §5's read-after-write guarantee — a reader must
// never see one without the other. Grounded on
// distribution_service/src/database/connection.go's gorm.Transaction wrapper.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder { return &Recorder{db: db} }

// RecordScrapeResult commits the tracker update and, when point is non-nil,
// the price point append inside a single transaction.
func (r *Recorder) RecordScrapeResult(ctx context.Context, trackerID string, summary ScrapeSummary, point *model.PricePoint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trackers := &TrackerStore{db: tx}
		if err := trackers.UpdateAfterScrape(ctx, trackerID, summary); err != nil {
			return err
		}
		if point == nil {
			return nil
		}
		history := &HistoryStore{db: tx}
		return history.Append(ctx, *point)
	})
}
