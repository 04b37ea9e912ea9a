package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iaros/pricewatch/internal/apperr"
	"github.com/iaros/pricewatch/internal/model"
)

// HistoryStore is the Price History Store (spec.md §4.9): an append-only
// log with no update/delete on its public contract.
type HistoryStore struct {
	db *gorm.DB
}

func NewHistoryStore(db *gorm.DB) *HistoryStore { return &HistoryStore{db: db} }

// Append persists one PricePoint. It never fails on duplicate timestamps;
// ties within a tracker are acceptable and ordering among them is stable
// per invocation but not otherwise defined.
func (s *HistoryStore) Append(ctx context.Context, p model.PricePoint) error {
	row := PricePointRow{
		ID:             uuid.NewString(),
		ProductID:      p.ProductID,
		TrackerID:      p.TrackerID,
		CompetitorName: p.CompetitorName,
		Price:          p.Price,
		Currency:       p.Currency,
		CapturedAt:     p.CapturedAt,
		Source:         string(p.Source),
		AdapterID:      p.AdapterID,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "store.Append", "insert price point", false, err)
	}
	return nil
}

// Range returns PricePoints for tracker between [from, to], ascending by
// captured_at.
func (s *HistoryStore) Range(ctx context.Context, trackerID string, from, to time.Time) ([]model.PricePoint, error) {
	var rows []PricePointRow
	err := s.db.WithContext(ctx).
		Where("tracker_id = ? AND captured_at BETWEEN ? AND ?", trackerID, from, to).
		Order("captured_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "store.Range", "query price history", false, err)
	}
	return toPricePoints(rows), nil
}

// Latest returns the most recent PricePoint for tracker, or nil if none.
func (s *HistoryStore) Latest(ctx context.Context, trackerID string) (*model.PricePoint, error) {
	var row PricePointRow
	err := s.db.WithContext(ctx).
		Where("tracker_id = ?", trackerID).
		Order("captured_at DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "store.Latest", "query latest price point", false, err)
	}
	pp := toPricePoint(row)
	return &pp, nil
}

// HistoryForProduct returns every PricePoint across all of a product's
// trackers captured within the last `days` days, used by the Rule Engine's
// recent_history_window (spec.md §4.11).
func (s *HistoryStore) HistoryForProduct(ctx context.Context, productID string, days int) ([]model.PricePoint, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	var rows []PricePointRow
	err := s.db.WithContext(ctx).
		Where("product_id = ? AND captured_at >= ?", productID, since).
		Order("captured_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "store.HistoryForProduct", "query product history", false, err)
	}
	return toPricePoints(rows), nil
}

// Compact deletes PricePoints older than cutoff. This exists outside the
// write path as an explicit operator/cron action, never called from
// Append — retention is policy-driven per spec.md §4.9, not automatic.
func (s *HistoryStore) Compact(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("captured_at < ?", cutoff).
		Delete(&PricePointRow{})
	if result.Error != nil {
		return 0, apperr.Wrap(apperr.Internal, "store.Compact", "delete old price points", false, result.Error)
	}
	return result.RowsAffected, nil
}

func toPricePoint(r PricePointRow) model.PricePoint {
	return model.PricePoint{
		ID:             r.ID,
		ProductID:      r.ProductID,
		TrackerID:      r.TrackerID,
		CompetitorName: r.CompetitorName,
		Price:          r.Price,
		Currency:       r.Currency,
		CapturedAt:     r.CapturedAt,
		Source:         model.ExtractedFrom(r.Source),
		AdapterID:      r.AdapterID,
	}
}

func toPricePoints(rows []PricePointRow) []model.PricePoint {
	out := make([]model.PricePoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, toPricePoint(r))
	}
	return out
}
