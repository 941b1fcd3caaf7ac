package database

import (
	"context"
	"time"

	"gatekeeper/internal/domain"
)

const requestEventInsertBatchSize = 500

// IPCount is one grouped row of request events per address.
type IPCount struct {
	IPAddress string `gorm:"column:ip_address"`
	Total     int64  `gorm:"column:total"`
}

// CountryCount is one grouped row of request events per country. Country is
// nil for events whose lookup failed.
type CountryCount struct {
	Country *string `gorm:"column:country"`
	Total   int64   `gorm:"column:total"`
}

// InsertRequestEvents persists a batch of events in chunks.
func (s *Store) InsertRequestEvents(ctx context.Context, events []domain.RequestEvent) error {
	if len(events) == 0 {
		return nil
	}

	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	for i := range events {
		events[i].Normalize()
		if events[i].CreatedAt.IsZero() {
			events[i].CreatedAt = time.Now().UTC()
		} else {
			events[i].CreatedAt = events[i].CreatedAt.UTC()
		}
	}

	return db.CreateInBatches(&events, requestEventInsertBatchSize).Error
}

// CountRequestsByIPSince groups events created at or after since and keeps the
// addresses with at least minCount events, highest count first.
func (s *Store) CountRequestsByIPSince(ctx context.Context, since time.Time, minCount int64) ([]IPCount, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []IPCount
	err = db.Model(&domain.RequestEvent{}).
		Select("ip_address, COUNT(*) AS total").
		Where("created_at >= ?", since.UTC()).
		Group("ip_address").
		Having("COUNT(*) >= ?", minCount).
		Order("total DESC, ip_address ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteRequestEventsBefore removes events strictly older than cutoff.
func (s *Store) DeleteRequestEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	res := db.Where("created_at < ?", cutoff.UTC()).Delete(&domain.RequestEvent{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// CountRequestEventsBetween counts events in the inclusive window [start, end].
func (s *Store) CountRequestEventsBetween(ctx context.Context, start, end time.Time) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	err = db.Model(&domain.RequestEvent{}).
		Where("created_at >= ? AND created_at <= ?", start.UTC(), end.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountRequestsByCountryBetween groups the window by country, unordered.
func (s *Store) CountRequestsByCountryBetween(ctx context.Context, start, end time.Time) ([]CountryCount, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []CountryCount
	err = db.Model(&domain.RequestEvent{}).
		Select("country, COUNT(*) AS total").
		Where("created_at >= ? AND created_at <= ?", start.UTC(), end.UTC()).
		Group("country").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TopIPsBetween returns the limit busiest addresses in the window, ties broken
// by address.
func (s *Store) TopIPsBetween(ctx context.Context, start, end time.Time, limit int) ([]IPCount, error) {
	if limit <= 0 {
		return nil, nil
	}

	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []IPCount
	err = db.Model(&domain.RequestEvent{}).
		Select("ip_address, COUNT(*) AS total").
		Where("created_at >= ? AND created_at <= ?", start.UTC(), end.UTC()).
		Group("ip_address").
		Order("total DESC, ip_address ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
