package database

import (
	"context"
	"time"

	"gatekeeper/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertSuspiciousIP records an observation for ip. The stored count becomes
// max(stored, observed); last_detected_at is refreshed; first_detected_at and
// non-empty notes are kept.
func (s *Store) UpsertSuspiciousIP(ctx context.Context, ip string, observed int64, notes string, now time.Time) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	now = now.UTC()
	record := domain.SuspiciousIP{
		IPAddress:       ip,
		FirstDetectedAt: now,
		LastDetectedAt:  now,
		RequestCount:    observed,
		Notes:           notes,
	}

	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ip_address"}},
		DoUpdates: clause.Assignments(map[string]any{
			"request_count": gorm.Expr(
				"CASE WHEN suspicious_ips.request_count > excluded.request_count THEN suspicious_ips.request_count ELSE excluded.request_count END",
			),
			"last_detected_at": gorm.Expr("excluded.last_detected_at"),
			"notes": gorm.Expr(
				"CASE WHEN suspicious_ips.notes = '' THEN excluded.notes ELSE suspicious_ips.notes END",
			),
		}),
	}).Create(&record).Error
}

// ListSuspiciousIPs returns every record, most recently detected first.
func (s *Store) ListSuspiciousIPs(ctx context.Context) ([]domain.SuspiciousIP, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var records []domain.SuspiciousIP
	if err := db.Order("last_detected_at DESC, id DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) CountSuspiciousIPs(ctx context.Context) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&domain.SuspiciousIP{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
