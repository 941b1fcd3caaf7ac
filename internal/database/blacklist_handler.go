package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"gatekeeper/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FindActiveBlacklistEntry returns the active entry for ip, or nil when none exists.
// Expiry is not evaluated here; callers decide what an expired entry means.
func (s *Store) FindActiveBlacklistEntry(ctx context.Context, ip string) (*domain.BlacklistedIP, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var entry domain.BlacklistedIP
	err = db.Where("ip_address = ? AND active = ?", ip, true).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// DeactivateBlacklistEntry flips active to false. Deactivating twice is a no-op.
func (s *Store) DeactivateBlacklistEntry(ctx context.Context, id uint64) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	return db.Model(&domain.BlacklistedIP{}).
		Where("id = ?", id).
		Update("active", false).Error
}

// EnsureBlacklistEntry inserts an active entry for ip unless one already exists.
// An existing entry keeps its reason, active flag and expiry.
func (s *Store) EnsureBlacklistEntry(ctx context.Context, ip, reason string, now time.Time) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	entry := domain.BlacklistedIP{
		IPAddress: ip,
		Reason:    reason,
		Active:    true,
		CreatedAt: now.UTC(),
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_address"}},
		DoNothing: true,
	}).Create(&entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpsertBlacklistEntry is the operator write path: it replaces reason, active
// flag and expiry of an existing entry or creates a new one.
func (s *Store) UpsertBlacklistEntry(ctx context.Context, entry *domain.BlacklistedIP) error {
	if entry == nil || strings.TrimSpace(entry.IPAddress) == "" {
		return errors.New("blacklist entry requires an ip address")
	}

	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.ExpiresAt != nil {
		utc := entry.ExpiresAt.UTC()
		entry.ExpiresAt = &utc
	}

	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "active", "expires_at"}),
	}).Create(entry).Error
	if err != nil {
		return err
	}

	return db.Where("ip_address = ?", entry.IPAddress).Take(entry).Error
}

// ListBlacklistEntries returns every entry, newest first.
func (s *Store) ListBlacklistEntries(ctx context.Context) ([]domain.BlacklistedIP, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var entries []domain.BlacklistedIP
	if err := db.Order("created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteBlacklistEntry removes the entry for ip. Only the operator surface deletes.
func (s *Store) DeleteBlacklistEntry(ctx context.Context, ip string) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	res := db.Where("ip_address = ?", ip).Delete(&domain.BlacklistedIP{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountActiveBlacklistEntries counts active entries regardless of expiry.
func (s *Store) CountActiveBlacklistEntries(ctx context.Context) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&domain.BlacklistedIP{}).Where("active = ?", true).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
