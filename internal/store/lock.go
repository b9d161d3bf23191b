package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/causewatch/causewatch/internal/store/model"
)

// Lock is a TTL-based mutual exclusion primitive shared across instances
// through the database. Acquire returning false is a normal outcome, not
// an error.
type Lock interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holder string) error
	// Sweep removes expired rows left behind by crashed holders.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

type LockStore struct {
	db *gorm.DB
}

// Make sure we conform to Lock interface
var _ Lock = (*LockStore)(nil)

func NewLockStore(db *gorm.DB) Lock {
	return &LockStore{db: db}
}

func (s *LockStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	// expired rows count as absent
	if _, err := s.Sweep(ctx, now); err != nil {
		return false, err
	}

	lock := model.Lock{
		Key:        key,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	result := s.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&lock)
	if result.Error != nil {
		return false, fmt.Errorf("acquiring lock %q: %w", key, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Release is idempotent: releasing a lock held by someone else, or not held
// at all, is a no-op.
func (s *LockStore) Release(ctx context.Context, key, holder string) error {
	result := s.getDB(ctx).
		Where("key = ? AND holder = ?", key, holder).
		Delete(&model.Lock{})
	if result.Error != nil {
		return fmt.Errorf("releasing lock %q: %w", key, result.Error)
	}
	return nil
}

func (s *LockStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	result := s.getDB(ctx).
		Where("expires_at < ?", now).
		Delete(&model.Lock{})
	if result.Error != nil {
		return 0, fmt.Errorf("sweeping expired locks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *LockStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
