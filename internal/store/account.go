package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/causewatch/causewatch/internal/store/model"
)

// Account persists per-project platform handles and fetch cursors.
type Account interface {
	List(ctx context.Context, filter *AccountQueryFilter) (model.ProjectAccountList, error)
	Get(ctx context.Context, projectID string) (*model.ProjectAccount, error)
	Upsert(ctx context.Context, account model.ProjectAccount) (*model.ProjectAccount, error)
	RecordFetchAttempt(ctx context.Context, projectID string, platform model.Platform, at time.Time) error
	AdvanceCursor(ctx context.Context, projectID string, platform model.Platform, seen time.Time) error
	ResetCursor(ctx context.Context, projectID string, platform model.Platform) error
	UpdateMetadata(ctx context.Context, projectID string, metadata model.AccountMetadata) error
	Count(ctx context.Context) (int64, error)
}

type AccountStore struct {
	db *gorm.DB
}

// Make sure we conform to Account interface
var _ Account = (*AccountStore)(nil)

func NewAccountStore(db *gorm.DB) Account {
	return &AccountStore{db: db}
}

func (s *AccountStore) List(ctx context.Context, filter *AccountQueryFilter) (model.ProjectAccountList, error) {
	var accounts model.ProjectAccountList
	tx := s.getDB(ctx).Model(&model.ProjectAccount{})
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if result := tx.Order("project_id").Find(&accounts); result.Error != nil {
		return nil, fmt.Errorf("listing accounts: %w", result.Error)
	}
	return accounts, nil
}

func (s *AccountStore) Get(ctx context.Context, projectID string) (*model.ProjectAccount, error) {
	var account model.ProjectAccount
	result := s.getDB(ctx).First(&account, "project_id = ?", projectID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying account: %w", result.Error)
	}
	return &account, nil
}

// Upsert creates the account row or refreshes the catalog-owned columns.
// Cursors and fetch timestamps are owned by the fetch path and never
// touched here.
func (s *AccountStore) Upsert(ctx context.Context, account model.ProjectAccount) (*model.ProjectAccount, error) {
	result := s.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "twitter_handle", "farcaster_handle", "metadata", "updated_at"}),
	}).Create(&account)
	if result.Error != nil {
		return nil, fmt.Errorf("upserting account: %w", result.Error)
	}
	return s.Get(ctx, account.ProjectID)
}

func (s *AccountStore) RecordFetchAttempt(ctx context.Context, projectID string, platform model.Platform, at time.Time) error {
	column := "last_twitter_fetch_at"
	if platform == model.PlatformFarcaster {
		column = "last_farcaster_fetch_at"
	}
	return s.update(ctx, projectID, map[string]any{column: at})
}

// AdvanceCursor moves the latest-seen marker forward. A value at or behind
// the current cursor is ignored, keeping the cursor monotonic.
func (s *AccountStore) AdvanceCursor(ctx context.Context, projectID string, platform model.Platform, seen time.Time) error {
	column := "latest_tweet_at"
	if platform == model.PlatformFarcaster {
		column = "latest_cast_at"
	}

	result := s.getDB(ctx).Model(&model.ProjectAccount{}).
		Where("project_id = ?", projectID).
		Where(fmt.Sprintf("%s IS NULL OR %s < ?", column, column), seen).
		Update(column, seen)
	if result.Error != nil {
		return fmt.Errorf("advancing cursor: %w", result.Error)
	}
	return nil
}

// ResetCursor clears the platform cursor. Administrative operation; the next
// fetch re-scans the full lookback window.
func (s *AccountStore) ResetCursor(ctx context.Context, projectID string, platform model.Platform) error {
	column := "latest_tweet_at"
	if platform == model.PlatformFarcaster {
		column = "latest_cast_at"
	}
	return s.update(ctx, projectID, map[string]any{column: nil})
}

func (s *AccountStore) UpdateMetadata(ctx context.Context, projectID string, metadata model.AccountMetadata) error {
	return s.update(ctx, projectID, map[string]any{"metadata": model.MakeJSONField(metadata)})
}

func (s *AccountStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if result := s.getDB(ctx).Model(&model.ProjectAccount{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("counting accounts: %w", result.Error)
	}
	return count, nil
}

func (s *AccountStore) update(ctx context.Context, projectID string, updates map[string]any) error {
	result := s.getDB(ctx).Model(&model.ProjectAccount{}).
		Where("project_id = ?", projectID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("updating account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *AccountStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
