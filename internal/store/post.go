package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/causewatch/causewatch/internal/store/model"
)

// Post persists deduplicated social items.
type Post interface {
	// SaveAll inserts the given posts, silently skipping ones already stored.
	// Returns the number of new rows.
	SaveAll(ctx context.Context, posts []model.Post) (int64, error)
	ListByProject(ctx context.Context, projectID string) (model.PostList, error)
	DeleteByProject(ctx context.Context, projectID string) (int64, error)
	// Prune removes posts older than cutoff, then posts beyond the newest
	// perProjectCap rows of each project.
	Prune(ctx context.Context, cutoff time.Time, perProjectCap int) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type PostStore struct {
	db *gorm.DB
}

// Make sure we conform to Post interface
var _ Post = (*PostStore)(nil)

func NewPostStore(db *gorm.DB) Post {
	return &PostStore{db: db}
}

func (s *PostStore) SaveAll(ctx context.Context, posts []model.Post) (int64, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	result := s.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(&posts)
	if result.Error != nil {
		return 0, fmt.Errorf("saving posts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *PostStore) ListByProject(ctx context.Context, projectID string) (model.PostList, error) {
	var posts model.PostList
	result := s.getDB(ctx).
		Where("project_id = ?", projectID).
		Order("posted_at DESC").
		Find(&posts)
	if result.Error != nil {
		return nil, fmt.Errorf("listing posts: %w", result.Error)
	}
	return posts, nil
}

func (s *PostStore) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	result := s.getDB(ctx).Where("project_id = ?", projectID).Delete(&model.Post{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting posts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *PostStore) Prune(ctx context.Context, cutoff time.Time, perProjectCap int) (int64, error) {
	db := s.getDB(ctx)

	aged := db.Where("posted_at < ?", cutoff).Delete(&model.Post{})
	if aged.Error != nil {
		return 0, fmt.Errorf("pruning posts by age: %w", aged.Error)
	}
	removed := aged.RowsAffected

	// keep only the newest perProjectCap posts of each project
	capped := db.Exec(`
		DELETE FROM posts WHERE external_id IN (
			SELECT external_id FROM (
				SELECT external_id,
				       ROW_NUMBER() OVER (PARTITION BY project_id ORDER BY posted_at DESC) AS rank
				FROM posts
			) ranked
			WHERE ranked.rank > ?
		)`, perProjectCap)
	if capped.Error != nil {
		return removed, fmt.Errorf("pruning posts by count: %w", capped.Error)
	}
	return removed + capped.RowsAffected, nil
}

func (s *PostStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if result := s.getDB(ctx).Model(&model.Post{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("counting posts: %w", result.Error)
	}
	return count, nil
}

func (s *PostStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
