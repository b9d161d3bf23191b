package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/causewatch/causewatch/internal/store/model"
)

// Job is the persistence interface of the scheduled-work queue.
type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter) (model.JobList, error)
	PendingExists(ctx context.Context, projectID string, kind model.JobKind) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int, kinds ...model.JobKind) (model.JobList, error)
	Claim(ctx context.Context, id uuid.UUID) (*model.Job, error)
	Complete(ctx context.Context, id uuid.UUID, metadata map[string]any) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, at time.Time, cause string) error
	Fail(ctx context.Context, id uuid.UUID, attempts int, cause string) error
	Cancel(ctx context.Context, id uuid.UUID) error
	RecoverOrphans(ctx context.Context, stuckSince time.Time, cause string) (int64, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error)
	OldestPending(ctx context.Context) (*model.Job, error)
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = time.Now().UTC()
	}

	if result := s.getDB(ctx).Create(&job); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter) (model.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx).Model(&model.Job{})
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if result := tx.Order("scheduled_for").Find(&jobs); result.Error != nil {
		return nil, fmt.Errorf("listing jobs: %w", result.Error)
	}
	return jobs, nil
}

// PendingExists reports whether a pending job of the given kind already exists
// for the project. The scheduler consults it before inserting new work.
func (s *JobStore) PendingExists(ctx context.Context, projectID string, kind model.JobKind) (bool, error) {
	var count int64
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("project_id = ? AND kind = ? AND status = ?", projectID, kind, model.JobStatusPending).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("counting pending jobs: %w", result.Error)
	}
	return count > 0, nil
}

// ListDue returns pending jobs due at or before now, oldest first. When
// kinds are given, jobs of other kinds are left for their owning service so
// they cannot crowd the batch out.
func (s *JobStore) ListDue(ctx context.Context, now time.Time, limit int, kinds ...model.JobKind) (model.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx).
		Where("status = ? AND scheduled_for <= ?", model.JobStatusPending, now)
	if len(kinds) > 0 {
		tx = tx.Where("kind IN ?", kinds)
	}
	result := tx.
		Order("scheduled_for").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("listing due jobs: %w", result.Error)
	}
	return jobs, nil
}

// Claim flips a pending job to processing. Losing the race to another
// instance surfaces as ErrStaleClaim.
func (s *JobStore) Claim(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusPending).
		Update("status", model.JobStatusProcessing)
	if result.Error != nil {
		return nil, fmt.Errorf("claiming job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrStaleClaim
	}
	return s.Get(ctx, id)
}

func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	updates := map[string]any{
		"status":     model.JobStatusCompleted,
		"last_error": nil,
	}
	if metadata != nil {
		updates["metadata"] = model.MakeJSONField(metadata)
	}
	return s.update(ctx, id, updates)
}

func (s *JobStore) Reschedule(ctx context.Context, id uuid.UUID, attempts int, at time.Time, cause string) error {
	return s.update(ctx, id, map[string]any{
		"status":        model.JobStatusPending,
		"attempts":      attempts,
		"scheduled_for": at,
		"last_error":    cause,
	})
}

func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, attempts int, cause string) error {
	return s.update(ctx, id, map[string]any{
		"status":     model.JobStatusFailed,
		"attempts":   attempts,
		"last_error": cause,
	})
}

func (s *JobStore) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, id, map[string]any{
		"status":     model.JobStatusCancelled,
		"last_error": nil,
	})
}

// RecoverOrphans resets processing jobs untouched since stuckSince back to
// pending. Attempts are left unchanged; orphaning is not the job's fault.
func (s *JobStore) RecoverOrphans(ctx context.Context, stuckSince time.Time, cause string) (int64, error) {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("status = ? AND updated_at < ?", model.JobStatusProcessing, stuckSince).
		Updates(map[string]any{
			"status":     model.JobStatusPending,
			"last_error": cause,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recovering orphaned jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	var rows []struct {
		Status model.JobStatus
		Total  int64
	}
	result := s.getDB(ctx).Model(&model.Job{}).
		Select("status, count(*) as total").
		Group("status").
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("counting jobs: %w", result.Error)
	}

	counts := make(map[model.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func (s *JobStore) OldestPending(ctx context.Context) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).
		Where("status = ?", model.JobStatusPending).
		Order("scheduled_for").
		First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying oldest pending job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("updating job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
