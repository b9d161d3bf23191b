package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/causewatch/causewatch/internal/store"
	"github.com/causewatch/causewatch/internal/store/model"
	"github.com/causewatch/causewatch/pkg/metrics"
)

// LockKey guards the catalog sync across instances.
const LockKey = "catalog_sync"

const projectSyncAttempts = 2

// dataError marks a per-project validation failure. Data errors are not
// retried; only connection and transient errors get a second attempt.
type dataError struct {
	err error
}

func (e *dataError) Error() string { return e.err.Error() }
func (e *dataError) Unwrap() error { return e.err }

type SyncConfig struct {
	PageSize  int
	BatchSize int
	// Concurrency bounds the number of batches processed in parallel.
	Concurrency int
	// FailureThreshold is the consecutive fully-failed batch count after
	// which the remaining batches are skipped.
	FailureThreshold int
	LockTTL          time.Duration
	Holder           string
}

// Summary is the outcome of one synchronization run.
type Summary struct {
	Skipped   bool          `json:"skipped,omitempty"`
	Causes    int           `json:"causes"`
	Projects  int           `json:"projects"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Tripped   bool          `json:"circuit_tripped,omitempty"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMS int64         `json:"elapsed_ms"`
}

// Metadata renders the summary for job result storage.
func (s *Summary) Metadata() map[string]any {
	return map[string]any{
		"skipped":         s.Skipped,
		"causes":          s.Causes,
		"projects":        s.Projects,
		"synced":          s.Synced,
		"failed":          s.Failed,
		"circuit_tripped": s.Tripped,
		"elapsed_ms":      s.ElapsedMS,
	}
}

// Synchronizer reconciles project accounts against the upstream catalog.
// Runs are singleton across instances via the lock store.
type Synchronizer struct {
	store    store.Store
	client   Client
	cfg      SyncConfig
	validate *validator.Validate
}

func NewSynchronizer(s store.Store, client Client, cfg SyncConfig) *Synchronizer {
	return &Synchronizer{
		store:    s,
		client:   client,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Run executes one full sync. When the lock is held elsewhere the run is
// skipped without error.
func (s *Synchronizer) Run(ctx context.Context) (*Summary, error) {
	logger := zap.S().Named("catalog_sync")
	start := time.Now()
	summary := &Summary{}

	acquired, err := s.store.Lock().Acquire(ctx, LockKey, s.cfg.Holder, s.cfg.LockTTL)
	if err != nil {
		return summary, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if !acquired {
		logger.Debug("sync lock held by another run, skipping")
		summary.Skipped = true
		return summary, nil
	}
	defer func() {
		if err := s.store.Lock().Release(context.WithoutCancel(ctx), LockKey, s.cfg.Holder); err != nil {
			logger.Errorw("failed to release sync lock", "error", err)
		}
	}()

	projects, causeCount, err := s.collect(ctx)
	if err != nil {
		return summary, err
	}
	summary.Causes = causeCount
	summary.Projects = len(projects)

	synced, failed, tripped := s.processAll(ctx, projects)
	summary.Synced = synced
	summary.Failed = failed
	summary.Tripped = tripped
	summary.Elapsed = time.Since(start)
	summary.ElapsedMS = summary.Elapsed.Milliseconds()

	logger.Infow("catalog sync finished",
		"causes", summary.Causes,
		"projects", summary.Projects,
		"synced", summary.Synced,
		"failed", summary.Failed,
		"circuit_tripped", summary.Tripped,
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

// collect pages through the whole catalog and deduplicates projects that
// appear under several causes. The first occurrence wins; all cause names
// the project appears under are accumulated.
func (s *Synchronizer) collect(ctx context.Context) ([]projectWithCauses, int, error) {
	seen := make(map[string]int)
	var projects []projectWithCauses
	causes := 0

	for offset := 0; ; offset += s.cfg.PageSize {
		page, err := s.client.ListCauses(ctx, offset, s.cfg.PageSize)
		if err != nil {
			return nil, causes, fmt.Errorf("listing catalog page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		causes += len(page)

		for _, cause := range page {
			for _, project := range cause.Projects {
				if idx, ok := seen[project.ID]; ok {
					projects[idx].Causes = append(projects[idx].Causes, cause.Name)
					continue
				}
				seen[project.ID] = len(projects)
				projects = append(projects, projectWithCauses{Project: project, Causes: []string{cause.Name}})
			}
		}
	}
	return projects, causes, nil
}

type projectWithCauses struct {
	Project
	Causes []string
}

type batchResult struct {
	synced int
	failed int
}

// processAll partitions projects into fixed batches and processes them with
// bounded concurrency. A consecutive-failure circuit breaker bounds the
// blast radius of a systemic upstream problem.
func (s *Synchronizer) processAll(ctx context.Context, projects []projectWithCauses) (synced, failed int, tripped bool) {
	if len(projects) == 0 {
		return 0, 0, false
	}
	logger := zap.S().Named("catalog_sync")

	batches := funk.Chunk(projects, s.cfg.BatchSize).([][]projectWithCauses)

	var mu sync.Mutex
	consecutiveFailures := 0

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i := range batches {
		batch := batches[i]
		g.Go(func() error {
			mu.Lock()
			if consecutiveFailures >= s.cfg.FailureThreshold {
				tripped = true
				failed += len(batch)
				mu.Unlock()
				return nil
			}
			mu.Unlock()

			result := s.processBatch(gCtx, batch)

			mu.Lock()
			synced += result.synced
			failed += result.failed
			if result.synced == 0 && result.failed > 0 {
				consecutiveFailures++
				if consecutiveFailures >= s.cfg.FailureThreshold {
					logger.Warnw("circuit breaker tripped", "consecutive_failures", consecutiveFailures)
				}
			} else if result.synced > 0 && consecutiveFailures > 0 {
				consecutiveFailures--
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return synced, failed, tripped
}

// processBatch syncs each project in its own transaction so one project's
// failure cannot abort siblings.
func (s *Synchronizer) processBatch(ctx context.Context, batch []projectWithCauses) batchResult {
	logger := zap.S().Named("catalog_sync")
	result := batchResult{}

	for _, project := range batch {
		if ctx.Err() != nil {
			result.failed += len(batch) - result.synced - result.failed
			break
		}

		var err error
		for attempt := 1; attempt <= projectSyncAttempts; attempt++ {
			err = s.syncProject(ctx, project)
			if err == nil {
				break
			}
			var dataErr *dataError
			if errors.As(err, &dataErr) {
				break
			}
		}
		if err != nil {
			logger.Warnw("failed to sync project", "project", project.ID, "error", err)
			result.failed++
			metrics.IncreaseSyncProjectMetric("failed")
			continue
		}
		result.synced++
		metrics.IncreaseSyncProjectMetric("synced")
	}
	return result
}

func (s *Synchronizer) syncProject(ctx context.Context, project projectWithCauses) error {
	if err := s.validate.Struct(project.Project); err != nil {
		return &dataError{err: err}
	}

	txCtx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		return fmt.Errorf("opening transaction: %w", err)
	}

	now := time.Now().UTC()
	account := model.ProjectAccount{
		ProjectID: project.ID,
		Name:      project.Name,
		Metadata: model.MakeJSONField(model.AccountMetadata{
			Causes:     project.Causes,
			LastSyncAt: &now,
		}),
	}
	if project.TwitterHandle != "" {
		account.TwitterHandle = &project.TwitterHandle
	}
	if project.FarcasterHandle != "" {
		account.FarcasterHandle = &project.FarcasterHandle
	}

	if _, err := s.store.Account().Upsert(txCtx, account); err != nil {
		_, _ = store.Rollback(txCtx)
		return fmt.Errorf("upserting project %s: %w", project.ID, err)
	}

	if _, err := store.Commit(txCtx); err != nil {
		return fmt.Errorf("committing project %s: %w", project.ID, err)
	}
	return nil
}
