package jobs

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/causewatch/causewatch/internal/store"
	"github.com/causewatch/causewatch/internal/store/model"
	"github.com/causewatch/causewatch/pkg/metrics"
)

// SchedulerConfig bounds how fetch work is spread over time.
type SchedulerConfig struct {
	// Interval is the cadence of scheduling rounds.
	Interval time.Duration
	// Window is the span the new jobs are distributed across.
	Window time.Duration
	// JitterMax is the per-job random offset added on top of the even
	// distribution, to avoid synchronized bursts against the sources.
	JitterMax time.Duration
}

// Scheduler converts accounts that need platform work into time-distributed
// pending jobs. It performs no network calls; its only side effect is job
// rows.
type Scheduler struct {
	store store.Store
	cfg   SchedulerConfig
}

func NewScheduler(s store.Store, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{store: s, cfg: cfg}
}

// Start runs scheduling rounds until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	logger := zap.S().Named("scheduler")
	logger.Infow("scheduler started", "interval", s.cfg.Interval, "window", s.cfg.Window)

	ticker := jitterbug.New(s.cfg.Interval, &jitterbug.Norm{Stdev: 30 * time.Second})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Run(ctx)
		}
	}
}

// Run performs one scheduling round for every platform kind. One platform's
// failure must not prevent scheduling for the other.
func (s *Scheduler) Run(ctx context.Context) {
	logger := zap.S().Named("scheduler")
	for _, kind := range []model.JobKind{model.KindTwitterFetch, model.KindFarcasterFetch} {
		created, err := s.ScheduleFetchJobs(ctx, kind)
		if err != nil {
			logger.Errorw("scheduling round failed", "kind", kind, "error", err)
			continue
		}
		if created > 0 {
			logger.Infow("scheduled fetch jobs", "kind", kind, "created", created)
		}
	}
}

// ScheduleFetchJobs creates one pending job of the given kind per eligible
// account, skipping accounts that already have one, and spreads the
// scheduled-for times evenly across the window with a random jitter per job.
func (s *Scheduler) ScheduleFetchJobs(ctx context.Context, kind model.JobKind) (int, error) {
	platform, err := platformForKind(kind)
	if err != nil {
		return 0, err
	}

	accounts, err := s.store.Account().List(ctx, store.NewAccountQueryFilter().WithPlatformHandle(platform))
	if err != nil {
		return 0, fmt.Errorf("listing accounts for %s: %w", kind, err)
	}

	eligible := make([]model.ProjectAccount, 0, len(accounts))
	for _, account := range accounts {
		exists, err := s.store.Job().PendingExists(ctx, account.ProjectID, kind)
		if err != nil {
			return 0, fmt.Errorf("checking pending jobs for %s: %w", account.ProjectID, err)
		}
		if exists {
			continue
		}
		eligible = append(eligible, account)
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	step := s.cfg.Window / time.Duration(len(eligible))
	created := 0

	for i, account := range eligible {
		at := now.Add(step * time.Duration(i))
		if s.cfg.JitterMax > 0 {
			at = at.Add(time.Duration(rand.Int63n(int64(s.cfg.JitterMax))))
		}

		_, err := s.store.Job().Create(ctx, model.Job{
			ProjectID:    account.ProjectID,
			Kind:         kind,
			ScheduledFor: at,
		})
		if err != nil {
			return created, fmt.Errorf("creating %s job for %s: %w", kind, account.ProjectID, err)
		}
		created++
	}

	metrics.AddScheduledJobsMetric(string(kind), created)
	return created, nil
}

func platformForKind(kind model.JobKind) (model.Platform, error) {
	switch kind {
	case model.KindTwitterFetch:
		return model.PlatformTwitter, nil
	case model.KindFarcasterFetch:
		return model.PlatformFarcaster, nil
	default:
		return "", fmt.Errorf("kind %q is not a platform fetch kind", kind)
	}
}
