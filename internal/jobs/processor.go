package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/causewatch/causewatch/internal/fetcher"
	"github.com/causewatch/causewatch/internal/store"
	"github.com/causewatch/causewatch/internal/store/model"
	"github.com/causewatch/causewatch/pkg/metrics"
)

const orphanRecoveryCause = "recovered: processing exceeded stuck-job timeout"

// ProcessorConfig bounds one processing cycle.
type ProcessorConfig struct {
	Interval        time.Duration
	BatchSize       int
	MaxRetries      int
	BackoffBase     time.Duration
	StuckJobTimeout time.Duration
	// JobTimeout is the hard wall-clock budget per job. The runner call is
	// raced against it; the job is marked failed even if the call
	// eventually completes.
	JobTimeout time.Duration
	// Delays holds the per-kind randomized pause applied between
	// consecutive jobs of the same kind.
	Delays map[model.JobKind]fetcher.DelayWindow
}

// CycleStats summarizes one processor cycle.
type CycleStats struct {
	Recovered int64
	Claimed   int
	Completed int
	Retried   int
	Failed    int
	Skipped   int
}

// Processor claims due jobs in bounded batches and drives the retry and
// dead-letter policy. Cycles never overlap: a tick arriving while the
// previous cycle still runs is skipped.
type Processor struct {
	store    store.Store
	registry *Registry
	cfg      ProcessorConfig

	running atomic.Bool
}

func NewProcessor(s store.Store, registry *Registry, cfg ProcessorConfig) *Processor {
	return &Processor{store: s, registry: registry, cfg: cfg}
}

// Start runs processing cycles until the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := zap.S().Named("processor")
	logger.Infow("processor started", "interval", p.cfg.Interval, "batch_size", p.cfg.BatchSize)

	ticker := jitterbug.New(p.cfg.Interval, &jitterbug.Norm{Stdev: 5 * time.Second})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("processor stopped")
			return
		case <-ticker.C:
			if _, err := p.ProcessDueJobs(ctx); err != nil {
				logger.Errorw("processing cycle failed", "error", err)
			}
		}
	}
}

// ProcessDueJobs executes one cycle. It is the single entry point for both
// the periodic ticker and manual triggers, so the retry and backoff rules
// exist exactly once.
func (p *Processor) ProcessDueJobs(ctx context.Context) (CycleStats, error) {
	stats := CycleStats{}
	logger := zap.S().Named("processor")

	if !p.running.CompareAndSwap(false, true) {
		logger.Debug("previous cycle still running, skipping tick")
		return stats, nil
	}
	defer p.running.Store(false)

	now := time.Now().UTC()

	recovered, err := p.store.Job().RecoverOrphans(ctx, now.Add(-p.cfg.StuckJobTimeout), orphanRecoveryCause)
	if err != nil {
		return stats, fmt.Errorf("recovering orphaned jobs: %w", err)
	}
	stats.Recovered = recovered
	if recovered > 0 {
		logger.Warnw("recovered orphaned jobs", "count", recovered)
	}

	// jobs of kinds owned by other services are not selected, so they
	// cannot crowd registered work out of the batch
	due, err := p.store.Job().ListDue(ctx, now, p.cfg.BatchSize, p.registry.Kinds()...)
	if err != nil {
		return stats, fmt.Errorf("listing due jobs: %w", err)
	}

	lastRun := make(map[model.JobKind]time.Time)
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}

		runner, ok := p.registry.Runner(job.Kind)
		if !ok {
			// another service owns this kind
			stats.Skipped++
			continue
		}

		if last, ok := lastRun[job.Kind]; ok {
			if delay, ok := p.cfg.Delays[job.Kind]; ok {
				if err := pace(ctx, delay, last); err != nil {
					break
				}
			}
		}

		p.processOne(ctx, job, runner, &stats)
		lastRun[job.Kind] = time.Now().UTC()
	}

	metrics.ObserveProcessingCycle(time.Since(now))
	return stats, nil
}

// processOne drives one job through the state machine. Errors are recorded
// on the job and never escape: one job's failure cannot abort the batch.
func (p *Processor) processOne(ctx context.Context, job model.Job, runner Runner, stats *CycleStats) {
	logger := zap.S().Named("processor").With("job", job.ID, "kind", job.Kind, "project", job.ProjectID)

	claimed, err := p.store.Job().Claim(ctx, job.ID)
	if err != nil {
		if errors.Is(err, store.ErrStaleClaim) {
			stats.Skipped++
			return
		}
		logger.Errorw("failed to claim job", "error", err)
		stats.Skipped++
		return
	}
	stats.Claimed++

	metadata, runErr := p.runWithBudget(ctx, claimed, runner)
	if runErr == nil {
		if err := p.store.Job().Complete(ctx, claimed.ID, metadata); err != nil {
			logger.Errorw("failed to mark job completed", "error", err)
			return
		}
		stats.Completed++
		metrics.IncreaseJobResultMetric(string(claimed.Kind), "completed")
		return
	}

	logger.Warnw("job failed", "attempt", claimed.Attempts+1, "error", runErr)

	if claimed.Attempts >= p.cfg.MaxRetries {
		if err := p.store.Job().Fail(ctx, claimed.ID, claimed.Attempts+1, runErr.Error()); err != nil {
			logger.Errorw("failed to mark job failed", "error", err)
		}
		stats.Failed++
		metrics.IncreaseJobResultMetric(string(claimed.Kind), "failed")
		return
	}

	attempts := claimed.Attempts + 1
	next := time.Now().UTC().Add(backoff(p.cfg.BackoffBase, attempts))
	if err := p.store.Job().Reschedule(ctx, claimed.ID, attempts, next, runErr.Error()); err != nil {
		logger.Errorw("failed to reschedule job", "error", err)
		return
	}
	stats.Retried++
	metrics.IncreaseJobResultMetric(string(claimed.Kind), "retried")
}

// runWithBudget races the runner against the hard wall-clock budget. A
// panicking runner is converted into a job error.
func (p *Processor) runWithBudget(ctx context.Context, job *model.Job, runner Runner) (map[string]any, error) {
	type outcome struct {
		metadata map[string]any
		err      error
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("job panicked: %v", r)}
			}
		}()
		metadata, err := runner.Run(jobCtx, job)
		done <- outcome{metadata: metadata, err: err}
	}()

	select {
	case <-jobCtx.Done():
		// the runner may still be executing; the job is failed regardless
		return nil, fmt.Errorf("job exceeded %s budget", p.cfg.JobTimeout)
	case result := <-done:
		return result.metadata, result.err
	}
}

// pace enforces a kind's delay window against its previous execution in the
// cycle. Time already spent on other kinds' jobs counts toward the pause.
func pace(ctx context.Context, delay fetcher.DelayWindow, last time.Time) error {
	wait := delay.Duration() - time.Since(last)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return base
	}
	return base << (attempt - 1)
}
