package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/causewatch/causewatch/internal/fetcher"
	"github.com/causewatch/causewatch/internal/store"
	"github.com/causewatch/causewatch/internal/store/model"
	"github.com/causewatch/causewatch/pkg/metrics"
)

// BackfillConfig tunes an operator-triggered bulk fetch.
type BackfillConfig struct {
	// Delay is the randomized pause between consecutive handles.
	Delay fetcher.DelayWindow
	// MaxAttempts bounds the per-handle retries on transient failures.
	MaxAttempts int
}

// BackfillResult is one project's outcome within a backfill run.
type BackfillResult struct {
	ProjectID string          `json:"project_id"`
	Handle    string          `json:"handle"`
	Outcome   fetcher.Outcome `json:"outcome"`
	Fetched   int             `json:"fetched"`
	NewPosts  int64           `json:"new_posts"`
	Error     string          `json:"error,omitempty"`
}

// Backfill force-fetches the given projects on the fetcher's platform,
// bypassing the job queue. All projects with a handle are fetched when
// projectIDs is empty. Handles are paced and retried by the shared batch
// fetcher; results are persisted through the same path the job runner uses,
// so cursors and dedup behave identically.
func Backfill(ctx context.Context, s store.Store, f fetcher.Fetcher, projectIDs []string, cfg BackfillConfig) ([]BackfillResult, error) {
	platform := f.Platform()
	logger := zap.S().Named("backfill").With("platform", platform)

	accounts, err := resolveAccounts(ctx, s, platform, projectIDs)
	if err != nil {
		return nil, err
	}

	requests := make([]fetcher.BatchRequest, 0, len(accounts))
	for _, account := range accounts {
		handle := account.Handle(platform)
		if handle == nil || *handle == "" {
			return nil, fmt.Errorf("project %s has no %s handle", account.ProjectID, platform)
		}
		requests = append(requests, fetcher.BatchRequest{
			ProjectID: account.ProjectID,
			Handle:    *handle,
			Since:     account.Cursor(platform),
		})
	}

	logger.Infow("backfill started", "projects", len(requests))
	summary := fetcher.FetchBatch(ctx, f, requests, cfg.Delay, cfg.MaxAttempts)

	now := time.Now().UTC()
	results := make([]BackfillResult, 0, len(requests))
	for i, req := range requests {
		result, ok := summary.Results[req.ProjectID]
		if !ok {
			// the batch was cut short by context cancellation
			break
		}

		if err := s.Account().RecordFetchAttempt(ctx, req.ProjectID, platform, now); err != nil {
			logger.Warnw("failed to record fetch attempt", "project", req.ProjectID, "error", err)
		}
		metrics.IncreaseFetchMetric(string(platform), string(result.Outcome))

		out := BackfillResult{
			ProjectID: req.ProjectID,
			Handle:    req.Handle,
			Outcome:   result.Outcome,
			Fetched:   len(result.Items),
		}
		if result.Err != nil {
			out.Error = result.Err.Error()
		}

		if result.Outcome == fetcher.OutcomeOK {
			stored, err := persistFetched(ctx, s, accounts[i], platform, result.Items, now)
			if err != nil {
				return results, err
			}
			out.NewPosts = stored
		}
		results = append(results, out)
	}

	logger.Infow("backfill finished", "projects", len(results), "failed", summary.Failed)
	return results, nil
}

func resolveAccounts(ctx context.Context, s store.Store, platform model.Platform, projectIDs []string) ([]*model.ProjectAccount, error) {
	if len(projectIDs) == 0 {
		list, err := s.Account().List(ctx, store.NewAccountQueryFilter().WithPlatformHandle(platform))
		if err != nil {
			return nil, fmt.Errorf("listing accounts: %w", err)
		}
		accounts := make([]*model.ProjectAccount, 0, len(list))
		for i := range list {
			accounts = append(accounts, &list[i])
		}
		return accounts, nil
	}

	accounts := make([]*model.ProjectAccount, 0, len(projectIDs))
	for _, projectID := range projectIDs {
		account, err := s.Account().Get(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("loading account %s: %w", projectID, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}
