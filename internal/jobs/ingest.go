package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/causewatch/causewatch/internal/fetcher"
	"github.com/causewatch/causewatch/internal/store"
	"github.com/causewatch/causewatch/internal/store/model"
	"github.com/causewatch/causewatch/pkg/metrics"
)

const PostsIngestedEventKind = "causewatch.events.posts_ingested"

// postsIngestedEvent is the payload published after a fetch stored new posts.
type postsIngestedEvent struct {
	ProjectID string         `json:"project_id"`
	Platform  model.Platform `json:"platform"`
	NewPosts  int            `json:"new_posts"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// FetchRunner executes one platform fetch job end to end: resolve the
// account, fetch incrementally from the cursor, store the new posts and
// advance the cursor.
type FetchRunner struct {
	store    store.Store
	fetcher  fetcher.Fetcher
	events   Events
	archiver Archiver
}

var _ Runner = (*FetchRunner)(nil)

func NewFetchRunner(s store.Store, f fetcher.Fetcher, events Events, archiver Archiver) *FetchRunner {
	return &FetchRunner{store: s, fetcher: f, events: events, archiver: archiver}
}

func (r *FetchRunner) Run(ctx context.Context, job *model.Job) (map[string]any, error) {
	platform := r.fetcher.Platform()
	logger := zap.S().Named(string(platform) + "_runner")

	account, err := r.store.Account().Get(ctx, job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", job.ProjectID, err)
	}

	handle := account.Handle(platform)
	if handle == nil || *handle == "" {
		// the handle was removed after scheduling; nothing to do
		return map[string]any{"skipped": "no handle"}, nil
	}

	now := time.Now().UTC()
	result := r.fetcher.Fetch(ctx, *handle, account.Cursor(platform))

	// record the attempt regardless of outcome
	if err := r.store.Account().RecordFetchAttempt(ctx, job.ProjectID, platform, now); err != nil {
		logger.Warnw("failed to record fetch attempt", "project", job.ProjectID, "error", err)
	}

	metrics.IncreaseFetchMetric(string(platform), string(result.Outcome))

	switch result.Outcome {
	case fetcher.OutcomeAuthFailed:
		// degrade to "no data"; the next scheduled fetch retries the login
		logger.Warnw("fetch skipped, authentication unavailable", "project", job.ProjectID, "handle", *handle)
		return map[string]any{"outcome": string(result.Outcome)}, nil
	case fetcher.OutcomeTransient:
		return nil, fmt.Errorf("fetching %s for %s: %w", platform, job.ProjectID, result.Err)
	}

	stored, err := persistFetched(ctx, r.store, account, platform, result.Items, now)
	if err != nil {
		return nil, err
	}

	if stored > 0 {
		r.publish(ctx, postsIngestedEvent{
			ProjectID: job.ProjectID,
			Platform:  platform,
			NewPosts:  int(stored),
			FetchedAt: now,
		})
	}
	r.archive(ctx, job, platform, result.Items)

	return map[string]any{
		"outcome":   string(result.Outcome),
		"fetched":   len(result.Items),
		"new_posts": stored,
	}, nil
}

// persistFetched stores new items, advances the platform cursor to the
// newest one and refreshes the account's last-fetch-count metadata. Shared
// by the job runner and the backfill path.
func persistFetched(ctx context.Context, s store.Store, account *model.ProjectAccount, platform model.Platform, items []fetcher.Item, now time.Time) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	projectID := account.ProjectID
	posts := make([]model.Post, 0, len(items))
	newest := time.Time{}
	for _, item := range items {
		posts = append(posts, model.Post{
			ExternalID: item.ExternalID,
			ProjectID:  projectID,
			Platform:   platform,
			Content:    item.Text,
			URL:        item.URL,
			PostedAt:   item.Timestamp,
			FetchedAt:  now,
		})
		if item.Timestamp.After(newest) {
			newest = item.Timestamp
		}
	}

	stored, err := s.Post().SaveAll(ctx, posts)
	if err != nil {
		return 0, fmt.Errorf("storing posts for %s: %w", projectID, err)
	}

	if err := s.Account().AdvanceCursor(ctx, projectID, platform, newest); err != nil {
		return stored, fmt.Errorf("advancing %s cursor for %s: %w", platform, projectID, err)
	}

	md := model.AccountMetadata{}
	if account.Metadata != nil {
		md = account.Metadata.Data
	}
	if md.LastFetchCount == nil {
		md.LastFetchCount = make(map[string]int)
	}
	md.LastFetchCount[string(platform)] = len(posts)
	if err := s.Account().UpdateMetadata(ctx, projectID, md); err != nil {
		zap.S().Named("fetch_runner").Warnw("failed to update account metadata", "project", projectID, "error", err)
	}

	return stored, nil
}

func (r *FetchRunner) publish(ctx context.Context, event postsIngestedEvent) {
	if r.events == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := r.events.Write(ctx, PostsIngestedEventKind, bytes.NewReader(data)); err != nil {
		zap.S().Named("fetch_runner").Warnw("failed to publish event", "error", err)
	}
}

func (r *FetchRunner) archive(ctx context.Context, job *model.Job, platform model.Platform, items []fetcher.Item) {
	if r.archiver == nil || len(items) == 0 {
		return
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s/%s/%s.json", platform, job.ProjectID, job.ID)
	if err := r.archiver.Store(ctx, key, payload); err != nil {
		zap.S().Named("fetch_runner").Warnw("failed to archive snapshot", "key", key, "error", err)
	}
}
