package fetcher

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// DelayWindow is a randomized [Min, Max] pause used between consecutive
// calls against the same external source.
type DelayWindow struct {
	Min time.Duration
	Max time.Duration
}

// Duration picks a random duration within the window.
func (w DelayWindow) Duration() time.Duration {
	d := w.Min
	if w.Max > w.Min {
		d += time.Duration(rand.Int63n(int64(w.Max - w.Min)))
	}
	return d
}

// Sleep pauses for a random duration within the window, or until the context
// is cancelled.
func (w DelayWindow) Sleep(ctx context.Context) error {
	d := w.Duration()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BatchRequest names one handle to fetch and its cursor.
type BatchRequest struct {
	ProjectID string
	Handle    string
	Since     *time.Time
}

// BatchSummary aggregates per-handle outcomes of a batch fetch.
type BatchSummary struct {
	Results   map[string]Result
	Succeeded int
	Failed    int
}

const batchRetryBase = 5 * time.Second

// FetchBatch fetches a list of handles sequentially, pausing a randomized
// delay between handles and retrying transient per-handle failures with
// exponential backoff plus jitter. One handle's failure never stops the rest
// of the batch.
func FetchBatch(ctx context.Context, f Fetcher, requests []BatchRequest, delay DelayWindow, maxAttempts int) BatchSummary {
	summary := BatchSummary{Results: make(map[string]Result, len(requests))}
	logger := zap.S().Named("batch_fetch")

	for i, req := range requests {
		if i > 0 {
			if err := delay.Sleep(ctx); err != nil {
				logger.Warnw("batch fetch aborted", "remaining", len(requests)-i, "error", err)
				break
			}
		}

		result := fetchWithRetry(ctx, f, req, maxAttempts)
		summary.Results[req.ProjectID] = result
		if result.Outcome == OutcomeOK {
			summary.Succeeded++
		} else {
			summary.Failed++
			logger.Warnw("handle fetch failed",
				"project", req.ProjectID,
				"handle", req.Handle,
				"outcome", result.Outcome,
				"error", result.Err,
			)
		}
	}
	return summary
}

func fetchWithRetry(ctx context.Context, f Fetcher, req BatchRequest, maxAttempts int) Result {
	var result Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result = f.Fetch(ctx, req.Handle, req.Since)
		// auth failures are not retried here: the session will not heal
		// within a batch
		if result.Outcome != OutcomeTransient {
			return result
		}
		if attempt == maxAttempts {
			break
		}

		backoff := batchRetryBase << (attempt - 1)
		backoff += time.Duration(rand.Int63n(int64(batchRetryBase)))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result
		case <-timer.C:
		}
	}
	return result
}
