// Package fetcher implements the incremental platform fetchers. Given a
// handle and an optional "since" cursor they return only items not yet seen,
// bounded by a lookback window and per-call size limits.
package fetcher

import (
	"context"
	"time"

	"github.com/causewatch/causewatch/internal/store/model"
)

// Item is one normalized social post as returned by a platform source.
type Item struct {
	ExternalID string
	Text       string
	Timestamp  time.Time
	URL        string
	// Pinned items appear out of the reverse-chronological order.
	Pinned bool
}

// Outcome classifies a fetch so callers can log and count without inspecting
// item emptiness.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeAuthFailed Outcome = "auth_failed"
	OutcomeTransient  Outcome = "transient_error"
)

// Result is the output contract of a single fetch. Items are guaranteed to be
// within the effective window; callers must not assume any ordering.
type Result struct {
	Items   []Item
	Outcome Outcome
	// Err carries the underlying cause for non-ok outcomes. It is for
	// logging only; fetch failures are not propagated as errors.
	Err error
}

// Fetcher is the platform-independent incremental fetch contract.
type Fetcher interface {
	Platform() model.Platform
	Fetch(ctx context.Context, handle string, since *time.Time) Result
}

// Options bound a single fetch call.
type Options struct {
	// Lookback caps how far back in time a fetch may reach, regardless of
	// the cursor.
	Lookback time.Duration
	// MaxItems caps the number of accepted items per call.
	MaxItems int
	// ScanLimit caps the number of candidate items inspected per call.
	ScanLimit int
}

// cutoff computes the effective lower bound of a fetch: the cursor when one
// exists and it is inside the lookback window, the window start otherwise.
func (o Options) cutoff(since *time.Time, now time.Time) time.Time {
	windowStart := now.Add(-o.Lookback)
	if since != nil && since.After(windowStart) {
		return *since
	}
	return windowStart
}

// collectIncremental walks a best-effort reverse-chronological stream and
// keeps the items strictly newer than the cutoff. Pinned items may appear out
// of order at the head: they are accepted or skipped on their own timestamp
// without ending the walk. The first ordinary item at or past the cutoff
// stops iteration, since nothing after it can qualify.
func collectIncremental(stream []Item, since *time.Time, now time.Time, opts Options) []Item {
	cutoff := opts.cutoff(since, now)
	accepted := make([]Item, 0, opts.MaxItems)

	for scanned, item := range stream {
		if scanned >= opts.ScanLimit || len(accepted) >= opts.MaxItems {
			break
		}
		if item.Pinned {
			if item.Timestamp.After(cutoff) {
				accepted = append(accepted, item)
			}
			continue
		}
		if !item.Timestamp.After(cutoff) {
			break
		}
		accepted = append(accepted, item)
	}
	return accepted
}
