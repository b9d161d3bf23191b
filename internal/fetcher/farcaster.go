package fetcher

import (
	"context"
	"time"

	"github.com/causewatch/causewatch/internal/store/model"
)

// CastSource lists casts for a handle, newest first (best effort). The free
// API needs no authentication but is aggressively throttled, so callers pace
// themselves through the processor's per-kind delays.
type CastSource interface {
	CastsByHandle(ctx context.Context, handle string, limit int) ([]Item, error)
}

// FarcasterFetcher fetches casts through the public API.
type FarcasterFetcher struct {
	source CastSource
	opts   Options
}

var _ Fetcher = (*FarcasterFetcher)(nil)

func NewFarcasterFetcher(source CastSource, opts Options) *FarcasterFetcher {
	return &FarcasterFetcher{source: source, opts: opts}
}

func (f *FarcasterFetcher) Platform() model.Platform {
	return model.PlatformFarcaster
}

func (f *FarcasterFetcher) Fetch(ctx context.Context, handle string, since *time.Time) Result {
	stream, err := f.source.CastsByHandle(ctx, handle, f.opts.ScanLimit)
	if err != nil {
		return Result{Outcome: OutcomeTransient, Err: err}
	}

	return Result{
		Items:   collectIncremental(stream, since, time.Now().UTC(), f.opts),
		Outcome: OutcomeOK,
	}
}
