package fetcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/causewatch/causewatch/internal/store/model"
)

// Timeline is an authenticated view of the scraped platform: a best-effort
// reverse-chronological listing per handle.
type Timeline interface {
	UserTimeline(ctx context.Context, handle string, limit int) ([]Item, error)
	// Valid reports whether the session is still usable.
	Valid() bool
}

// SessionProvider logs in to the scraped platform and returns a session, or
// fails. Sessions are expensive; the fetcher caches one until it goes stale.
type SessionProvider interface {
	Login(ctx context.Context) (Timeline, error)
}

// TwitterFetcher fetches tweets through an authenticated scraping session.
// Authentication is acquired lazily and cached. When login fails the fetch
// degrades to an empty auth_failed result instead of erroring: the next
// scheduled job retries authentication.
type TwitterFetcher struct {
	sessions SessionProvider
	opts     Options

	mu      sync.Mutex
	session Timeline
}

var _ Fetcher = (*TwitterFetcher)(nil)

func NewTwitterFetcher(sessions SessionProvider, opts Options) *TwitterFetcher {
	return &TwitterFetcher{sessions: sessions, opts: opts}
}

func (f *TwitterFetcher) Platform() model.Platform {
	return model.PlatformTwitter
}

func (f *TwitterFetcher) Fetch(ctx context.Context, handle string, since *time.Time) Result {
	session, err := f.currentSession(ctx)
	if err != nil {
		zap.S().Named("twitter_fetcher").Warnw("login failed, skipping fetch", "handle", handle, "error", err)
		return Result{Outcome: OutcomeAuthFailed, Err: err}
	}

	stream, err := session.UserTimeline(ctx, handle, f.opts.ScanLimit)
	if err != nil {
		if !session.Valid() {
			f.dropSession()
			zap.S().Named("twitter_fetcher").Warnw("session invalidated", "handle", handle, "error", err)
			return Result{Outcome: OutcomeAuthFailed, Err: err}
		}
		return Result{Outcome: OutcomeTransient, Err: err}
	}

	return Result{
		Items:   collectIncremental(stream, since, time.Now().UTC(), f.opts),
		Outcome: OutcomeOK,
	}
}

func (f *TwitterFetcher) currentSession(ctx context.Context) (Timeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session != nil && f.session.Valid() {
		return f.session, nil
	}

	session, err := f.sessions.Login(ctx)
	if err != nil {
		return nil, err
	}
	f.session = session
	return session, nil
}

func (f *TwitterFetcher) dropSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = nil
}
