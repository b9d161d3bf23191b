package jobs_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/causewatch/causewatch/internal/config"
	"github.com/causewatch/causewatch/internal/fetcher"
	"github.com/causewatch/causewatch/internal/jobs"
	"github.com/causewatch/causewatch/internal/store"
	"github.com/causewatch/causewatch/internal/store/model"
)

type stubFetcher struct {
	platform model.Platform
	result   fetcher.Result

	mu        sync.Mutex
	lastSince *time.Time
	calls     int
}

func (f *stubFetcher) Platform() model.Platform { return f.platform }

func (f *stubFetcher) Fetch(ctx context.Context, handle string, since *time.Time) fetcher.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSince = since
	return f.result
}

type eventSink struct {
	mu    sync.Mutex
	kinds []string
}

func (e *eventSink) Write(ctx context.Context, kind string, body io.Reader) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, kind)
	return nil
}

func (e *eventSink) Kinds() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.kinds...)
}

type archiveSink struct {
	mu   sync.Mutex
	keys []string
}

func (a *archiveSink) Store(ctx context.Context, key string, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

func (a *archiveSink) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.keys...)
}

var _ = Describe("fetch runner", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		_, err := s.Account().Upsert(context.TODO(), model.ProjectAccount{
			ProjectID:     "project-1",
			Name:          "Ocean Cleanup",
			TwitterHandle: strPtr("oceancleanup"),
		})
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM jobs;")
		gormdb.Exec("DELETE FROM posts;")
		gormdb.Exec("DELETE FROM project_accounts;")
	})

	newJob := func() *model.Job {
		job, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "project-1", Kind: model.KindTwitterFetch})
		Expect(err).To(BeNil())
		return job
	}

	It("stores fetched items, advances the cursor and publishes an event", func() {
		now := time.Now().UTC().Truncate(time.Second)
		newest := now.Add(-1 * time.Hour)
		stub := &stubFetcher{
			platform: model.PlatformTwitter,
			result: fetcher.Result{
				Outcome: fetcher.OutcomeOK,
				Items: []fetcher.Item{
					{ExternalID: "tw-1", Text: "first", Timestamp: newest},
					{ExternalID: "tw-2", Text: "second", Timestamp: now.Add(-2 * time.Hour)},
					{ExternalID: "tw-3", Text: "third", Timestamp: now.Add(-3 * time.Hour)},
				},
			},
		}
		events := &eventSink{}
		archive := &archiveSink{}

		metadata, err := jobs.NewFetchRunner(s, stub, events, archive).Run(context.TODO(), newJob())
		Expect(err).To(BeNil())
		Expect(metadata).To(HaveKeyWithValue("new_posts", int64(3)))

		posts, err := s.Post().ListByProject(context.TODO(), "project-1")
		Expect(err).To(BeNil())
		Expect(posts).To(HaveLen(3))

		account, err := s.Account().Get(context.TODO(), "project-1")
		Expect(err).To(BeNil())
		Expect(account.LatestTweetAt).NotTo(BeNil())
		Expect(account.LatestTweetAt.Unix()).To(Equal(newest.Unix()))
		Expect(account.LastTwitterFetchAt).NotTo(BeNil())
		Expect(account.Metadata.Data.LastFetchCount).To(HaveKeyWithValue("twitter", 3))

		Expect(events.Kinds()).To(ConsistOf(jobs.PostsIngestedEventKind))
		Expect(archive.Keys()).To(HaveLen(1))
		Expect(archive.Keys()[0]).To(HavePrefix("twitter/project-1/"))
	})

	It("publishes nothing when the fetch found no new items", func() {
		stub := &stubFetcher{platform: model.PlatformTwitter, result: fetcher.Result{Outcome: fetcher.OutcomeOK}}
		events := &eventSink{}

		metadata, err := jobs.NewFetchRunner(s, stub, events, nil).Run(context.TODO(), newJob())
		Expect(err).To(BeNil())
		Expect(metadata).To(HaveKeyWithValue("new_posts", int64(0)))
		Expect(events.Kinds()).To(BeEmpty())

		account, err := s.Account().Get(context.TODO(), "project-1")
		Expect(err).To(BeNil())
		Expect(account.LatestTweetAt).To(BeNil())
		Expect(account.LastTwitterFetchAt).NotTo(BeNil())
	})

	It("passes the stored cursor to the fetcher", func() {
		cursor := time.Now().UTC().Add(-6 * time.Hour).Truncate(time.Second)
		Expect(s.Account().AdvanceCursor(context.TODO(), "project-1", model.PlatformTwitter, cursor)).To(BeNil())

		stub := &stubFetcher{platform: model.PlatformTwitter, result: fetcher.Result{Outcome: fetcher.OutcomeOK}}
		_, err := jobs.NewFetchRunner(s, stub, nil, nil).Run(context.TODO(), newJob())
		Expect(err).To(BeNil())

		Expect(stub.lastSince).NotTo(BeNil())
		Expect(stub.lastSince.Unix()).To(Equal(cursor.Unix()))
	})

	It("does not store duplicates across consecutive runs", func() {
		now := time.Now().UTC().Truncate(time.Second)
		stub := &stubFetcher{
			platform: model.PlatformTwitter,
			result: fetcher.Result{
				Outcome: fetcher.OutcomeOK,
				Items:   []fetcher.Item{{ExternalID: "tw-1", Text: "first", Timestamp: now.Add(-time.Hour)}},
			},
		}
		runner := jobs.NewFetchRunner(s, stub, nil, nil)

		metadata, err := runner.Run(context.TODO(), newJob())
		Expect(err).To(BeNil())
		Expect(metadata).To(HaveKeyWithValue("new_posts", int64(1)))

		// same item again; the dedup layer absorbs it
		metadata, err = runner.Run(context.TODO(), newJob())
		Expect(err).To(BeNil())
		Expect(metadata).To(HaveKeyWithValue("new_posts", int64(0)))

		count, err := s.Post().Count(context.TODO())
		Expect(err).To(BeNil())
		Expect(count).To(Equal(int64(1)))
	})

	It("degrades auth failures to a successful no-op", func() {
		stub := &stubFetcher{
			platform: model.PlatformTwitter,
			result:   fetcher.Result{Outcome: fetcher.OutcomeAuthFailed, Err: errors.New("login rejected")},
		}

		metadata, err := jobs.NewFetchRunner(s, stub, nil, nil).Run(context.TODO(), newJob())
		Expect(err).To(BeNil())
		Expect(metadata).To(HaveKeyWithValue("outcome", string(fetcher.OutcomeAuthFailed)))

		// the attempt is still recorded
		account, err := s.Account().Get(context.TODO(), "project-1")
		Expect(err).To(BeNil())
		Expect(account.LastTwitterFetchAt).NotTo(BeNil())
	})

	It("propagates transient errors for the retry machinery", func() {
		stub := &stubFetcher{
			platform: model.PlatformTwitter,
			result:   fetcher.Result{Outcome: fetcher.OutcomeTransient, Err: errors.New("rate limited")},
		}

		_, err := jobs.NewFetchRunner(s, stub, nil, nil).Run(context.TODO(), newJob())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("rate limited"))
	})

	It("skips accounts whose handle was removed after scheduling", func() {
		stub := &stubFetcher{platform: model.PlatformFarcaster, result: fetcher.Result{Outcome: fetcher.OutcomeOK}}

		metadata, err := jobs.NewFetchRunner(s, stub, nil, nil).Run(context.TODO(), newJob())
		Expect(err).To(BeNil())
		Expect(metadata).To(HaveKey("skipped"))
		Expect(stub.calls).To(Equal(0))
	})
})
