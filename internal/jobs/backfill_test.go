package jobs_test

import (
	"context"
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

var _ = Describe("backfill", Ordered, func() {
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

	AfterEach(func() {
		gormdb.Exec("DELETE FROM posts;")
		gormdb.Exec("DELETE FROM project_accounts;")
	})

	addAccount := func(projectID, handle string) {
		_, err := s.Account().Upsert(context.TODO(), model.ProjectAccount{
			ProjectID:     projectID,
			Name:          projectID,
			TwitterHandle: strPtr(handle),
		})
		Expect(err).To(BeNil())
	}

	It("fetches every handled account and persists through the regular path", func() {
		addAccount("project-1", "one")
		addAccount("project-2", "two")
		// no twitter handle, must not be fetched
		_, err := s.Account().Upsert(context.TODO(), model.ProjectAccount{ProjectID: "project-3", Name: "project-3"})
		Expect(err).To(BeNil())

		newest := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
		stub := &stubFetcher{
			platform: model.PlatformTwitter,
			result: fetcher.Result{
				Outcome: fetcher.OutcomeOK,
				Items: []fetcher.Item{
					{ExternalID: "tw-1", Text: "first", Timestamp: newest},
				},
			},
		}

		results, err := jobs.Backfill(context.TODO(), s, stub, nil, jobs.BackfillConfig{MaxAttempts: 1})
		Expect(err).To(BeNil())
		Expect(results).To(HaveLen(2))
		Expect(stub.calls).To(Equal(2))

		for _, result := range results {
			Expect(result.Outcome).To(Equal(fetcher.OutcomeOK))
			Expect(result.NewPosts).To(Equal(int64(1)))
		}

		account, err := s.Account().Get(context.TODO(), "project-1")
		Expect(err).To(BeNil())
		Expect(account.LatestTweetAt).ToNot(BeNil())
		Expect(account.LatestTweetAt.Unix()).To(Equal(newest.Unix()))
		Expect(account.LastTwitterFetchAt).ToNot(BeNil())
	})

	It("fetches only the requested projects", func() {
		addAccount("project-1", "one")
		addAccount("project-2", "two")

		stub := &stubFetcher{platform: model.PlatformTwitter, result: fetcher.Result{Outcome: fetcher.OutcomeOK}}

		results, err := jobs.Backfill(context.TODO(), s, stub, []string{"project-2"}, jobs.BackfillConfig{MaxAttempts: 1})
		Expect(err).To(BeNil())
		Expect(results).To(HaveLen(1))
		Expect(results[0].ProjectID).To(Equal("project-2"))
		Expect(stub.calls).To(Equal(1))
	})

	It("reports failed handles without aborting the run", func() {
		addAccount("project-1", "one")

		stub := &stubFetcher{
			platform: model.PlatformTwitter,
			result:   fetcher.Result{Outcome: fetcher.OutcomeAuthFailed, Err: context.DeadlineExceeded},
		}

		results, err := jobs.Backfill(context.TODO(), s, stub, nil, jobs.BackfillConfig{MaxAttempts: 1})
		Expect(err).To(BeNil())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Outcome).To(Equal(fetcher.OutcomeAuthFailed))
		Expect(results[0].NewPosts).To(Equal(int64(0)))
		Expect(results[0].Error).ToNot(BeEmpty())

		// the attempt is still recorded for operators
		account, err := s.Account().Get(context.TODO(), "project-1")
		Expect(err).To(BeNil())
		Expect(account.LastTwitterFetchAt).ToNot(BeNil())
	})

	It("errors on an unknown project id", func() {
		stub := &stubFetcher{platform: model.PlatformTwitter, result: fetcher.Result{Outcome: fetcher.OutcomeOK}}

		_, err := jobs.Backfill(context.TODO(), s, stub, []string{"nope"}, jobs.BackfillConfig{MaxAttempts: 1})
		Expect(err).To(MatchError(store.ErrRecordNotFound))
	})
})
