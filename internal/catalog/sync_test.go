package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/causewatch/causewatch/internal/catalog"
	"github.com/causewatch/causewatch/internal/config"
	"github.com/causewatch/causewatch/internal/store"
)

// fakeClient serves a fixed cause list in pages, the way the synchronizer
// walks the real catalog.
type fakeClient struct {
	causes []catalog.Cause
	err    error
	calls  int
}

func (c *fakeClient) ListCauses(ctx context.Context, offset, limit int) ([]catalog.Cause, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if offset >= len(c.causes) {
		return nil, nil
	}
	end := offset + limit
	if end > len(c.causes) {
		end = len(c.causes)
	}
	return c.causes[offset:end], nil
}

var _ = Describe("catalog synchronizer", Ordered, func() {
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
		gormdb.Exec("DELETE FROM project_accounts;")
		gormdb.Exec("DELETE FROM locks;")
	})

	defaultConfig := func() catalog.SyncConfig {
		return catalog.SyncConfig{
			PageSize:         2,
			BatchSize:        10,
			Concurrency:      1,
			FailureThreshold: 5,
			LockTTL:          time.Minute,
			Holder:           "test-instance",
		}
	}

	It("creates accounts for all catalog projects", func() {
		client := &fakeClient{causes: []catalog.Cause{
			{ID: "c1", Name: "oceans", Projects: []catalog.Project{
				{ID: "p1", Name: "Ocean Cleanup", TwitterHandle: "oceancleanup"},
				{ID: "p2", Name: "Coral Watch", FarcasterHandle: "coral"},
			}},
			{ID: "c2", Name: "forests", Projects: []catalog.Project{
				{ID: "p3", Name: "Rainforest Trust"},
			}},
			{ID: "c3", Name: "climate", Projects: nil},
		}}

		summary, err := catalog.NewSynchronizer(s, client, defaultConfig()).Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(summary.Skipped).To(BeFalse())
		Expect(summary.Causes).To(Equal(3))
		Expect(summary.Projects).To(Equal(3))
		Expect(summary.Synced).To(Equal(3))
		Expect(summary.Failed).To(Equal(0))

		account, err := s.Account().Get(context.TODO(), "p1")
		Expect(err).To(BeNil())
		Expect(account.Name).To(Equal("Ocean Cleanup"))
		Expect(*account.TwitterHandle).To(Equal("oceancleanup"))
		Expect(account.Metadata.Data.Causes).To(ConsistOf("oceans"))
		Expect(account.Metadata.Data.LastSyncAt).NotTo(BeNil())

		// page size 2 over 3 causes: two full pages plus the empty probe
		Expect(client.calls).To(Equal(3))
	})

	It("merges cause names for projects listed under several causes", func() {
		client := &fakeClient{causes: []catalog.Cause{
			{ID: "c1", Name: "oceans", Projects: []catalog.Project{
				{ID: "p1", Name: "Ocean Cleanup"},
			}},
			{ID: "c2", Name: "climate", Projects: []catalog.Project{
				{ID: "p1", Name: "Ocean Cleanup Duplicate"},
			}},
		}}

		summary, err := catalog.NewSynchronizer(s, client, defaultConfig()).Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(summary.Projects).To(Equal(1))
		Expect(summary.Synced).To(Equal(1))

		account, err := s.Account().Get(context.TODO(), "p1")
		Expect(err).To(BeNil())
		// the first occurrence wins for the catalog columns
		Expect(account.Name).To(Equal("Ocean Cleanup"))
		Expect(account.Metadata.Data.Causes).To(ConsistOf("oceans", "climate"))
	})

	It("skips the run when the lock is held elsewhere", func() {
		acquired, err := s.Lock().Acquire(context.TODO(), catalog.LockKey, "other-instance", time.Minute)
		Expect(err).To(BeNil())
		Expect(acquired).To(BeTrue())

		client := &fakeClient{}
		summary, err := catalog.NewSynchronizer(s, client, defaultConfig()).Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(summary.Skipped).To(BeTrue())
		Expect(client.calls).To(Equal(0))
	})

	It("releases the lock when the run finishes", func() {
		client := &fakeClient{}
		_, err := catalog.NewSynchronizer(s, client, defaultConfig()).Run(context.TODO())
		Expect(err).To(BeNil())

		acquired, err := s.Lock().Acquire(context.TODO(), catalog.LockKey, "next-instance", time.Minute)
		Expect(err).To(BeNil())
		Expect(acquired).To(BeTrue())
	})

	It("counts invalid projects as failed without failing the run", func() {
		client := &fakeClient{causes: []catalog.Cause{
			{ID: "c1", Name: "oceans", Projects: []catalog.Project{
				{ID: "p1", Name: "Ocean Cleanup"},
				{ID: "p2", Name: ""}, // missing name
				{ID: "", Name: "No ID"},
			}},
		}}

		summary, err := catalog.NewSynchronizer(s, client, defaultConfig()).Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(summary.Synced).To(Equal(1))
		Expect(summary.Failed).To(Equal(2))
		Expect(summary.Tripped).To(BeFalse())

		_, err = s.Account().Get(context.TODO(), "p1")
		Expect(err).To(BeNil())
	})

	It("trips the circuit breaker after consecutive fully-failed batches", func() {
		// ten single-project batches, every project invalid
		projects := make([]catalog.Project, 0, 10)
		for i := 0; i < 10; i++ {
			projects = append(projects, catalog.Project{ID: fmt.Sprintf("p%d", i)})
		}
		client := &fakeClient{causes: []catalog.Cause{{ID: "c1", Name: "oceans", Projects: projects}}}

		cfg := defaultConfig()
		cfg.BatchSize = 1
		cfg.FailureThreshold = 3

		summary, err := catalog.NewSynchronizer(s, client, cfg).Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(summary.Tripped).To(BeTrue())
		// every project ends up failed, processed or skipped
		Expect(summary.Failed).To(Equal(10))
		Expect(summary.Synced).To(Equal(0))
	})

	It("recovers the breaker when a batch succeeds", func() {
		// alternate bad and good batches; the failure streak never reaches
		// the threshold
		projects := make([]catalog.Project, 0, 10)
		for i := 0; i < 10; i++ {
			project := catalog.Project{ID: fmt.Sprintf("p%d", i)}
			if i%2 == 1 {
				project.Name = fmt.Sprintf("Project %d", i)
			}
			projects = append(projects, project)
		}
		client := &fakeClient{causes: []catalog.Cause{{ID: "c1", Name: "oceans", Projects: projects}}}

		cfg := defaultConfig()
		cfg.BatchSize = 1
		cfg.FailureThreshold = 3

		summary, err := catalog.NewSynchronizer(s, client, cfg).Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(summary.Tripped).To(BeFalse())
		Expect(summary.Synced).To(Equal(5))
		Expect(summary.Failed).To(Equal(5))
	})

	It("surfaces catalog errors", func() {
		client := &fakeClient{err: errors.New("upstream down")}

		_, err := catalog.NewSynchronizer(s, client, defaultConfig()).Run(context.TODO())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("upstream down"))
	})

	It("refreshes existing accounts without touching their cursors", func() {
		client := &fakeClient{causes: []catalog.Cause{
			{ID: "c1", Name: "oceans", Projects: []catalog.Project{
				{ID: "p1", Name: "Ocean Cleanup", TwitterHandle: "oceancleanup"},
			}},
		}}
		synchronizer := catalog.NewSynchronizer(s, client, defaultConfig())

		_, err := synchronizer.Run(context.TODO())
		Expect(err).To(BeNil())

		cursor := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
		Expect(s.Account().AdvanceCursor(context.TODO(), "p1", "twitter", cursor)).To(BeNil())

		client.causes[0].Projects[0].Name = "The Ocean Cleanup"
		_, err = synchronizer.Run(context.TODO())
		Expect(err).To(BeNil())

		account, err := s.Account().Get(context.TODO(), "p1")
		Expect(err).To(BeNil())
		Expect(account.Name).To(Equal("The Ocean Cleanup"))
		Expect(account.LatestTweetAt).NotTo(BeNil())
		Expect(account.LatestTweetAt.Unix()).To(Equal(cursor.Unix()))
	})
})
