package store_test

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/causewatch/causewatch/internal/config"
	"github.com/causewatch/causewatch/internal/store"
	"github.com/causewatch/causewatch/internal/store/model"
)

var _ = Describe("job store", Ordered, func() {
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
		gormdb.Exec("DELETE FROM jobs;")
	})

	Context("create", func() {
		It("fills defaults", func() {
			job, err := s.Job().Create(context.TODO(), model.Job{
				ProjectID: "project-1",
				Kind:      model.KindTwitterFetch,
			})
			Expect(err).To(BeNil())
			Expect(job.ID).NotTo(Equal(uuid.Nil))
			Expect(job.Status).To(Equal(model.JobStatusPending))
			Expect(job.ScheduledFor).NotTo(BeZero())
			Expect(job.Attempts).To(Equal(0))
		})

		It("rejects duplicate ids", func() {
			id := uuid.New()
			_, err := s.Job().Create(context.TODO(), model.Job{ID: id, ProjectID: "project-1", Kind: model.KindTwitterFetch})
			Expect(err).To(BeNil())

			_, err = s.Job().Create(context.TODO(), model.Job{ID: id, ProjectID: "project-1", Kind: model.KindTwitterFetch})
			Expect(err).To(MatchError(store.ErrDuplicateKey))
		})
	})

	Context("pending exists", func() {
		It("sees only pending jobs of the same project and kind", func() {
			_, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "project-1", Kind: model.KindTwitterFetch})
			Expect(err).To(BeNil())

			exists, err := s.Job().PendingExists(context.TODO(), "project-1", model.KindTwitterFetch)
			Expect(err).To(BeNil())
			Expect(exists).To(BeTrue())

			exists, err = s.Job().PendingExists(context.TODO(), "project-1", model.KindFarcasterFetch)
			Expect(err).To(BeNil())
			Expect(exists).To(BeFalse())

			exists, err = s.Job().PendingExists(context.TODO(), "project-2", model.KindTwitterFetch)
			Expect(err).To(BeNil())
			Expect(exists).To(BeFalse())
		})
	})

	Context("list due", func() {
		It("returns due pending jobs in scheduled order", func() {
			now := time.Now().UTC()

			late, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p1", Kind: model.KindTwitterFetch, ScheduledFor: now.Add(-1 * time.Minute)})
			Expect(err).To(BeNil())
			early, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p2", Kind: model.KindTwitterFetch, ScheduledFor: now.Add(-10 * time.Minute)})
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), model.Job{ProjectID: "p3", Kind: model.KindTwitterFetch, ScheduledFor: now.Add(1 * time.Hour)})
			Expect(err).To(BeNil())

			due, err := s.Job().ListDue(context.TODO(), now, 10)
			Expect(err).To(BeNil())
			Expect(due).To(HaveLen(2))
			Expect(due[0].ID).To(Equal(early.ID))
			Expect(due[1].ID).To(Equal(late.ID))
		})

		It("honours the limit", func() {
			now := time.Now().UTC()
			for i := 0; i < 5; i++ {
				_, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p1", Kind: model.KindTwitterFetch, ScheduledFor: now.Add(-time.Minute)})
				Expect(err).To(BeNil())
			}

			due, err := s.Job().ListDue(context.TODO(), now, 3)
			Expect(err).To(BeNil())
			Expect(due).To(HaveLen(3))
		})

		It("restricts the batch to the requested kinds", func() {
			now := time.Now().UTC()

			for i := 0; i < 3; i++ {
				_, err := s.Job().Create(context.TODO(), model.Job{ProjectID: fmt.Sprintf("score-%d", i), Kind: model.KindProjectScore, ScheduledFor: now.Add(-time.Hour)})
				Expect(err).To(BeNil())
			}
			fetch, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p1", Kind: model.KindTwitterFetch, ScheduledFor: now.Add(-time.Minute)})
			Expect(err).To(BeNil())

			// the scoring jobs are due earlier but belong to another service
			due, err := s.Job().ListDue(context.TODO(), now, 2, model.KindTwitterFetch, model.KindFarcasterFetch)
			Expect(err).To(BeNil())
			Expect(due).To(HaveLen(1))
			Expect(due[0].ID).To(Equal(fetch.ID))
		})
	})

	Context("claim", func() {
		It("flips pending to processing exactly once", func() {
			job, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p1", Kind: model.KindTwitterFetch})
			Expect(err).To(BeNil())

			claimed, err := s.Job().Claim(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(claimed.Status).To(Equal(model.JobStatusProcessing))

			_, err = s.Job().Claim(context.TODO(), job.ID)
			Expect(err).To(MatchError(store.ErrStaleClaim))
		})
	})

	Context("state transitions", func() {
		It("completes with result metadata", func() {
			job, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p1", Kind: model.KindTwitterFetch})
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID)
			Expect(err).To(BeNil())

			err = s.Job().Complete(context.TODO(), job.ID, map[string]any{"new_posts": 5})
			Expect(err).To(BeNil())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusCompleted))
			Expect(got.LastError).To(BeNil())
			Expect(got.Metadata).NotTo(BeNil())
			Expect(got.Metadata.Data).To(HaveKey("new_posts"))
		})

		It("reschedules with incremented attempts and a future slot", func() {
			job, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p1", Kind: model.KindTwitterFetch})
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID)
			Expect(err).To(BeNil())

			next := time.Now().UTC().Add(2 * time.Minute)
			err = s.Job().Reschedule(context.TODO(), job.ID, 1, next, "transient failure")
			Expect(err).To(BeNil())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusPending))
			Expect(got.Attempts).To(Equal(1))
			Expect(got.ScheduledFor.Unix()).To(Equal(next.Unix()))
			Expect(*got.LastError).To(Equal("transient failure"))
		})

		It("fails terminally", func() {
			job, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p1", Kind: model.KindTwitterFetch, Attempts: 3})
			Expect(err).To(BeNil())

			err = s.Job().Fail(context.TODO(), job.ID, 4, "gave up")
			Expect(err).To(BeNil())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusFailed))
			Expect(got.Attempts).To(Equal(4))
			Expect(got.Terminal()).To(BeTrue())
		})

		It("cancels", func() {
			job, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p1", Kind: model.KindTwitterFetch})
			Expect(err).To(BeNil())

			Expect(s.Job().Cancel(context.TODO(), job.ID)).To(BeNil())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusCancelled))
		})

		It("returns not found for unknown jobs", func() {
			err := s.Job().Cancel(context.TODO(), uuid.New())
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("orphan recovery", func() {
		It("resets stuck processing jobs keeping attempts", func() {
			job, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p1", Kind: model.KindTwitterFetch, Attempts: 2})
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID)
			Expect(err).To(BeNil())

			// backdate the last touch past the stuck timeout
			old := time.Now().UTC().Add(-1 * time.Hour)
			tx := gormdb.Model(&model.Job{}).Where("id = ?", job.ID).UpdateColumn("updated_at", old)
			Expect(tx.Error).To(BeNil())

			recovered, err := s.Job().RecoverOrphans(context.TODO(), time.Now().UTC().Add(-15*time.Minute), "stuck")
			Expect(err).To(BeNil())
			Expect(recovered).To(Equal(int64(1)))

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusPending))
			Expect(got.Attempts).To(Equal(2))
			Expect(*got.LastError).To(Equal("stuck"))
		})

		It("leaves fresh processing jobs alone", func() {
			job, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p1", Kind: model.KindTwitterFetch})
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID)
			Expect(err).To(BeNil())

			recovered, err := s.Job().RecoverOrphans(context.TODO(), time.Now().UTC().Add(-15*time.Minute), "stuck")
			Expect(err).To(BeNil())
			Expect(recovered).To(Equal(int64(0)))
		})
	})

	Context("statistics", func() {
		It("counts by status and finds the oldest pending", func() {
			now := time.Now().UTC()
			oldest, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p1", Kind: model.KindTwitterFetch, ScheduledFor: now.Add(-1 * time.Hour)})
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), model.Job{ProjectID: "p2", Kind: model.KindTwitterFetch, ScheduledFor: now})
			Expect(err).To(BeNil())
			failed, err := s.Job().Create(context.TODO(), model.Job{ProjectID: "p3", Kind: model.KindTwitterFetch})
			Expect(err).To(BeNil())
			Expect(s.Job().Fail(context.TODO(), failed.ID, 4, "gave up")).To(BeNil())

			counts, err := s.Job().CountByStatus(context.TODO())
			Expect(err).To(BeNil())
			Expect(counts[model.JobStatusPending]).To(Equal(int64(2)))
			Expect(counts[model.JobStatusFailed]).To(Equal(int64(1)))

			got, err := s.Job().OldestPending(context.TODO())
			Expect(err).To(BeNil())
			Expect(got.ID).To(Equal(oldest.ID))
		})
	})
})
