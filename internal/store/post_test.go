package store_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/causewatch/causewatch/internal/config"
	"github.com/causewatch/causewatch/internal/store"
	"github.com/causewatch/causewatch/internal/store/model"
)

var _ = Describe("post store", Ordered, func() {
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
	})

	makePost := func(externalID, projectID string, postedAt time.Time) model.Post {
		return model.Post{
			ExternalID: externalID,
			ProjectID:  projectID,
			Platform:   model.PlatformTwitter,
			Content:    "content of " + externalID,
			PostedAt:   postedAt,
			FetchedAt:  time.Now().UTC(),
		}
	}

	Context("save all", func() {
		It("skips already stored posts", func() {
			now := time.Now().UTC()

			saved, err := s.Post().SaveAll(context.TODO(), []model.Post{
				makePost("tw-1", "project-1", now.Add(-1*time.Hour)),
				makePost("tw-2", "project-1", now.Add(-2*time.Hour)),
			})
			Expect(err).To(BeNil())
			Expect(saved).To(Equal(int64(2)))

			// one duplicate, one new
			saved, err = s.Post().SaveAll(context.TODO(), []model.Post{
				makePost("tw-2", "project-1", now.Add(-2*time.Hour)),
				makePost("tw-3", "project-1", now.Add(-3*time.Hour)),
			})
			Expect(err).To(BeNil())
			Expect(saved).To(Equal(int64(1)))

			count, err := s.Post().Count(context.TODO())
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(3)))
		})

		It("accepts an empty batch", func() {
			saved, err := s.Post().SaveAll(context.TODO(), nil)
			Expect(err).To(BeNil())
			Expect(saved).To(Equal(int64(0)))
		})
	})

	Context("list by project", func() {
		It("returns only the project's posts, newest first", func() {
			now := time.Now().UTC()
			_, err := s.Post().SaveAll(context.TODO(), []model.Post{
				makePost("tw-1", "project-1", now.Add(-3*time.Hour)),
				makePost("tw-2", "project-1", now.Add(-1*time.Hour)),
				makePost("tw-3", "project-2", now.Add(-2*time.Hour)),
			})
			Expect(err).To(BeNil())

			posts, err := s.Post().ListByProject(context.TODO(), "project-1")
			Expect(err).To(BeNil())
			Expect(posts).To(HaveLen(2))
			Expect(posts[0].ExternalID).To(Equal("tw-2"))
			Expect(posts[1].ExternalID).To(Equal("tw-1"))
		})
	})

	Context("delete by project", func() {
		It("removes the project's posts only", func() {
			now := time.Now().UTC()
			_, err := s.Post().SaveAll(context.TODO(), []model.Post{
				makePost("tw-1", "project-1", now),
				makePost("tw-2", "project-2", now),
			})
			Expect(err).To(BeNil())

			deleted, err := s.Post().DeleteByProject(context.TODO(), "project-1")
			Expect(err).To(BeNil())
			Expect(deleted).To(Equal(int64(1)))

			count, err := s.Post().Count(context.TODO())
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(1)))
		})
	})

	Context("prune", func() {
		It("removes aged posts", func() {
			now := time.Now().UTC()
			_, err := s.Post().SaveAll(context.TODO(), []model.Post{
				makePost("tw-old", "project-1", now.Add(-90*24*time.Hour)),
				makePost("tw-new", "project-1", now.Add(-1*time.Hour)),
			})
			Expect(err).To(BeNil())

			removed, err := s.Post().Prune(context.TODO(), now.Add(-30*24*time.Hour), 1000)
			Expect(err).To(BeNil())
			Expect(removed).To(Equal(int64(1)))

			posts, err := s.Post().ListByProject(context.TODO(), "project-1")
			Expect(err).To(BeNil())
			Expect(posts).To(HaveLen(1))
			Expect(posts[0].ExternalID).To(Equal("tw-new"))
		})

		It("caps each project at the newest N posts", func() {
			now := time.Now().UTC()
			batch := make([]model.Post, 0, 10)
			for i := 0; i < 5; i++ {
				batch = append(batch, makePost(fmt.Sprintf("p1-%d", i), "project-1", now.Add(-time.Duration(i)*time.Hour)))
				batch = append(batch, makePost(fmt.Sprintf("p2-%d", i), "project-2", now.Add(-time.Duration(i)*time.Hour)))
			}
			_, err := s.Post().SaveAll(context.TODO(), batch)
			Expect(err).To(BeNil())

			removed, err := s.Post().Prune(context.TODO(), now.Add(-30*24*time.Hour), 3)
			Expect(err).To(BeNil())
			Expect(removed).To(Equal(int64(4)))

			for _, projectID := range []string{"project-1", "project-2"} {
				posts, err := s.Post().ListByProject(context.TODO(), projectID)
				Expect(err).To(BeNil())
				Expect(posts).To(HaveLen(3))
				// the newest survive
				Expect(posts[0].PostedAt.Unix()).To(Equal(now.Unix()))
			}
		})
	})
})
