package store

import (
	"gorm.io/gorm"

	"github.com/causewatch/causewatch/internal/store/model"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type JobQueryFilter BaseQuerier

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *JobQueryFilter) ByProjectID(projectID string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("project_id = ?", projectID)
	})
	return qf
}

func (qf *JobQueryFilter) ByKind(kind model.JobKind) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("kind = ?", kind)
	})
	return qf
}

func (qf *JobQueryFilter) ByStatus(status model.JobStatus) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
	return qf
}

type AccountQueryFilter BaseQuerier

func NewAccountQueryFilter() *AccountQueryFilter {
	return &AccountQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

// WithPlatformHandle keeps only accounts whose handle for the platform is
// set, i.e. the ones eligible for fetch scheduling.
func (qf *AccountQueryFilter) WithPlatformHandle(platform model.Platform) *AccountQueryFilter {
	column := "twitter_handle"
	if platform == model.PlatformFarcaster {
		column = "farcaster_handle"
	}
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where(column + " IS NOT NULL AND " + column + " != ''")
	})
	return qf
}
