package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/causewatch/causewatch/internal/store/model"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	Account() Account
	Post() Post
	Lock() Lock
	Statistics(ctx context.Context) (model.IngestionStats, error)
	InitialMigration() error
	Close() error
}

type DataStore struct {
	db      *gorm.DB
	job     Job
	account Account
	post    Post
	lock    Lock
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		job:     NewJobStore(db),
		account: NewAccountStore(db),
		post:    NewPostStore(db),
		lock:    NewLockStore(db),
		db:      db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Account() Account {
	return s.account
}

func (s *DataStore) Post() Post {
	return s.post
}

func (s *DataStore) Lock() Lock {
	return s.lock
}

func (s *DataStore) Statistics(ctx context.Context) (model.IngestionStats, error) {
	stats := model.IngestionStats{}

	jobs, err := s.Job().CountByStatus(ctx)
	if err != nil {
		return stats, err
	}
	stats.Jobs = jobs

	if stats.Accounts, err = s.Account().Count(ctx); err != nil {
		return stats, err
	}
	if stats.Posts, err = s.Post().Count(ctx); err != nil {
		return stats, err
	}

	oldest, err := s.Job().OldestPending(ctx)
	switch err {
	case nil:
		stats.OldestPendingJob = oldest.ScheduledFor
	case ErrRecordNotFound:
		// no pending work
	default:
		return stats, err
	}

	return stats, nil
}

// InitialMigration creates the schema via AutoMigrate. Production deployments
// run the goose SQL migrations instead; this path serves sqlite and tests.
func (s *DataStore) InitialMigration() error {
	return s.db.AutoMigrate(
		&model.Job{},
		&model.ProjectAccount{},
		&model.Post{},
		&model.Lock{},
	)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
