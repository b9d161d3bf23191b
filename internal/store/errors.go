package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
	// ErrStaleClaim is returned when a job claim loses the race to another
	// processor instance.
	ErrStaleClaim = errors.New("job already claimed")
)
