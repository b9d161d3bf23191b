package model

import "time"

// Lock is a TTL-bounded exclusive claim on a named resource, shared by all
// running instances through the database.
type Lock struct {
	Key        string `gorm:"primaryKey;column:key"`
	Holder     string `gorm:"not null"`
	AcquiredAt time.Time
	ExpiresAt  time.Time `gorm:"index"`
}

func (l Lock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
