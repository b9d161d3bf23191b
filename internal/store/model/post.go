package model

import "time"

// Post is a deduplicated social item. ExternalID is the platform-global id
// and the dedup key.
type Post struct {
	ExternalID string   `gorm:"primaryKey;column:external_id"`
	ProjectID  string   `gorm:"index;not null"`
	Platform   Platform `gorm:"index;not null"`
	Content    string
	URL        string
	PostedAt   time.Time `gorm:"index"`
	FetchedAt  time.Time
}

type PostList []Post
