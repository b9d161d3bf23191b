package model

import (
	"encoding/json"
	"time"
)

type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformFarcaster Platform = "farcaster"
)

// AccountMetadata is free-form provenance kept per project account.
type AccountMetadata struct {
	Causes         []string   `json:"causes,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`
	LastFetchCount map[string]int `json:"last_fetch_count,omitempty"`
}

// ProjectAccount holds per-project platform identifiers and the incremental
// fetch cursors. A nil handle means the platform is not scheduled.
type ProjectAccount struct {
	ProjectID       string  `gorm:"primaryKey;column:project_id"`
	Name            string  `gorm:"not null"`
	TwitterHandle   *string `gorm:"index"`
	FarcasterHandle *string `gorm:"index"`

	// last fetch attempt timestamps, recorded on success and failure alike
	LastTwitterFetchAt   *time.Time
	LastFarcasterFetchAt *time.Time

	// latest-seen item timestamps, the monotonic cursors
	LatestTweetAt *time.Time
	LatestCastAt  *time.Time

	Metadata  *JSONField[AccountMetadata] `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ProjectAccountList []ProjectAccount

func (a ProjectAccount) String() string {
	val, _ := json.Marshal(a)
	return string(val)
}

// Handle returns the platform handle for the given platform, or nil.
func (a ProjectAccount) Handle(platform Platform) *string {
	if platform == PlatformTwitter {
		return a.TwitterHandle
	}
	return a.FarcasterHandle
}

// Cursor returns the latest-seen item timestamp for the given platform.
func (a ProjectAccount) Cursor(platform Platform) *time.Time {
	if platform == PlatformTwitter {
		return a.LatestTweetAt
	}
	return a.LatestCastAt
}
