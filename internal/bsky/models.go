package bsky

import (
	"context"
	"time"
)

// FollowerRecord describes one account returned by the follower listing endpoint.
type FollowerRecord struct {
	DID             string `json:"did"`
	Handle          string `json:"handle"`
	DisplayName     string `json:"displayName,omitempty"`
	Avatar          string `json:"avatar,omitempty"`
	BlockedByViewer bool   `json:"blockedByViewer,omitempty"`
}

// ProfileSnapshot captures the detailed profile view used for classification.
type ProfileSnapshot struct {
	DID              string     `json:"did"`
	Handle           string     `json:"handle"`
	FollowersCount   int        `json:"followersCount"`
	FollowsCount     int        `json:"followsCount"`
	IndexedAt        *time.Time `json:"indexedAt,omitempty"`
	ViewerFollowing  bool       `json:"viewerFollowing"`
	ViewerFollowedBy bool       `json:"viewerFollowedBy"`
}

// FollowersPage is one page of a cursor-based follower listing.
type FollowersPage struct {
	Followers []FollowerRecord
	Cursor    string
}

// ActivityPage carries the most recent feed items for an account.
type ActivityPage struct {
	ItemCount int
}

// Client is the consumed remote social-graph API surface.
type Client interface {
	ListFollowers(ctx context.Context, actorDID string, cursor string, limit int) (FollowersPage, error)
	GetProfile(ctx context.Context, actorDID string) (ProfileSnapshot, error)
	GetRecentActivity(ctx context.Context, actorDID string, limit int) (ActivityPage, error)
	CreateBlockRecord(ctx context.Context, viewerDID string, targetDID string, createdAt time.Time) error
	RefreshSession(ctx context.Context) error
}
