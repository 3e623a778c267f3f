package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sky-audit/skyaudit/internal/bsky"
)

// ClientConfig customizes a session-aware Client.
type ClientConfig struct {
	Inner     bsky.Client
	IsExpired ExpiryPredicate
	Logger    *zap.Logger
}

// Client decorates a remote API client so that every call passes through the
// refresh-and-retry guard. It implements bsky.Client.
type Client struct {
	inner bsky.Client
	guard *Guard
}

// NewClient constructs a guarded client around the inner remote API client.
func NewClient(configuration ClientConfig) (*Client, error) {
	guard, err := NewGuard(GuardConfig{
		Refresh:   configuration.Inner.RefreshSession,
		IsExpired: configuration.IsExpired,
		Logger:    configuration.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{inner: configuration.Inner, guard: guard}, nil
}

// ListFollowers fetches one follower page through the session guard.
func (client *Client) ListFollowers(ctx context.Context, actorDID string, cursor string, limit int) (bsky.FollowersPage, error) {
	var page bsky.FollowersPage
	err := client.guard.Do(ctx, func(ctx context.Context) error {
		var callErr error
		page, callErr = client.inner.ListFollowers(ctx, actorDID, cursor, limit)
		return callErr
	})
	return page, err
}

// GetProfile fetches a profile snapshot through the session guard.
func (client *Client) GetProfile(ctx context.Context, actorDID string) (bsky.ProfileSnapshot, error) {
	var snapshot bsky.ProfileSnapshot
	err := client.guard.Do(ctx, func(ctx context.Context) error {
		var callErr error
		snapshot, callErr = client.inner.GetProfile(ctx, actorDID)
		return callErr
	})
	return snapshot, err
}

// GetRecentActivity fetches the first feed page through the session guard.
func (client *Client) GetRecentActivity(ctx context.Context, actorDID string, limit int) (bsky.ActivityPage, error) {
	var activity bsky.ActivityPage
	err := client.guard.Do(ctx, func(ctx context.Context) error {
		var callErr error
		activity, callErr = client.inner.GetRecentActivity(ctx, actorDID, limit)
		return callErr
	})
	return activity, err
}

// CreateBlockRecord writes a block record through the session guard.
func (client *Client) CreateBlockRecord(ctx context.Context, viewerDID string, targetDID string, createdAt time.Time) error {
	return client.guard.Do(ctx, func(ctx context.Context) error {
		return client.inner.CreateBlockRecord(ctx, viewerDID, targetDID, createdAt)
	})
}

// RefreshSession delegates to the inner client without guarding; the guard
// itself drives refreshes.
func (client *Client) RefreshSession(ctx context.Context) error {
	return client.inner.RefreshSession(ctx)
}
