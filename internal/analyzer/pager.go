package analyzer

import (
	"context"
	"time"

	"github.com/sky-audit/skyaudit/internal/bsky"
)

// followerPager iterates the cursor-based follower listing one page at a time,
// enforcing a fixed delay between consecutive remote calls of the same drain.
// It is restartable from scratch only; a caller must loop until next reports
// no more pages before considering the listing complete.
type followerPager struct {
	client    bsky.Client
	actorDID  string
	pageSize  int
	delay     time.Duration
	cursor    string
	started   bool
	exhausted bool
}

func newFollowerPager(client bsky.Client, actorDID string, pageSize int, delay time.Duration) *followerPager {
	return &followerPager{client: client, actorDID: actorDID, pageSize: pageSize, delay: delay}
}

// next fetches the following page. The second return value reports whether
// more pages remain; remote errors propagate unmodified.
func (pager *followerPager) next(ctx context.Context) ([]bsky.FollowerRecord, bool, error) {
	if pager.exhausted {
		return nil, false, nil
	}
	if pager.started {
		if err := sleepContext(ctx, pager.delay); err != nil {
			return nil, false, err
		}
	}

	page, err := pager.client.ListFollowers(ctx, pager.actorDID, pager.cursor, pager.pageSize)
	if err != nil {
		return nil, false, err
	}
	pager.started = true
	pager.cursor = page.Cursor
	if page.Cursor == "" {
		pager.exhausted = true
	}
	return page.Followers, !pager.exhausted, nil
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
