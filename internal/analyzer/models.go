package analyzer

import (
	"context"
	"time"
)

// AnalysisResult is the per-account outcome of one follower scan. Issues are
// immutable once computed; whitelist and greylist membership are re-read from
// the store on every retrieval.
type AnalysisResult struct {
	DID            string     `json:"did"`
	Handle         string     `json:"handle"`
	DisplayName    string     `json:"displayName,omitempty"`
	Avatar         string     `json:"avatar,omitempty"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
	Issues         []string   `json:"issues"`
	HasIssues      bool       `json:"hasIssues"`
	IsMutual       bool       `json:"isMutual"`
	IsWhitelisted  bool       `json:"isWhitelisted"`
	IsGreylisted   bool       `json:"isGreylisted"`
}

// Progress is a transient snapshot of a running analysis.
type Progress struct {
	Total        int    `json:"total"`
	Current      int    `json:"current"`
	Status       string `json:"status"`
	BlockedCount int    `json:"blockedCount"`
}

// ProgressFunc receives progress snapshots during a scan. Delivery is
// synchronous; the callback must not block or it will delay the next
// scheduled remote call.
type ProgressFunc func(progress Progress)

// BlockProgressFunc receives per-item progress during a bulk block run.
type BlockProgressFunc func(current int, total int)

// BlockResult is the per-item outcome of a bulk block run.
type BlockResult struct {
	DID     string `json:"did"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AllowList is the durable whitelist/greylist memory consumed by the analyzer.
type AllowList interface {
	AddToWhitelist(ctx context.Context, did string, handle string, reason string) error
	IsWhitelisted(ctx context.Context, did string) (bool, error)
	IsGreylisted(ctx context.Context, did string) (bool, error)
	Clear(ctx context.Context) error
}
