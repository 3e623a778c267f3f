// Package analyzer drives the follower audit pipeline: a counting pass over
// the paginated follower listing, a scanning pass that classifies each
// non-exempt follower, a session-scoped result cache, and progress reporting.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sky-audit/skyaudit/internal/allowlist"
	"github.com/sky-audit/skyaudit/internal/bsky"
	"github.com/sky-audit/skyaudit/internal/classifier"
	"github.com/sky-audit/skyaudit/internal/session"
)

const (
	defaultPageSize             = 100
	defaultRequestDelay         = 100 * time.Millisecond
	statusStarting              = "Starting analysis..."
	statusAnalyzingFormat       = "Analyzing %s..."
	statusAnalyzedFormat        = "Analyzed %s"
	statusComplete              = "Analysis complete!"
	errMessageMissingClient     = "analyzer requires a remote client"
	errMessageMissingAllowList  = "analyzer requires an allow-list store"
	errMessageEmptyActorDID     = "actor did cannot be empty"
	errMessageMissingViewerDID  = "analyzer has no viewer did configured"
	logMessageCountingPass      = "counting followers"
	logMessageScanningPass      = "scanning followers"
	logMessageScanComplete      = "follower scan complete"
	logMessageAccountFetchError = "account detail fetch failed"
	logFieldActorDID            = "actorDID"
	logFieldHandle              = "handle"
	logFieldTotal               = "total"
	logFieldBlockedEstimate     = "blockedEstimate"
	logFieldAnalyzed            = "analyzed"
)

var (
	errMissingClient    = errors.New(errMessageMissingClient)
	errMissingAllowList = errors.New(errMessageMissingAllowList)
	errEmptyActorDID    = errors.New(errMessageEmptyActorDID)
	errMissingViewerDID = errors.New(errMessageMissingViewerDID)
)

// Config customizes an Analyzer instance.
type Config struct {
	Client       bsky.Client
	AllowList    AllowList
	ViewerDID    string
	Logger       *zap.Logger
	PageSize     int
	RequestDelay time.Duration
}

// Analyzer orchestrates follower analysis for one authenticated session.
type Analyzer struct {
	client       bsky.Client
	lists        AllowList
	viewerDID    string
	logger       *zap.Logger
	cache        *resultCache
	flightGroup  singleflight.Group
	pageSize     int
	requestDelay time.Duration
}

// NewAnalyzer constructs an Analyzer, failing fast on missing dependencies.
func NewAnalyzer(configuration Config) (*Analyzer, error) {
	if configuration.Client == nil {
		return nil, errMissingClient
	}
	if configuration.AllowList == nil {
		return nil, errMissingAllowList
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := configuration.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	requestDelay := configuration.RequestDelay
	if requestDelay == 0 {
		requestDelay = defaultRequestDelay
	}

	return &Analyzer{
		client:       configuration.Client,
		lists:        configuration.AllowList,
		viewerDID:    configuration.ViewerDID,
		logger:       logger,
		cache:        newResultCache(),
		pageSize:     pageSize,
		requestDelay: requestDelay,
	}, nil
}

// AnalyzeFollowers runs a full audit of the actor's followers: a counting
// drain, then a scanning drain that classifies each non-blocked follower in
// encounter order. Progress snapshots are emitted before and after every
// account; the final snapshot always has Current equal to Total.
func (analyzer *Analyzer) AnalyzeFollowers(ctx context.Context, actorDID string, onProgress ProgressFunc) ([]AnalysisResult, error) {
	if strings.TrimSpace(actorDID) == "" {
		return nil, errEmptyActorDID
	}

	analyzer.logger.Info(logMessageCountingPass, zap.String(logFieldActorDID, actorDID))
	nonBlockedTotal, _, err := analyzer.drainFollowers(ctx, actorDID, nil)
	if err != nil {
		return nil, err
	}

	viewerProfile, err := analyzer.client.GetProfile(ctx, actorDID)
	if err != nil {
		return nil, err
	}
	// The remote-reported total may lag the drain; the difference is an
	// advisory estimate of already-blocked followers, clamped at zero.
	blockedEstimate := viewerProfile.FollowersCount - nonBlockedTotal
	if blockedEstimate < 0 {
		blockedEstimate = 0
	}

	analyzer.logger.Info(logMessageScanningPass,
		zap.String(logFieldActorDID, actorDID),
		zap.Int(logFieldTotal, nonBlockedTotal),
		zap.Int(logFieldBlockedEstimate, blockedEstimate))

	results := make([]AnalysisResult, 0, nonBlockedTotal)
	analyzedCount := 0
	emit := func(status string) {
		if onProgress != nil {
			onProgress(Progress{
				Total:        nonBlockedTotal,
				Current:      analyzedCount,
				Status:       status,
				BlockedCount: blockedEstimate,
			})
		}
	}

	emit(statusStarting)
	_, _, err = analyzer.drainFollowers(ctx, actorDID, func(follower bsky.FollowerRecord) error {
		emit(fmt.Sprintf(statusAnalyzingFormat, follower.Handle))
		result, analyzeErr := analyzer.analyzeFollower(ctx, follower)
		if analyzeErr != nil {
			return analyzeErr
		}
		results = append(results, result)
		analyzedCount++
		emit(fmt.Sprintf(statusAnalyzedFormat, follower.Handle))
		return sleepContext(ctx, analyzer.requestDelay)
	})
	if err != nil {
		return nil, err
	}

	// Followers can change between the two drains; reconcile the advertised
	// total so the terminal snapshot reads Current == Total.
	if analyzedCount != nonBlockedTotal {
		nonBlockedTotal = analyzedCount
	}
	emit(statusComplete)

	analyzer.logger.Info(logMessageScanComplete,
		zap.String(logFieldActorDID, actorDID),
		zap.Int(logFieldAnalyzed, analyzedCount))
	return results, nil
}

// ClearCache drops every memoized analysis result.
func (analyzer *Analyzer) ClearCache() {
	analyzer.cache.clear()
}

// SignOut clears the session-scoped cache and wipes the allow-list store.
func (analyzer *Analyzer) SignOut(ctx context.Context) error {
	analyzer.cache.clear()
	return analyzer.lists.Clear(ctx)
}

// drainFollowers consumes the paginated listing until the cursor is absent,
// excluding followers already blocked by the viewer and tallying them apart.
func (analyzer *Analyzer) drainFollowers(ctx context.Context, actorDID string, visit func(follower bsky.FollowerRecord) error) (int, int, error) {
	pager := newFollowerPager(analyzer.client, actorDID, analyzer.pageSize, analyzer.requestDelay)
	nonBlockedCount := 0
	blockedCount := 0
	for {
		followers, morePages, err := pager.next(ctx)
		if err != nil {
			return nonBlockedCount, blockedCount, err
		}
		for _, follower := range followers {
			if follower.BlockedByViewer {
				blockedCount++
				continue
			}
			nonBlockedCount++
			if visit != nil {
				if visitErr := visit(follower); visitErr != nil {
					return nonBlockedCount, blockedCount, visitErr
				}
			}
		}
		if !morePages {
			return nonBlockedCount, blockedCount, nil
		}
	}
}

// analyzeFollower returns the analysis for one follower, reusing the cached
// result when present. Cached issue lists are reused as-is; whitelist and
// greylist membership are re-read from the store on every retrieval.
func (analyzer *Analyzer) analyzeFollower(ctx context.Context, follower bsky.FollowerRecord) (AnalysisResult, error) {
	if cached, exists := analyzer.cache.get(follower.DID); exists {
		refreshed, err := analyzer.refreshListMembership(ctx, cached)
		if err != nil {
			return AnalysisResult{}, err
		}
		analyzer.cache.set(refreshed)
		return refreshed, nil
	}

	value, err, _ := analyzer.flightGroup.Do(follower.DID, func() (interface{}, error) {
		result, buildErr := analyzer.buildResult(ctx, follower)
		if buildErr != nil {
			return AnalysisResult{}, buildErr
		}
		analyzer.cache.set(result)
		return result, nil
	})
	if err != nil {
		return AnalysisResult{}, err
	}
	result, _ := value.(AnalysisResult)
	return result, nil
}

func (analyzer *Analyzer) refreshListMembership(ctx context.Context, result AnalysisResult) (AnalysisResult, error) {
	whitelisted, err := analyzer.lists.IsWhitelisted(ctx, result.DID)
	if err != nil {
		return AnalysisResult{}, err
	}
	greylisted, err := analyzer.lists.IsGreylisted(ctx, result.DID)
	if err != nil {
		return AnalysisResult{}, err
	}
	result.IsWhitelisted = whitelisted || result.IsMutual
	result.IsGreylisted = greylisted
	return result, nil
}

func (analyzer *Analyzer) buildResult(ctx context.Context, follower bsky.FollowerRecord) (AnalysisResult, error) {
	whitelisted, err := analyzer.lists.IsWhitelisted(ctx, follower.DID)
	if err != nil {
		return AnalysisResult{}, err
	}

	profile, profileErr := analyzer.client.GetProfile(ctx, follower.DID)
	if profileErr != nil {
		if errors.Is(profileErr, session.ErrSessionExpired) {
			return AnalysisResult{}, profileErr
		}
		analyzer.logger.Warn(logMessageAccountFetchError,
			zap.String(logFieldHandle, follower.Handle),
			zap.Error(profileErr))
	}
	isMutual := profileErr == nil && profile.ViewerFollowing && profile.ViewerFollowedBy

	if isMutual && !whitelisted {
		if addErr := analyzer.lists.AddToWhitelist(ctx, follower.DID, follower.Handle, allowlist.ReasonMutual); addErr != nil {
			return AnalysisResult{}, addErr
		}
	}
	greylisted, err := analyzer.lists.IsGreylisted(ctx, follower.DID)
	if err != nil {
		return AnalysisResult{}, err
	}

	result := AnalysisResult{
		DID:           follower.DID,
		Handle:        follower.Handle,
		DisplayName:   follower.DisplayName,
		Avatar:        follower.Avatar,
		Issues:        []string{},
		IsMutual:      isMutual,
		IsWhitelisted: whitelisted || isMutual,
		IsGreylisted:  greylisted,
	}
	if profileErr == nil {
		result.LastActivityAt = profile.IndexedAt
	}

	// Whitelisted and mutual accounts skip classification; greylisted
	// accounts are still classified.
	if !result.IsWhitelisted {
		issues, classifyErr := analyzer.classifyFollower(ctx, follower, profile, profileErr)
		if classifyErr != nil {
			return AnalysisResult{}, classifyErr
		}
		result.Issues = issues
		result.HasIssues = len(issues) > 0
	}
	return result, nil
}

// classifyFollower isolates per-account fetch failures as a single synthetic
// issue; only a terminal session expiry aborts the run.
func (analyzer *Analyzer) classifyFollower(ctx context.Context, follower bsky.FollowerRecord, profile bsky.ProfileSnapshot, profileErr error) ([]string, error) {
	if profileErr != nil {
		return []string{classifier.IssueAnalysisError}, nil
	}
	activity, feedErr := analyzer.client.GetRecentActivity(ctx, follower.DID, 1)
	if feedErr != nil {
		if errors.Is(feedErr, session.ErrSessionExpired) {
			return nil, feedErr
		}
		analyzer.logger.Warn(logMessageAccountFetchError,
			zap.String(logFieldHandle, follower.Handle),
			zap.Error(feedErr))
		return []string{classifier.IssueAnalysisError}, nil
	}
	return classifier.Classify(follower, profile, activity.ItemCount), nil
}
