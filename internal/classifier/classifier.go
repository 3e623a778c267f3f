// Package classifier evaluates heuristic risk rules against one follower's
// profile and activity snapshot. Evaluation is pure and deterministic: the
// same inputs always yield the same issues in the same fixed precedence.
package classifier

import (
	"github.com/sky-audit/skyaudit/internal/bsky"
)

const (
	// IssueNoPosts flags an account whose author feed is empty.
	IssueNoPosts = "No posts"
	// IssueNumericHandle flags a handle containing more than two digits.
	IssueNumericHandle = "Handle contains more than 2 numbers"
	// IssueLowRatio flags a follower/following ratio below the threshold.
	IssueLowRatio = "Very low follower/following ratio"
	// IssueDefaultAvatar flags an account without an avatar.
	IssueDefaultAvatar = "Default avatar"
	// IssueAnalysisError is the single synthetic issue recorded when fetching
	// an account's details fails; the failure never aborts the overall run.
	IssueAnalysisError = "Error analyzing account details"

	maxHandleDigits    = 2
	ratioThreshold     = 0.1
	minFollowsForRatio = 100
)

// Classify returns the ordered issue set for one follower given its profile
// snapshot and the item count of its limit-1 author feed query.
func Classify(follower bsky.FollowerRecord, profile bsky.ProfileSnapshot, feedItemCount int) []string {
	issues := make([]string, 0, 4)

	if feedItemCount == 0 {
		issues = append(issues, IssueNoPosts)
	}
	if countDigits(follower.Handle) > maxHandleDigits {
		issues = append(issues, IssueNumericHandle)
	}
	if hasLowFollowerRatio(profile) {
		issues = append(issues, IssueLowRatio)
	}
	if follower.Avatar == "" {
		issues = append(issues, IssueDefaultAvatar)
	}

	return issues
}

// hasLowFollowerRatio fires only for accounts following more than 100 others
// with a ratio strictly between zero and the threshold; a zero follower count
// or a small following count never triggers it.
func hasLowFollowerRatio(profile bsky.ProfileSnapshot) bool {
	if profile.FollowsCount <= minFollowsForRatio || profile.FollowersCount <= 0 {
		return false
	}
	ratio := float64(profile.FollowersCount) / float64(profile.FollowsCount)
	return ratio < ratioThreshold
}

func countDigits(handle string) int {
	digits := 0
	for _, character := range handle {
		if character >= '0' && character <= '9' {
			digits++
		}
	}
	return digits
}
