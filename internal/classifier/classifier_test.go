package classifier_test

import (
	"reflect"
	"testing"

	"github.com/sky-audit/skyaudit/internal/bsky"
	"github.com/sky-audit/skyaudit/internal/classifier"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name           string
		follower       bsky.FollowerRecord
		profile        bsky.ProfileSnapshot
		feedItemCount  int
		expectedIssues []string
	}{
		{
			name:           "clean account",
			follower:       bsky.FollowerRecord{Handle: "alice.example", Avatar: "https://cdn.example/avatar.jpg"},
			profile:        bsky.ProfileSnapshot{FollowersCount: 50, FollowsCount: 50},
			feedItemCount:  1,
			expectedIssues: []string{},
		},
		{
			name:           "empty account with no avatar",
			follower:       bsky.FollowerRecord{Handle: "alice.example"},
			profile:        bsky.ProfileSnapshot{FollowersCount: 0, FollowsCount: 0},
			feedItemCount:  0,
			expectedIssues: []string{classifier.IssueNoPosts, classifier.IssueDefaultAvatar},
		},
		{
			name:           "exactly two digits does not flag the handle",
			follower:       bsky.FollowerRecord{Handle: "alice12.example", Avatar: "a"},
			profile:        bsky.ProfileSnapshot{FollowersCount: 50, FollowsCount: 50},
			feedItemCount:  1,
			expectedIssues: []string{},
		},
		{
			name:           "three digits flags the handle",
			follower:       bsky.FollowerRecord{Handle: "alice123.example", Avatar: "a"},
			profile:        bsky.ProfileSnapshot{FollowersCount: 50, FollowsCount: 50},
			feedItemCount:  1,
			expectedIssues: []string{classifier.IssueNumericHandle},
		},
		{
			name:           "following count of 100 never fires the ratio rule",
			follower:       bsky.FollowerRecord{Handle: "alice.example", Avatar: "a"},
			profile:        bsky.ProfileSnapshot{FollowersCount: 1, FollowsCount: 100},
			feedItemCount:  1,
			expectedIssues: []string{},
		},
		{
			name:           "ratio just below threshold fires",
			follower:       bsky.FollowerRecord{Handle: "alice.example", Avatar: "a"},
			profile:        bsky.ProfileSnapshot{FollowersCount: 10, FollowsCount: 101},
			feedItemCount:  1,
			expectedIssues: []string{classifier.IssueLowRatio},
		},
		{
			name:           "ratio just above threshold does not fire",
			follower:       bsky.FollowerRecord{Handle: "alice.example", Avatar: "a"},
			profile:        bsky.ProfileSnapshot{FollowersCount: 11, FollowsCount: 101},
			feedItemCount:  1,
			expectedIssues: []string{},
		},
		{
			name:           "zero followers with heavy following does not fire the ratio rule",
			follower:       bsky.FollowerRecord{Handle: "alice.example", Avatar: "a"},
			profile:        bsky.ProfileSnapshot{FollowersCount: 0, FollowsCount: 5000},
			feedItemCount:  1,
			expectedIssues: []string{},
		},
		{
			name:          "all rules fire in fixed precedence",
			follower:      bsky.FollowerRecord{Handle: "bot4711.example"},
			profile:       bsky.ProfileSnapshot{FollowersCount: 5, FollowsCount: 2000},
			feedItemCount: 0,
			expectedIssues: []string{
				classifier.IssueNoPosts,
				classifier.IssueNumericHandle,
				classifier.IssueLowRatio,
				classifier.IssueDefaultAvatar,
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			issues := classifier.Classify(testCase.follower, testCase.profile, testCase.feedItemCount)
			if !reflect.DeepEqual(issues, testCase.expectedIssues) {
				t.Fatalf("issues = %v, want %v", issues, testCase.expectedIssues)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	follower := bsky.FollowerRecord{Handle: "bot4711.example"}
	profile := bsky.ProfileSnapshot{FollowersCount: 5, FollowsCount: 2000}

	first := classifier.Classify(follower, profile, 0)
	for i := 0; i < 10; i++ {
		repeat := classifier.Classify(follower, profile, 0)
		if !reflect.DeepEqual(first, repeat) {
			t.Fatalf("iteration %d produced %v, want %v", i, repeat, first)
		}
	}
}
