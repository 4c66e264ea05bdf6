package profile_test

import (
	"errors"
	"testing"

	"github.com/orbit-social/orbit/internal/profile"
)

func TestTransition(t *testing.T) {
	testCases := []struct {
		name           string
		current        profile.FollowStatus
		event          profile.FollowEvent
		visibility     profile.Visibility
		expectedStatus profile.FollowStatus
		expectIllegal  bool
	}{
		{
			name:           "follow public target",
			current:        profile.StatusNotFollowing,
			event:          profile.EventFollow,
			visibility:     profile.VisibilityPublic,
			expectedStatus: profile.StatusFollowing,
		},
		{
			name:           "follow private target",
			current:        profile.StatusNotFollowing,
			event:          profile.EventFollow,
			visibility:     profile.VisibilityPrivate,
			expectedStatus: profile.StatusPending,
		},
		{
			name:           "double follow rejected",
			current:        profile.StatusFollowing,
			event:          profile.EventFollow,
			visibility:     profile.VisibilityPublic,
			expectedStatus: profile.StatusFollowing,
			expectIllegal:  true,
		},
		{
			name:           "follow while pending rejected",
			current:        profile.StatusPending,
			event:          profile.EventFollow,
			visibility:     profile.VisibilityPrivate,
			expectedStatus: profile.StatusPending,
			expectIllegal:  true,
		},
		{
			name:           "unfollow",
			current:        profile.StatusFollowing,
			event:          profile.EventUnfollow,
			visibility:     profile.VisibilityPublic,
			expectedStatus: profile.StatusNotFollowing,
		},
		{
			name:           "cancel pending request",
			current:        profile.StatusPending,
			event:          profile.EventUnfollow,
			visibility:     profile.VisibilityPrivate,
			expectedStatus: profile.StatusNotFollowing,
		},
		{
			name:           "unfollow without relationship rejected",
			current:        profile.StatusNotFollowing,
			event:          profile.EventUnfollow,
			visibility:     profile.VisibilityPublic,
			expectedStatus: profile.StatusNotFollowing,
			expectIllegal:  true,
		},
		{
			name:           "pending request accepted",
			current:        profile.StatusPending,
			event:          profile.EventAccepted,
			visibility:     profile.VisibilityPrivate,
			expectedStatus: profile.StatusFollowing,
		},
		{
			name:           "accept without pending rejected",
			current:        profile.StatusNotFollowing,
			event:          profile.EventAccepted,
			visibility:     profile.VisibilityPrivate,
			expectedStatus: profile.StatusNotFollowing,
			expectIllegal:  true,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			resulting, transitionErr := profile.Transition(testCase.current, testCase.event, testCase.visibility)
			if testCase.expectIllegal {
				if !errors.Is(transitionErr, profile.ErrIllegalTransition) {
					t.Fatalf("expected ErrIllegalTransition, got %v", transitionErr)
				}
			} else if transitionErr != nil {
				t.Fatalf("unexpected transition error: %v", transitionErr)
			}
			if resulting != testCase.expectedStatus {
				t.Fatalf("expected status %s, got %s", testCase.expectedStatus, resulting)
			}
		})
	}
}

func TestParseFollowStatus(t *testing.T) {
	testCases := []struct {
		name     string
		value    string
		expected profile.FollowStatus
	}{
		{name: "following", value: "FOLLOWING", expected: profile.StatusFollowing},
		{name: "pending", value: "PENDING", expected: profile.StatusPending},
		{name: "empty defaults to not following", value: "", expected: profile.StatusNotFollowing},
		{name: "unknown defaults to not following", value: "BANANA", expected: profile.StatusNotFollowing},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if parsed := profile.ParseFollowStatus(testCase.value); parsed != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, parsed)
			}
		})
	}
}
