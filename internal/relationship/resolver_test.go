package relationship_test

import (
	"context"
	"errors"
	"testing"

	"github.com/orbit-social/orbit/internal/profile"
	"github.com/orbit-social/orbit/internal/relationship"
)

const testTargetIdentity profile.Identity = 7

type stubRelationshipFetcher struct {
	payload  profile.RelationshipPayload
	fetchErr error
	calls    int
}

func (fetcher *stubRelationshipFetcher) FetchRelationship(_ context.Context, _ profile.Identity) (profile.RelationshipPayload, error) {
	fetcher.calls++
	if fetcher.fetchErr != nil {
		return profile.RelationshipPayload{}, fetcher.fetchErr
	}
	return fetcher.payload, nil
}

func TestResolveNormalizesPayload(t *testing.T) {
	fetcher := &stubRelationshipFetcher{payload: profile.RelationshipPayload{IsFollowing: true, IsFollowed: true}}
	resolver := relationship.NewResolver(fetcher, nil)

	resolved, resolveErr := resolver.Resolve(context.Background(), testTargetIdentity)
	if resolveErr != nil {
		t.Fatalf("unexpected resolve error: %v", resolveErr)
	}
	if !resolved.IsFollowing || !resolved.IsFollowedBy {
		t.Fatalf("unexpected relationship: %+v", resolved)
	}
	if !resolved.CanFollow {
		t.Fatal("canFollow must default to true when the payload omits it")
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected a single fetch, got %d", fetcher.calls)
	}
}

func TestResolvePropagatesFetchError(t *testing.T) {
	fetchErr := errors.New("relationship endpoint unavailable")
	resolver := relationship.NewResolver(&stubRelationshipFetcher{fetchErr: fetchErr}, nil)

	_, resolveErr := resolver.Resolve(context.Background(), testTargetIdentity)
	if !errors.Is(resolveErr, fetchErr) {
		t.Fatalf("expected fetch error, got %v", resolveErr)
	}
}

func TestReconcile(t *testing.T) {
	testCases := []struct {
		name               string
		localStatus        profile.FollowStatus
		localFollowedBy    bool
		resolved           profile.Relationship
		expectedStatus     profile.FollowStatus
		expectedFollowedBy bool
	}{
		{
			name:               "server following overrides local state",
			localStatus:        profile.StatusNotFollowing,
			resolved:           profile.Relationship{IsFollowing: true, IsFollowedBy: true, CanFollow: true},
			expectedStatus:     profile.StatusFollowing,
			expectedFollowedBy: true,
		},
		{
			name:               "racing not-following read never downgrades optimistic following",
			localStatus:        profile.StatusFollowing,
			localFollowedBy:    true,
			resolved:           profile.Relationship{IsFollowing: false, IsFollowedBy: false},
			expectedStatus:     profile.StatusFollowing,
			expectedFollowedBy: true,
		},
		{
			name:               "pending survives a not-following read",
			localStatus:        profile.StatusPending,
			resolved:           profile.Relationship{IsFollowing: false, IsFollowedBy: true, CanFollow: true},
			expectedStatus:     profile.StatusPending,
			expectedFollowedBy: true,
		},
		{
			name:           "not-following read applies to a clean profile",
			localStatus:    profile.StatusNotFollowing,
			resolved:       profile.Relationship{IsFollowing: false, CanFollow: true},
			expectedStatus: profile.StatusNotFollowing,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			target := profile.Profile{
				FollowStatus: testCase.localStatus,
				FollowedBy:   testCase.localFollowedBy,
			}

			relationship.Reconcile(&target, testCase.resolved)

			if target.FollowStatus != testCase.expectedStatus {
				t.Fatalf("expected status %s, got %s", testCase.expectedStatus, target.FollowStatus)
			}
			if target.FollowedBy != testCase.expectedFollowedBy {
				t.Fatalf("expected followedBy %t, got %t", testCase.expectedFollowedBy, target.FollowedBy)
			}
		})
	}
}
