package profile_test

import (
	"errors"
	"testing"

	"github.com/orbit-social/orbit/internal/profile"
)

const (
	payloadTestHandle      = "alice"
	payloadTestDisplayName = "Alice Nguyen"
	payloadTestAvatarURL   = "https://cdn.example.com/avatars/alice.png"
	payloadTestCoverURL    = "https://cdn.example.com/covers/alice.png"
)

func TestNormalizePrivateShape(t *testing.T) {
	payload := profile.ProfilePayload{
		UserID:     7,
		Username:   payloadTestHandle,
		FullName:   payloadTestDisplayName,
		AvatarURL:  payloadTestAvatarURL,
		Visibility: "PRIVATE",
	}

	normalized, normalizeErr := profile.Normalize(payloadTestHandle, payload, nil)
	if normalizeErr != nil {
		t.Fatalf("unexpected normalize error: %v", normalizeErr)
	}
	if normalized.Identity != 7 {
		t.Fatalf("expected identity 7, got %d", normalized.Identity)
	}
	if normalized.Visibility != profile.VisibilityPrivate {
		t.Fatalf("expected private visibility, got %s", normalized.Visibility)
	}
	if normalized.FollowStatus != profile.StatusNotFollowing {
		t.Fatalf("expected default NOT_FOLLOWING, got %s", normalized.FollowStatus)
	}
	if normalized.PrivateMessage == "" {
		t.Fatal("expected a private-account message")
	}
	if !normalized.CanFollow {
		t.Fatal("expected private profile to remain followable")
	}
}

func TestNormalizePrivateShapePreservesPriorFollowState(t *testing.T) {
	prior := &profile.Profile{FollowStatus: profile.StatusPending, FollowedBy: true}
	payload := profile.ProfilePayload{UserID: 7, Username: payloadTestHandle, Private: true}

	normalized, normalizeErr := profile.Normalize(payloadTestHandle, payload, prior)
	if normalizeErr != nil {
		t.Fatalf("unexpected normalize error: %v", normalizeErr)
	}
	if normalized.FollowStatus != profile.StatusPending {
		t.Fatalf("expected preserved PENDING, got %s", normalized.FollowStatus)
	}
	if !normalized.FollowedBy {
		t.Fatal("expected preserved followed-by flag")
	}
}

func TestNormalizeFullShape(t *testing.T) {
	payload := profile.ProfilePayload{
		Account: &profile.AccountPayload{
			ID:        42,
			Email:     "alice@example.com",
			IsActive:  true,
			CreatedAt: "2024-03-01T10:00:00Z",
		},
		Profile: &profile.DetailsPayload{
			FullName:   payloadTestDisplayName,
			Bio:        "building things",
			Website:    "https://alice.example.com",
			AvatarURL:  payloadTestAvatarURL,
			CoverURL:   payloadTestCoverURL,
			Visibility: "public",
		},
	}

	normalized, normalizeErr := profile.Normalize(payloadTestHandle, payload, nil)
	if normalizeErr != nil {
		t.Fatalf("unexpected normalize error: %v", normalizeErr)
	}
	if normalized.Identity != 42 {
		t.Fatalf("expected identity 42, got %d", normalized.Identity)
	}
	if normalized.Handle != payloadTestHandle {
		t.Fatalf("expected handle from request, got %q", normalized.Handle)
	}
	if normalized.Visibility != profile.VisibilityPublic {
		t.Fatalf("expected public visibility, got %s", normalized.Visibility)
	}
	if normalized.CreatedAt.IsZero() {
		t.Fatal("expected parsed creation timestamp")
	}
	if normalized.Bio != "building things" {
		t.Fatalf("unexpected bio %q", normalized.Bio)
	}
}

func TestNormalizeFullShapePreservesPriorFollowState(t *testing.T) {
	prior := &profile.Profile{FollowStatus: profile.StatusFollowing, FollowedBy: true, CanFollow: true}
	payload := profile.ProfilePayload{
		Account: &profile.AccountPayload{ID: 42},
		Profile: &profile.DetailsPayload{FullName: payloadTestDisplayName, Visibility: "PUBLIC"},
	}

	normalized, normalizeErr := profile.Normalize(payloadTestHandle, payload, prior)
	if normalizeErr != nil {
		t.Fatalf("unexpected normalize error: %v", normalizeErr)
	}
	if normalized.FollowStatus != profile.StatusFollowing {
		t.Fatalf("refetch must not downgrade follow status, got %s", normalized.FollowStatus)
	}
}

func TestNormalizeUnknownShape(t *testing.T) {
	_, normalizeErr := profile.Normalize(payloadTestHandle, profile.ProfilePayload{}, nil)
	if !errors.Is(normalizeErr, profile.ErrUnknownPayloadShape) {
		t.Fatalf("expected ErrUnknownPayloadShape, got %v", normalizeErr)
	}
}

func TestImagePayloadResolveURL(t *testing.T) {
	testCases := []struct {
		name        string
		payload     profile.ImagePayload
		expectedURL string
		expectError bool
	}{
		{name: "plain url key", payload: profile.ImagePayload{URL: payloadTestAvatarURL}, expectedURL: payloadTestAvatarURL},
		{name: "avatar key", payload: profile.ImagePayload{AvatarURL: payloadTestAvatarURL}, expectedURL: payloadTestAvatarURL},
		{name: "cover key", payload: profile.ImagePayload{CoverURL: payloadTestCoverURL}, expectedURL: payloadTestCoverURL},
		{name: "image key", payload: profile.ImagePayload{ImageURL: payloadTestCoverURL}, expectedURL: payloadTestCoverURL},
		{name: "missing url", payload: profile.ImagePayload{}, expectError: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			resolved, resolveErr := testCase.payload.ResolveURL()
			if testCase.expectError {
				if !errors.Is(resolveErr, profile.ErrMissingImageURL) {
					t.Fatalf("expected ErrMissingImageURL, got %v", resolveErr)
				}
				return
			}
			if resolveErr != nil {
				t.Fatalf("unexpected resolve error: %v", resolveErr)
			}
			if resolved != testCase.expectedURL {
				t.Fatalf("expected %q, got %q", testCase.expectedURL, resolved)
			}
		})
	}
}

func TestRelationshipPayloadNormalize(t *testing.T) {
	explicitFalse := false
	testCases := []struct {
		name     string
		payload  profile.RelationshipPayload
		expected profile.Relationship
	}{
		{
			name:     "missing canFollow defaults true",
			payload:  profile.RelationshipPayload{IsFollowing: true, IsFollowed: true},
			expected: profile.Relationship{IsFollowing: true, IsFollowedBy: true, CanFollow: true},
		},
		{
			name:     "explicit canFollow false",
			payload:  profile.RelationshipPayload{CanFollow: &explicitFalse},
			expected: profile.Relationship{CanFollow: false},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if normalized := testCase.payload.Normalize(); normalized != testCase.expected {
				t.Fatalf("expected %+v, got %+v", testCase.expected, normalized)
			}
		})
	}
}
