package profile_test

import (
	"errors"
	"testing"

	"github.com/orbit-social/orbit/internal/profile"
)

func stringPointer(value string) *string {
	return &value
}

func TestEditValidate(t *testing.T) {
	testCases := []struct {
		name        string
		edit        profile.Edit
		expectError bool
	}{
		{name: "empty edit", edit: profile.Edit{}},
		{name: "valid birth date", edit: profile.Edit{BirthDate: stringPointer("1995-06-21")}},
		{name: "malformed birth date", edit: profile.Edit{BirthDate: stringPointer("21/06/1995")}, expectError: true},
		{name: "empty display name", edit: profile.Edit{DisplayName: stringPointer("")}, expectError: true},
		{name: "valid display name", edit: profile.Edit{DisplayName: stringPointer("Alice Nguyen")}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			validateErr := testCase.edit.Validate()
			var validationError *profile.ValidationError
			if testCase.expectError {
				if !errors.As(validateErr, &validationError) {
					t.Fatalf("expected *ValidationError, got %v", validateErr)
				}
				return
			}
			if validateErr != nil {
				t.Fatalf("unexpected validation error: %v", validateErr)
			}
		})
	}
}

func TestEditApplyToMergesOnlyPopulatedFields(t *testing.T) {
	target := profile.Profile{
		DisplayName: "Alice Nguyen",
		Bio:         "original bio",
		Location:    "Hanoi",
	}
	edit := profile.Edit{Bio: stringPointer("updated bio")}

	edit.ApplyTo(&target)

	if target.Bio != "updated bio" {
		t.Fatalf("expected merged bio, got %q", target.Bio)
	}
	if target.DisplayName != "Alice Nguyen" || target.Location != "Hanoi" {
		t.Fatal("untouched fields must survive the merge")
	}
}

func TestMergeAuthoritativePreservesFollowState(t *testing.T) {
	local := profile.Profile{
		Handle:       "alice",
		Bio:          "optimistic bio",
		FollowStatus: profile.StatusFollowing,
		FollowedBy:   true,
		CanFollow:    true,
	}
	confirmed := profile.Profile{
		Identity:    42,
		DisplayName: "Alice Nguyen",
		Bio:         "server bio",
	}

	profile.MergeAuthoritative(&local, confirmed)

	if local.Bio != "server bio" {
		t.Fatalf("expected authoritative bio, got %q", local.Bio)
	}
	if local.FollowStatus != profile.StatusFollowing || !local.FollowedBy {
		t.Fatal("follow state must survive an authoritative merge")
	}
	if local.Handle != "alice" {
		t.Fatalf("expected preserved handle, got %q", local.Handle)
	}
}
