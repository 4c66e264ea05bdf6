package profile

import "time"

const (
	editFieldDisplayName = "fullName"
	editFieldBirthDate   = "birthDate"

	editReasonEmpty         = "must not be empty"
	editReasonMalformedDate = "must be formatted as YYYY-MM-DD"

	birthDateLayout = "2006-01-02"
)

// Edit is a partial profile update. Nil fields are left untouched by both
// the optimistic local merge and the server submission.
type Edit struct {
	DisplayName *string
	Bio         *string
	Website     *string
	Location    *string
	BirthDate   *string
	Gender      *string
	Visibility  *Visibility
}

// Validate checks the populated fields before submission.
func (edit Edit) Validate() error {
	if edit.DisplayName != nil && *edit.DisplayName == "" {
		return &ValidationError{Field: editFieldDisplayName, Reason: editReasonEmpty}
	}
	if edit.BirthDate != nil && *edit.BirthDate != "" {
		if _, parseErr := time.Parse(birthDateLayout, *edit.BirthDate); parseErr != nil {
			return &ValidationError{Field: editFieldBirthDate, Reason: editReasonMalformedDate}
		}
	}
	return nil
}

// ApplyTo merges the populated fields into target. This is the pure
// optimistic merge; it performs no network activity.
func (edit Edit) ApplyTo(target *Profile) {
	if edit.DisplayName != nil {
		target.DisplayName = *edit.DisplayName
	}
	if edit.Bio != nil {
		target.Bio = *edit.Bio
	}
	if edit.Website != nil {
		target.Website = *edit.Website
	}
	if edit.Location != nil {
		target.Location = *edit.Location
	}
	if edit.BirthDate != nil {
		target.BirthDate = *edit.BirthDate
	}
	if edit.Gender != nil {
		target.Gender = *edit.Gender
	}
	if edit.Visibility != nil {
		target.Visibility = *edit.Visibility
	}
}

// MergeAuthoritative overlays a server-confirmed profile over local state,
// preserving the locally known follow fields which the nested profile
// response does not carry.
func MergeAuthoritative(target *Profile, confirmed Profile) {
	followStatus := target.FollowStatus
	followedBy := target.FollowedBy
	canFollow := target.CanFollow
	handle := target.Handle

	*target = confirmed
	if target.Handle == "" {
		target.Handle = handle
	}
	target.FollowStatus = followStatus
	target.FollowedBy = followedBy
	target.CanFollow = canFollow
}
