package profile

import (
	"errors"
	"time"
)

const (
	errMessageUnknownPayloadShape = "profile payload matches no known server shape"
	errMessageMissingImageURL     = "image payload carried no recognizable url field"

	privateProfileDefaultMessage = "This profile is private"

	payloadTimestampLayout = time.RFC3339
)

var (
	// ErrUnknownPayloadShape indicates a profile response that is neither the
	// flat private shape nor the nested account/profile shape.
	ErrUnknownPayloadShape = errors.New(errMessageUnknownPayloadShape)
	// ErrMissingImageURL indicates an upload response without a usable URL.
	ErrMissingImageURL = errors.New(errMessageMissingImageURL)
)

// PayloadKind tags which server response variant a ProfilePayload carries.
type PayloadKind int

const (
	PayloadKindUnknown PayloadKind = iota
	// PayloadKindPrivate is the flat shape returned for gated profiles:
	// {userId, username, fullName, avatarUrl, visibility: "PRIVATE"}.
	PayloadKindPrivate
	// PayloadKindFull is the nested shape: {account: {...}, profile: {...}}.
	PayloadKindFull
)

// AccountPayload is the account half of the nested profile response.
type AccountPayload struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	IsActive  bool   `json:"isActive"`
	CreatedAt string `json:"createdAt"`
}

// DetailsPayload is the profile half of the nested profile response.
type DetailsPayload struct {
	FullName   string `json:"fullName"`
	Bio        string `json:"bio"`
	Website    string `json:"website"`
	Location   string `json:"location"`
	AvatarURL  string `json:"avatarUrl"`
	CoverURL   string `json:"coverUrl"`
	BirthDate  string `json:"birthDate"`
	Visibility string `json:"visibility"`
	Gender     string `json:"gender"`
}

// ProfilePayload is the union of the profile response shapes the server is
// known to emit. Kind decides which variant arrived; normalization happens
// here at the boundary so no key probing leaks into application logic.
type ProfilePayload struct {
	UserID     int64  `json:"userId"`
	Username   string `json:"username"`
	FullName   string `json:"fullName"`
	AvatarURL  string `json:"avatarUrl"`
	Visibility string `json:"visibility"`
	Private    bool   `json:"private"`
	Message    string `json:"message"`

	Account *AccountPayload `json:"account"`
	Profile *DetailsPayload `json:"profile"`
}

// Kind classifies the payload variant.
func (payload ProfilePayload) Kind() PayloadKind {
	if payload.Private || payload.Message == privateProfileDefaultMessage || payload.Visibility == string(VisibilityPrivate) {
		return PayloadKindPrivate
	}
	if payload.Account != nil && payload.Profile != nil {
		return PayloadKindFull
	}
	return PayloadKindUnknown
}

// Normalize converts the payload into the single client Profile shape for
// the requested handle. prior, when non-nil, is the previously cached
// profile for the same handle; the private variant preserves its follow
// state because the gated response carries none.
func Normalize(handle string, payload ProfilePayload, prior *Profile) (Profile, error) {
	switch payload.Kind() {
	case PayloadKindPrivate:
		return normalizePrivate(handle, payload, prior), nil
	case PayloadKindFull:
		return normalizeFull(handle, payload, prior), nil
	}
	return Profile{}, ErrUnknownPayloadShape
}

func normalizePrivate(handle string, payload ProfilePayload, prior *Profile) Profile {
	resolvedHandle := payload.Username
	if resolvedHandle == "" {
		resolvedHandle = handle
	}
	displayName := payload.FullName
	if displayName == "" {
		displayName = resolvedHandle
	}
	message := payload.Message
	if message == "" {
		message = privateProfileDefaultMessage
	}

	normalized := Profile{
		Identity:       Identity(payload.UserID),
		Handle:         resolvedHandle,
		DisplayName:    displayName,
		AvatarURL:      payload.AvatarURL,
		Visibility:     VisibilityPrivate,
		PrivateMessage: message,
		FollowStatus:   StatusNotFollowing,
		CanFollow:      true,
	}
	if prior != nil {
		normalized.FollowStatus = prior.FollowStatus
		normalized.FollowedBy = prior.FollowedBy
	}
	return normalized
}

// normalizeFull maps the nested shape. The profile response never carries
// relationship truth, so follow fields are preserved from the prior cached
// profile; a first fetch defaults them.
func normalizeFull(handle string, payload ProfilePayload, prior *Profile) Profile {
	normalized := Profile{
		Identity:     Identity(payload.Account.ID),
		Handle:       handle,
		DisplayName:  payload.Profile.FullName,
		Email:        payload.Account.Email,
		Bio:          payload.Profile.Bio,
		AvatarURL:    payload.Profile.AvatarURL,
		CoverURL:     payload.Profile.CoverURL,
		Website:      payload.Profile.Website,
		Location:     payload.Profile.Location,
		BirthDate:    payload.Profile.BirthDate,
		Gender:       payload.Profile.Gender,
		Visibility:   ParseVisibility(payload.Profile.Visibility),
		CreatedAt:    parsePayloadTimestamp(payload.Account.CreatedAt),
		FollowStatus: StatusNotFollowing,
		CanFollow:    true,
	}
	if prior != nil {
		normalized.FollowStatus = prior.FollowStatus
		normalized.FollowedBy = prior.FollowedBy
		normalized.CanFollow = prior.CanFollow
	}
	return normalized
}

// Placeholder builds the minimal profile rendered for an unknown handle: an
// empty public profile instead of an error screen.
func Placeholder(handle string) Profile {
	return Profile{
		Handle:       handle,
		DisplayName:  handle,
		Visibility:   VisibilityPublic,
		Placeholder:  true,
		FollowStatus: StatusNotFollowing,
		CanFollow:    false,
	}
}

func parsePayloadTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(payloadTimestampLayout, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// RelationshipPayload is the relationship endpoint response.
type RelationshipPayload struct {
	IsFollowing bool  `json:"isFollowing"`
	IsFollowed  bool  `json:"isFollowed"`
	CanFollow   *bool `json:"canFollow"`
}

// Normalize maps the payload onto the domain Relationship. A missing
// canFollow field defaults to true.
func (payload RelationshipPayload) Normalize() Relationship {
	canFollow := true
	if payload.CanFollow != nil {
		canFollow = *payload.CanFollow
	}
	return Relationship{
		IsFollowing:  payload.IsFollowing,
		IsFollowedBy: payload.IsFollowed,
		CanFollow:    canFollow,
	}
}

// StatsPayload is the follow statistics endpoint response.
type StatsPayload struct {
	Followers       int `json:"followers"`
	Following       int `json:"following"`
	PendingRequests int `json:"pendingRequests"`
}

// Normalize maps the payload onto Counters. The stats endpoint carries no
// post count; prior preserves one already known locally.
func (payload StatsPayload) Normalize(prior Counters) Counters {
	return Counters{
		Posts:           prior.Posts,
		Followers:       payload.Followers,
		Following:       payload.Following,
		PendingRequests: payload.PendingRequests,
	}
}

// MutationPayload is the response body of follow and unfollow calls. Status
// is optional; an empty value means the caller should assume FOLLOWING.
type MutationPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ImagePayload is an avatar or cover upload response. The URL arrives under
// a key name that varies by upload type.
type ImagePayload struct {
	URL       string `json:"url"`
	ImageURL  string `json:"imageUrl"`
	AvatarURL string `json:"avatarUrl"`
	CoverURL  string `json:"coverUrl"`
}

// ResolveURL returns the first populated URL field.
func (payload ImagePayload) ResolveURL() (string, error) {
	for _, candidate := range []string{payload.URL, payload.ImageURL, payload.AvatarURL, payload.CoverURL} {
		if candidate != "" {
			return candidate, nil
		}
	}
	return "", ErrMissingImageURL
}
