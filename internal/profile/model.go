package profile

import "time"

// Identity is the stable, server-assigned user identifier. All relationship
// operations key on Identity, never on the mutable handle.
type Identity int64

// Zero reports whether the identity is unset.
func (identity Identity) Zero() bool {
	return identity == 0
}

// Visibility describes who may see a profile's full content.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// ParseVisibility normalizes a server-provided visibility value. Servers emit
// the enum in either casing; anything unrecognized is treated as public.
func ParseVisibility(value string) Visibility {
	switch value {
	case string(VisibilityPrivate), "private":
		return VisibilityPrivate
	default:
		return VisibilityPublic
	}
}

// Profile is the normalized client-side view of a user profile. A Profile
// once loaded always carries its Identity so relationship calls never depend
// on the mutable handle.
type Profile struct {
	Identity    Identity
	Handle      string
	DisplayName string
	Email       string
	Bio         string
	AvatarURL   string
	CoverURL    string
	Website     string
	Location    string
	BirthDate   string
	Gender      string
	Visibility  Visibility
	CreatedAt   time.Time

	// Placeholder marks a minimal profile synthesized for an unknown handle.
	Placeholder bool

	// PrivateMessage carries the server's explanation for a gated profile.
	PrivateMessage string

	FollowStatus FollowStatus
	FollowedBy   bool
	CanFollow    bool
}

// Counters holds the post and follow counts for a profile. Counters are
// fetched independently of the Profile and may briefly disagree with
// FollowStatus while an optimistic mutation is in flight.
type Counters struct {
	Posts           int
	Followers       int
	Following       int
	PendingRequests int
}

// Relationship is the viewer's relationship to a target identity as reported
// by the relationship endpoint.
type Relationship struct {
	IsFollowing  bool
	IsFollowedBy bool
	CanFollow    bool
}

// FollowRequest is an inbound request from another identity to follow the
// viewer.
type FollowRequest struct {
	Requester   Identity
	Handle      string
	DisplayName string
	AvatarURL   string
	RequestedAt time.Time
}
