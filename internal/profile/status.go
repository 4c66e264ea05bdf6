package profile

import (
	"errors"
	"fmt"
)

const errMessageIllegalTransition = "illegal follow status transition"

// ErrIllegalTransition indicates a follow event that is not valid from the
// current status, such as a double follow or an accept without a pending
// request.
var ErrIllegalTransition = errors.New(errMessageIllegalTransition)

// FollowStatus is the viewer's follow state toward a target identity.
// FOLLOWED_BY is carried separately as Profile.FollowedBy because it is
// orthogonal to the viewer's own status.
type FollowStatus string

const (
	StatusNotFollowing FollowStatus = "NOT_FOLLOWING"
	StatusPending      FollowStatus = "PENDING"
	StatusFollowing    FollowStatus = "FOLLOWING"
)

// ParseFollowStatus maps a server-provided status string onto the enum. An
// empty or unknown value yields NOT_FOLLOWING.
func ParseFollowStatus(value string) FollowStatus {
	switch FollowStatus(value) {
	case StatusPending:
		return StatusPending
	case StatusFollowing:
		return StatusFollowing
	default:
		return StatusNotFollowing
	}
}

// FollowEvent names a guarded transition of the follow state machine.
type FollowEvent string

const (
	// EventFollow is the viewer requesting to follow the target. A public
	// target transitions straight to FOLLOWING; a private target transitions
	// to PENDING until the target accepts.
	EventFollow FollowEvent = "FOLLOW"
	// EventUnfollow covers both unfollowing and canceling a pending request;
	// both invoke the same relationship removal on the server.
	EventUnfollow FollowEvent = "UNFOLLOW"
	// EventAccepted is the target accepting the viewer's pending request.
	EventAccepted FollowEvent = "ACCEPTED"
)

// Transition applies event to current and returns the resulting status. The
// target's visibility decides whether EventFollow lands on FOLLOWING or
// PENDING. Transitions not listed here return ErrIllegalTransition so that
// states like PENDING cannot silently become FOLLOWING without an accept.
func Transition(current FollowStatus, event FollowEvent, targetVisibility Visibility) (FollowStatus, error) {
	switch event {
	case EventFollow:
		if current != StatusNotFollowing {
			return current, transitionError(current, event)
		}
		if targetVisibility == VisibilityPrivate {
			return StatusPending, nil
		}
		return StatusFollowing, nil
	case EventUnfollow:
		if current == StatusNotFollowing {
			return current, transitionError(current, event)
		}
		return StatusNotFollowing, nil
	case EventAccepted:
		if current != StatusPending {
			return current, transitionError(current, event)
		}
		return StatusFollowing, nil
	}
	return current, transitionError(current, event)
}

func transitionError(current FollowStatus, event FollowEvent) error {
	return fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, current)
}
