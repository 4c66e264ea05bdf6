// Package gate decides whether a viewer sees a profile's full content or
// the restricted private-account view.
package gate

import "github.com/orbit-social/orbit/internal/profile"

const (
	explanationFollowing    = "You follow this account and can see their posts."
	explanationPending      = "Follow request sent. Wait for the owner to accept before viewing content."
	explanationNotFollowing = "Follow this account to see their photos and videos."
	privateAccountLabel     = "This account is private"
)

// RestrictedView is the only content a gated profile may render: avatar,
// display name, handle, a fixed explanation, and a follow control keyed by
// identity. Bio, cover image, counts and post or media tabs are never
// included.
type RestrictedView struct {
	FollowTarget profile.Identity
	Handle       string
	DisplayName  string
	AvatarURL    string
	Label        string
	Explanation  string
	FollowStatus profile.FollowStatus
}

// IsPrivateView reports whether the viewer must see the restricted view:
// the profile is private, the viewer is not the owner, and the viewer's
// status is neither FOLLOWING nor PENDING.
func IsPrivateView(viewed profile.Profile, isOwnProfile bool) bool {
	if viewed.Visibility != profile.VisibilityPrivate {
		return false
	}
	if isOwnProfile {
		return false
	}
	switch viewed.FollowStatus {
	case profile.StatusFollowing, profile.StatusPending:
		return false
	}
	return true
}

// Restrict builds the restricted view for a gated profile.
func Restrict(viewed profile.Profile) RestrictedView {
	explanation := viewed.PrivateMessage
	if explanation == "" {
		explanation = Explanation(viewed.FollowStatus)
	}
	return RestrictedView{
		FollowTarget: viewed.Identity,
		Handle:       viewed.Handle,
		DisplayName:  viewed.DisplayName,
		AvatarURL:    viewed.AvatarURL,
		Label:        privateAccountLabel,
		Explanation:  explanation,
		FollowStatus: viewed.FollowStatus,
	}
}

// Explanation returns the private-account copy for the given follow status.
func Explanation(status profile.FollowStatus) string {
	switch status {
	case profile.StatusFollowing:
		return explanationFollowing
	case profile.StatusPending:
		return explanationPending
	}
	return explanationNotFollowing
}
