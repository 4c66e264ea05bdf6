// Package relationship resolves the viewer's relationship to a target
// identity and reconciles it against optimistic local state.
package relationship

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orbit-social/orbit/internal/profile"
)

const (
	// DefaultSettleDelay is how long automatic resolution waits after a
	// profile load before reading the relationship endpoint, so a resolver
	// read cannot land on top of an optimistic update applied in the same
	// interaction.
	DefaultSettleDelay = 500 * time.Millisecond

	logMessageResolved = "relationship resolved"
	logFieldTarget     = "target"
	logFieldFollowing  = "is_following"
	logFieldFollowedBy = "is_followed_by"
)

// Fetcher reads the relationship endpoint for a target identity.
type Fetcher interface {
	FetchRelationship(ctx context.Context, target profile.Identity) (profile.RelationshipPayload, error)
}

// Resolver fetches the viewer's relationship to target identities.
// Relationship calls key on Identity, never on the mutable handle.
type Resolver struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewResolver constructs a Resolver. A nil logger disables logging.
func NewResolver(fetcher Fetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, logger: logger}
}

// Resolve reads and normalizes the relationship toward target.
func (resolver *Resolver) Resolve(ctx context.Context, target profile.Identity) (profile.Relationship, error) {
	payload, fetchErr := resolver.fetcher.FetchRelationship(ctx, target)
	if fetchErr != nil {
		return profile.Relationship{}, fetchErr
	}
	resolved := payload.Normalize()
	resolver.logger.Debug(logMessageResolved,
		zap.Int64(logFieldTarget, int64(target)),
		zap.Bool(logFieldFollowing, resolved.IsFollowing),
		zap.Bool(logFieldFollowedBy, resolved.IsFollowedBy),
	)
	return resolved, nil
}

// Reconcile merges a resolved relationship into the cached profile. Local
// optimistic state wins over a resolver read that raced behind it:
//
//   - a resolved NOT_FOLLOWING never downgrades an optimistic FOLLOWING;
//     the whole result is discarded for that case, and
//   - PENDING is preserved because the relationship endpoint cannot
//     distinguish it from NOT_FOLLOWING.
func Reconcile(target *profile.Profile, resolved profile.Relationship) {
	if resolved.IsFollowing {
		target.FollowStatus = profile.StatusFollowing
		target.FollowedBy = resolved.IsFollowedBy
		target.CanFollow = resolved.CanFollow
		return
	}
	if target.FollowStatus == profile.StatusFollowing {
		return
	}
	if target.FollowStatus != profile.StatusPending {
		target.FollowStatus = profile.StatusNotFollowing
	}
	target.FollowedBy = resolved.IsFollowedBy
	target.CanFollow = resolved.CanFollow
}
