// Package follow implements the optimistic mutation pipeline for follow
// state and profile edits: immediate local transitions, network submission,
// confirmation or rollback, and delayed reconciliation scheduling.
package follow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orbit-social/orbit/internal/profile"
)

const (
	// DefaultReconcileDelay is the wait before the forced profile and
	// counters refetch that follows any follow-status mutation, giving
	// server-side propagation time to settle.
	DefaultReconcileDelay = 3 * time.Second
	// DefaultErrorExpiry is how long a transient mutation error stays
	// visible before auto-clearing.
	DefaultErrorExpiry = 3 * time.Second

	errMessageActionInFlight = "action already in flight"
	errMessageUnknownTarget  = "no state for target identity"

	logMessageMutationApplied  = "follow mutation applied"
	logMessageMutationRejected = "follow mutation rejected"
	logMessageMutationReverted = "follow mutation reverted"
	logFieldTarget             = "target"
	logFieldAction             = "action"
	logFieldStatus             = "status"
)

var (
	// ErrActionInFlight indicates the same action is already running for the
	// target; the acting control is disabled meanwhile.
	ErrActionInFlight = errors.New(errMessageActionInFlight)
	// ErrUnknownTarget indicates no local state exists for the identity.
	ErrUnknownTarget = errors.New(errMessageUnknownTarget)
)

// Action names a mutation kind for the per-action loading flags. Loading
// blocks re-entrant triggering of the same action only; unrelated actions
// may still race.
type Action string

const (
	ActionFollow   Action = "follow"
	ActionUnfollow Action = "unfollow"
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionEdit     Action = "edit"
)

// API is the slice of the remote client the pipeline mutates through.
type API interface {
	Follow(ctx context.Context, target profile.Identity) (profile.MutationPayload, error)
	Unfollow(ctx context.Context, target profile.Identity) (profile.MutationPayload, error)
	UpdateProfile(ctx context.Context, edit profile.Edit) (profile.ProfilePayload, error)
	AcceptRequest(ctx context.Context, requester profile.Identity) error
	RejectRequest(ctx context.Context, requester profile.Identity) error
	FetchPendingRequests(ctx context.Context) ([]profile.FollowRequest, error)
}

// State is the owner of the local profile and counter state the pipeline
// mutates. All mutate callbacks run serialized by the owner.
type State interface {
	Snapshot(target profile.Identity) (profile.Profile, bool)
	ApplyProfile(target profile.Identity, mutate func(*profile.Profile)) bool
	ApplyCounters(target profile.Identity, mutate func(*profile.Counters)) bool
	ScheduleReconcile(target profile.Identity, delay time.Duration)
}

// TransientError is a mutation failure surfaced to the acting control. It
// auto-expires instead of blocking the UI.
type TransientError struct {
	Action    Action
	Target    profile.Identity
	Message   string
	expiresAt time.Time
}

// Config customizes a Pipeline instance.
type Config struct {
	API            API
	State          State
	ReconcileDelay time.Duration
	ErrorExpiry    time.Duration
	Logger         *zap.Logger
	Now            func() time.Time
}

// Pipeline applies optimistic follow and edit mutations to local state and
// confirms or rolls them back against the remote API.
type Pipeline struct {
	api            API
	state          State
	reconcileDelay time.Duration
	errorExpiry    time.Duration
	logger         *zap.Logger
	now            func() time.Time

	stateLock       sync.Mutex
	loading         map[actionKey]bool
	transientError  *TransientError
	pendingRequests []profile.FollowRequest
}

type actionKey struct {
	target profile.Identity
	action Action
}

// NewPipeline constructs a Pipeline with default delays where unset.
func NewPipeline(configuration Config) *Pipeline {
	reconcileDelay := configuration.ReconcileDelay
	if reconcileDelay <= 0 {
		reconcileDelay = DefaultReconcileDelay
	}
	errorExpiry := configuration.ErrorExpiry
	if errorExpiry <= 0 {
		errorExpiry = DefaultErrorExpiry
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	nowFunc := configuration.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Pipeline{
		api:            configuration.API,
		state:          configuration.State,
		reconcileDelay: reconcileDelay,
		errorExpiry:    errorExpiry,
		logger:         logger,
		now:            nowFunc,
		loading:        make(map[actionKey]bool),
	}
}

// Follow optimistically transitions the target to FOLLOWING (public) or
// PENDING (private), then issues the network call. A server-returned status
// overrides the optimistic one; a failure reverts the transition and
// surfaces a transient error.
func (pipeline *Pipeline) Follow(ctx context.Context, target profile.Identity) error {
	return pipeline.mutateStatus(ctx, target, ActionFollow, profile.EventFollow, pipeline.api.Follow)
}

// Unfollow transitions the target out of FOLLOWING. Canceling a pending
// request is the same operation; both invoke the server's relationship
// removal.
func (pipeline *Pipeline) Unfollow(ctx context.Context, target profile.Identity) error {
	return pipeline.mutateStatus(ctx, target, ActionUnfollow, profile.EventUnfollow, pipeline.api.Unfollow)
}

func (pipeline *Pipeline) mutateStatus(
	ctx context.Context,
	target profile.Identity,
	action Action,
	event profile.FollowEvent,
	call func(context.Context, profile.Identity) (profile.MutationPayload, error),
) error {
	if !pipeline.beginAction(target, action) {
		return ErrActionInFlight
	}
	defer pipeline.endAction(target, action)

	current, exists := pipeline.state.Snapshot(target)
	if !exists {
		return ErrUnknownTarget
	}
	optimistic, transitionErr := profile.Transition(current.FollowStatus, event, current.Visibility)
	if transitionErr != nil {
		pipeline.logger.Debug(logMessageMutationRejected,
			zap.Int64(logFieldTarget, int64(target)),
			zap.String(logFieldAction, string(action)),
			zap.Error(transitionErr),
		)
		return transitionErr
	}

	pipeline.applyStatus(target, current.FollowStatus, optimistic)

	payload, callErr := call(ctx, target)
	if callErr != nil {
		pipeline.applyStatus(target, optimistic, current.FollowStatus)
		pipeline.raiseTransient(target, action, callErr)
		pipeline.logger.Warn(logMessageMutationReverted,
			zap.Int64(logFieldTarget, int64(target)),
			zap.String(logFieldAction, string(action)),
			zap.Error(callErr),
		)
		return callErr
	}

	confirmed := optimistic
	if payload.Status != "" {
		confirmed = profile.ParseFollowStatus(payload.Status)
	}
	if confirmed != optimistic {
		pipeline.applyStatus(target, optimistic, confirmed)
	}
	pipeline.logger.Debug(logMessageMutationApplied,
		zap.Int64(logFieldTarget, int64(target)),
		zap.String(logFieldAction, string(action)),
		zap.String(logFieldStatus, string(confirmed)),
	)

	pipeline.state.ScheduleReconcile(target, pipeline.reconcileDelay)
	return nil
}

// applyStatus moves the target's status from one value to another and
// nudges the follower counter on transitions in or out of FOLLOWING,
// clamped at zero. PENDING transitions never touch counters.
func (pipeline *Pipeline) applyStatus(target profile.Identity, from profile.FollowStatus, to profile.FollowStatus) {
	if from == to {
		return
	}
	pipeline.state.ApplyProfile(target, func(current *profile.Profile) {
		current.FollowStatus = to
	})
	if to == profile.StatusFollowing {
		pipeline.state.ApplyCounters(target, func(counters *profile.Counters) {
			counters.Followers++
		})
		return
	}
	if from == profile.StatusFollowing {
		pipeline.state.ApplyCounters(target, func(counters *profile.Counters) {
			if counters.Followers > 0 {
				counters.Followers--
			}
		})
	}
}

// UpdateProfile applies a partial edit to local state synchronously. No
// network activity happens here.
func (pipeline *Pipeline) UpdateProfile(target profile.Identity, edit profile.Edit) error {
	if !pipeline.state.ApplyProfile(target, edit.ApplyTo) {
		return ErrUnknownTarget
	}
	return nil
}

// UpdateProfileServer validates and submits the edit, then merges the
// server's authoritative profile over local state. A submission failure
// deliberately leaves the optimistic local merge in place; callers decide
// between retrying and forcing a refetch.
func (pipeline *Pipeline) UpdateProfileServer(ctx context.Context, target profile.Identity, edit profile.Edit) error {
	if !pipeline.beginAction(target, ActionEdit) {
		return ErrActionInFlight
	}
	defer pipeline.endAction(target, ActionEdit)

	if validateErr := edit.Validate(); validateErr != nil {
		return validateErr
	}

	current, exists := pipeline.state.Snapshot(target)
	if !exists {
		return ErrUnknownTarget
	}

	payload, callErr := pipeline.api.UpdateProfile(ctx, edit)
	if callErr != nil {
		pipeline.raiseTransient(target, ActionEdit, callErr)
		return callErr
	}

	confirmed, normalizeErr := profile.Normalize(current.Handle, payload, &current)
	if normalizeErr != nil {
		return fmt.Errorf("normalize update response: %w", normalizeErr)
	}
	pipeline.state.ApplyProfile(target, func(local *profile.Profile) {
		profile.MergeAuthoritative(local, confirmed)
	})
	return nil
}

// RefreshRequests fetches the viewer's inbound pending follow requests.
func (pipeline *Pipeline) RefreshRequests(ctx context.Context) error {
	fetched, fetchErr := pipeline.api.FetchPendingRequests(ctx)
	if fetchErr != nil {
		return fetchErr
	}
	pipeline.stateLock.Lock()
	defer pipeline.stateLock.Unlock()
	pipeline.pendingRequests = fetched
	return nil
}

// Requests returns the local pending-request list.
func (pipeline *Pipeline) Requests() []profile.FollowRequest {
	pipeline.stateLock.Lock()
	defer pipeline.stateLock.Unlock()
	listed := make([]profile.FollowRequest, len(pipeline.pendingRequests))
	copy(listed, pipeline.pendingRequests)
	return listed
}

// AcceptRequest confirms an inbound follow request. Unlike follow and
// unfollow this is not optimistic: the control shows a spinner while the
// call is in flight and the request leaves the list only after server
// confirmation. A not-found or conflict response means another accept
// already landed; the request is removed and no error is surfaced.
func (pipeline *Pipeline) AcceptRequest(ctx context.Context, requester profile.Identity) error {
	return pipeline.settleRequest(ctx, requester, ActionAccept, pipeline.api.AcceptRequest)
}

// RejectRequest declines an inbound follow request with the same spinner
// and confirmation semantics as AcceptRequest.
func (pipeline *Pipeline) RejectRequest(ctx context.Context, requester profile.Identity) error {
	return pipeline.settleRequest(ctx, requester, ActionReject, pipeline.api.RejectRequest)
}

func (pipeline *Pipeline) settleRequest(
	ctx context.Context,
	requester profile.Identity,
	action Action,
	call func(context.Context, profile.Identity) error,
) error {
	if !pipeline.beginAction(requester, action) {
		return ErrActionInFlight
	}
	defer pipeline.endAction(requester, action)

	callErr := call(ctx, requester)
	if callErr != nil && !errors.Is(callErr, profile.ErrNotFound) && !errors.Is(callErr, profile.ErrConflict) {
		pipeline.raiseTransient(requester, action, callErr)
		return callErr
	}
	pipeline.removeRequest(requester)
	return nil
}

func (pipeline *Pipeline) removeRequest(requester profile.Identity) {
	pipeline.stateLock.Lock()
	defer pipeline.stateLock.Unlock()
	remaining := pipeline.pendingRequests[:0]
	for _, request := range pipeline.pendingRequests {
		if request.Requester != requester {
			remaining = append(remaining, request)
		}
	}
	pipeline.pendingRequests = remaining
}

// Loading reports whether the action is in flight for the target.
func (pipeline *Pipeline) Loading(target profile.Identity, action Action) bool {
	pipeline.stateLock.Lock()
	defer pipeline.stateLock.Unlock()
	return pipeline.loading[actionKey{target: target, action: action}]
}

// CurrentError returns the unexpired transient error, if any.
func (pipeline *Pipeline) CurrentError() (TransientError, bool) {
	pipeline.stateLock.Lock()
	defer pipeline.stateLock.Unlock()
	if pipeline.transientError == nil {
		return TransientError{}, false
	}
	if pipeline.now().After(pipeline.transientError.expiresAt) {
		pipeline.transientError = nil
		return TransientError{}, false
	}
	return *pipeline.transientError, true
}

func (pipeline *Pipeline) beginAction(target profile.Identity, action Action) bool {
	pipeline.stateLock.Lock()
	defer pipeline.stateLock.Unlock()
	key := actionKey{target: target, action: action}
	if pipeline.loading[key] {
		return false
	}
	pipeline.loading[key] = true
	return true
}

func (pipeline *Pipeline) endAction(target profile.Identity, action Action) {
	pipeline.stateLock.Lock()
	defer pipeline.stateLock.Unlock()
	delete(pipeline.loading, actionKey{target: target, action: action})
}

func (pipeline *Pipeline) raiseTransient(target profile.Identity, action Action, cause error) {
	pipeline.stateLock.Lock()
	defer pipeline.stateLock.Unlock()
	pipeline.transientError = &TransientError{
		Action:    action,
		Target:    target,
		Message:   cause.Error(),
		expiresAt: pipeline.now().Add(pipeline.errorExpiry),
	}
}
