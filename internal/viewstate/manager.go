// Package viewstate owns the state for the currently viewed profile. The
// Manager is the single writer for the per-handle cache entry: every merge
// from the independent triggers (initial fetch, optimistic mutation, delayed
// reconciliation, relationship resolution) is serialized through it, and any
// late-arriving response for a handle or generation that is no longer
// current is discarded.
package viewstate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orbit-social/orbit/internal/gate"
	"github.com/orbit-social/orbit/internal/profile"
	"github.com/orbit-social/orbit/internal/relationship"
	"github.com/orbit-social/orbit/internal/session"
)

const (
	backgroundTaskTimeout = 15 * time.Second

	logMessageProfileFetchFailed  = "profile fetch failed"
	logMessageCountersFetchFailed = "counters fetch failed"
	logMessageResolutionDiscarded = "relationship resolution discarded"
	logMessageReconcileDiscarded  = "reconcile discarded"
	logFieldHandle                = "handle"
	logFieldGeneration            = "generation"
)

// StatsFetcher reads follow statistics for an identity.
type StatsFetcher interface {
	FetchStats(ctx context.Context, target profile.Identity) (profile.StatsPayload, error)
}

// View is the render-ready decision for the currently viewed profile.
type View struct {
	Handle       string
	IsOwnProfile bool
	Gated        bool
	Profile      profile.Profile
	Restricted   *gate.RestrictedView
	Counters     profile.Counters
	IsStale      bool
	FetchFailed  bool
}

// Config customizes a Manager instance.
type Config struct {
	Cache       *profile.Cache
	Resolver    *relationship.Resolver
	Stats       StatsFetcher
	Sessions    session.Store
	SettleDelay time.Duration
	Logger      *zap.Logger
}

// Manager coordinates the profile cache, counters, relationship resolution
// and mutation scheduling for one viewed handle at a time.
type Manager struct {
	cache       *profile.Cache
	resolver    *relationship.Resolver
	stats       StatsFetcher
	sessions    session.Store
	settleDelay time.Duration
	logger      *zap.Logger

	stateLock      sync.Mutex
	activeHandle   string
	activeIdentity profile.Identity
	counters       profile.Counters
	generation     uint64
	timers         []*time.Timer
}

// NewManager constructs a Manager with the default settle delay when unset.
func NewManager(configuration Config) *Manager {
	settleDelay := configuration.SettleDelay
	if settleDelay <= 0 {
		settleDelay = relationship.DefaultSettleDelay
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cache:       configuration.Cache,
		resolver:    configuration.Resolver,
		stats:       configuration.Stats,
		sessions:    configuration.Sessions,
		settleDelay: settleDelay,
		logger:      logger,
	}
}

// View loads the profile and counters for handle and returns the gating
// decision. Switching handles evicts the previous entry, stops its pending
// timers and abandons its in-flight responses. Fetch failures yield a
// renderable view with FetchFailed set instead of an error; the caller's
// retry is another View call with force.
func (manager *Manager) View(ctx context.Context, handle string, force bool) View {
	generation := manager.activate(handle)

	viewerSession, _ := manager.sessions.Load()
	isOwnProfile := viewerSession.Owns(handle)

	fetched, fetchErr := manager.cache.Fetch(ctx, handle, force)
	if fetchErr != nil {
		manager.logger.Warn(logMessageProfileFetchFailed, zap.String(logFieldHandle, handle), zap.Error(fetchErr))
		failed := manager.buildView(handle, isOwnProfile)
		failed.FetchFailed = true
		return failed
	}

	manager.adoptIdentity(handle, generation, fetched.Identity)
	manager.loadCounters(ctx, handle, generation, fetched.Identity)

	if !isOwnProfile && !fetched.Identity.Zero() {
		manager.scheduleResolution(handle, generation, fetched.Identity)
	}

	return manager.buildView(handle, isOwnProfile)
}

// Refresh rebuilds the view for the active handle from local state without
// any network activity.
func (manager *Manager) Refresh(handle string) View {
	viewerSession, _ := manager.sessions.Load()
	return manager.buildView(handle, viewerSession.Owns(handle))
}

// Snapshot returns a copy of the cached profile for the identity. Part of
// the mutation pipeline's state contract.
func (manager *Manager) Snapshot(target profile.Identity) (profile.Profile, bool) {
	handle, ok := manager.handleFor(target)
	if !ok {
		return profile.Profile{}, false
	}
	cached, exists := manager.cache.Peek(handle)
	if !exists {
		return profile.Profile{}, false
	}
	return *cached, true
}

// ApplyProfile merges a mutation into the cached profile for the identity
// and advances the generation, invalidating responses issued before it.
func (manager *Manager) ApplyProfile(target profile.Identity, mutate func(*profile.Profile)) bool {
	handle, ok := manager.handleFor(target)
	if !ok {
		return false
	}
	manager.bumpGeneration()
	return manager.cache.Apply(handle, mutate)
}

// ApplyCounters merges a counter nudge for the identity.
func (manager *Manager) ApplyCounters(target profile.Identity, mutate func(*profile.Counters)) bool {
	manager.stateLock.Lock()
	defer manager.stateLock.Unlock()
	if manager.activeIdentity != target || target.Zero() {
		return false
	}
	mutate(&manager.counters)
	return true
}

// ScheduleReconcile arranges a forced refetch of profile and counters after
// delay, reconciling local state with authoritative server state once any
// propagation delay has passed. The refetch is discarded if the viewed
// handle switches or another mutation lands first.
func (manager *Manager) ScheduleReconcile(target profile.Identity, delay time.Duration) {
	manager.stateLock.Lock()
	if manager.activeIdentity != target {
		manager.stateLock.Unlock()
		return
	}
	handle := manager.activeHandle
	generation := manager.generation
	manager.stateLock.Unlock()

	manager.trackTimer(time.AfterFunc(delay, func() {
		manager.reconcile(handle, generation, target)
	}))
}

func (manager *Manager) reconcile(handle string, generation uint64, target profile.Identity) {
	if !manager.isCurrent(handle, generation) {
		manager.logger.Debug(logMessageReconcileDiscarded, zap.String(logFieldHandle, handle), zap.Uint64(logFieldGeneration, generation))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backgroundTaskTimeout)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if _, fetchErr := manager.cache.Fetch(groupCtx, handle, true); fetchErr != nil {
			manager.logger.Warn(logMessageProfileFetchFailed, zap.String(logFieldHandle, handle), zap.Error(fetchErr))
		}
		return nil
	})
	group.Go(func() error {
		manager.loadCounters(groupCtx, handle, generation, target)
		return nil
	})
	_ = group.Wait()

	if !manager.isCurrent(handle, generation) {
		return
	}
	manager.resolveNow(handle, generation, target)
}

func (manager *Manager) scheduleResolution(handle string, generation uint64, target profile.Identity) {
	manager.trackTimer(time.AfterFunc(manager.settleDelay, func() {
		manager.resolveNow(handle, generation, target)
	}))
}

// resolveNow reads the relationship endpoint and merges the result through
// the reconciliation rule, unless the view moved on while the read was in
// flight.
func (manager *Manager) resolveNow(handle string, generation uint64, target profile.Identity) {
	if !manager.isCurrent(handle, generation) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backgroundTaskTimeout)
	defer cancel()

	resolved, resolveErr := manager.resolver.Resolve(ctx, target)
	if resolveErr != nil {
		// Fetch-path failure: relationship stays unchanged.
		return
	}
	if !manager.isCurrent(handle, generation) {
		manager.logger.Debug(logMessageResolutionDiscarded, zap.String(logFieldHandle, handle), zap.Uint64(logFieldGeneration, generation))
		return
	}
	manager.cache.Apply(handle, func(current *profile.Profile) {
		relationship.Reconcile(current, resolved)
	})
}

func (manager *Manager) loadCounters(ctx context.Context, handle string, generation uint64, target profile.Identity) {
	if target.Zero() {
		return
	}
	payload, statsErr := manager.stats.FetchStats(ctx, target)
	if statsErr != nil {
		// Counters fall back to their previous values; zero on first load.
		manager.logger.Warn(logMessageCountersFetchFailed, zap.String(logFieldHandle, handle), zap.Error(statsErr))
		return
	}

	manager.stateLock.Lock()
	defer manager.stateLock.Unlock()
	if manager.activeHandle != handle || manager.generation != generation {
		return
	}
	manager.counters = payload.Normalize(manager.counters)
}

func (manager *Manager) buildView(handle string, isOwnProfile bool) View {
	cached, exists := manager.cache.Peek(handle)
	if !exists {
		return View{
			Handle:       handle,
			IsOwnProfile: isOwnProfile,
			Profile:      profile.Placeholder(handle),
			FetchFailed:  true,
		}
	}

	manager.stateLock.Lock()
	counters := manager.counters
	manager.stateLock.Unlock()

	snapshot := *cached
	built := View{
		Handle:       handle,
		IsOwnProfile: isOwnProfile,
		Profile:      snapshot,
		Counters:     counters,
		IsStale:      manager.cache.IsStale(handle),
	}
	if gate.IsPrivateView(snapshot, isOwnProfile) {
		// The gated view exposes only the restricted fields; the full
		// profile and counters are withheld from every consumer.
		restricted := gate.Restrict(snapshot)
		built.Gated = true
		built.Restricted = &restricted
		built.Profile = profile.Profile{}
		built.Counters = profile.Counters{}
	}
	return built
}

// FollowTarget returns the identity a follow control should act on for the
// current view: the restricted block's target when gated, the profile's
// identity otherwise.
func (view View) FollowTarget() profile.Identity {
	if view.Gated && view.Restricted != nil {
		return view.Restricted.FollowTarget
	}
	return view.Profile.Identity
}

// activate switches the active handle, evicting the previous entry and
// stopping its timers. The bumped generation abandons in-flight responses
// for the previous handle.
func (manager *Manager) activate(handle string) uint64 {
	manager.stateLock.Lock()
	defer manager.stateLock.Unlock()

	if manager.activeHandle == handle {
		return manager.generation
	}

	for _, pending := range manager.timers {
		pending.Stop()
	}
	manager.timers = nil
	if manager.activeHandle != "" {
		manager.cache.Evict(manager.activeHandle)
	}

	manager.activeHandle = handle
	manager.activeIdentity = 0
	manager.counters = profile.Counters{}
	manager.generation++
	return manager.generation
}

func (manager *Manager) adoptIdentity(handle string, generation uint64, identity profile.Identity) {
	manager.stateLock.Lock()
	defer manager.stateLock.Unlock()
	if manager.activeHandle != handle || manager.generation != generation {
		return
	}
	manager.activeIdentity = identity
}

func (manager *Manager) handleFor(target profile.Identity) (string, bool) {
	manager.stateLock.Lock()
	defer manager.stateLock.Unlock()
	if target.Zero() || manager.activeIdentity != target {
		return "", false
	}
	return manager.activeHandle, true
}

func (manager *Manager) isCurrent(handle string, generation uint64) bool {
	manager.stateLock.Lock()
	defer manager.stateLock.Unlock()
	return manager.activeHandle == handle && manager.generation == generation
}

func (manager *Manager) bumpGeneration() {
	manager.stateLock.Lock()
	defer manager.stateLock.Unlock()
	manager.generation++
}

func (manager *Manager) trackTimer(pending *time.Timer) {
	manager.stateLock.Lock()
	defer manager.stateLock.Unlock()
	manager.timers = append(manager.timers, pending)
}
