package viewstate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orbit-social/orbit/internal/profile"
	"github.com/orbit-social/orbit/internal/relationship"
	"github.com/orbit-social/orbit/internal/session"
	"github.com/orbit-social/orbit/internal/viewstate"
)

const (
	testHandle      = "alice"
	testOtherHandle = "bob"
	testSettleDelay = 5 * time.Millisecond
	testWaitTimeout = time.Second
)

type fakeBackend struct {
	mutex         sync.Mutex
	profiles      map[string]profile.ProfilePayload
	relationships map[profile.Identity]profile.RelationshipPayload
	stats         map[profile.Identity]profile.StatsPayload
	profileCalls  map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		profiles:      make(map[string]profile.ProfilePayload),
		relationships: make(map[profile.Identity]profile.RelationshipPayload),
		stats:         make(map[profile.Identity]profile.StatsPayload),
		profileCalls:  make(map[string]int),
	}
}

func (backend *fakeBackend) FetchProfile(_ context.Context, handle string) (profile.ProfilePayload, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.profileCalls[handle]++
	payload, exists := backend.profiles[handle]
	if !exists {
		return profile.ProfilePayload{}, profile.ErrNotFound
	}
	return payload, nil
}

func (backend *fakeBackend) FetchRelationship(_ context.Context, target profile.Identity) (profile.RelationshipPayload, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return backend.relationships[target], nil
}

func (backend *fakeBackend) FetchStats(_ context.Context, target profile.Identity) (profile.StatsPayload, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return backend.stats[target], nil
}

func (backend *fakeBackend) callsFor(handle string) int {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return backend.profileCalls[handle]
}

type memorySessionStore struct {
	viewerSession session.Session
	hasSession    bool
}

func (store *memorySessionStore) Load() (session.Session, error) {
	if !store.hasSession {
		return session.Session{}, session.ErrNoSession
	}
	return store.viewerSession, nil
}

func (store *memorySessionStore) Save(viewerSession session.Session) error {
	store.viewerSession = viewerSession
	store.hasSession = true
	return nil
}

func (store *memorySessionStore) Clear() error {
	store.viewerSession = session.Session{}
	store.hasSession = false
	return nil
}

func publicProfilePayload(identity int64, fullName string) profile.ProfilePayload {
	return profile.ProfilePayload{
		Account: &profile.AccountPayload{ID: identity, Email: "user@example.com"},
		Profile: &profile.DetailsPayload{FullName: fullName, Visibility: "PUBLIC"},
	}
}

func privateProfilePayload(identity int64, username string) profile.ProfilePayload {
	return profile.ProfilePayload{
		UserID:     identity,
		Username:   username,
		FullName:   "Private Person",
		AvatarURL:  "https://cdn.example.com/avatar.png",
		Visibility: "PRIVATE",
	}
}

func newTestManager(backend *fakeBackend, sessions session.Store) *viewstate.Manager {
	cache := profile.NewCache(profile.CacheConfig{Fetcher: backend})
	resolver := relationship.NewResolver(backend, nil)
	return viewstate.NewManager(viewstate.Config{
		Cache:       cache,
		Resolver:    resolver,
		Stats:       backend,
		Sessions:    sessions,
		SettleDelay: testSettleDelay,
	})
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.After(testWaitTimeout)
	for !condition() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", description)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestViewPublicProfileLoadsCountersAndResolvesRelationship(t *testing.T) {
	backend := newFakeBackend()
	backend.profiles[testHandle] = publicProfilePayload(7, "Alice Nguyen")
	backend.relationships[7] = profile.RelationshipPayload{IsFollowing: true, IsFollowed: true}
	backend.stats[7] = profile.StatsPayload{Followers: 120, Following: 80}
	manager := newTestManager(backend, &memorySessionStore{})

	viewed := manager.View(context.Background(), testHandle, false)
	if viewed.Gated {
		t.Fatal("a public profile must not be gated")
	}
	if viewed.Profile.DisplayName != "Alice Nguyen" {
		t.Fatalf("unexpected display name %q", viewed.Profile.DisplayName)
	}
	if viewed.Counters.Followers != 120 {
		t.Fatalf("expected 120 followers, got %d", viewed.Counters.Followers)
	}

	waitFor(t, "the settled relationship resolution", func() bool {
		return manager.Refresh(testHandle).Profile.FollowStatus == profile.StatusFollowing
	})
}

func TestViewGatedProfileWithholdsEverythingButRestrictedFields(t *testing.T) {
	backend := newFakeBackend()
	backend.profiles[testHandle] = privateProfilePayload(7, testHandle)
	manager := newTestManager(backend, &memorySessionStore{})

	viewed := manager.View(context.Background(), testHandle, false)
	if !viewed.Gated {
		t.Fatal("a private profile must be gated for a stranger")
	}
	if viewed.Restricted == nil {
		t.Fatal("expected a restricted view")
	}
	if viewed.Restricted.FollowTarget != 7 {
		t.Fatalf("expected follow target 7, got %d", viewed.Restricted.FollowTarget)
	}
	if viewed.Restricted.Handle != testHandle || viewed.Restricted.DisplayName != "Private Person" {
		t.Fatalf("unexpected restricted fields: %+v", viewed.Restricted)
	}
	if viewed.Profile != (profile.Profile{}) {
		t.Fatal("the full profile must be withheld from a gated view")
	}
	if viewed.Counters != (profile.Counters{}) {
		t.Fatal("counters must be withheld from a gated view")
	}
	if viewed.FollowTarget() != 7 {
		t.Fatalf("expected the follow target from the restricted block, got %d", viewed.FollowTarget())
	}
}

func TestViewOwnProfileIsNeverGated(t *testing.T) {
	backend := newFakeBackend()
	backend.profiles[testHandle] = privateProfilePayload(7, testHandle)
	sessions := &memorySessionStore{}
	if saveErr := sessions.Save(session.Session{Identity: 7, Handle: testHandle}); saveErr != nil {
		t.Fatalf("unexpected save error: %v", saveErr)
	}
	manager := newTestManager(backend, sessions)

	viewed := manager.View(context.Background(), testHandle, false)
	if viewed.Gated {
		t.Fatal("the owner must see their own private profile")
	}
	if !viewed.IsOwnProfile {
		t.Fatal("expected the own-profile flag")
	}
}

func TestViewUnknownHandleRendersPlaceholder(t *testing.T) {
	backend := newFakeBackend()
	manager := newTestManager(backend, &memorySessionStore{})

	viewed := manager.View(context.Background(), "ghost", false)
	if !viewed.Profile.Placeholder {
		t.Fatal("expected a placeholder profile for an unknown handle")
	}
	if viewed.Gated {
		t.Fatal("a placeholder must not be gated")
	}
}

func TestViewSwitchingHandlesEvictsPreviousEntry(t *testing.T) {
	backend := newFakeBackend()
	backend.profiles[testHandle] = publicProfilePayload(7, "Alice Nguyen")
	backend.profiles[testOtherHandle] = publicProfilePayload(8, "Bob Stone")
	manager := newTestManager(backend, &memorySessionStore{})

	manager.View(context.Background(), testHandle, false)
	manager.View(context.Background(), testOtherHandle, false)

	firstCalls := backend.callsFor(testHandle)
	manager.View(context.Background(), testHandle, false)
	if backend.callsFor(testHandle) != firstCalls+1 {
		t.Fatal("returning to an evicted handle must refetch it")
	}
}

func TestOptimisticFollowingSurvivesRacingResolution(t *testing.T) {
	backend := newFakeBackend()
	backend.profiles[testHandle] = publicProfilePayload(7, "Alice Nguyen")
	backend.relationships[7] = profile.RelationshipPayload{IsFollowing: false}
	manager := newTestManager(backend, &memorySessionStore{})

	manager.View(context.Background(), testHandle, false)

	// An optimistic mutation lands before the settled resolution fires; the
	// advanced generation makes the resolver response stale on arrival.
	if !manager.ApplyProfile(7, func(current *profile.Profile) {
		current.FollowStatus = profile.StatusFollowing
	}) {
		t.Fatal("expected the mutation to apply")
	}

	time.Sleep(4 * testSettleDelay)
	if status := manager.Refresh(testHandle).Profile.FollowStatus; status != profile.StatusFollowing {
		t.Fatalf("a stale resolution must not downgrade the optimistic status, got %s", status)
	}
}

func TestApplyCountersRejectsInactiveIdentity(t *testing.T) {
	backend := newFakeBackend()
	backend.profiles[testHandle] = publicProfilePayload(7, "Alice Nguyen")
	manager := newTestManager(backend, &memorySessionStore{})
	manager.View(context.Background(), testHandle, false)

	if manager.ApplyCounters(99, func(counters *profile.Counters) { counters.Followers++ }) {
		t.Fatal("a counter nudge for a non-active identity must be rejected")
	}
	if !manager.ApplyCounters(7, func(counters *profile.Counters) { counters.Followers++ }) {
		t.Fatal("a counter nudge for the active identity must apply")
	}
	if followers := manager.Refresh(testHandle).Counters.Followers; followers != 1 {
		t.Fatalf("expected 1 follower, got %d", followers)
	}
}

func TestScheduleReconcileRefetchesProfileAndCounters(t *testing.T) {
	backend := newFakeBackend()
	backend.profiles[testHandle] = publicProfilePayload(7, "Alice Nguyen")
	backend.relationships[7] = profile.RelationshipPayload{IsFollowing: true}
	manager := newTestManager(backend, &memorySessionStore{})
	manager.View(context.Background(), testHandle, false)

	backend.mutex.Lock()
	backend.stats[7] = profile.StatsPayload{Followers: 121}
	backend.mutex.Unlock()

	callsBefore := backend.callsFor(testHandle)
	manager.ScheduleReconcile(7, time.Millisecond)

	waitFor(t, "the forced reconcile refetch", func() bool {
		return backend.callsFor(testHandle) > callsBefore
	})
	waitFor(t, "the reconciled counters", func() bool {
		return manager.Refresh(testHandle).Counters.Followers == 121
	})
	waitFor(t, "the reconciled relationship", func() bool {
		return manager.Refresh(testHandle).Profile.FollowStatus == profile.StatusFollowing
	})
}

func TestScheduleReconcileIgnoresStaleIdentity(t *testing.T) {
	backend := newFakeBackend()
	backend.profiles[testHandle] = publicProfilePayload(7, "Alice Nguyen")
	backend.profiles[testOtherHandle] = publicProfilePayload(8, "Bob Stone")
	manager := newTestManager(backend, &memorySessionStore{})

	manager.View(context.Background(), testHandle, false)
	manager.View(context.Background(), testOtherHandle, false)

	callsBefore := backend.callsFor(testHandle)
	manager.ScheduleReconcile(7, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	if backend.callsFor(testHandle) != callsBefore {
		t.Fatal("a reconcile for a no-longer-viewed identity must be dropped")
	}
}
