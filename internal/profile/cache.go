package profile

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultFreshnessWindow is how long a fetched profile is served without
	// a network call.
	DefaultFreshnessWindow = 30 * time.Second
	// DefaultStalenessWindow is the age past which IsStale reports true. It
	// is a UI hint only and never forces behavior.
	DefaultStalenessWindow = 60 * time.Second
)

// Fetcher retrieves the raw profile payload for a handle from the remote
// API. A missing handle is reported as ErrNotFound.
type Fetcher interface {
	FetchProfile(ctx context.Context, handle string) (ProfilePayload, error)
}

// CacheConfig customizes a Cache instance.
type CacheConfig struct {
	Fetcher         Fetcher
	FreshnessWindow time.Duration
	StalenessWindow time.Duration
	Now             func() time.Time
}

// Cache holds the last-fetched profile per handle with a freshness window.
// Concurrent fetches of the same handle collapse into a single network call.
type Cache struct {
	fetcher     Fetcher
	freshness   time.Duration
	staleness   time.Duration
	now         func() time.Time
	entriesLock sync.RWMutex
	entries     map[string]*cacheEntry
	flightGroup singleflight.Group
}

type cacheEntry struct {
	profile   *Profile
	fetchedAt time.Time
}

// NewCache constructs a Cache with the default freshness and staleness
// windows when the configuration leaves them unset.
func NewCache(configuration CacheConfig) *Cache {
	freshness := configuration.FreshnessWindow
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	staleness := configuration.StalenessWindow
	if staleness <= 0 {
		staleness = DefaultStalenessWindow
	}
	nowFunc := configuration.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Cache{
		fetcher:   configuration.Fetcher,
		freshness: freshness,
		staleness: staleness,
		now:       nowFunc,
		entries:   make(map[string]*cacheEntry),
	}
}

// Fetch returns the profile for handle. A cached profile younger than the
// freshness window is returned without a network call unless force is set.
// An unknown handle yields a placeholder profile rather than an error; any
// other failure is surfaced as a *FetchError and the previous cached value,
// if any, is left untouched for the caller's retry affordance.
func (cache *Cache) Fetch(ctx context.Context, handle string, force bool) (*Profile, error) {
	if !force {
		if cached, fresh := cache.freshProfile(handle); fresh {
			return cached, nil
		}
	}

	resultChannel := cache.flightGroup.DoChan(handle, func() (interface{}, error) {
		return cache.refresh(ctx, handle)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChannel:
		if result.Err != nil {
			return nil, result.Err
		}
		fetched, _ := result.Val.(*Profile)
		return fetched, nil
	}
}

// Peek returns the cached profile for handle without triggering a fetch.
func (cache *Cache) Peek(handle string) (*Profile, bool) {
	cache.entriesLock.RLock()
	defer cache.entriesLock.RUnlock()
	entry, exists := cache.entries[handle]
	if !exists {
		return nil, false
	}
	return entry.profile, true
}

// Apply runs mutate against the cached profile for handle under the cache
// lock, serializing partial merges from independent triggers. It reports
// whether an entry existed.
func (cache *Cache) Apply(handle string, mutate func(*Profile)) bool {
	cache.entriesLock.Lock()
	defer cache.entriesLock.Unlock()
	entry, exists := cache.entries[handle]
	if !exists {
		return false
	}
	mutate(entry.profile)
	return true
}

// Evict drops the entry for handle. Called when the viewed handle changes.
func (cache *Cache) Evict(handle string) {
	cache.entriesLock.Lock()
	defer cache.entriesLock.Unlock()
	delete(cache.entries, handle)
}

// IsStale reports whether the cached profile for handle is older than the
// staleness window. Exposed for UI hints only.
func (cache *Cache) IsStale(handle string) bool {
	cache.entriesLock.RLock()
	defer cache.entriesLock.RUnlock()
	entry, exists := cache.entries[handle]
	if !exists {
		return false
	}
	return cache.now().Sub(entry.fetchedAt) > cache.staleness
}

func (cache *Cache) freshProfile(handle string) (*Profile, bool) {
	cache.entriesLock.RLock()
	defer cache.entriesLock.RUnlock()
	entry, exists := cache.entries[handle]
	if !exists {
		return nil, false
	}
	if cache.now().Sub(entry.fetchedAt) >= cache.freshness {
		return nil, false
	}
	return entry.profile, true
}

func (cache *Cache) refresh(ctx context.Context, handle string) (*Profile, error) {
	payload, fetchErr := cache.fetcher.FetchProfile(ctx, handle)
	if fetchErr != nil {
		if errors.Is(fetchErr, ErrNotFound) {
			placeholder := Placeholder(handle)
			return cache.store(handle, placeholder), nil
		}
		return nil, &FetchError{Handle: handle, Err: fetchErr}
	}

	prior, _ := cache.Peek(handle)
	normalized, normalizeErr := Normalize(handle, payload, prior)
	if normalizeErr != nil {
		return nil, &FetchError{Handle: handle, Err: normalizeErr}
	}
	return cache.store(handle, normalized), nil
}

func (cache *Cache) store(handle string, fetched Profile) *Profile {
	cache.entriesLock.Lock()
	defer cache.entriesLock.Unlock()
	entry, exists := cache.entries[handle]
	if !exists {
		entry = &cacheEntry{profile: &Profile{}}
		cache.entries[handle] = entry
	}
	*entry.profile = fetched
	entry.fetchedAt = cache.now()
	return entry.profile
}
