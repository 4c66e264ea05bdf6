// Package session holds the viewer's persisted sign-in state and the
// invalidation channel used when the API rejects the session. It stands in
// for the browser's local key-value store in the original client.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/orbit-social/orbit/internal/profile"
)

const (
	errMessageNoSession   = "no persisted session"
	sessionFilePermission = 0o600
	sessionDirPermission  = 0o700
)

// ErrNoSession indicates that no viewer session has been persisted yet.
var ErrNoSession = errors.New(errMessageNoSession)

// Session identifies the signed-in viewer and carries the API tokens.
type Session struct {
	Identity     profile.Identity `json:"identity"`
	Handle       string           `json:"handle"`
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
}

// Owns reports whether the viewed handle belongs to the session's viewer,
// which suppresses relationship fetches against oneself.
func (viewerSession Session) Owns(handle string) bool {
	return viewerSession.Handle != "" && viewerSession.Handle == handle
}

// Store persists the viewer session between runs.
type Store interface {
	Load() (Session, error)
	Save(Session) error
	Clear() error
}

// FileStore persists the session as a JSON file.
type FileStore struct {
	path     string
	fileLock sync.Mutex
}

// NewFileStore creates a file-backed session store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted session, reporting ErrNoSession when the file
// does not exist.
func (store *FileStore) Load() (Session, error) {
	store.fileLock.Lock()
	defer store.fileLock.Unlock()

	raw, readErr := os.ReadFile(store.path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return Session{}, ErrNoSession
		}
		return Session{}, fmt.Errorf("read session: %w", readErr)
	}
	var loaded Session
	if unmarshalErr := json.Unmarshal(raw, &loaded); unmarshalErr != nil {
		return Session{}, fmt.Errorf("decode session: %w", unmarshalErr)
	}
	return loaded, nil
}

// Save writes the session to disk, creating the parent directory if needed.
func (store *FileStore) Save(viewerSession Session) error {
	store.fileLock.Lock()
	defer store.fileLock.Unlock()

	encoded, marshalErr := json.MarshalIndent(viewerSession, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("encode session: %w", marshalErr)
	}
	if mkdirErr := os.MkdirAll(filepath.Dir(store.path), sessionDirPermission); mkdirErr != nil {
		return fmt.Errorf("create session directory: %w", mkdirErr)
	}
	if writeErr := os.WriteFile(store.path, encoded, sessionFilePermission); writeErr != nil {
		return fmt.Errorf("write session: %w", writeErr)
	}
	return nil
}

// Clear removes the persisted session.
func (store *FileStore) Clear() error {
	store.fileLock.Lock()
	defer store.fileLock.Unlock()

	if removeErr := os.Remove(store.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", removeErr)
	}
	return nil
}

// Bus is the single subscribe/publish channel for session-invalidation
// events, replacing the original client's ambient logout dispatch.
type Bus struct {
	subscribersLock sync.Mutex
	subscribers     []chan struct{}
}

// NewBus creates an empty invalidation bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener for invalidation events.
func (bus *Bus) Subscribe() <-chan struct{} {
	bus.subscribersLock.Lock()
	defer bus.subscribersLock.Unlock()
	subscription := make(chan struct{}, 1)
	bus.subscribers = append(bus.subscribers, subscription)
	return subscription
}

// Invalidate notifies all subscribers without blocking on slow listeners.
func (bus *Bus) Invalidate() {
	bus.subscribersLock.Lock()
	defer bus.subscribersLock.Unlock()
	for _, subscription := range bus.subscribers {
		select {
		case subscription <- struct{}{}:
		default:
		}
	}
}
