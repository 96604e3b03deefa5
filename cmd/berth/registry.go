package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common registry errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBadDirectory    = errors.New("directory does not exist")
	ErrUnknownProfile  = errors.New("unknown profile")
)

// Session is a logical workspace: a working directory plus the command
// profile that runs inside it. The tmux session backing it is named
// deterministically from ID, so a Session survives any number of browser
// connects and disconnects.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Directory string    `json:"directory"`
	Profile   string    `json:"profile"`
	Options   []string  `json:"options,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Active    bool      `json:"active"`
}

// Registry is the durable session store: an ordered list persisted as JSON
// under the data directory. All mutations write through to disk.
type Registry struct {
	mu       sync.RWMutex
	path     string
	sessions []*Session
}

// NewRegistry loads the session list from dataDir, creating the directory
// and an empty store if nothing exists yet.
func NewRegistry(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	r := &Registry{path: filepath.Join(dataDir, "sessions.json")}

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session store: %w", err)
	}
	if err := json.Unmarshal(data, &r.sessions); err != nil {
		return nil, fmt.Errorf("parsing session store %s: %w", r.path, err)
	}
	log.Printf("[REGISTRY] Loaded %d sessions from %s", len(r.sessions), r.path)
	return r, nil
}

// save writes the session list to disk. Caller must hold r.mu.
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.sessions, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Lookup returns the session with the given id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.ID == id {
			copied := *s
			return &copied, true
		}
	}
	return nil, false
}

// List returns all sessions in display order.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		copied := *s
		out = append(out, &copied)
	}
	return out
}

// Create registers a new session. The directory must already exist; the
// profile must be one of the configured command profiles.
func (r *Registry) Create(name, directory, profile string, options []string) (*Session, error) {
	directory = filepath.Clean(directory)
	info, err := os.Stat(directory)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrBadDirectory, directory)
	}
	if _, ok := profiles[profile]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, profile)
	}

	s := &Session{
		ID:        uuid.New().String(),
		Name:      name,
		Directory: directory,
		Profile:   profile,
		Options:   options,
		CreatedAt: time.Now(),
	}
	if s.Name == "" {
		s.Name = filepath.Base(directory)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
	if err := r.save(); err != nil {
		r.sessions = r.sessions[:len(r.sessions)-1]
		return nil, fmt.Errorf("saving session store: %w", err)
	}
	log.Printf("[REGISTRY] Created session %s (%s in %s)", s.ID, s.Profile, s.Directory)
	copied := *s
	return &copied, nil
}

// Update renames a session and/or replaces its option set. Nil options
// means "leave unchanged"; an empty non-nil slice clears them.
func (r *Registry) Update(id, name string, options []string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ID != id {
			continue
		}
		prevName, prevOpts := s.Name, s.Options
		if name != "" {
			s.Name = name
		}
		if options != nil {
			s.Options = options
		}
		if err := r.save(); err != nil {
			s.Name, s.Options = prevName, prevOpts
			return nil, fmt.Errorf("saving session store: %w", err)
		}
		copied := *s
		return &copied, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// Delete removes a session from the store.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sessions {
		if s.ID != id {
			continue
		}
		r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
		if err := r.save(); err != nil {
			return fmt.Errorf("saving session store: %w", err)
		}
		log.Printf("[REGISTRY] Deleted session %s", id)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// Reorder replaces the display order. ids must be a permutation of the
// current session ids.
func (r *Registry) Reorder(ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(ids) != len(r.sessions) {
		return fmt.Errorf("reorder wants %d ids, store has %d", len(ids), len(r.sessions))
	}
	byID := make(map[string]*Session, len(r.sessions))
	for _, s := range r.sessions {
		byID[s.ID] = s
	}
	reordered := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		delete(byID, id)
		reordered = append(reordered, s)
	}
	prev := r.sessions
	r.sessions = reordered
	if err := r.save(); err != nil {
		r.sessions = prev
		return fmt.Errorf("saving session store: %w", err)
	}
	return nil
}
