package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/btree"

	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/icon"
	"github.com/banshee-data/geocluster/internal/mapengine"
)

// ErrExists is returned by Create for a name already in use.
var ErrExists = errors.New("session already exists")

// EngineFactory returns the engine a new session draws on.
type EngineFactory func(name string) mapengine.Engine

// Registry holds named sessions in name order.
type Registry struct {
	newEngine EngineFactory
	fetcher   *icon.Fetcher

	mu       sync.RWMutex
	sessions btree.Map[string, *Session]
}

// NewRegistry returns an empty registry.
func NewRegistry(newEngine EngineFactory, fetcher *icon.Fetcher) *Registry {
	return &Registry{newEngine: newEngine, fetcher: fetcher}
}

// Create registers a new session under name.
func (r *Registry) Create(name string) (*Session, error) {
	if name == "" {
		return nil, errtypes.Configf("name", "must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions.Get(name); ok {
		return nil, fmt.Errorf("%q: %w", name, ErrExists)
	}
	s := New(name, r.newEngine(name), r.fetcher)
	r.sessions.Set(name, s)
	return s, nil
}

// GetOrCreate returns the session called name, creating it if needed.
// created reports whether this call made it.
func (r *Registry) GetOrCreate(name string) (s *Session, created bool, err error) {
	if s, err = r.Get(name); err == nil {
		return s, false, nil
	}
	s, err = r.Create(name)
	if errors.Is(err, ErrExists) {
		s, err = r.Get(name)
		return s, false, err
	}
	return s, err == nil, err
}

// Get returns the session called name.
func (r *Registry) Get(name string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions.Get(name)
	if !ok {
		return nil, &errtypes.LayerNotFoundError{Name: name}
	}
	return s, nil
}

// Show makes the named session's layer visible.
func (r *Registry) Show(name string) error {
	s, err := r.Get(name)
	if err != nil {
		return err
	}
	return s.Show()
}

// Hide hides the named session's layer.
func (r *Registry) Hide(name string) error {
	s, err := r.Get(name)
	if err != nil {
		return err
	}
	return s.Hide()
}

// Delete closes and forgets the named session.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	s, ok := r.sessions.Delete(name)
	r.mu.Unlock()
	if !ok {
		return &errtypes.LayerNotFoundError{Name: name}
	}
	return s.Close()
}

// Names returns the session names in ascending order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions.Keys()
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions.Len()
}

// Each calls fn for every session in name order until fn returns false.
func (r *Registry) Each(fn func(*Session) bool) {
	r.mu.RLock()
	var all []*Session
	r.sessions.Scan(func(_ string, s *Session) bool {
		all = append(all, s)
		return true
	})
	r.mu.RUnlock()
	for _, s := range all {
		if !fn(s) {
			return
		}
	}
}

// Close closes every session.
func (r *Registry) Close() error {
	r.mu.Lock()
	var all []*Session
	r.sessions.Scan(func(_ string, s *Session) bool {
		all = append(all, s)
		return true
	})
	r.sessions.Clear()
	r.mu.Unlock()
	var errs []error
	for _, s := range all {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
