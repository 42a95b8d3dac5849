package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/observability"
)

// ControllerFactory builds a fresh controller for a new UI session
type ControllerFactory func() *SearchController

type registryEntry struct {
	controller *SearchController
	lastUsed   time.Time
}

// SessionRegistry keeps one SearchController per connected UI and closes the
// ones nobody has touched for idleTTL.
type SessionRegistry struct {
	factory ControllerFactory
	idleTTL time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*registryEntry
}

// NewSessionRegistry creates a registry. A non-positive idleTTL disables eviction.
func NewSessionRegistry(factory ControllerFactory, idleTTL time.Duration) *SessionRegistry {
	return &SessionRegistry{
		factory:  factory,
		idleTTL:  idleTTL,
		now:      time.Now,
		logger:   observability.ComponentLogger("session_registry"),
		sessions: make(map[string]*registryEntry),
	}
}

// Create registers a new controller and returns its id
func (r *SessionRegistry) Create() (string, *SearchController) {
	id := uuid.NewString()
	controller := r.factory()

	r.mu.Lock()
	r.sessions[id] = &registryEntry{controller: controller, lastUsed: r.now()}
	r.mu.Unlock()

	r.logger.Debug().Str("id", id).Msg("session created")
	return id, controller
}

// Get returns the controller for id and marks it as used
func (r *SessionRegistry) Get(id string) (*SearchController, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	entry.lastUsed = r.now()
	return entry.controller, true
}

// Remove closes and forgets the controller for id
func (r *SessionRegistry) Remove(id string) bool {
	r.mu.Lock()
	entry, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		entry.controller.Close()
	}
	return ok
}

// Len reports the number of live sessions
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictIdle closes every session idle for at least idleTTL
func (r *SessionRegistry) EvictIdle() int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTTL)

	var stale []*SearchController
	r.mu.Lock()
	for id, entry := range r.sessions {
		if !entry.lastUsed.After(cutoff) {
			stale = append(stale, entry.controller)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
	if len(stale) > 0 {
		r.logger.Info().Int("evicted", len(stale)).Msg("evicted idle sessions")
	}
	return len(stale)
}

// Run evicts idle sessions every interval until ctx is done
func (r *SessionRegistry) Run(ctx context.Context, interval time.Duration) {
	if r.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictIdle()
		}
	}
}

// CloseAll closes every session, used on shutdown
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, entry := range all {
		entry.controller.Close()
	}
}
