// Package sessions keeps the service's read-only view of backend session records.
package sessions

import (
	"sort"
	"sync"

	"github.com/kiranshivaraju/motiontrack/internal/cache"
	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

// Registry is a concurrency-safe map of sessions keyed by ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]entry
}

type entry struct {
	session     models.Session
	fingerprint string
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]entry)}
}

// Upsert stores s and reports whether it is new or its processing-relevant fields changed.
func (r *Registry) Upsert(s models.Session) bool {
	if s.ID == "" {
		return false
	}
	fp := cache.Fingerprint(&s)

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.sessions[s.ID]
	r.sessions[s.ID] = entry{session: s, fingerprint: fp}
	return !ok || prev.fingerprint != fp
}

func (r *Registry) Get(id string) (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e.session, ok
}

// FindByVideo returns the newest session whose original or stored video
// filename equals name.
func (r *Registry) FindByVideo(name string) (models.Session, bool) {
	if name == "" {
		return models.Session{}, false
	}
	var matches []models.Session
	r.mu.RLock()
	for _, e := range r.sessions {
		if e.session.OriginalFilename == name || e.session.VideoFilename == name {
			matches = append(matches, e.session)
		}
	}
	r.mu.RUnlock()

	if len(matches) == 0 {
		return models.Session{}, false
	}
	sortNewestFirst(matches)
	return matches[0], true
}

// List returns all sessions, newest first.
func (r *Registry) List() []models.Session {
	r.mu.RLock()
	out := make([]models.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	r.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func sortNewestFirst(ss []models.Session) {
	sort.SliceStable(ss, func(i, j int) bool {
		a, b := ss[i].CreatedAt, ss[j].CreatedAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case (a == nil) != (b == nil):
			return a != nil
		default:
			return ss[i].ID > ss[j].ID
		}
	})
}
