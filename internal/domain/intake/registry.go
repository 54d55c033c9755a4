package intake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mia/mia/internal/platform/apperr"
)

// FormSession is a server-held Form owned by one user. Its mutex serializes
// every operation so a save or submit never interleaves with another.
type FormSession struct {
	ID string

	mu       sync.Mutex
	form     *Form
	lastUsed time.Time
}

// SessionRegistry keeps in-progress forms between requests.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*FormSession
	now      func() time.Time
}

func NewSessionRegistry(now func() time.Time) *SessionRegistry {
	if now == nil {
		now = time.Now
	}
	return &SessionRegistry{sessions: make(map[string]*FormSession), now: now}
}

// Open registers form and returns its session id.
func (r *SessionRegistry) Open(form *Form) *FormSession {
	s := &FormSession{ID: uuid.New().String(), form: form, lastUsed: r.now()}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

func (r *SessionRegistry) lookup(id, ownerID string) (*FormSession, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || s.form.OwnerID() != ownerID {
		return nil, apperr.NotFound("intake session", id)
	}
	return s, nil
}

// With runs fn on the session's form while holding the session lock.
// Sessions of other owners are reported as not found.
func (r *SessionRegistry) With(ctx context.Context, id, ownerID string, fn func(ctx context.Context, f *Form) error) error {
	s, err := r.lookup(id, ownerID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = r.now()
	return fn(ctx, s.form)
}

// Close discards the form and forgets the session.
func (r *SessionRegistry) Close(id, ownerID string) error {
	s, err := r.lookup(id, ownerID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.form.Close()
	s.mu.Unlock()

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// Sweep drops sessions idle for longer than ttl and returns how many were
// dropped. Saved progress stays in the store and can be resumed.
func (r *SessionRegistry) Sweep(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if s.lastUsed.Before(cutoff) {
			s.form.Close()
			delete(r.sessions, id)
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Len reports the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
