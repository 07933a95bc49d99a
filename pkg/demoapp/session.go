package demoapp

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionCookie names the cookie carrying the session id.
const SessionCookie = "browserflow_session"

// DefaultSessionTTL is how long an idle session survives.
const DefaultSessionTTL = 30 * time.Minute

const sweepInterval = time.Minute

// Flash categories.
const (
	FlashSuccess = "success"
	FlashError   = "error"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Category string
	Message  string
}

type session struct {
	email    string
	flashes  []Flash
	lastSeen time.Time
}

// Sessions is the server-side session table. A session exists only while
// it holds a logged-in user or undelivered flashes.
type Sessions struct {
	mu        sync.Mutex
	sessions  map[string]*session
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// NewSessions returns an empty session table.
func NewSessions() *Sessions {
	return &Sessions{
		sessions: make(map[string]*session),
		ttl:      DefaultSessionTTL,
		now:      time.Now,
	}
}

// lookup returns the id of the request's live session, or "" when the
// request carries no cookie, an unknown one or an expired one.
func (s *Sessions) lookup(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[c.Value]
	if !ok {
		return ""
	}
	now := s.now()
	if now.Sub(sess.lastSeen) > s.ttl {
		delete(s.sessions, c.Value)
		return ""
	}
	sess.lastSeen = now
	return c.Value
}

// ensure returns the request's session id, starting a session and issuing
// its cookie when there is none.
func (s *Sessions) ensure(w http.ResponseWriter, r *http.Request) string {
	if id := s.lookup(r); id != "" {
		return id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)

	id := uuid.NewString()
	s.sessions[id] = &session{lastSeen: now}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// sweepLocked drops idle sessions, at most once per sweepInterval.
func (s *Sessions) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.ttl {
			delete(s.sessions, id)
		}
	}
}

// Delete ends a session.
func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// User returns the logged-in email, if any.
func (s *Sessions) User(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.email == "" {
		return "", false
	}
	return sess.email, true
}

// SetUser records the logged-in email.
func (s *Sessions) SetUser(id, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.email = email
	}
}

// AddFlash queues messages for the next rendered page.
func (s *Sessions) AddFlash(id, category string, messages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	for _, m := range messages {
		sess.flashes = append(sess.flashes, Flash{Category: category, Message: m})
	}
}

// PopFlashes returns and clears the queued messages. An anonymous session
// has nothing left to hold afterwards and is dropped.
func (s *Sessions) PopFlashes(id string) []Flash {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	flashes := sess.flashes
	sess.flashes = nil
	if sess.email == "" {
		delete(s.sessions, id)
	}
	return flashes
}
