package storage

import (
	"sort"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/lehigh-university-libraries/instructgen/internal/session"
)

// DefaultTTL is how long an untouched session is kept
const DefaultTTL = 2 * time.Hour

// SessionStore keeps sessions in memory. Sessions expire after ttl without
// being read or written.
type SessionStore struct {
	sessions *cache.Cache
	ttl      time.Duration
}

func New(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SessionStore{
		sessions: cache.New(ttl, ttl/2),
		ttl:      ttl,
	}
}

// Create stores a new empty session and returns it
func (s *SessionStore) Create() *session.Session {
	sess := session.New("")
	s.Set(sess)
	return sess
}

// Get returns the session and refreshes its expiry
func (s *SessionStore) Get(sessionID string) (*session.Session, bool) {
	v, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, false
	}
	sess := v.(*session.Session)
	s.touch(sessionID, sess)
	return sess, true
}

// touch extends the expiry only while the session is still stored, so a
// concurrent Delete is never undone.
func (s *SessionStore) touch(sessionID string, sess *session.Session) {
	_ = s.sessions.Replace(sessionID, sess, s.ttl)
}

func (s *SessionStore) Set(sess *session.Session) {
	s.sessions.Set(sess.ID(), sess, s.ttl)
}

// GetAll returns every live session, oldest first
func (s *SessionStore) GetAll() []*session.Session {
	items := s.sessions.Items()
	result := make([]*session.Session, 0, len(items))
	for _, item := range items {
		result = append(result, item.Object.(*session.Session))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Snapshot().CreatedAt.Before(result[j].Snapshot().CreatedAt)
	})
	return result
}

func (s *SessionStore) Delete(sessionID string) bool {
	if _, ok := s.sessions.Get(sessionID); !ok {
		return false
	}
	s.sessions.Delete(sessionID)
	return true
}

func (s *SessionStore) Count() int {
	return s.sessions.ItemCount()
}
