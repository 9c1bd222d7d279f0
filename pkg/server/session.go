package server

import (
	"errors"
	"net"
	"sort"
	"sync"
)

// ErrNicknameTaken signals that another session already holds the candidate
// nickname. Comparison is byte-exact, "Ann" and "ann" coexist.
var ErrNicknameTaken = errors.New("nickname already taken")

// Session represents one client connection, from accept to close. A session
// starts pending (no nickname) and becomes a member of the lair once
// negotiation assigns one.
type Session struct {
	ID         uint64
	Conn       *SafeConn
	RemoteAddr string
	Host       string

	mu       sync.RWMutex
	nickname string

	closeOnce sync.Once
}

// Nickname returns the session's nickname, or "" while still negotiating.
func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

// Admitted reports whether the session holds a nickname.
func (s *Session) Admitted() bool {
	return s.Nickname() != ""
}

// Close closes the underlying connection. Racing disconnect paths may all
// call this; only the first reaches the socket.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Conn.Close()
	})
}

// Member is one roster entry for an admitted session.
type Member struct {
	Nickname string
	Host     string
	Addr     string
}

// Registry tracks every live session, pending and admitted alike, so a
// shutdown notice reaches clients that are still picking a name. Its RWMutex
// is the only synchronization shared between session workers, the acceptor
// and the console.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64
	closed   bool
	metrics  *Metrics
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint64]*Session),
	}
}

// SetMetrics attaches a metrics collector. Must be called before the first
// session is added.
func (r *Registry) SetMetrics(m *Metrics) {
	r.metrics = m
}

// Add registers a freshly accepted connection as a pending session and
// returns it. Returns nil after CloseAll, so a connection that slips in
// during shutdown is never stranded in an emptied table.
func (r *Registry) Add(conn net.Conn) *Session {
	addr := conn.RemoteAddr().String()
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.nextID++
	sess := &Session{
		ID:         r.nextID,
		Conn:       NewSafeConn(conn),
		RemoteAddr: addr,
		Host:       host,
	}
	r.sessions[sess.ID] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordSessionCreated()
		r.metrics.RecordActiveSessions(count)
	}
	return sess
}

// SetNickname promotes a pending session to a member. The uniqueness check
// and the assignment happen under one write lock, so of two sessions racing
// for the same name exactly one wins.
func (r *Registry) SetNickname(sess *Session, nickname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, other := range r.sessions {
		if other.ID == sess.ID {
			continue
		}
		if other.Nickname() == nickname {
			return ErrNicknameTaken
		}
	}

	sess.mu.Lock()
	sess.nickname = nickname
	sess.mu.Unlock()
	return nil
}

// ContainsNickname reports whether any session currently holds nickname.
func (r *Registry) ContainsNickname(nickname string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sess := range r.sessions {
		if sess.Nickname() == nickname {
			return true
		}
	}
	return false
}

// Remove deletes the session with the given ID and reports the nickname it
// held. Removing an ID that is already gone is a no-op with ok=false; the
// racing disconnect paths rely on that to produce one departure at most.
func (r *Registry) Remove(id uint64) (nickname string, ok bool) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordSessionClosed()
		r.metrics.RecordActiveSessions(count)
	}
	return sess.Nickname(), true
}

// Snapshot returns the admitted members in join order. The result is a
// copy, safe to walk without holding any lock.
func (r *Registry) Snapshot() []Member {
	sessions := r.collect(0, true)

	members := make([]Member, 0, len(sessions))
	for _, sess := range sessions {
		members = append(members, Member{
			Nickname: sess.Nickname(),
			Host:     sess.Host,
			Addr:     sess.RemoteAddr,
		})
	}
	return members
}

// MembersExcept returns the admitted sessions in join order, skipping the
// session with ID omit (0 skips nobody). Broadcast fan-out iterates the
// returned slice after the lock is released, so a member removed mid-send
// just fails its write and is evicted by the caller.
func (r *Registry) MembersExcept(omit uint64) []*Session {
	return r.collect(omit, true)
}

// AllSessions returns every tracked session, pending ones included.
func (r *Registry) AllSessions() []*Session {
	return r.collect(0, false)
}

func (r *Registry) collect(omit uint64, membersOnly bool) []*Session {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if sess.ID == omit {
			continue
		}
		if membersOnly && !sess.Admitted() {
			continue
		}
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID < sessions[j].ID
	})
	return sessions
}

// Count returns the number of tracked sessions, pending included.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CountMembers returns the number of admitted sessions.
func (r *Registry) CountMembers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sess := range r.sessions {
		if sess.Admitted() {
			count++
		}
	}
	return count
}

// CloseAll closes every tracked connection and empties the registry. Any
// session worker blocked in a read wakes with an error and runs its normal
// disconnect path, which finds its entry already gone. Further Adds are
// refused.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sess := range r.sessions {
		sess.Close()
	}
	r.sessions = make(map[uint64]*Session)
	r.closed = true
}
