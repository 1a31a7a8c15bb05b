package relay

import (
	"crypto/rand"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Lumiport-Network/relay/internal/errors"
)

const sessionAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var sessionSeparators = []byte{'-', '_'}

// generateSessionID produces a shareable high-entropy token: 20 to 24
// characters from a 62-character alphabet, with a separator roughly
// every 5 to 7 characters, never first or last.
func generateSessionID() string {
	length := 20 + randInt(5)

	var b strings.Builder
	b.Grow(length)

	sinceSep := 0
	nextSep := 5 + randInt(3)
	for b.Len() < length {
		if sinceSep == nextSep && b.Len() > 0 && b.Len() < length-1 {
			b.WriteByte(sessionSeparators[randInt(2)])
			sinceSep = 0
			nextSep = 5 + randInt(3)
			continue
		}
		b.WriteByte(sessionAlphabet[randInt(len(sessionAlphabet))])
		sinceSep++
	}
	return b.String()
}

func randInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// session is one live relay session. Participants are connection ids
// in join order; the first entry is the host.
type session struct {
	id           string
	host         string
	participants []string
	createdAt    time.Time
}

func (s *session) contains(connID string) bool {
	for _, p := range s.participants {
		if p == connID {
			return true
		}
	}
	return false
}

func (s *session) remove(connID string) {
	kept := s.participants[:0]
	for _, p := range s.participants {
		if p != connID {
			kept = append(kept, p)
		}
	}
	s.participants = kept
}

// sessionTable is the shared session registry. All mutation goes
// through its methods under one mutex; sessions are independent so no
// finer locking is needed.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*session)}
}

// create registers a new session with the caller as host and sole
// participant. An empty requested id gets a generated one; a taken id
// is rejected.
func (t *sessionTable) create(requestedID, hostConnID string, now time.Time) (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := requestedID
	if id == "" {
		id = generateSessionID()
		for _, taken := t.sessions[id]; taken; _, taken = t.sessions[id] {
			id = generateSessionID()
		}
	} else if _, taken := t.sessions[id]; taken {
		return nil, apperrors.ProtocolViolationError(MsgCreateSession, "session id already in use")
	}

	s := &session{
		id:           id,
		host:         hostConnID,
		participants: []string{hostConnID},
		createdAt:    now,
	}
	t.sessions[id] = s
	return s, nil
}

// join appends a connection to an existing session and returns the
// resulting participant list. Unknown ids never create a session.
func (t *sessionTable) join(sessionID, connID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return nil, apperrors.SessionNotFoundError(sessionID)
	}
	if !s.contains(connID) {
		s.participants = append(s.participants, connID)
	}
	return append([]string(nil), s.participants...), nil
}

// leave removes a connection from a session. It returns the remaining
// participants and whether the now-empty session was deleted.
func (t *sessionTable) leave(sessionID, connID string) (remaining []string, deleted bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return nil, false, apperrors.SessionNotFoundError(sessionID)
	}
	s.remove(connID)
	if len(s.participants) == 0 {
		delete(t.sessions, sessionID)
		return nil, true, nil
	}
	return append([]string(nil), s.participants...), false, nil
}

// participants returns a copy of the member list, or nil when the
// session does not exist.
func (t *sessionTable) participants(sessionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]string(nil), s.participants...)
}

// sessionsOf lists every session a connection participates in.
func (t *sessionTable) sessionsOf(connID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []string
	for id, s := range t.sessions {
		if s.contains(connID) {
			ids = append(ids, id)
		}
	}
	return ids
}

// count returns the number of live sessions.
func (t *sessionTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

/* ------------------------------------------------------------------ *
|  Shareable links                                                    |
* -------------------------------------------------------------------*/

// BuildSessionLink renders the shareable URL for a session using the
// first domain of the configured pool.
func BuildSessionLink(domains []string, sessionID string) string {
	if len(domains) == 0 || sessionID == "" {
		return ""
	}
	return "https://" + domains[0] + "/" + sessionID
}

// ParseSessionLink extracts a session id from a shareable link. Both
// the full URL and the bare "domain/sessionId" form are accepted, but
// only for domains in the configured pool.
func ParseSessionLink(domains []string, link string) (string, bool) {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return "", false
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}

	known := false
	for _, d := range domains {
		if strings.EqualFold(u.Host, d) {
			known = true
			break
		}
	}
	if !known {
		return "", false
	}

	id := strings.Trim(u.Path, "/")
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
