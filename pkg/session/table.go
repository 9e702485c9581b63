package session

import (
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config configures a Table.
type Config struct {
	// Timeout evicts a session after this long without inbound traffic.
	// Default: 60 seconds.
	Timeout time.Duration

	// MaxSessions bounds the table size. 0 means unlimited.
	MaxSessions int

	// MaxSessionsPerIP bounds sessions sharing one host. 0 means unlimited.
	MaxSessionsPerIP int

	// MaxPendingAcks bounds each session's pending-ack set.
	// Default: 64.
	MaxPendingAcks int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        60 * time.Second,
		MaxPendingAcks: 64,
	}
}

// Error types for session management.
var (
	// ErrSessionNotFound is returned for traffic from an address with no session.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrTableFull is returned when MaxSessions is reached.
	ErrTableFull = errors.New("session: table full")

	// ErrTooManySessionsFromIP is returned when MaxSessionsPerIP is reached.
	ErrTooManySessionsFromIP = errors.New("session: too many sessions from this IP address")
)

// Table holds every known session keyed by address string. It is safe for
// concurrent use.
type Table struct {
	mu sync.Mutex

	sessions map[string]*Session

	// Session count per host
	sessionsByIP map[string]int

	config Config
	logger *slog.Logger

	// newID is overridable for tests.
	newID func() string
}

// NewTable creates an empty table. Zero config fields take their defaults.
func NewTable(config Config, logger *slog.Logger) *Table {
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxPendingAcks <= 0 {
		config.MaxPendingAcks = def.MaxPendingAcks
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		sessions:     make(map[string]*Session),
		sessionsByIP: make(map[string]int),
		config:       config,
		logger:       logger.With("component", "session_table"),
		newID:        func() string { return uuid.NewString() },
	}
}

// Timeout returns the configured inactivity timeout.
func (t *Table) Timeout() time.Duration {
	return t.config.Timeout
}

// Register creates a session for addr, or refreshes the existing one.
// A repeated Connect means the client restarted: the session is touched,
// its pending acks are dropped and it is marked as needing a full snapshot.
// created reports whether a new session was made.
func (t *Table) Register(addr net.Addr, name string, now time.Time) (info Info, created bool, err error) {
	key := addr.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if sess, ok := t.sessions[key]; ok {
		sess.reset(now)
		if name != "" {
			sess.Name = name
		}
		t.logger.Debug("session re-registered", "session_id", sess.ID, "addr", key)
		return sess.Info(), false, nil
	}

	if t.config.MaxSessions > 0 && len(t.sessions) >= t.config.MaxSessions {
		return Info{}, false, ErrTableFull
	}
	ip := hostOf(key)
	if t.config.MaxSessionsPerIP > 0 && t.sessionsByIP[ip] >= t.config.MaxSessionsPerIP {
		return Info{}, false, ErrTooManySessionsFromIP
	}

	sess := newSession(t.newID(), addr, now, t.config.MaxPendingAcks)
	sess.Name = name
	t.sessions[key] = sess
	t.sessionsByIP[ip]++

	t.logger.Debug("session registered",
		"session_id", sess.ID,
		"addr", key,
		"name", name,
		"ip_session_count", t.sessionsByIP[ip])

	return sess.Info(), true, nil
}

// Touch records inbound traffic from key.
func (t *Table) Touch(key string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[key]
	if !ok {
		return ErrSessionNotFound
	}
	sess.LastSeen = now
	return nil
}

// With runs fn on the session for key while holding the table lock.
func (t *Table) With(key string, fn func(*Session)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[key]
	if !ok {
		return ErrSessionNotFound
	}
	fn(sess)
	return nil
}

// Each runs fn on every session while holding the table lock.
func (t *Table) Each(fn func(*Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sess := range t.sessions {
		fn(sess)
	}
}

// Get returns a copy of the session for key.
func (t *Table) Get(key string) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[key]
	if !ok {
		return Info{}, false
	}
	return sess.Info(), true
}

// Remove deletes the session for key.
func (t *Table) Remove(key string) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[key]
	if !ok {
		return Info{}, false
	}
	t.removeLocked(sess)
	t.logger.Debug("session removed",
		"session_id", sess.ID,
		"addr", key,
		"remaining", len(t.sessions))
	return sess.Info(), true
}

// Sweep evicts every session that has been silent for longer than Timeout
// and returns them.
func (t *Table) Sweep(now time.Time) []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Info
	for _, sess := range t.sessions {
		if sess.Stale(now, t.config.Timeout) {
			expired = append(expired, sess.Info())
			t.removeLocked(sess)
		}
	}

	if len(expired) > 0 {
		t.logger.Debug("swept stale sessions",
			"count", len(expired),
			"remaining", len(t.sessions))
	}
	return expired
}

// Active returns every session that is not stale at now, ordered by
// creation time.
func (t *Table) Active(now time.Time) []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Info, 0, len(t.sessions))
	for _, sess := range t.sessions {
		if !sess.Stale(now, t.config.Timeout) {
			out = append(out, sess.Info())
		}
	}
	sortInfos(out)
	return out
}

// Snapshot returns a copy of every session, ordered by creation time.
func (t *Table) Snapshot() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Info, 0, len(t.sessions))
	for _, sess := range t.sessions {
		out = append(out, sess.Info())
	}
	sortInfos(out)
	return out
}

// Len returns the number of sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Stats returns table statistics.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{Total: len(t.sessions), UniqueIPs: len(t.sessionsByIP)}
	for _, sess := range t.sessions {
		s.PendingAcks += len(sess.pending)
		if sess.NeedsFull {
			s.AwaitingFull++
		}
	}
	return s
}

// Stats contains session table statistics.
type Stats struct {
	// Total is the number of registered sessions.
	Total int `json:"total"`

	// UniqueIPs is the number of distinct client hosts.
	UniqueIPs int `json:"unique_ips"`

	// PendingAcks is the sum of every session's pending-ack set.
	PendingAcks int `json:"pending_acks"`

	// AwaitingFull is the number of sessions not yet sent a full snapshot.
	AwaitingFull int `json:"awaiting_full"`
}

// removeLocked removes a session (must be called with lock held).
func (t *Table) removeLocked(sess *Session) {
	delete(t.sessions, sess.Key)
	ip := hostOf(sess.Key)
	t.sessionsByIP[ip]--
	if t.sessionsByIP[ip] <= 0 {
		delete(t.sessionsByIP, ip)
	}
}

func hostOf(key string) string {
	host, _, err := net.SplitHostPort(key)
	if err != nil {
		return key
	}
	return host
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].Addr < infos[j].Addr
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
}
