package session

import (
	"net"
	"time"
)

// Session is the state kept for one remote peer.
type Session struct {
	// ID is a random identifier for logs and diagnostics.
	ID string

	// Key is the address string the table is keyed by.
	Key string

	// Addr is the peer's address.
	Addr net.Addr

	// Name is the optional client name sent with Connect.
	Name string

	CreatedAt time.Time
	LastSeen  time.Time
	LastSent  time.Time

	// NeedsFull is set until the peer has been sent a full snapshot.
	NeedsFull bool

	// RTT is the last measured round trip time.
	RTT time.Duration

	BytesSent   uint64
	PacketsSent uint64

	// Dropped counts updates skipped for back-pressure.
	Dropped uint64

	seq        uint32
	maxPending int
	pending    map[uint32]time.Time
	order      []uint32
}

func newSession(id string, addr net.Addr, now time.Time, maxPending int) *Session {
	return &Session{
		ID:         id,
		Key:        addr.String(),
		Addr:       addr,
		CreatedAt:  now,
		LastSeen:   now,
		NeedsFull:  true,
		maxPending: maxPending,
		pending:    make(map[uint32]time.Time),
	}
}

// NextSequence returns the sequence number for the next outgoing message.
// Sequences wrap at 2^32.
func (s *Session) NextSequence() uint32 {
	seq := s.seq
	s.seq++
	return seq
}

// Sequence returns the next sequence number without consuming it.
func (s *Session) Sequence() uint32 {
	return s.seq
}

// TrackAck records that seq was sent with FlagRequiresAck. When the pending
// set is full the oldest entry is forgotten.
func (s *Session) TrackAck(seq uint32, now time.Time) {
	if _, ok := s.pending[seq]; ok {
		return
	}
	s.pending[seq] = now
	s.order = append(s.order, seq)

	for len(s.pending) > s.maxPending && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.pending, oldest)
	}
	if len(s.order) > 2*s.maxPending {
		s.compact()
	}
}

// ClearAck removes seq from the pending set. Duplicate or unexpected acks
// are no-ops and return false.
func (s *Session) ClearAck(seq uint32) bool {
	if _, ok := s.pending[seq]; !ok {
		return false
	}
	delete(s.pending, seq)
	return true
}

// PendingAcks returns the unacknowledged sequences, oldest first.
func (s *Session) PendingAcks() []uint32 {
	out := make([]uint32, 0, len(s.pending))
	for _, seq := range s.order {
		if _, ok := s.pending[seq]; ok {
			out = append(out, seq)
		}
	}
	return out
}

// MarkSent records an outgoing message of n bytes over packets datagrams.
func (s *Session) MarkSent(now time.Time, n, packets int) {
	s.LastSent = now
	s.BytesSent += uint64(n)
	s.PacketsSent += uint64(packets)
}

// MarkDropped records an update skipped for back-pressure.
func (s *Session) MarkDropped() {
	s.Dropped++
}

// Stale reports whether nothing has been heard from the peer for longer
// than timeout.
func (s *Session) Stale(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastSeen) > timeout
}

// Info returns a copy of the session's diagnostic fields.
func (s *Session) Info() Info {
	return Info{
		ID:          s.ID,
		Addr:        s.Key,
		Name:        s.Name,
		CreatedAt:   s.CreatedAt,
		LastSeen:    s.LastSeen,
		LastSent:    s.LastSent,
		NeedsFull:   s.NeedsFull,
		Sequence:    s.seq,
		PendingAcks: len(s.pending),
		RTT:         s.RTT,
		BytesSent:   s.BytesSent,
		PacketsSent: s.PacketsSent,
		Dropped:     s.Dropped,
	}
}

func (s *Session) compact() {
	kept := s.order[:0]
	for _, seq := range s.order {
		if _, ok := s.pending[seq]; ok {
			kept = append(kept, seq)
		}
	}
	s.order = kept
}

func (s *Session) reset(now time.Time) {
	s.LastSeen = now
	s.NeedsFull = true
	s.pending = make(map[uint32]time.Time)
	s.order = nil
}

// Info is a point-in-time copy of a Session, safe to hold without the lock.
type Info struct {
	ID          string        `json:"id"`
	Addr        string        `json:"addr"`
	Name        string        `json:"name,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	LastSeen    time.Time     `json:"last_seen"`
	LastSent    time.Time     `json:"last_sent"`
	NeedsFull   bool          `json:"needs_full"`
	Sequence    uint32        `json:"sequence"`
	PendingAcks int           `json:"pending_acks"`
	RTT         time.Duration `json:"rtt_ns"`
	BytesSent   uint64        `json:"bytes_sent"`
	PacketsSent uint64        `json:"packets_sent"`
	Dropped     uint64        `json:"dropped"`
}
