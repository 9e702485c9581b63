package fragment

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/lumenstream/pkg/protocol"
)

// Assembler defaults.
const (
	DefaultTTL            = 5 * time.Second
	DefaultMaxPending     = 256
	DefaultMaxMessageSize = 1 << 20
)

// Assembler errors.
var (
	// ErrInconsistentFragment is returned when a fragment disagrees with the
	// buffer already open for its (sender, sequence). The buffer is discarded.
	ErrInconsistentFragment = errors.New("fragment: inconsistent fragment")

	// ErrReassemblyTimeout describes a buffer purged before completion.
	ErrReassemblyTimeout = errors.New("fragment: reassembly timeout")

	// ErrMessageTooLarge is returned when a message grows beyond MaxMessageSize.
	ErrMessageTooLarge = errors.New("fragment: message too large")
)

// Config configures an Assembler.
type Config struct {
	// TTL is how long a partial message may wait for its remaining fragments.
	// Default: 5s.
	TTL time.Duration

	// MaxPending bounds the number of open buffers. When full, the oldest is
	// evicted and counted as expired. Default: 256.
	MaxPending int

	// MaxMessageSize bounds the reassembled payload size. Default: 1 MiB.
	MaxMessageSize int

	// Logger receives eviction messages. Default: slog.Default().
	Logger *slog.Logger
}

// Message is a complete logical message.
type Message struct {
	Sender   string
	Type     protocol.Type
	Flags    protocol.Flags // fragment bits cleared
	Sequence uint32
	Payload  []byte
}

// Expired describes a buffer removed before it completed.
type Expired struct {
	Sender   string
	Sequence uint32
	Type     protocol.Type
	Received int
	Count    int
	Age      time.Duration
}

// Err returns the expiry as an error wrapping ErrReassemblyTimeout.
func (e Expired) Err() error {
	return fmt.Errorf("%w: %s seq=%d got %d/%d after %s",
		ErrReassemblyTimeout, e.Sender, e.Sequence, e.Received, e.Count, e.Age)
}

// Stats are cumulative assembler counters.
type Stats struct {
	Pending      int    `json:"pending"`
	Completed    uint64 `json:"completed"`
	Expired      uint64 `json:"expired"`
	Duplicates   uint64 `json:"duplicates"`
	Inconsistent uint64 `json:"inconsistent"`
	Oversize     uint64 `json:"oversize"`
}

type key struct {
	sender string
	seq    uint32
}

type partial struct {
	typ      protocol.Type
	flags    protocol.Flags
	count    int
	parts    [][]byte
	received int
	size     int
	created  time.Time
}

// Assembler reassembles fragmented messages. It is safe for concurrent use.
type Assembler struct {
	mu      sync.Mutex
	config  Config
	pending map[key]*partial
	stats   Stats
	logger  *slog.Logger
}

// NewAssembler creates an assembler, filling zero config fields with defaults.
func NewAssembler(cfg Config) *Assembler {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		config:  cfg,
		pending: make(map[key]*partial),
		logger:  logger.With("component", "fragment"),
	}
}

// Add feeds one packet from sender. It returns the complete message when p
// finishes one, (nil, nil) while fragments are still missing, and an error
// when p is rejected.
func (a *Assembler) Add(sender string, p *protocol.Packet, now time.Time) (*Message, error) {
	if p.FragmentCount <= 1 {
		a.mu.Lock()
		if len(p.Payload) > a.config.MaxMessageSize {
			a.stats.Oversize++
			a.mu.Unlock()
			return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(p.Payload))
		}
		a.stats.Completed++
		a.mu.Unlock()
		return &Message{
			Sender:   sender,
			Type:     p.Type,
			Flags:    p.Flags &^ protocol.FragmentBits,
			Sequence: p.Sequence,
			Payload:  p.Payload,
		}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	k := key{sender: sender, seq: p.Sequence}
	buf, ok := a.pending[k]
	if !ok {
		if len(a.pending) >= a.config.MaxPending {
			a.evictOldestLocked(now)
		}
		buf = &partial{
			typ:     p.Type,
			count:   int(p.FragmentCount),
			parts:   make([][]byte, p.FragmentCount),
			created: now,
		}
		a.pending[k] = buf
	}

	if buf.count != int(p.FragmentCount) || buf.typ != p.Type {
		delete(a.pending, k)
		a.stats.Inconsistent++
		return nil, fmt.Errorf("%w: %s seq=%d count %d/%d type %s/%s", ErrInconsistentFragment,
			sender, p.Sequence, p.FragmentCount, buf.count, p.Type, buf.typ)
	}

	id := int(p.FragmentID)
	if id >= buf.count {
		delete(a.pending, k)
		a.stats.Inconsistent++
		return nil, fmt.Errorf("%w: %s seq=%d id %d >= count %d", ErrInconsistentFragment,
			sender, p.Sequence, id, buf.count)
	}
	if buf.parts[id] != nil {
		a.stats.Duplicates++
		return nil, nil
	}

	buf.size += len(p.Payload)
	if buf.size > a.config.MaxMessageSize {
		delete(a.pending, k)
		a.stats.Oversize++
		return nil, fmt.Errorf("%w: %s seq=%d exceeds %d bytes", ErrMessageTooLarge,
			sender, p.Sequence, a.config.MaxMessageSize)
	}

	chunk := p.Payload
	if chunk == nil {
		chunk = []byte{}
	}
	buf.parts[id] = chunk
	buf.received++
	buf.flags |= p.Flags &^ protocol.FragmentBits

	if buf.received < buf.count {
		return nil, nil
	}

	delete(a.pending, k)
	a.stats.Completed++

	payload := make([]byte, 0, buf.size)
	for _, part := range buf.parts {
		payload = append(payload, part...)
	}
	return &Message{
		Sender:   sender,
		Type:     buf.typ,
		Flags:    buf.flags,
		Sequence: p.Sequence,
		Payload:  payload,
	}, nil
}

// Purge removes every buffer older than the TTL and reports them.
func (a *Assembler) Purge(now time.Time) []Expired {
	a.mu.Lock()
	defer a.mu.Unlock()

	var expired []Expired
	for k, buf := range a.pending {
		if age := now.Sub(buf.created); age > a.config.TTL {
			expired = append(expired, buf.expired(k, age))
			delete(a.pending, k)
		}
	}
	a.stats.Expired += uint64(len(expired))
	return expired
}

// Drop discards every buffer opened by sender, e.g. when its session ends.
func (a *Assembler) Drop(sender string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for k := range a.pending {
		if k.sender == sender {
			delete(a.pending, k)
			n++
		}
	}
	return n
}

// Len returns the number of open buffers.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Stats returns a copy of the counters.
func (a *Assembler) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.Pending = len(a.pending)
	return s
}

// TTL returns the configured buffer lifetime.
func (a *Assembler) TTL() time.Duration {
	return a.config.TTL
}

func (a *Assembler) evictOldestLocked(now time.Time) {
	var (
		oldest    key
		oldestBuf *partial
	)
	for k, buf := range a.pending {
		if oldestBuf == nil || buf.created.Before(oldestBuf.created) {
			oldest, oldestBuf = k, buf
		}
	}
	if oldestBuf == nil {
		return
	}
	delete(a.pending, oldest)
	a.stats.Expired++
	a.logger.Debug("reassembly buffer evicted",
		"sender", oldest.sender,
		"seq", oldest.seq,
		"error", oldestBuf.expired(oldest, now.Sub(oldestBuf.created)).Err())
}

func (p *partial) expired(k key, age time.Duration) Expired {
	return Expired{
		Sender:   k.sender,
		Sequence: k.seq,
		Type:     p.typ,
		Received: p.received,
		Count:    p.count,
		Age:      age,
	}
}
