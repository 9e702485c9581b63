package delta

import (
	"errors"
	"fmt"
)

// Errors.
var (
	ErrInvalidSnapshot = errors.New("delta: invalid snapshot")
	ErrNoBaseline      = errors.New("delta: no baseline")
	ErrIndexOutOfRange = errors.New("delta: index out of range")
	ErrEntitySize      = errors.New("delta: entity size mismatch")
)

// Snapshot is a dense array of EntitySize-byte records.
type Snapshot struct {
	EntitySize int
	Data       []byte
}

// Len returns the number of entities.
func (s Snapshot) Len() int {
	if s.EntitySize <= 0 {
		return 0
	}
	return len(s.Data) / s.EntitySize
}

// Entity returns the bytes of entity i. The slice aliases Data.
func (s Snapshot) Entity(i int) []byte {
	off := i * s.EntitySize
	return s.Data[off : off+s.EntitySize : off+s.EntitySize]
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	data := make([]byte, len(s.Data))
	copy(data, s.Data)
	return Snapshot{EntitySize: s.EntitySize, Data: data}
}

// Validate checks that Data holds a whole number of entities.
func (s Snapshot) Validate() error {
	if s.EntitySize <= 0 {
		return fmt.Errorf("%w: entity size %d", ErrInvalidSnapshot, s.EntitySize)
	}
	if len(s.Data)%s.EntitySize != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrInvalidSnapshot, len(s.Data), s.EntitySize)
	}
	return nil
}

func (s Snapshot) sameLayout(o Snapshot) bool {
	return s.EntitySize == o.EntitySize && len(s.Data) == len(o.Data)
}

// Kind distinguishes full snapshots from diffs.
type Kind uint8

const (
	KindFull Kind = iota + 1
	KindDiff
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindDiff:
		return "diff"
	default:
		return "unknown"
	}
}

// Change is the new value of one entity.
type Change struct {
	Index int
	Value []byte
}

// Update is one emission of the Encoder.
type Update struct {
	Kind Kind

	// Snapshot holds the full state for KindFull.
	Snapshot Snapshot

	// Changes holds the dirty entities for KindDiff, in ascending index order.
	Changes []Change

	// Entities is the total entity count of the state the update describes.
	Entities int

	// EntitySize is the size of every entity value.
	EntitySize int
}

// Empty reports whether the update is a diff with no changes.
func (u Update) Empty() bool {
	return u.Kind == KindDiff && len(u.Changes) == 0
}

// DirtyRatio returns the fraction of entities the update carries.
func (u Update) DirtyRatio() float64 {
	if u.Kind == KindFull || u.Entities == 0 {
		return 1
	}
	return float64(len(u.Changes)) / float64(u.Entities)
}
