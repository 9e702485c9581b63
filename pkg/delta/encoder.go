package delta

import "bytes"

// DefaultThreshold is the dirty fraction at or above which a full snapshot
// is sent instead of a diff.
const DefaultThreshold = 0.25

// Stats are cumulative encoder counters.
type Stats struct {
	Full           uint64  `json:"full"`
	Diff           uint64  `json:"diff"`
	Empty          uint64  `json:"empty"`
	LastDirtyRatio float64 `json:"last_dirty_ratio"`
}

// Encoder turns successive snapshots into updates. It is not safe for
// concurrent use; one goroutine owns the baseline.
type Encoder struct {
	threshold float64
	baseline  Snapshot
	have      bool
	forceFull bool
	dirty     []int
	stats     Stats
}

// NewEncoder creates an encoder. threshold <= 0 or > 1 selects DefaultThreshold.
func NewEncoder(threshold float64) *Encoder {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Encoder{threshold: threshold}
}

// Encode compares cur with the baseline and returns the update to emit.
// The baseline then becomes cur and the dirty set is cleared, whatever the
// kind. cur is not retained.
func (e *Encoder) Encode(cur Snapshot) (Update, error) {
	if err := cur.Validate(); err != nil {
		return Update{}, err
	}
	n := cur.Len()

	if !e.have || e.forceFull || !e.baseline.sameLayout(cur) {
		return e.emitFull(cur), nil
	}

	e.dirty = e.dirty[:0]
	for i := 0; i < n; i++ {
		if !bytes.Equal(cur.Entity(i), e.baseline.Entity(i)) {
			e.dirty = append(e.dirty, i)
		}
	}

	ratio := 0.0
	if n > 0 {
		ratio = float64(len(e.dirty)) / float64(n)
	}
	if ratio >= e.threshold {
		return e.emitFull(cur), nil
	}

	size := cur.EntitySize
	values := make([]byte, len(e.dirty)*size)
	changes := make([]Change, len(e.dirty))
	for j, i := range e.dirty {
		v := values[j*size : (j+1)*size : (j+1)*size]
		copy(v, cur.Entity(i))
		copy(e.baseline.Entity(i), v)
		changes[j] = Change{Index: i, Value: v}
	}
	e.dirty = e.dirty[:0]

	e.stats.LastDirtyRatio = ratio
	if len(changes) == 0 {
		e.stats.Empty++
	} else {
		e.stats.Diff++
	}
	return Update{
		Kind:       KindDiff,
		Changes:    changes,
		Entities:   n,
		EntitySize: size,
	}, nil
}

func (e *Encoder) emitFull(cur Snapshot) Update {
	if e.baseline.sameLayout(cur) {
		copy(e.baseline.Data, cur.Data)
	} else {
		e.baseline = cur.Clone()
	}
	e.have = true
	e.forceFull = false
	e.dirty = e.dirty[:0]
	e.stats.Full++
	e.stats.LastDirtyRatio = 1

	return Update{
		Kind:       KindFull,
		Snapshot:   e.baseline.Clone(),
		Entities:   cur.Len(),
		EntitySize: cur.EntitySize,
	}
}

// ForceFull makes the next Encode emit a full snapshot.
func (e *Encoder) ForceFull() {
	e.forceFull = true
}

// Reset drops the baseline; the next Encode is full.
func (e *Encoder) Reset() {
	e.baseline = Snapshot{}
	e.have = false
	e.dirty = e.dirty[:0]
}

// Baseline returns a copy of the last emitted state.
func (e *Encoder) Baseline() (Snapshot, bool) {
	if !e.have {
		return Snapshot{}, false
	}
	return e.baseline.Clone(), true
}

// Threshold returns the configured full-snapshot threshold.
func (e *Encoder) Threshold() float64 {
	return e.threshold
}

// Stats returns a copy of the counters.
func (e *Encoder) Stats() Stats {
	return e.stats
}
