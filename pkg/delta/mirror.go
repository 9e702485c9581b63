package delta

import "fmt"

// Mirror reconstructs producer state from updates on the receiving side.
type Mirror struct {
	state Snapshot
	have  bool
}

// Apply applies an update of either kind.
func (m *Mirror) Apply(u Update) error {
	switch u.Kind {
	case KindFull:
		return m.ApplyFull(u.Snapshot)
	case KindDiff:
		return m.ApplyDiff(u.EntitySize, u.Changes)
	default:
		return fmt.Errorf("%w: unknown update kind %d", ErrInvalidSnapshot, u.Kind)
	}
}

// ApplyFull replaces the mirrored state with a copy of s.
func (m *Mirror) ApplyFull(s Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.state = s.Clone()
	m.have = true
	return nil
}

// ApplyDiff overwrites the changed entities. The mirror is left untouched
// if any change is invalid.
func (m *Mirror) ApplyDiff(entitySize int, changes []Change) error {
	if !m.have {
		return ErrNoBaseline
	}
	if entitySize != m.state.EntitySize {
		return fmt.Errorf("%w: got %d, have %d", ErrEntitySize, entitySize, m.state.EntitySize)
	}
	n := m.state.Len()
	for _, c := range changes {
		if c.Index < 0 || c.Index >= n {
			return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, c.Index, n)
		}
		if len(c.Value) != entitySize {
			return fmt.Errorf("%w: value is %d bytes", ErrEntitySize, len(c.Value))
		}
	}
	for _, c := range changes {
		copy(m.state.Entity(c.Index), c.Value)
	}
	return nil
}

// Snapshot returns a copy of the mirrored state.
func (m *Mirror) Snapshot() (Snapshot, bool) {
	if !m.have {
		return Snapshot{}, false
	}
	return m.state.Clone(), true
}

// Reset discards the mirrored state.
func (m *Mirror) Reset() {
	m.state = Snapshot{}
	m.have = false
}
