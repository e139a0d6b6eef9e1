// Package state holds the snapshot shared between the backend
// reconciliation loop and the control-surface loop. Every access goes
// through one lock with a bounded acquisition timeout: a caller that cannot
// take the lock in time skips its cycle and retries next time instead of
// blocking the other loop.
package state

import (
	"time"

	"github.com/kxpad/kxpad/pkg/amp"
)

// LockTimeout bounds every lock acquisition. Contention past this makes the
// accessing cycle proceed with stale data rather than block.
const LockTimeout = 50 * time.Millisecond

// Field identifies one display field for change tracking
type Field uint16

const (
	FieldBand Field = 1 << iota
	FieldPower
	FieldTemp
	FieldSWR
	FieldAntenna
	FieldMode
	FieldFaults
	FieldVoltage
	FieldConnection
)

// FieldSet is a changelist of fields that differ since the surface last
// consumed them.
type FieldSet uint16

// Has reports whether f is in the set
func (s FieldSet) Has(f Field) bool { return s&FieldSet(f) != 0 }

// Any reports whether the set is non-empty
func (s FieldSet) Any() bool { return s != 0 }

func (s *FieldSet) mark(f Field) { *s |= FieldSet(f) }

// Status is the latest known device and link status
type Status struct {
	BandIndex int
	BandName  string
	Power     string
	Temp      string
	SWR       string
	Antenna   string
	Mode      string
	Faults    string
	Voltage   string

	LinkConnected bool
	AmpConnected  bool
}

// NewStatus returns the pre-connection placeholder status
func NewStatus() Status {
	return Status{
		BandIndex: 0,
		Power:     amp.ValueUnset,
		Temp:      amp.ValueUnset,
		SWR:       amp.ValueUnset,
		Antenna:   amp.ValueUnset,
		Mode:      amp.ValueUnset,
		Faults:    amp.ValueUnset,
		Voltage:   amp.ValueUnset,
	}
}

// State is the mutex-guarded shared snapshot plus the manual band change
// request slot. The zero value is not usable; use New.
type State struct {
	sem chan struct{} // capacity-1 lock supporting bounded acquisition

	status Status
	dirty  FieldSet

	manualPending bool
	manualTarget  int
}

// New creates the shared state
func New() *State {
	return &State{
		sem:    make(chan struct{}, 1),
		status: NewStatus(),
	}
}

// acquire takes the lock, giving up after LockTimeout
func (s *State) acquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	case <-time.After(LockTimeout):
		return false
	}
}

func (s *State) release() {
	<-s.sem
}

// Snapshot returns a copy of the status and the pending changelist, and
// clears the changelist. Returns ok=false when the lock was not acquired in
// time; the caller should render from its previous copy.
func (s *State) Snapshot() (Status, FieldSet, bool) {
	if !s.acquire() {
		return Status{}, 0, false
	}
	defer s.release()

	status := s.status
	dirty := s.dirty
	s.dirty = 0
	return status, dirty, true
}

// Peek returns the status without consuming dirty flags
func (s *State) Peek() (Status, bool) {
	if !s.acquire() {
		return Status{}, false
	}
	defer s.release()
	return s.status, true
}

// RequestBand enqueues a manual band change and optimistically updates the
// published band so the surface reflects the choice before the backend
// confirms it. Returns false when the lock was not acquired.
func (s *State) RequestBand(index int, name string) bool {
	if !s.acquire() {
		return false
	}
	defer s.release()

	s.manualPending = true
	s.manualTarget = index

	s.status.BandIndex = index
	s.status.BandName = name
	s.dirty.mark(FieldBand)
	return true
}

// TakeRequest fetches and clears a pending manual request in one critical
// section so a request is applied exactly once. ok=false means the lock was
// not acquired and the backend should retry next cycle.
func (s *State) TakeRequest() (target int, pending bool, ok bool) {
	if !s.acquire() {
		return 0, false, false
	}
	defer s.release()

	if !s.manualPending {
		return 0, false, true
	}
	s.manualPending = false
	return s.manualTarget, true, true
}

// Publish compares next against the stored snapshot and marks a dirty field
// for every difference. Band fields are left untouched when a new manual
// request arrived since the backend's fetch-and-clear: publishing them would
// overwrite the operator's newer choice, so they are deferred whole to the
// next cycle. Returns false when the lock was not acquired; the cycle's
// results are dropped and the next cycle re-reads everything.
func (s *State) Publish(next Status) bool {
	if !s.acquire() {
		return false
	}
	defer s.release()

	if s.status.LinkConnected != next.LinkConnected || s.status.AmpConnected != next.AmpConnected {
		s.status.LinkConnected = next.LinkConnected
		s.status.AmpConnected = next.AmpConnected
		s.dirty.mark(FieldConnection)
	}

	if !s.manualPending {
		if s.status.BandIndex != next.BandIndex || s.status.BandName != next.BandName {
			s.status.BandIndex = next.BandIndex
			s.status.BandName = next.BandName
			s.dirty.mark(FieldBand)
		}
	}

	s.updateField(&s.status.Power, next.Power, FieldPower)
	s.updateField(&s.status.Temp, next.Temp, FieldTemp)
	s.updateField(&s.status.SWR, next.SWR, FieldSWR)
	s.updateField(&s.status.Antenna, next.Antenna, FieldAntenna)
	s.updateField(&s.status.Mode, next.Mode, FieldMode)
	s.updateField(&s.status.Faults, next.Faults, FieldFaults)
	s.updateField(&s.status.Voltage, next.Voltage, FieldVoltage)

	return true
}

func (s *State) updateField(current *string, next string, field Field) {
	if *current != next {
		*current = next
		s.dirty.mark(field)
	}
}
