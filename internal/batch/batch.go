package batch

import (
	"fmt"

	"github.com/saviobatista/geodata-pusher/internal/types"
)

// Accumulator groups normalized records into bounded batches.
//
// The flush boundary follows the number of fragments pushed, not the number
// of records held: a fragment that failed normalization still advances the
// window, so a batch may be smaller than the configured size.
type Accumulator struct {
	size      int
	fragments uint64
	empty     uint64
	current   []types.FlightRecord
}

// New creates an Accumulator emitting a batch every size fragments
func New(size int) (*Accumulator, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}
	return &Accumulator{
		size:    size,
		current: make([]types.FlightRecord, 0, size),
	}, nil
}

// Push accounts for one fragment that passed the marker check. rec is nil
// when the fragment was dropped as malformed. When the fragment closes a
// window the pending records are handed over; a window with no records is
// closed without producing a batch.
func (a *Accumulator) Push(rec *types.FlightRecord) ([]types.FlightRecord, bool) {
	a.fragments++
	if rec != nil {
		a.current = append(a.current, *rec)
	}

	if a.fragments%uint64(a.size) != 0 {
		return nil, false
	}
	if len(a.current) == 0 {
		a.empty++
		return nil, false
	}
	return a.take(), true
}

// Flush hands over whatever remains; it reports false when nothing is pending
func (a *Accumulator) Flush() ([]types.FlightRecord, bool) {
	if len(a.current) == 0 {
		return nil, false
	}
	return a.take(), true
}

func (a *Accumulator) take() []types.FlightRecord {
	out := a.current
	a.current = make([]types.FlightRecord, 0, a.size)
	return out
}

// Size returns the configured batch size
func (a *Accumulator) Size() int {
	return a.size
}

// Pending returns the number of records in the open batch
func (a *Accumulator) Pending() int {
	return len(a.current)
}

// Fragments returns the number of fragments pushed so far
func (a *Accumulator) Fragments() uint64 {
	return a.fragments
}

// EmptyWindows returns how many windows closed without any record
func (a *Accumulator) EmptyWindows() uint64 {
	return a.empty
}
