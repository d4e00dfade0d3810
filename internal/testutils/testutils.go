package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/saviobatista/geodata-pusher/internal/types"
)

// MockFragment creates a record line in the upstream pseudo-array format
func MockFragment(hexIdent string, lat, lon float64, trailingComma bool) string {
	line := fmt.Sprintf(`{"hex":"%s","type":"adsb_icao","flight":"TEST123 ","r":"N12345","t":"B738","alt_baro":35000,"gs":450,"track":180,"lat":%v,"lon":%v}`, hexIdent, lat, lon)
	if trailingComma {
		return line + ",\n"
	}
	return line + "\n"
}

// MockStream joins n well-formed record lines the way the upstream logger does:
// every line but the last carries a trailing comma.
func MockStream(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(MockFragment(fmt.Sprintf("%06x", i), float64(i%90), float64(i%80), i < n-1))
	}
	return b.String()
}

// RecordingSink captures uploaded batches and can be told to fail
type RecordingSink struct {
	mu      sync.Mutex
	Batches [][]types.FlightRecord
	// FailOn makes the n-th call (1-based) return Err; 0 disables it
	FailOn int
	Err    error
	calls  int
}

// Upload records a copy of the batch
func (s *RecordingSink) Upload(ctx context.Context, records []types.FlightRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.FailOn > 0 && s.calls == s.FailOn {
		return s.Err
	}

	batch := make([]types.FlightRecord, len(records))
	copy(batch, records)
	s.Batches = append(s.Batches, batch)
	return nil
}

// Sizes returns the size of every recorded batch
func (s *RecordingSink) Sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sizes := make([]int, len(s.Batches))
	for i, b := range s.Batches {
		sizes[i] = len(b)
	}
	return sizes
}

// Calls returns how many times Upload was invoked
func (s *RecordingSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
