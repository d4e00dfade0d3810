package batch

import (
	"fmt"
	"testing"

	"github.com/saviobatista/geodata-pusher/internal/types"
)

func record(i int) *types.FlightRecord {
	return &types.FlightRecord{ID: fmt.Sprintf("id-%d", i), Hex: fmt.Sprintf("%06x", i)}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"positive size", 1000, false},
		{"size one", 1, false},
		{"zero size", 0, true},
		{"negative size", -5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := New(tt.size)

			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got none")
				}
				if acc != nil {
					t.Error("Expected nil accumulator on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if acc.Size() != tt.size {
				t.Errorf("Size() = %d, want %d", acc.Size(), tt.size)
			}
		})
	}
}

func TestAccumulator_BatchBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		fragments int
		wantFull  int
		wantFinal int
	}{
		{"exact multiple", 3, 9, 3, 0},
		{"with remainder", 3, 10, 3, 1},
		{"fewer than one batch", 5, 4, 0, 4},
		{"size one", 1, 4, 4, 0},
		{"empty stream", 4, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := New(tt.size)
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}

			full := 0
			for i := 0; i < tt.fragments; i++ {
				b, ok := acc.Push(record(i))
				if ok {
					full++
					if len(b) != tt.size {
						t.Errorf("Full batch has %d records, want %d", len(b), tt.size)
					}
				}
			}

			if full != tt.wantFull {
				t.Errorf("Got %d full batches, want %d", full, tt.wantFull)
			}

			final, ok := acc.Flush()
			if tt.wantFinal == 0 {
				if ok {
					t.Errorf("Flush() should emit nothing, got %d records", len(final))
				}
				return
			}
			if !ok || len(final) != tt.wantFinal {
				t.Errorf("Flush() = %d records (ok=%v), want %d", len(final), ok, tt.wantFinal)
			}
		})
	}
}

// Malformed fragments advance the window even though they add no record.
func TestAccumulator_MalformedFragmentsCountTowardBoundary(t *testing.T) {
	acc, err := New(3)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if _, ok := acc.Push(record(1)); ok {
		t.Fatal("Unexpected batch after first fragment")
	}
	if _, ok := acc.Push(nil); ok {
		t.Fatal("Unexpected batch after malformed fragment")
	}
	b, ok := acc.Push(record(3))
	if !ok {
		t.Fatal("Expected a batch after the third fragment")
	}
	if len(b) != 2 {
		t.Errorf("Batch has %d records, want 2", len(b))
	}
	if b[0].ID != "id-1" || b[1].ID != "id-3" {
		t.Errorf("Unexpected batch order: %v, %v", b[0].ID, b[1].ID)
	}
	if acc.Fragments() != 3 {
		t.Errorf("Fragments() = %d, want 3", acc.Fragments())
	}
}

func TestAccumulator_AllMalformedWindowIsSkipped(t *testing.T) {
	acc, err := New(2)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	acc.Push(nil)
	if _, ok := acc.Push(nil); ok {
		t.Fatal("An all-malformed window must not produce a batch")
	}
	if acc.EmptyWindows() != 1 {
		t.Errorf("EmptyWindows() = %d, want 1", acc.EmptyWindows())
	}

	acc.Push(record(1))
	b, ok := acc.Push(record(2))
	if !ok || len(b) != 2 {
		t.Errorf("Expected the next window to be full, got %d (ok=%v)", len(b), ok)
	}
}

func TestAccumulator_BatchesAreIndependent(t *testing.T) {
	acc, err := New(1)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	first, _ := acc.Push(record(1))
	second, _ := acc.Push(record(2))

	if first[0].ID != "id-1" {
		t.Errorf("First batch was overwritten: %v", first[0].ID)
	}
	if second[0].ID != "id-2" {
		t.Errorf("Second batch = %v", second[0].ID)
	}
	if acc.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", acc.Pending())
	}
}

func TestAccumulator_FlushTwice(t *testing.T) {
	acc, err := New(10)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	acc.Push(record(1))
	if _, ok := acc.Flush(); !ok {
		t.Fatal("First Flush() should emit the pending record")
	}
	if _, ok := acc.Flush(); ok {
		t.Error("Second Flush() should emit nothing")
	}
}
