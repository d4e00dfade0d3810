package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Store persists statistics snapshots
type Store interface {
	StoreSystemStats(stats map[string]interface{}) error
}

// Stats tracks ingestion statistics across all blobs of a run
type Stats struct {
	// Blob counts
	TotalBlobs  uint64
	FailedBlobs uint64

	// Stream counts
	Lines              uint64
	Fragments          uint64
	DiscardedLines     uint64
	NormalizedRecords  uint64
	MalformedFragments uint64

	// Upload counts
	Batches         uint64
	UploadedRecords uint64
	FailedUploads   uint64

	// Timing
	StartTime      time.Time
	LastBlobTime   time.Time
	ProcessingTime time.Duration

	store Store

	mu sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	now := time.Now()
	return &Stats{
		StartTime:    now,
		LastBlobTime: now,
	}
}

// SetStore sets the store used for persistence
func (s *Stats) SetStore(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// Persist stores the current statistics
func (s *Stats) Persist() error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()

	if store == nil {
		return fmt.Errorf("database client not set")
	}
	return store.StoreSystemStats(s.GetStats())
}

// IncrementTotalBlobs increments the processed blobs counter
func (s *Stats) IncrementTotalBlobs() {
	atomic.AddUint64(&s.TotalBlobs, 1)
}

// IncrementFailedBlobs increments the failed blobs counter
func (s *Stats) IncrementFailedBlobs() {
	atomic.AddUint64(&s.FailedBlobs, 1)
}

// AddLines adds scanned lines, fragments and discarded lines
func (s *Stats) AddLines(lines, fragments, discarded uint64) {
	atomic.AddUint64(&s.Lines, lines)
	atomic.AddUint64(&s.Fragments, fragments)
	atomic.AddUint64(&s.DiscardedLines, discarded)
}

// IncrementNormalizedRecords increments the normalized records counter
func (s *Stats) IncrementNormalizedRecords() {
	atomic.AddUint64(&s.NormalizedRecords, 1)
}

// IncrementMalformedFragments increments the malformed fragments counter
func (s *Stats) IncrementMalformedFragments() {
	atomic.AddUint64(&s.MalformedFragments, 1)
}

// AddBatch records a successful upload of n records
func (s *Stats) AddBatch(n int) {
	atomic.AddUint64(&s.Batches, 1)
	atomic.AddUint64(&s.UploadedRecords, uint64(n))
}

// IncrementFailedUploads increments the failed uploads counter
func (s *Stats) IncrementFailedUploads() {
	atomic.AddUint64(&s.FailedUploads, 1)
}

// AddProcessingTime adds a blob's elapsed time and marks the last blob time
func (s *Stats) AddProcessingTime(duration time.Duration) {
	s.mu.Lock()
	s.ProcessingTime += duration
	s.LastBlobTime = time.Now()
	s.mu.Unlock()
}

// GetStats returns a copy of the current statistics
func (s *Stats) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"total_blobs":         atomic.LoadUint64(&s.TotalBlobs),
		"failed_blobs":        atomic.LoadUint64(&s.FailedBlobs),
		"lines":               atomic.LoadUint64(&s.Lines),
		"fragments":           atomic.LoadUint64(&s.Fragments),
		"discarded_lines":     atomic.LoadUint64(&s.DiscardedLines),
		"normalized_records":  atomic.LoadUint64(&s.NormalizedRecords),
		"malformed_fragments": atomic.LoadUint64(&s.MalformedFragments),
		"batches":             atomic.LoadUint64(&s.Batches),
		"uploaded_records":    atomic.LoadUint64(&s.UploadedRecords),
		"failed_uploads":      atomic.LoadUint64(&s.FailedUploads),
		"start_time":          s.StartTime,
		"last_blob_time":      s.LastBlobTime,
		"processing_time":     s.ProcessingTime,
		"uptime":              time.Since(s.StartTime),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	stats := s.GetStats()
	return fmt.Sprintf(
		"Total Blobs: %d\n"+
			"Failed Blobs: %d\n"+
			"Lines: %d\n"+
			"Fragments: %d\n"+
			"Discarded Lines: %d\n"+
			"Normalized Records: %d\n"+
			"Malformed Fragments: %d\n"+
			"Batches: %d\n"+
			"Uploaded Records: %d\n"+
			"Failed Uploads: %d\n"+
			"Processing Time: %s\n"+
			"Uptime: %s",
		stats["total_blobs"],
		stats["failed_blobs"],
		stats["lines"],
		stats["fragments"],
		stats["discarded_lines"],
		stats["normalized_records"],
		stats["malformed_fragments"],
		stats["batches"],
		stats["uploaded_records"],
		stats["failed_uploads"],
		stats["processing_time"],
		stats["uptime"],
	)
}

// StartPersistence starts periodic persistence of statistics
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			if err := s.Persist(); err != nil {
				fmt.Printf("Failed to persist final statistics: %v\n", err)
			}
			return
		case <-ticker.C:
			if err := s.Persist(); err != nil {
				fmt.Printf("Failed to persist statistics: %v\n", err)
			}
		}
	}
}
