package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/saviobatista/geodata-pusher/internal/types"
)

// Client stores run history and statistics in PostgreSQL
type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// DB exposes the connection for the migrator
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping verifies the connection
func (c *Client) Ping() error {
	return c.db.Ping()
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// StoreBlobRun inserts or updates the row of one blob within a run
func (c *Client) StoreBlobRun(run *types.BlobRun) error {
	query := `
		INSERT INTO blob_runs (
			run_id, blob, status, started_at, finished_at, elapsed_ms,
			lines, fragments, records, malformed, batches, uploaded, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id, blob) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			elapsed_ms = EXCLUDED.elapsed_ms,
			lines = EXCLUDED.lines,
			fragments = EXCLUDED.fragments,
			records = EXCLUDED.records,
			malformed = EXCLUDED.malformed,
			batches = EXCLUDED.batches,
			uploaded = EXCLUDED.uploaded,
			error = EXCLUDED.error
	`

	var finishedAt interface{}
	if !run.FinishedAt.IsZero() {
		finishedAt = run.FinishedAt
	}
	var runErr interface{}
	if run.Error != "" {
		runErr = run.Error
	}

	_, err := c.db.Exec(query,
		run.RunID, run.Blob, string(run.Status), run.StartedAt, finishedAt, run.Elapsed.Milliseconds(),
		int64(run.Lines), int64(run.Fragments), int64(run.Records), int64(run.Malformed),
		int64(run.Batches), int64(run.Uploaded), runErr,
	)
	if err != nil {
		return fmt.Errorf("failed to store blob run: %w", err)
	}
	return nil
}

const blobRunColumns = `run_id, blob, status, started_at, finished_at, elapsed_ms,
	lines, fragments, records, malformed, batches, uploaded, error`

func scanBlobRuns(rows *sql.Rows) ([]*types.BlobRun, error) {
	defer rows.Close()

	var runs []*types.BlobRun
	for rows.Next() {
		var (
			run        types.BlobRun
			status     string
			finishedAt sql.NullTime
			elapsedMs  int64
			counters   [6]int64
			runErr     sql.NullString
		)
		if err := rows.Scan(
			&run.RunID, &run.Blob, &status, &run.StartedAt, &finishedAt, &elapsedMs,
			&counters[0], &counters[1], &counters[2], &counters[3], &counters[4], &counters[5],
			&runErr,
		); err != nil {
			return nil, err
		}

		run.Status = types.BlobStatus(status)
		if finishedAt.Valid {
			run.FinishedAt = finishedAt.Time
		}
		run.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		run.Lines = uint64(counters[0])
		run.Fragments = uint64(counters[1])
		run.Records = uint64(counters[2])
		run.Malformed = uint64(counters[3])
		run.Batches = uint64(counters[4])
		run.Uploaded = uint64(counters[5])
		run.Error = runErr.String

		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// GetBlobRuns returns every blob row of a run, in start order
func (c *Client) GetBlobRuns(runID string) ([]*types.BlobRun, error) {
	query := `SELECT ` + blobRunColumns + ` FROM blob_runs WHERE run_id = $1 ORDER BY started_at, blob`
	rows, err := c.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	return scanBlobRuns(rows)
}

// GetBlobRunsByStatus returns the latest rows whose status is one of statuses
func (c *Client) GetBlobRunsByStatus(statuses []types.BlobStatus, limit int) ([]*types.BlobRun, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `SELECT ` + blobRunColumns + ` FROM blob_runs WHERE status = ANY($1) ORDER BY started_at DESC LIMIT $2`
	rows, err := c.db.Query(query, pq.Array(names), limit)
	if err != nil {
		return nil, err
	}
	return scanBlobRuns(rows)
}

// StoreSystemStats stores a statistics snapshot
func (c *Client) StoreSystemStats(stats map[string]interface{}) error {
	query := `
		INSERT INTO system_stats (
			time, total_blobs, failed_blobs, lines, fragments, discarded_lines,
			normalized_records, malformed_fragments, batches, uploaded_records,
			failed_uploads, processing_time_ms, uptime_seconds
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	processingTime, ok := stats["processing_time"].(time.Duration)
	if !ok {
		return fmt.Errorf("processing_time missing from stats")
	}
	uptime, ok := stats["uptime"].(time.Duration)
	if !ok {
		return fmt.Errorf("uptime missing from stats")
	}

	counters := []string{
		"total_blobs", "failed_blobs", "lines", "fragments", "discarded_lines",
		"normalized_records", "malformed_fragments", "batches", "uploaded_records",
		"failed_uploads",
	}
	args := []interface{}{time.Now()}
	for _, key := range counters {
		v, ok := stats[key].(uint64)
		if !ok {
			return fmt.Errorf("%s missing from stats", key)
		}
		args = append(args, int64(v))
	}
	args = append(args, processingTime.Milliseconds(), int64(uptime.Seconds()))

	_, err := c.db.Exec(query, args...)
	return err
}

// GetSystemStats retrieves statistics snapshots for a time range
func (c *Client) GetSystemStats(start, end time.Time) ([]map[string]interface{}, error) {
	query := `
		SELECT
			time, total_blobs, failed_blobs, lines, fragments, discarded_lines,
			normalized_records, malformed_fragments, batches, uploaded_records,
			failed_uploads, processing_time_ms, uptime_seconds
		FROM system_stats
		WHERE time BETWEEN $1 AND $2
		ORDER BY time DESC
	`

	rows, err := c.db.Query(query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []map[string]interface{}
	for rows.Next() {
		var (
			timestamp          time.Time
			totalBlobs         int64
			failedBlobs        int64
			lines              int64
			fragments          int64
			discardedLines     int64
			normalizedRecords  int64
			malformedFragments int64
			batches            int64
			uploadedRecords    int64
			failedUploads      int64
			processingTimeMs   int64
			uptimeSeconds      int64
		)

		if err := rows.Scan(
			&timestamp,
			&totalBlobs,
			&failedBlobs,
			&lines,
			&fragments,
			&discardedLines,
			&normalizedRecords,
			&malformedFragments,
			&batches,
			&uploadedRecords,
			&failedUploads,
			&processingTimeMs,
			&uptimeSeconds,
		); err != nil {
			return nil, err
		}

		stat := map[string]interface{}{
			"time":                timestamp,
			"total_blobs":         totalBlobs,
			"failed_blobs":        failedBlobs,
			"lines":               lines,
			"fragments":           fragments,
			"discarded_lines":     discardedLines,
			"normalized_records":  normalizedRecords,
			"malformed_fragments": malformedFragments,
			"batches":             batches,
			"uploaded_records":    uploadedRecords,
			"failed_uploads":      failedUploads,
			"processing_time":     time.Duration(processingTimeMs) * time.Millisecond,
			"uptime_seconds":      uptimeSeconds,
		}

		stats = append(stats, stat)
	}

	return stats, rows.Err()
}
