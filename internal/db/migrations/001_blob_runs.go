package migrations

import "time"

// BlobRuns creates the run history and statistics tables
var BlobRuns = &Migration{
	ID:   "001_blob_runs",
	Name: "001_blob_runs",
	UpSQL: `
		-- One row per blob processed by a pusher run
		CREATE TABLE IF NOT EXISTS blob_runs (
			run_id TEXT NOT NULL,
			blob TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			elapsed_ms BIGINT NOT NULL DEFAULT 0,
			lines BIGINT NOT NULL DEFAULT 0,
			fragments BIGINT NOT NULL DEFAULT 0,
			records BIGINT NOT NULL DEFAULT 0,
			malformed BIGINT NOT NULL DEFAULT 0,
			batches BIGINT NOT NULL DEFAULT 0,
			uploaded BIGINT NOT NULL DEFAULT 0,
			error TEXT,
			PRIMARY KEY (run_id, blob)
		);

		CREATE INDEX IF NOT EXISTS idx_blob_runs_blob ON blob_runs (blob);
		CREATE INDEX IF NOT EXISTS idx_blob_runs_status ON blob_runs (status);

		-- Periodic snapshots of the pusher counters
		CREATE TABLE IF NOT EXISTS system_stats (
			time TIMESTAMPTZ NOT NULL,
			total_blobs BIGINT NOT NULL,
			failed_blobs BIGINT NOT NULL,
			lines BIGINT NOT NULL,
			fragments BIGINT NOT NULL,
			discarded_lines BIGINT NOT NULL,
			normalized_records BIGINT NOT NULL,
			malformed_fragments BIGINT NOT NULL,
			batches BIGINT NOT NULL,
			uploaded_records BIGINT NOT NULL,
			failed_uploads BIGINT NOT NULL,
			processing_time_ms BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_system_stats_time ON system_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS system_stats;
		DROP TABLE IF EXISTS blob_runs;
	`,
	CreatedAt: time.Now(),
}
