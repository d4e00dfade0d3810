package migrations

import "time"

// DailySummary adds a per-day rollup of blob runs
var DailySummary = &Migration{
	ID:   "002_daily_summary",
	Name: "002_daily_summary",
	UpSQL: `
	CREATE OR REPLACE VIEW blob_runs_daily AS
	SELECT
		date_trunc('day', started_at) AS day,
		COUNT(*) AS blobs,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed_blobs,
		SUM(records) AS records,
		SUM(malformed) AS malformed,
		SUM(batches) AS batches,
		SUM(uploaded) AS uploaded,
		SUM(elapsed_ms) AS elapsed_ms
	FROM blob_runs
	GROUP BY day;
	`,
	DownSQL: `
	DROP VIEW IF EXISTS blob_runs_daily;
	`,
	CreatedAt: time.Now(),
}
