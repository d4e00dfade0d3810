package search

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/saviobatista/geodata-pusher/internal/config"
	"github.com/saviobatista/geodata-pusher/internal/types"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ClickHouseSink stores records in a ReplacingMergeTree keyed by document id,
// so re-uploading a blob replaces rows the way the search index does
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// OpenClickHouse connects to ClickHouse and creates the records table
func OpenClickHouse(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouseSink, error) {
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	sink := &ClickHouseSink{conn: conn, table: cfg.Table}
	if err := sink.createTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return sink, nil
}

func (s *ClickHouseSink) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id          String,
		hex         String,
		type        LowCardinality(String),
		flight      String,
		r           String,
		t           LowCardinality(String),
		alt_baro    Int64,
		gs          Float64,
		track       Float64,
		lat         Float64,
		lon         Float64,
		geo         Tuple(Float64, Float64),
		inserted_at DateTime64(3) DEFAULT now64(3)
	) ENGINE = ReplacingMergeTree(inserted_at)
	ORDER BY id`, s.table)

	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// clickHouseRow returns the column values of one record in insert order
func clickHouseRow(rec types.FlightRecord) []interface{} {
	return []interface{}{
		rec.ID,
		rec.Hex,
		rec.Type,
		rec.Flight,
		rec.R,
		rec.T,
		int64(rec.AltBaro),
		rec.GS,
		rec.Track,
		rec.Lat,
		rec.Lon,
		[]interface{}{rec.Geo.Coordinates[0], rec.Geo.Coordinates[1]},
	}
}

// Upload inserts the records as one native batch
func (s *ClickHouseSink) Upload(ctx context.Context, records []types.FlightRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, hex, type, flight, r, t, alt_baro, gs, track, lat, lon, geo)", s.table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, rec := range records {
		if err := batch.Append(clickHouseRow(rec)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append record %s: %w", rec.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Count returns the number of distinct documents stored
func (s *ClickHouseSink) Count(ctx context.Context) (uint64, error) {
	var n uint64
	row := s.conn.QueryRow(ctx, fmt.Sprintf("SELECT uniqExact(id) FROM %s", s.table))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Close closes the ClickHouse connection
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
