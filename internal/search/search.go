// Package search provides the index backends records are uploaded to.
package search

import (
	"context"
	"fmt"

	"github.com/saviobatista/geodata-pusher/internal/config"
	"github.com/saviobatista/geodata-pusher/internal/types"
)

// Sink uploads a batch of documents as a unit
type Sink interface {
	Upload(ctx context.Context, records []types.FlightRecord) error
	Close() error
}

// Open creates the sink selected by cfg.Sink
func Open(ctx context.Context, cfg *config.Config) (Sink, error) {
	var (
		sink Sink
		err  error
	)
	switch cfg.Sink {
	case config.SinkSearch:
		sink, err = NewAzureClient(cfg.Search)
	case config.SinkClickHouse:
		sink, err = OpenClickHouse(ctx, cfg.ClickHouse)
	case config.SinkSQLite:
		sink, err = OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s sink: %w", cfg.Sink, err)
	}
	return sink, nil
}
