package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saviobatista/geodata-pusher/internal/blobstore"
	"github.com/saviobatista/geodata-pusher/internal/config"
	"github.com/saviobatista/geodata-pusher/internal/db"
	"github.com/saviobatista/geodata-pusher/internal/nats"
	"github.com/saviobatista/geodata-pusher/internal/pipeline"
	"github.com/saviobatista/geodata-pusher/internal/redis"
	"github.com/saviobatista/geodata-pusher/internal/search"
	"github.com/saviobatista/geodata-pusher/internal/stats"
)

const statsInterval = time.Minute

// options holds the command line settings
type options struct {
	year, month, day, hour string
	createIndex            bool
}

// parseArgs reads the flags and the YEAR [MONTH [DAY [HOUR]]] partition.
// Missing trailing values count as empty.
func parseArgs(args []string) (*options, error) {
	fs := flag.NewFlagSet("pusher", flag.ContinueOnError)
	opts := &options{}
	fs.BoolVar(&opts.createIndex, "create-index", false, "Create the search index from SEARCH_INDEX_SCHEMA before pushing")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pusher [-create-index] YEAR [MONTH [DAY [HOUR]]]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if len(rest) == 0 || len(rest) > 4 {
		fs.Usage()
		return nil, fmt.Errorf("expected YEAR [MONTH [DAY [HOUR]]], got %d arguments", len(rest))
	}
	parts := make([]string, 4)
	copy(parts, rest)
	opts.year, opts.month, opts.day, opts.hour = parts[0], parts[1], parts[2], parts[3]
	return opts, nil
}

// clients holds the optional integrations; nil fields are disabled
type clients struct {
	nats  *nats.Client
	db    *db.Client
	redis *redis.Client
}

// createClients connects the integrations configured in cfg
func createClients(cfg *config.Config) (*clients, error) {
	c := &clients{}

	if cfg.NATSURL != "" {
		natsClient, err := nats.New(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS client: %w", err)
		}
		c.nats = natsClient
	}

	if cfg.DBConnStr != "" {
		dbClient, err := db.New(cfg.DBConnStr)
		if err == nil {
			err = dbClient.Ping()
		}
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create database client: %w", err)
		}
		c.db = dbClient
	}

	if cfg.RedisAddr != "" {
		redisClient, err := redis.New(cfg.RedisAddr)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		c.redis = redisClient
	}

	return c, nil
}

// Close closes every connected integration
func (c *clients) Close() {
	if c.nats != nil {
		c.nats.Close()
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing redisClient: %v\n", err)
		}
	}
}

// options returns the pipeline options wiring the connected integrations
func (c *clients) options() []pipeline.Option {
	var opts []pipeline.Option
	if c.nats != nil {
		opts = append(opts, pipeline.WithEvents(c.nats))
	}
	if c.redis != nil {
		opts = append(opts, pipeline.WithStatusCache(c.redis))
	}
	if c.db != nil {
		opts = append(opts, pipeline.WithHistory(c.db))
	}
	return opts
}

// openStore returns the local directory store when STORAGE_DIR is set,
// the Azure container otherwise
func openStore(cfg *config.Config) (pipeline.BlobStore, error) {
	if cfg.Storage.Dir != "" {
		return blobstore.NewDirStore(cfg.Storage.Dir)
	}
	return blobstore.NewAzureStore(cfg.Storage.ConnStr, cfg.Storage.Container)
}

func createIndex(ctx context.Context, cfg *config.Config, sink search.Sink) error {
	azure, ok := sink.(*search.AzureClient)
	if !ok {
		return fmt.Errorf("-create-index requires the %s sink, got %s", config.SinkSearch, cfg.Sink)
	}

	log.Println("Index creation is being executed")
	if err := azure.CreateIndex(ctx, cfg.Search.IndexSchema); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	log.Printf("Schema uploaded; Index created for %s.", cfg.Search.IndexName)
	return nil
}

func run(ctx context.Context, args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	prefix, err := config.BuildPrefix(opts.year, opts.month, opts.day, opts.hour)
	if err != nil {
		return err
	}

	sink, err := search.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing sink: %v\n", err)
		}
	}()

	if cfg.Sink == config.SinkSearch {
		log.Printf("Search endpoint: %s (index %s)", cfg.Search.Endpoint, cfg.Search.IndexName)
	}
	if opts.createIndex {
		if err := createIndex(ctx, cfg, sink); err != nil {
			return err
		}
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	cl, err := createClients(cfg)
	if err != nil {
		return err
	}
	defer cl.Close()

	st := stats.New()
	if cl.db != nil {
		st.SetStore(cl.db)
		persistCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			st.StartPersistence(persistCtx, statsInterval)
		}()
		// the final snapshot is written once the run returns
		defer func() {
			cancel()
			<-done
		}()
	}

	pipelineOpts := append(cl.options(), pipeline.WithStats(st))
	p, err := pipeline.New(pipeline.Config{
		BatchSize:       cfg.BatchSize,
		ContinueOnError: cfg.ContinueOnError,
	}, sink, pipelineOpts...)
	if err != nil {
		return err
	}

	log.Printf("Run %s: pushing blobs under %s to %s", p.RunID(), prefix, cfg.Sink)
	runs, runErr := p.Run(ctx, store, prefix)

	log.Printf("Processed %d blobs", len(runs))
	log.Printf("Statistics:\n%s", st)
	return runErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Printf("Error: %v", err)
		stop()
		os.Exit(1)
	}
}
