package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/saviobatista/geodata-pusher/internal/db"
	"github.com/saviobatista/geodata-pusher/internal/nats"
	"github.com/saviobatista/geodata-pusher/internal/redis"
	"github.com/saviobatista/geodata-pusher/internal/types"
)

// RedisClient interface for testability
type RedisClient interface {
	GetBlobRun(ctx context.Context, name string) (*types.BlobRun, error)
	GetRunBlobs(ctx context.Context, runID string) ([]string, error)
	Close() error
}

// DBClient interface for testability
type DBClient interface {
	GetBlobRuns(runID string) ([]*types.BlobRun, error)
	Close() error
}

// BlobProgress is what the tracker has seen of one blob of a run
type BlobProgress struct {
	RunID    string
	Blob     string
	Batches  uint64
	Records  uint64
	Final    bool
	Status   types.BlobStatus
	LastSeen time.Time
}

// Done reports whether the blob's completion event arrived
func (p BlobProgress) Done() bool {
	return p.Status != ""
}

// RunTracker follows batch events and aggregates them per blob
type RunTracker struct {
	mu    sync.Mutex
	blobs map[string]*BlobProgress
}

// NewRunTracker creates a tracker
func NewRunTracker() *RunTracker {
	return &RunTracker{
		blobs: make(map[string]*BlobProgress),
	}
}

// ProcessEvent folds one batch event into the blob's progress.
// Redelivered events (batch numbers already seen, repeated completions) are ignored.
func (t *RunTracker) ProcessEvent(event *types.BatchEvent) error {
	if event == nil || event.RunID == "" || event.Blob == "" {
		return fmt.Errorf("incomplete batch event: %+v", event)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := event.RunID + "/" + event.Blob
	progress, ok := t.blobs[key]
	if !ok {
		progress = &BlobProgress{RunID: event.RunID, Blob: event.Blob}
		t.blobs[key] = progress
	}

	if event.Completed() {
		if progress.Done() {
			return nil
		}
		// the completion totals cover batches sent before the tracker subscribed
		progress.Status = event.Status
		progress.Records = event.Uploaded
		if event.Batch > progress.Batches {
			progress.Batches = event.Batch
		}
		progress.LastSeen = event.Timestamp
		log.Printf("Blob %s %s: %d records in %d batches", event.Blob, event.Status, progress.Records, progress.Batches)
		return nil
	}

	if event.Batch <= progress.Batches {
		return nil
	}
	progress.Batches = event.Batch
	progress.Records += uint64(event.Size)
	progress.Final = progress.Final || event.Final
	progress.LastSeen = event.Timestamp

	if event.Final {
		log.Printf("Final batch sent! - #%d (%d records) %s", event.Batch, event.Size, event.Blob)
	} else {
		log.Printf("Batch sent! - #%d (%d records) %s", event.Batch, event.Size, event.Blob)
	}
	return nil
}

// Progress returns the tracked blobs of a run sorted by name, or every run when runID is empty
func (t *RunTracker) Progress(runID string) []BlobProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []BlobProgress
	for _, p := range t.blobs {
		if runID == "" || p.RunID == runID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunID != out[j].RunID {
			return out[i].RunID < out[j].RunID
		}
		return out[i].Blob < out[j].Blob
	})
	return out
}

// logProgress periodically logs the tracked blobs
func (t *RunTracker) logProgress(ctx context.Context, runID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range t.Progress(runID) {
				status := "running"
				if p.Done() {
					status = string(p.Status)
				}
				log.Printf("%s %s: %d batches, %d records, %s", p.RunID, p.Blob, p.Batches, p.Records, status)
			}
		}
	}
}

// loadRunStatus returns the blob rows of a run, from the Redis cache first
// and from the run history when the cache has nothing
func loadRunStatus(ctx context.Context, runID string, redisClient RedisClient, dbClient DBClient) ([]*types.BlobRun, error) {
	if redisClient != nil {
		names, err := redisClient.GetRunBlobs(ctx, runID)
		if err != nil {
			log.Printf("Warning: Failed to get run blobs from Redis: %v", err)
		}

		var runs []*types.BlobRun
		for _, name := range names {
			run, err := redisClient.GetBlobRun(ctx, name)
			if err != nil {
				return nil, err
			}
			// the cache keeps the latest run per blob only
			if run != nil && run.RunID == runID {
				runs = append(runs, run)
			}
		}
		if len(runs) > 0 {
			return runs, nil
		}
	}

	if dbClient == nil {
		return nil, fmt.Errorf("no status found for run %s", runID)
	}
	runs, err := dbClient.GetBlobRuns(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no status found for run %s", runID)
	}
	return runs, nil
}

// writeReport prints one line per blob run
func writeReport(w io.Writer, runs []*types.BlobRun) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BLOB\tSTATUS\tBATCHES\tUPLOADED\tMALFORMED\tSECONDS\tERROR")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.2f\t%s\n",
			run.Blob, run.Status, run.Batches, run.Uploaded, run.Malformed, run.Elapsed.Seconds(), run.Error)
	}
	return tw.Flush()
}

// options holds the command line settings
type options struct {
	runID  string
	status bool
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("tracker", flag.ContinueOnError)
	opts := &options{}
	fs.StringVar(&opts.runID, "run", "", "Run id to follow or report on (all runs when empty)")
	fs.BoolVar(&opts.status, "status", false, "Print the status of -run and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.status && opts.runID == "" {
		return nil, errors.New("-status requires -run")
	}
	return opts, nil
}

// parseEnvironment extracts environment variable parsing logic for testability
func parseEnvironment() (string, string, string) {
	_ = godotenv.Load()

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://nats:4222" // Default to Docker service name
	}

	dbConnStr := os.Getenv("DB_CONN_STR")

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "redis:6379" // Default to Docker service name
	}

	return natsURL, dbConnStr, redisAddr
}

// closeClients closes whatever was created
func closeClients(dbClient *db.Client, redisClient *redis.Client) {
	if dbClient != nil {
		if err := dbClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing redisClient: %v\n", err)
		}
	}
}

// printStatus reports a finished or running run from Redis and Postgres
func printStatus(ctx context.Context, w io.Writer, runID, dbConnStr, redisAddr string) error {
	redisClient, err := redis.New(redisAddr)
	if err != nil {
		log.Printf("Warning: Redis unavailable, using run history only: %v", err)
	}

	var dbClient *db.Client
	if dbConnStr != "" {
		if dbClient, err = db.New(dbConnStr); err != nil {
			closeClients(nil, redisClient)
			return fmt.Errorf("failed to create database client: %w", err)
		}
	}
	defer closeClients(dbClient, redisClient)

	// keep nil pointers out of the interfaces
	var cache RedisClient
	if redisClient != nil {
		cache = redisClient
	}
	var history DBClient
	if dbClient != nil {
		history = dbClient
	}

	runs, err := loadRunStatus(ctx, runID, cache, history)
	if err != nil {
		return err
	}
	return writeReport(w, runs)
}

// follow logs batch events until ctx is cancelled
func follow(ctx context.Context, runID, natsURL string) error {
	natsClient, err := nats.New(natsURL)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	defer natsClient.Close()

	tracker := NewRunTracker()

	sub, err := natsClient.SubscribeBatchEvents(runID, func(event *types.BatchEvent) {
		if err := tracker.ProcessEvent(event); err != nil {
			log.Printf("Failed to process event: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to batch events: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("Warning: error unsubscribing: %v", err)
		}
	}()

	go tracker.logProgress(ctx, runID, time.Minute)

	log.Printf("Following batch events (run %q)", runID)
	<-ctx.Done()
	log.Println("Shutting down...")
	return nil
}

func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	natsURL, dbConnStr, redisAddr := parseEnvironment()
	if opts.status {
		return printStatus(ctx, os.Stdout, opts.runID, dbConnStr, redisAddr)
	}
	return follow(ctx, opts.runID, natsURL)
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
