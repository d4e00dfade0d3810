package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Sink kinds
const (
	SinkSearch     = "search"
	SinkClickHouse = "clickhouse"
	SinkSQLite     = "sqlite"
)

// DefaultSearchAPIVersion is the REST API version used for document uploads
const DefaultSearchAPIVersion = "2023-11-01"

// SearchConfig describes the search service receiving documents
type SearchConfig struct {
	Name        string `yaml:"name"`
	Endpoint    string `yaml:"endpoint"`
	Key         string `yaml:"key"`
	IndexName   string `yaml:"index_name"`
	IndexSchema string `yaml:"index_schema"`
	APIVersion  string `yaml:"api_version"`
}

// StorageConfig describes where blobs are read from
type StorageConfig struct {
	ConnStr   string `yaml:"conn_str"`
	Container string `yaml:"container"`
	// Dir switches to a local directory instead of Azure Blob Storage
	Dir string `yaml:"dir"`
}

// ClickHouseConfig describes the optional ClickHouse sink
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// Config holds the application configuration
type Config struct {
	Search     SearchConfig     `yaml:"search_service"`
	Storage    StorageConfig    `yaml:"storage"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	BatchSize  int              `yaml:"-"`
	Sink       string           `yaml:"sink"`
	SQLitePath string           `yaml:"sqlite_path"`

	ContinueOnError bool `yaml:"continue_on_error"`

	// Optional integrations; empty disables them
	NATSURL   string `yaml:"nats_url"`
	RedisAddr string `yaml:"redis_addr"`
	DBConnStr string `yaml:"db_conn_str"`
}

// fileConfig mirrors Config but keeps batch_size as text, since the
// legacy config.json stores it as a string
type fileConfig struct {
	Config    `yaml:",inline"`
	BatchSize string `yaml:"batch_size"`
}

// Load loads the configuration from an optional config file, environment
// variables and .env file. Environment variables take precedence.
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses a YAML config file. JSON is valid YAML, so the legacy
// config.json layout is accepted as well.
func LoadFile(path string) (*Config, error) {
	//nolint:gosec // path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := fc.Config
	if s := strings.TrimSpace(fc.BatchSize); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid batch_size %q: %w", fc.BatchSize, err)
		}
		cfg.BatchSize = n
	}
	return &cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BATCH_SIZE %q: %w", v, err)
		}
		cfg.BatchSize = n
	}
	if v := os.Getenv("CONTINUE_ON_ERROR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CONTINUE_ON_ERROR %q: %w", v, err)
		}
		cfg.ContinueOnError = b
	}

	setString(&cfg.Sink, "SINK")
	setString(&cfg.Search.Name, "SEARCH_SERVICE")
	setString(&cfg.Search.Endpoint, "SEARCH_ENDPOINT")
	setString(&cfg.Search.Key, "SEARCH_KEY")
	setString(&cfg.Search.IndexName, "SEARCH_INDEX")
	setString(&cfg.Search.IndexSchema, "SEARCH_INDEX_SCHEMA")
	setString(&cfg.Search.APIVersion, "SEARCH_API_VERSION")
	setString(&cfg.Storage.ConnStr, "STORAGE_CONN_STR")
	setString(&cfg.Storage.Container, "STORAGE_CONTAINER")
	setString(&cfg.Storage.Dir, "STORAGE_DIR")
	setString(&cfg.ClickHouse.Addr, "CLICKHOUSE_ADDR")
	setString(&cfg.ClickHouse.Database, "CLICKHOUSE_DATABASE")
	setString(&cfg.ClickHouse.Username, "CLICKHOUSE_USERNAME")
	setString(&cfg.ClickHouse.Password, "CLICKHOUSE_PASSWORD")
	setString(&cfg.ClickHouse.Table, "CLICKHOUSE_TABLE")
	setString(&cfg.SQLitePath, "SQLITE_PATH")
	setString(&cfg.NATSURL, "NATS_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.DBConnStr, "DB_CONN_STR")
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Sink == "" {
		cfg.Sink = SinkSearch
	}
	if cfg.Search.APIVersion == "" {
		cfg.Search.APIVersion = DefaultSearchAPIVersion
	}
	if cfg.Search.Endpoint == "" && cfg.Search.Name != "" {
		cfg.Search.Endpoint = fmt.Sprintf("https://%s.search.windows.net/", cfg.Search.Name)
	}
	if cfg.ClickHouse.Database == "" {
		cfg.ClickHouse.Database = "default"
	}
	if cfg.ClickHouse.Table == "" {
		cfg.ClickHouse.Table = "flight_records"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "./flights.db"
	}
}

// Validate checks that the settings needed by the selected backends are present
func (c *Config) Validate() error {
	if c.BatchSize == 0 {
		return fmt.Errorf("BATCH_SIZE environment variable is required")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}

	switch c.Sink {
	case SinkSearch:
		if c.Search.Endpoint == "" {
			return fmt.Errorf("SEARCH_SERVICE or SEARCH_ENDPOINT environment variable is required")
		}
		if c.Search.Key == "" {
			return fmt.Errorf("SEARCH_KEY environment variable is required")
		}
		if c.Search.IndexName == "" {
			return fmt.Errorf("SEARCH_INDEX environment variable is required")
		}
	case SinkClickHouse:
		if c.ClickHouse.Addr == "" {
			return fmt.Errorf("CLICKHOUSE_ADDR environment variable is required")
		}
	case SinkSQLite:
	default:
		return fmt.Errorf("unknown sink %q", c.Sink)
	}

	if c.Storage.Dir == "" {
		if c.Storage.ConnStr == "" {
			return fmt.Errorf("STORAGE_CONN_STR or STORAGE_DIR environment variable is required")
		}
		if c.Storage.Container == "" {
			return fmt.Errorf("STORAGE_CONTAINER environment variable is required")
		}
	}
	return nil
}

// BuildPrefix builds the blob name prefix for a YEAR/MONTH/DAY/HOUR partition.
// An empty month stops at the year, an empty day at the month; an hour is
// always appended after month and day, whatever they hold.
func BuildPrefix(year, month, day, hour string) (string, error) {
	if year == "" {
		return "", fmt.Errorf("YEAR cannot be empty, e.g. 2021")
	}

	y := "YEAR=" + year
	m := "MONTH=" + month
	d := "DAY=" + day
	h := "HOUR=" + hour

	var path string
	switch {
	case month == "":
		path = y
	case day == "":
		path = y + "/" + m
	default:
		path = y + "/" + m + "/" + d
	}
	if hour != "" {
		path = y + "/" + m + "/" + d + "/" + h
	}
	return path, nil
}
