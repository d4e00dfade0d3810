package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/saviobatista/geodata-pusher/internal/config"
	"github.com/saviobatista/geodata-pusher/internal/types"
)

// ErrPartialUpload is returned when the service rejects some documents of a batch
var ErrPartialUpload = errors.New("some documents were rejected")

// indexAction wraps a record with the upload action the service expects
type indexAction struct {
	Action string `json:"@search.action"`
	types.FlightRecord
}

type indexBatch struct {
	Value []indexAction `json:"value"`
}

type indexResult struct {
	Key          string `json:"key"`
	Status       bool   `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	StatusCode   int    `json:"statusCode"`
}

type indexResponse struct {
	Value []indexResult `json:"value"`
}

// AzureClient talks to the Azure AI Search REST API
type AzureClient struct {
	endpoint   string
	key        string
	index      string
	apiVersion string
	httpClient *http.Client
}

// NewAzureClient creates a client for one index
func NewAzureClient(cfg config.SearchConfig) (*AzureClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("search endpoint is required")
	}
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = config.DefaultSearchAPIVersion
	}

	return &AzureClient{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		key:        cfg.Key,
		index:      cfg.IndexName,
		apiVersion: apiVersion,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Upload sends the records with the "upload" action, which inserts or
// replaces documents by key
func (c *AzureClient) Upload(ctx context.Context, records []types.FlightRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := indexBatch{Value: make([]indexAction, len(records))}
	for i, rec := range records {
		batch.Value[i] = indexAction{Action: "upload", FlightRecord: rec}
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal documents: %w", err)
	}

	path := fmt.Sprintf("/indexes/%s/docs/index", url.PathEscape(c.index))
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusMultiStatus:
		var result indexResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %w", ErrPartialUpload, err)
		}
		failed := 0
		var first string
		for _, r := range result.Value {
			if !r.Status {
				if failed == 0 {
					first = fmt.Sprintf("%s: %s", r.Key, r.ErrorMessage)
				}
				failed++
			}
		}
		return fmt.Errorf("%w: %d of %d failed (first %s)", ErrPartialUpload, failed, len(records), first)
	default:
		return responseError(resp)
	}
}

// CreateIndex creates the index from a schema document holding "fields"
// and "suggesters". schema is a file path or an http(s) URL. CORS is opened
// to every origin with a 60 second max age.
func (c *AzureClient) CreateIndex(ctx context.Context, schema string) error {
	data, err := c.readSchema(ctx, schema)
	if err != nil {
		return err
	}

	var schemaData struct {
		Fields     []json.RawMessage `json:"fields"`
		Suggesters []json.RawMessage `json:"suggesters"`
	}
	if err := json.Unmarshal(data, &schemaData); err != nil {
		return fmt.Errorf("failed to parse index schema: %w", err)
	}
	if len(schemaData.Fields) == 0 {
		return fmt.Errorf("index schema has no fields")
	}
	if schemaData.Suggesters == nil {
		schemaData.Suggesters = []json.RawMessage{}
	}

	index := map[string]interface{}{
		"name":            c.index,
		"fields":          schemaData.Fields,
		"scoringProfiles": []interface{}{},
		"suggesters":      schemaData.Suggesters,
		"corsOptions": map[string]interface{}{
			"allowedOrigins":  []string{"*"},
			"maxAgeInSeconds": 60,
		},
	}
	body, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/indexes", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return nil
}

func (c *AzureClient) readSchema(ctx context.Context, schema string) ([]byte, error) {
	if schema == "" {
		return nil, fmt.Errorf("index schema is required")
	}

	if !strings.HasPrefix(schema, "http://") && !strings.HasPrefix(schema, "https://") {
		//nolint:gosec // schema path is provided by the operator
		data, err := os.ReadFile(schema)
		if err != nil {
			return nil, fmt.Errorf("failed to read index schema: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, schema, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index schema: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch index schema: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read index schema: %w", err)
	}
	return data, nil
}

func (c *AzureClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	u := fmt.Sprintf("%s%s?api-version=%s", c.endpoint, path, url.QueryEscape(c.apiVersion))
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func responseError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("search service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}

// Close releases idle connections
func (c *AzureClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
