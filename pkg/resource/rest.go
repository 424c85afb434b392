package resource

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
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-crudcache/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public REST API the front end talks to.
const DefaultBaseURL = "https://jsonplaceholder.typicode.com"

const maxErrorBody = 512

// RESTConfig holds connection settings for a REST resource collection.
type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// NewRESTConfigDefaults provides a config pointing at DefaultBaseURL.
// RESOURCE_BASE_URL and RESOURCE_HTTP_TIMEOUT override the defaults.
func NewRESTConfigDefaults() *RESTConfig {
	cfg := &RESTConfig{
		BaseURL: DefaultBaseURL,
		Timeout: 30 * time.Second,
	}
	if u := os.Getenv("RESOURCE_BASE_URL"); u != "" {
		cfg.BaseURL = u
	}
	if to := os.Getenv("RESOURCE_HTTP_TIMEOUT"); to != "" {
		if val, err := time.ParseDuration(to); err == nil {
			cfg.Timeout = val
		}
	}
	return cfg
}

// RESTClient is a Source backed by the conventional CRUD routes of a REST
// collection: GET /{c}, GET /{c}/{id}, POST /{c}, PUT /{c}/{id} and
// DELETE /{c}/{id}, all with JSON bodies.
type RESTClient[R types.Record] struct {
	baseURL    string
	collection string
	client     *http.Client
	logger     zerolog.Logger
}

// NewRESTClient creates a client for one collection. If httpClient is nil a
// client with the configured timeout is created.
func NewRESTClient[R types.Record](
	cfg *RESTConfig,
	collection string,
	httpClient *http.Client,
	logger zerolog.Logger,
) (*RESTClient[R], error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, errors.New("rest client base URL is required")
	}
	if collection == "" {
		return nil, errors.New("rest client collection name is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &RESTClient[R]{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		collection: collection,
		client:     httpClient,
		logger:     logger.With().Str("component", "RESTClient").Str("collection", collection).Logger(),
	}, nil
}

// Collection implements Source.
func (c *RESTClient[R]) Collection() string { return c.collection }

// List fetches all records.
func (c *RESTClient[R]) List(ctx context.Context) ([]R, error) {
	return c.ListWhere(ctx, nil)
}

// ListWhere fetches the records matching a query, e.g. posts by userId.
func (c *RESTClient[R]) ListWhere(ctx context.Context, query url.Values) ([]R, error) {
	var records []R
	if err := c.do(ctx, "list", http.MethodGet, c.collectionPath(), query, 0, nil, &records); err != nil {
		return nil, err
	}
	for i, r := range records {
		if r.GetID() <= 0 {
			return nil, &ServerError{
				Op:         "list",
				URL:        c.baseURL + c.collectionPath(),
				StatusCode: http.StatusOK,
				Err:        fmt.Errorf("record at index %d has no identifier", i),
			}
		}
	}
	c.logger.Debug().Int("count", len(records)).Msg("Listed records.")
	return records, nil
}

// Get fetches one record.
func (c *RESTClient[R]) Get(ctx context.Context, id int) (R, error) {
	var record R
	if err := c.do(ctx, "get", http.MethodGet, c.recordPath(id), nil, id, nil, &record); err != nil {
		var zero R
		return zero, err
	}
	return record, nil
}

// Create posts the record without its id and returns the remote's copy.
func (c *RESTClient[R]) Create(ctx context.Context, record R) (R, error) {
	var zero R
	body, err := withoutID(record)
	if err != nil {
		return zero, err
	}
	var created R
	if err := c.do(ctx, "create", http.MethodPost, c.collectionPath(), nil, 0, body, &created); err != nil {
		return zero, err
	}
	if created.GetID() <= 0 {
		return zero, &ServerError{
			Op:         "create",
			URL:        c.baseURL + c.collectionPath(),
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("remote did not assign an identifier"),
		}
	}
	c.logger.Debug().Int("record_id", created.GetID()).Msg("Created record.")
	return created, nil
}

// Update puts the record and returns the remote's echo of it.
func (c *RESTClient[R]) Update(ctx context.Context, id int, record R) (R, error) {
	var updated R
	if err := c.do(ctx, "update", http.MethodPut, c.recordPath(id), nil, id, record, &updated); err != nil {
		var zero R
		return zero, err
	}
	c.logger.Debug().Int("record_id", id).Msg("Updated record.")
	return updated, nil
}

// Delete requests deletion. Whether the remote actually removes the record
// is up to the remote.
func (c *RESTClient[R]) Delete(ctx context.Context, id int) error {
	if err := c.do(ctx, "delete", http.MethodDelete, c.recordPath(id), nil, id, nil, nil); err != nil {
		return err
	}
	c.logger.Debug().Int("record_id", id).Msg("Deleted record.")
	return nil
}

// Close releases idle connections.
func (c *RESTClient[R]) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *RESTClient[R]) collectionPath() string {
	return "/" + url.PathEscape(c.collection)
}

func (c *RESTClient[R]) recordPath(id int) string {
	return c.collectionPath() + "/" + strconv.Itoa(id)
}

// do performs one request. A non-zero id marks a single-record route, where
// a 404 becomes a *NotFoundError rather than a *ServerError.
func (c *RESTClient[R]) do(
	ctx context.Context,
	op, method, path string,
	query url.Values,
	id int,
	body any,
	out any,
) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request body: %w", op, err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Str("request_id", requestID).Msg("Request failed before a response was received.")
		return &NetworkError{Op: op, URL: target, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound && id != 0 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &NotFoundError{Collection: c.collection, ID: id}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().Str("op", op).Int("status", resp.StatusCode).Str("request_id", requestID).Msg("Remote returned a non-success status.")
		return &ServerError{Op: op, URL: target, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServerError{
			Op:         op,
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode response: %w", err),
		}
	}
	return nil
}
