// Package remote talks to the shared blob store that holds pushed snapshots.
//
// The protocol is a small subset of the JSONBin v3 API: create a named blob,
// fetch the latest blob, fetch a blob by id. The client performs no retries;
// a failed call is retried only by the next sync trigger.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public blob endpoint.
const DefaultBaseURL = "https://api.jsonbin.io/v3/b"

// Client is the remote surface the sync engine depends on.
type Client interface {
	// Create stores payload as a new blob under name and returns its id.
	Create(ctx context.Context, name string, payload any) (string, error)
	// GetLatest returns the most recent blob. When name is non-empty and
	// scoping is enabled, only blobs with that name are considered.
	GetLatest(ctx context.Context, name string) (json.RawMessage, error)
	// GetByID returns the blob with the given id.
	GetByID(ctx context.Context, id string) (json.RawMessage, error)
}

// Config configures an HTTPClient.
type Config struct {
	// BaseURL is the blob collection endpoint, e.g. https://api.jsonbin.io/v3/b.
	BaseURL string

	// APIKey is sent in the X-Master-Key header.
	APIKey string

	// Timeout bounds each request (default: 15s).
	Timeout time.Duration

	// ScopeLatest sends X-Bin-Name on latest lookups so a device only sees
	// blobs from its own namespace.
	ScopeLatest bool

	// Private marks created blobs as private (default: false).
	Private bool

	// MaxBodyBytes caps how much of a response body is read (default: 8 MiB).
	MaxBodyBytes int64

	// Logger for request diagnostics (default: stderr).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      DefaultBaseURL,
		Timeout:      15 * time.Second,
		ScopeLatest:  true,
		MaxBodyBytes: 8 << 20,
	}
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	scopeLatest bool
	private     bool
	maxBody     int64
	client      *http.Client
	logger      *log.Logger
}

// NewHTTPClient creates a client. A nil config uses DefaultConfig.
func NewHTTPClient(cfg *Config) (*HTTPClient, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	defaults := DefaultConfig()

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaults.BaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("remote base URL must be http(s): %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaults.Timeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaults.MaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &HTTPClient{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		scopeLatest: cfg.ScopeLatest,
		private:     cfg.Private,
		maxBody:     maxBody,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
	}, nil
}

// BaseURL returns the configured endpoint.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, name string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &RemoteError{Op: "create", Reason: ReasonEncode, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", &RemoteError{Op: "create", Reason: ReasonNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Master-Key", c.apiKey)
	req.Header.Set("X-Bin-Name", name)
	req.Header.Set("X-Bin-Private", strconv.FormatBool(c.private))

	respBody, err := c.do(req, "create")
	if err != nil {
		return "", err
	}

	id := gjson.GetBytes(respBody, "metadata.id")
	if !id.Exists() || id.String() == "" {
		return "", &RemoteError{
			Op:     "create",
			Reason: ReasonDecode,
			Err:    errors.New("response has no metadata.id"),
		}
	}

	c.logger.Printf("Created blob %s (%s, %d bytes)", id.String(), name, len(body))
	return id.String(), nil
}

// GetLatest implements Client.
func (c *HTTPClient) GetLatest(ctx context.Context, name string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/latest", nil)
	if err != nil {
		return nil, &RemoteError{Op: "latest", Reason: ReasonNetwork, Err: err}
	}
	req.Header.Set("X-Master-Key", c.apiKey)
	req.Header.Set("X-Bin-Meta", "false")
	if c.scopeLatest && name != "" {
		req.Header.Set("X-Bin-Name", name)
	}

	return c.fetchJSON(req, "latest")
}

// GetByID implements Client.
func (c *HTTPClient) GetByID(ctx context.Context, id string) (json.RawMessage, error) {
	if id == "" || strings.ContainsAny(id, "/?#") {
		return nil, &RemoteError{Op: "get", Reason: ReasonNetwork, Err: fmt.Errorf("invalid blob id %q", id)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+id, nil)
	if err != nil {
		return nil, &RemoteError{Op: "get", Reason: ReasonNetwork, Err: err}
	}
	req.Header.Set("X-Master-Key", c.apiKey)
	req.Header.Set("X-Bin-Meta", "false")

	return c.fetchJSON(req, "get")
}

func (c *HTTPClient) fetchJSON(req *http.Request, op string) (json.RawMessage, error) {
	body, err := c.do(req, op)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &RemoteError{Op: op, Reason: ReasonDecode, Err: errors.New("response is not valid JSON")}
	}
	return json.RawMessage(body), nil
}

// do executes req and returns the body of a 2xx response.
func (c *HTTPClient) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &RemoteError{Op: op, Reason: ReasonNetwork, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Printf("Warning: failed to close %s response body: %v", op, closeErr)
		}
	}()

	if resp.StatusCode == http.StatusNotFound && op != "create" {
		return nil, ErrNotFound
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &RemoteError{Op: op, Reason: ReasonNetwork, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{
			Op:         op,
			Reason:     ReasonHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", summarize(body)),
		}
	}
	if int64(len(body)) > c.maxBody {
		return nil, &RemoteError{
			Op:         op,
			Reason:     ReasonDecode,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response exceeds %d bytes", c.maxBody),
		}
	}
	return body, nil
}

// summarize extracts a short message from an error body.
func summarize(body []byte) string {
	if msg := gjson.GetBytes(body, "message"); msg.Exists() {
		return msg.String()
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
