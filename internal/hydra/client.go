package hydra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultURL is the public Hydra instance that builds Nixpkgs.
	DefaultURL = "https://hydra.nixos.org"

	// DefaultUserAgent identifies this project to Hydra's operators.
	DefaultUserAgent = "github:diogotcorreia/nixpkgs-build-failure-notifier"
)

// maxErrorBody caps how much of an error response is kept in StatusError.
const maxErrorBody = 512

// Client talks to a Hydra instance. One Client is created per process and
// shared by everything that needs Hydra.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	finder     BuildIDFinder
	logger     *zap.SugaredLogger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another Hydra instance.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithFinder replaces the HTML build id finder.
func WithFinder(f BuildIDFinder) Option {
	return func(c *Client) {
		if f != nil {
			c.finder = f
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.logger = log
		}
	}
}

// NewClient creates a Hydra client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultURL,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		finder:     HTMLFinder{},
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the Hydra instance the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest performs a GET against path and returns the response when the
// status is 2xx. The caller closes the body.
func (c *Client) doRequest(ctx context.Context, path, accept string) (*http.Response, error) {
	url := c.baseURL + path
	c.logger.Debugw("hydra: http request", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}

	c.logger.Debugw("hydra: http response", "url", url, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, URL: url, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// LatestBuildID finds the id of the newest build of a job by reading its
// HTML job page.
func (c *Client) LatestBuildID(ctx context.Context, jobsetPath, job string) (uint64, error) {
	resp, err := c.doRequest(ctx, "/job/"+jobsetPath+"/"+job, "text/html")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return c.finder.FindBuildID(resp.Body)
}

// GetBuild fetches the JSON record of a build.
func (c *Client) GetBuild(ctx context.Context, id uint64) (*Build, error) {
	resp, err := c.doRequest(ctx, fmt.Sprintf("/build/%d", id), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rec buildRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode build %d: %w", id, err)
	}
	build, err := rec.build()
	if err != nil {
		return nil, fmt.Errorf("decode build %d: %w", id, err)
	}
	return build, nil
}

// LatestBuild resolves a job to its newest build. Hydra only exposes "latest
// build of job X" on the HTML job page, so the id is scraped first and the
// record is then fetched as JSON.
func (c *Client) LatestBuild(ctx context.Context, jobsetPath, job string) (*Build, error) {
	id, err := c.LatestBuildID(ctx, jobsetPath, job)
	if err != nil {
		return nil, fmt.Errorf("job %s/%s: %w", jobsetPath, job, err)
	}

	build, err := c.GetBuild(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("job %s/%s: %w", jobsetPath, job, err)
	}
	return build, nil
}
