// Package ingest fetches candidate papers from PubMed E-utilities.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/convergence/internal/logging"
	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/util"
	"github.com/ppiankov/convergence/internal/worker"
)

// maxBodyBytes caps a single E-utilities response
const maxBodyBytes = 32 << 20

// fetchSleepFunc is swapped out in tests
var fetchSleepFunc = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Client talks to esearch and efetch. Every request waits on the shared
// limiter bucket for the E-utilities host.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	relDate    int
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
	limiter    *worker.Limiter
	logger     *zap.Logger
}

// NewClient creates a PubMed client. A nil limiter disables rate limiting.
func NewClient(cfg model.PubMedConfig, limiter *worker.Limiter, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if limiter == nil {
		limiter = worker.NewLimiter(0, 1)
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
		relDate:    cfg.RelDate,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Second,
		httpClient: util.NewHTTPClient(timeout, cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
		limiter:    limiter,
		logger:     logging.Component(logger, "pubmed"),
	}
}

type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
	Error string `json:"error,omitempty"`
}

// Search returns PMIDs matching query, newest first, limited to the
// configured relative date window
func (c *Client) Search(ctx context.Context, query string, max int) ([]string, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {query},
		"retmode": {"json"},
		"retmax":  {strconv.Itoa(max)},
		"sort":    {"pub_date"},
	}
	if c.relDate > 0 {
		params.Set("reldate", strconv.Itoa(c.relDate))
		params.Set("datetype", "edat")
	}

	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("esearch %q: %w", query, err)
	}

	var resp esearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode esearch response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("esearch %q: %s", query, resp.Error)
	}
	return resp.Result.IDList, nil
}

// Fetch returns the records for ids. PMIDs without a record are dropped.
func (c *Client) Fetch(ctx context.Context, ids []string) ([]model.Paper, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"xml"},
	}

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("efetch %d ids: %w", len(ids), err)
	}
	papers, err := ParseArticleSet(body)
	if err != nil {
		return nil, err
	}
	return papers, nil
}

// SearchAndFetch runs Search then Fetch and stamps papers with the query
func (c *Client) SearchAndFetch(ctx context.Context, query string, max int) ([]model.Paper, error) {
	ids, err := c.Search(ctx, query, max)
	if err != nil {
		return nil, err
	}
	c.logger.Info("search finished", zap.String("query", query), zap.Int("ids", len(ids)))

	papers, err := c.Fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range papers {
		papers[i].Query = query
	}
	return papers, nil
}

// get performs a rate-limited GET, retrying 429 and 5xx answers
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode())
	backoff := c.backoff

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx, c.baseURL); err != nil {
			return nil, err
		}

		body, retryAfter, err := c.do(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		if retryAfter < 0 || attempt >= c.maxRetries {
			return nil, err
		}

		wait := backoff
		if retryAfter > 0 {
			wait = retryAfter
		}
		c.logger.Warn("request failed, retrying",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))
		if err := fetchSleepFunc(ctx, wait); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

// do performs one request. retryAfter is negative for errors that must not
// be retried, zero for "use backoff", positive for a server-given delay.
func (c *Client) do(ctx context.Context, reqURL string) (body []byte, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, -1, fmt.Errorf("create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, -1, ctx.Err()
		}
		return nil, 0, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("rate limited: %s", resp.Status)
	case resp.StatusCode >= 500:
		return nil, 0, fmt.Errorf("server error: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, -1, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	return body, 0, nil
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
