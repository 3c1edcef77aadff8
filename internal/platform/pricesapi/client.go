// Package pricesapi is the client for the vendor card price API.
package pricesapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cardprices/internal/ratelimit"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = time.Second

	maxBodySize = 32 << 20
)

type Config struct {
	BaseURL      string
	APIKey       string
	UserAgent    string
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	PageSize     int
}

// Client sends every HTTP attempt through a shared ratelimit.Queue, so
// retries count against the run's quota like any other call.
type Client struct {
	httpClient  *http.Client
	queue       *ratelimit.Queue
	baseURL     string
	apiKey      string
	userAgent   string
	maxAttempts int
	backoff     time.Duration
	pageSize    int
}

func NewClient(cfg Config, queue *ratelimit.Queue) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cardprices-ingest/1.0"
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		queue:       queue,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		userAgent:   cfg.UserAgent,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
		pageSize:    cfg.PageSize,
	}
}

// ListSets fetches one page of GET /sets.
func (c *Client) ListSets(ctx context.Context, page, limit int) ([]Set, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/sets", q)
	if err != nil {
		return nil, err
	}
	return decodeSets(body)
}

// ListPrices fetches one page of GET /prices for a set.
func (c *Client) ListPrices(ctx context.Context, setID string, page, limit int) ([]Card, error) {
	q := url.Values{}
	q.Set("setId", setID)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/prices", q)
	if err != nil {
		return nil, err
	}
	return decodeCards(body, false)
}

// GetPrice fetches the detail record of one card.
func (c *Client) GetPrice(ctx context.Context, id string) (Card, error) {
	q := url.Values{}
	q.Set("id", id)

	body, err := c.get(ctx, "/prices", q)
	if err != nil {
		return Card{}, err
	}
	cards, err := decodeCards(body, true)
	if err != nil {
		return Card{}, err
	}
	if len(cards) == 0 {
		return Card{}, fmt.Errorf("%w: %s", ErrNoRecord, id)
	}
	return cards[0], nil
}

// AllSets walks every page of GET /sets.
func (c *Client) AllSets(ctx context.Context) ([]Set, error) {
	return FetchAll(ctx, c.pageSize, c.ListSets)
}

// AllPrices walks every page of GET /prices for a set.
func (c *Client) AllPrices(ctx context.Context, setID string) ([]Card, error) {
	return FetchAll(ctx, c.pageSize, func(ctx context.Context, page, limit int) ([]Card, error) {
		return c.ListPrices(ctx, setID, page, limit)
	})
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for i := 0; i < c.maxAttempts; i++ {
		if i > 0 {
			// Backoff: 1s, 2s, 4s...
			backoff := c.backoff << uint(i-1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := ratelimit.Call(ctx, c.queue, func(ctx context.Context) ([]byte, error) {
			return c.do(ctx, path, u)
		})
		if err == nil {
			return body, nil
		}

		var netErr *NetworkError
		if !errors.As(err, &netErr) || !netErr.Retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, path, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Path: path, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &NetworkError{Path: path, Retryable: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}
	return body, nil
}
