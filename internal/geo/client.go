// Package geo resolves UK postcodes to coordinates through postcodes.io.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	gobreaker "github.com/sony/gobreaker/v2"

	"fivesteps.org/internal/obs"
)

const (
	DefaultBaseURL = "https://api.postcodes.io"
	cacheSize      = 1024
	cacheTTL       = 24 * time.Hour
)

// Location is the part of a postcodes.io result we keep.
type Location struct {
	Postcode  string  `json:"postcode"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type lookupResponse struct {
	Status int       `json:"status"`
	Result *Location `json:"result"`
}

// Client looks up postcodes. Failures never surface to callers.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Location]
	cache   *lru.LRU[string, *Location]
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient overrides the transport, mostly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// New builds a client against baseURL (DefaultBaseURL when empty).
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		cache:   lru.NewLRU[string, *Location](cacheSize, nil, cacheTTL),
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Location](gobreaker.Settings{
		Name:        "postcodes.io",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			obs.Logger().Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("geocoder circuit state changed")
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the location of postcode, or nil when it cannot be resolved.
// The error result is always nil; it exists so callers can treat the client
// like any other dependency.
func (c *Client) Lookup(ctx context.Context, postcode string) (*Location, error) {
	key := normalize(postcode)
	if key == "" {
		return nil, nil
	}
	if loc, ok := c.cache.Get(key); ok {
		return loc, nil
	}
	loc, err := c.breaker.Execute(func() (*Location, error) {
		return c.fetch(ctx, key)
	})
	if err != nil {
		obs.Logger().Warn().Err(err).Str("postcode", key).Msg("postcode lookup failed")
		return nil, nil
	}
	c.cache.Add(key, loc)
	return loc, nil
}

var errUnexpectedStatus = errors.New("unexpected status")

func (c *Client) fetch(ctx context.Context, postcode string) (*Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/postcodes/"+url.PathEscape(postcode), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
	}
	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode postcode response: %w", err)
	}
	if body.Result == nil {
		return nil, errors.New("postcode response has no result")
	}
	return body.Result, nil
}

func normalize(postcode string) string {
	return strings.ToUpper(strings.Join(strings.Fields(postcode), ""))
}
