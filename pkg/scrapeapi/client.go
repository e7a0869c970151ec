// Package scrapeapi is a client for the restaurant scraping API used to
// search platform listings and enrich individual venues.
package scrapeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Default base URL for the scraping API.
const defaultBaseURL = "https://api.scrapehub.io/v1"

// Client defines the scraping API operations.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	GetSearchStatus(ctx context.Context, id string) (*SearchStatusResponse, error)
	Enrich(ctx context.Context, req EnrichRequest) (*EnrichResponse, error)
	GetEnrichStatus(ctx context.Context, id string) (*EnrichStatusResponse, error)
}

// SearchRequest is the body for POST /search. It describes one platform
// listing search for a city, optionally narrowed by cuisine.
type SearchRequest struct {
	Platform   string   `json:"platform"`
	Country    string   `json:"country,omitempty"`
	City       string   `json:"city"`
	CityCode   string   `json:"cityCode,omitempty"`
	Cuisine    []string `json:"cuisine,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	PageOffset int      `json:"pageOffset,omitempty"`
}

// SearchResponse is the response from POST /search.
type SearchResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// SearchStatusResponse is the response from GET /search/{id}.
type SearchStatusResponse struct {
	Status string    `json:"status"`
	Total  int       `json:"total"`
	Data   []Listing `json:"data"`
}

// Listing is a single venue returned by a platform search.
type Listing struct {
	Name    string   `json:"name"`
	City    string   `json:"city"`
	Cuisine []string `json:"cuisine,omitempty"`
	Rating  *float64 `json:"rating,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Address string   `json:"address,omitempty"`
	Website string   `json:"website,omitempty"`
}

// EnrichRequest is the body for POST /enrich. The scraper visits the
// venue's platform page (and website when known) to pull contact data.
type EnrichRequest struct {
	Platform string `json:"platform"`
	Name     string `json:"name"`
	City     string `json:"city"`
	Website  string `json:"website,omitempty"`
}

// EnrichResponse is the response from POST /enrich.
type EnrichResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// EnrichStatusResponse is the response from GET /enrich/{id}. Fields
// holds whatever the scraper recovered, keyed by attribute name.
type EnrichStatusResponse struct {
	Status string            `json:"status"`
	Fields map[string]string `json:"fields,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scrapeapi: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new scraping API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.post(ctx, "/search", req, &resp); err != nil {
		return nil, eris.Wrap(err, "scrapeapi: start search")
	}
	return &resp, nil
}

func (c *httpClient) GetSearchStatus(ctx context.Context, id string) (*SearchStatusResponse, error) {
	var resp SearchStatusResponse
	if err := c.get(ctx, fmt.Sprintf("/search/%s", id), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("scrapeapi: get search status %s", id))
	}
	return &resp, nil
}

func (c *httpClient) Enrich(ctx context.Context, req EnrichRequest) (*EnrichResponse, error) {
	var resp EnrichResponse
	if err := c.post(ctx, "/enrich", req, &resp); err != nil {
		return nil, eris.Wrap(err, "scrapeapi: start enrich")
	}
	return &resp, nil
}

func (c *httpClient) GetEnrichStatus(ctx context.Context, id string) (*EnrichStatusResponse, error) {
	var resp EnrichStatusResponse
	if err := c.get(ctx, fmt.Sprintf("/enrich/%s", id), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("scrapeapi: get enrich status %s", id))
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
