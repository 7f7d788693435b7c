// Package yelp is a minimal client for the Yelp Fusion business search API
// with offset-based pagination.
package yelp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/around-me/discovery/internal/resilience"
)

const defaultBaseURL = "https://api.yelp.com/v3"

const (
	// MaxRadiusM is the API's radius ceiling; larger requests are clamped.
	MaxRadiusM = 40000

	// pageSize is the API's per-request result cap.
	pageSize = 50

	// DefaultMaxResults bounds pagination when the caller does not.
	DefaultMaxResults = 60
)

// SearchParams are the inputs for a business search.
type SearchParams struct {
	Lat        float64
	Lng        float64
	RadiusM    int
	Term       string
	Category   string
	MaxResults int
}

// Business is the wire shape of one search result.
type Business struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Coordinates Coordinates `json:"coordinates"`
	Rating      float64     `json:"rating"`
	ReviewCount int         `json:"review_count"`
	Price       string      `json:"price"`
	Phone       string      `json:"phone"`
	URL         string      `json:"url"`
	Categories  []Category  `json:"categories"`
	Location    Location    `json:"location"`
}

// Coordinates is a WGS84 coordinate pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Category is one of a business's category tags.
type Category struct {
	Alias string `json:"alias"`
	Title string `json:"title"`
}

// Location holds a business's address parts.
type Location struct {
	Address1 string `json:"address1"`
	City     string `json:"city"`
	State    string `json:"state"`
	ZipCode  string `json:"zip_code"`
}

// Client performs Yelp Fusion API operations.
type Client interface {
	Search(ctx context.Context, params SearchParams) ([]Business, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Yelp Fusion API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchResponse struct {
	Businesses []Business `json:"businesses"`
	Total      int        `json:"total"`
}

// Search pages through business results until MaxResults are gathered or the
// API returns a short page.
func (c *httpClient) Search(ctx context.Context, params SearchParams) ([]Business, error) {
	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	var businesses []Business
	offset := 0

	for len(businesses) < maxResults {
		limit := min(pageSize, maxResults-len(businesses))

		page, err := c.searchPage(ctx, params, limit, offset)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		businesses = append(businesses, page...)
		offset += len(page)

		// A short page means the API has no more results.
		if len(page) < limit {
			break
		}
	}

	if len(businesses) > maxResults {
		businesses = businesses[:maxResults]
	}
	return businesses, nil
}

func (c *httpClient) searchPage(ctx context.Context, params SearchParams, limit, offset int) ([]Business, error) {
	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%f", params.Lat))
	query.Set("longitude", fmt.Sprintf("%f", params.Lng))
	query.Set("radius", fmt.Sprintf("%d", min(params.RadiusM, MaxRadiusM)))
	query.Set("limit", fmt.Sprintf("%d", limit))
	query.Set("offset", fmt.Sprintf("%d", offset))
	query.Set("sort_by", "best_match")
	if params.Term != "" {
		query.Set("term", params.Term)
	}
	if params.Category != "" {
		query.Set("categories", params.Category)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/businesses/search?"+query.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "yelp: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "yelp: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "yelp: read response"), 0)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("yelp: unexpected status %d: %s", resp.StatusCode, truncate(respBody, 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result searchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "yelp: unmarshal response")
	}
	return result.Businesses, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
