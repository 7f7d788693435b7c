// Package googleplaces is a minimal client for the Google Places API (New),
// covering the searchText and searchNearby operations with continuation-token
// pagination.
package googleplaces

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/around-me/discovery/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

const (
	// MaxRadiusM is the API's radius ceiling; larger requests are clamped.
	MaxRadiusM = 50000

	// maxPageSize is the API's per-request result cap.
	maxPageSize = 20

	// pageInterval paces continuation fetches. The API rejects pageToken
	// requests issued too quickly after the previous page.
	pageInterval = 2 * time.Second

	// DefaultMaxResults bounds pagination when the caller does not.
	DefaultMaxResults = 60
)

// fieldMask lists the place fields each search requests. Amenity fields feed
// feature extraction downstream.
var fieldMask = strings.Join([]string{
	"places.id",
	"places.displayName",
	"places.formattedAddress",
	"places.location",
	"places.rating",
	"places.userRatingCount",
	"places.priceLevel",
	"places.internationalPhoneNumber",
	"places.googleMapsUri",
	"places.websiteUri",
	"places.currentOpeningHours",
	"places.types",
	"places.primaryType",
	"places.businessStatus",
	"places.outdoorSeating",
	"places.goodForChildren",
	"places.goodForGroups",
	"places.allowsDogs",
	"places.reservable",
	"places.servesVegetarianFood",
	"places.takeout",
	"places.delivery",
	"nextPageToken",
}, ",")

// SearchParams are the shared inputs for both search operations.
type SearchParams struct {
	Lat        float64
	Lng        float64
	RadiusM    int
	Query      string // searchText only
	Category   string // searchNearby only, an includedTypes value
	MaxResults int
}

// Place is the wire shape of one place result.
type Place struct {
	ID                       string        `json:"id"`
	DisplayName              DisplayName   `json:"displayName"`
	FormattedAddress         string        `json:"formattedAddress"`
	Location                 LatLng        `json:"location"`
	Rating                   float64       `json:"rating"`
	UserRatingCount          int           `json:"userRatingCount"`
	PriceLevel               string        `json:"priceLevel"`
	InternationalPhoneNumber string        `json:"internationalPhoneNumber"`
	GoogleMapsURI            string        `json:"googleMapsUri"`
	WebsiteURI               string        `json:"websiteUri"`
	CurrentOpeningHours      *OpeningHours `json:"currentOpeningHours"`
	Types                    []string      `json:"types"`
	PrimaryType              string        `json:"primaryType"`
	BusinessStatus           string        `json:"businessStatus"`

	OutdoorSeating       *bool `json:"outdoorSeating"`
	GoodForChildren      *bool `json:"goodForChildren"`
	GoodForGroups        *bool `json:"goodForGroups"`
	AllowsDogs           *bool `json:"allowsDogs"`
	Reservable           *bool `json:"reservable"`
	ServesVegetarianFood *bool `json:"servesVegetarianFood"`
	Takeout              *bool `json:"takeout"`
	Delivery             *bool `json:"delivery"`
}

// DisplayName holds the place's localized display name.
type DisplayName struct {
	Text string `json:"text"`
}

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OpeningHours carries the live open flag.
type OpeningHours struct {
	OpenNow *bool `json:"openNow"`
}

// Client performs Google Places API operations.
type Client interface {
	SearchText(ctx context.Context, params SearchParams) ([]Place, error)
	SearchNearby(ctx context.Context, params SearchParams) ([]Place, error)
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

// WithPageInterval overrides the continuation pacing interval.
func WithPageInterval(interval time.Duration) Option {
	return func(c *httpClient) {
		c.pager = rate.NewLimiter(rate.Every(interval), 1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	pager   *rate.Limiter
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		pager: rate.NewLimiter(rate.Every(pageInterval), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type circleRestriction struct {
	Circle circle `json:"circle"`
}

type searchTextRequest struct {
	TextQuery      string            `json:"textQuery"`
	LocationBias   circleRestriction `json:"locationBias"`
	MaxResultCount int               `json:"maxResultCount"`
	PageToken      string            `json:"pageToken,omitempty"`
}

type searchNearbyRequest struct {
	LocationRestriction circleRestriction `json:"locationRestriction"`
	IncludedTypes       []string          `json:"includedTypes,omitempty"`
	MaxResultCount      int               `json:"maxResultCount"`
	PageToken           string            `json:"pageToken,omitempty"`
}

type searchResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken"`
}

func (c *httpClient) SearchText(ctx context.Context, params SearchParams) ([]Place, error) {
	maxResults := maxResultsOrDefault(params.MaxResults)
	req := searchTextRequest{
		TextQuery: params.Query,
		LocationBias: circleRestriction{Circle: circle{
			Center: LatLng{Latitude: params.Lat, Longitude: params.Lng},
			Radius: clampRadius(params.RadiusM),
		}},
		MaxResultCount: min(maxResults, maxPageSize),
	}

	return c.paginate(ctx, "/places:searchText", maxResults, func(token string) any {
		req.PageToken = token
		return req
	})
}

func (c *httpClient) SearchNearby(ctx context.Context, params SearchParams) ([]Place, error) {
	maxResults := maxResultsOrDefault(params.MaxResults)
	req := searchNearbyRequest{
		LocationRestriction: circleRestriction{Circle: circle{
			Center: LatLng{Latitude: params.Lat, Longitude: params.Lng},
			Radius: clampRadius(params.RadiusM),
		}},
		MaxResultCount: min(maxResults, maxPageSize),
	}
	if params.Category != "" {
		req.IncludedTypes = []string{params.Category}
	}

	return c.paginate(ctx, "/places:searchNearby", maxResults, func(token string) any {
		req.PageToken = token
		return req
	})
}

// paginate repeats a search until maxResults are gathered or the API stops
// returning a continuation token, pacing continuation fetches.
func (c *httpClient) paginate(ctx context.Context, path string, maxResults int, withToken func(token string) any) ([]Place, error) {
	var places []Place
	token := ""

	for len(places) < maxResults {
		if token != "" {
			// Drain any idle-accrued token first so every continuation
			// fetch waits out a full interval, the first one included.
			c.pager.Allow()
			if err := c.pager.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "googleplaces: pacing wait")
			}
		}

		page, err := c.post(ctx, path, withToken(token))
		if err != nil {
			return nil, err
		}

		places = append(places, page.Places...)
		token = page.NextPageToken
		if token == "" {
			break
		}
	}

	if len(places) > maxResults {
		places = places[:maxResults]
	}
	return places, nil
}

func (c *httpClient) post(ctx context.Context, path string, payload any) (*searchResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "googleplaces: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "googleplaces: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "googleplaces: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "googleplaces: read response"), 0)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("googleplaces: unexpected status %d: %s", resp.StatusCode, truncate(respBody, 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result searchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "googleplaces: unmarshal response")
	}
	return &result, nil
}

func clampRadius(radiusM int) float64 {
	return float64(min(radiusM, MaxRadiusM))
}

func maxResultsOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxResults
	}
	return n
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
