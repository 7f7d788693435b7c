package googleplaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/around-me/discovery/internal/resilience"
)

func testParams() SearchParams {
	return SearchParams{
		Lat:        37.7749,
		Lng:        -122.4194,
		RadiusM:    3000,
		Query:      "ramen",
		MaxResults: 60,
	}
}

func TestSearchText_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.priceLevel")

		var body searchTextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ramen", body.TextQuery)
		assert.Equal(t, 20, body.MaxResultCount)
		assert.InDelta(t, 3000.0, body.LocationBias.Circle.Radius, 0.001)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(searchResponse{
			Places: []Place{
				{
					ID:              "p1",
					DisplayName:     DisplayName{Text: "Marufuku Ramen"},
					Location:        LatLng{Latitude: 37.785, Longitude: -122.43},
					Rating:          4.6,
					UserRatingCount: 3120,
					PriceLevel:      "PRICE_LEVEL_MODERATE",
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	places, err := client.SearchText(context.Background(), testParams())

	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, "Marufuku Ramen", places[0].DisplayName.Text)
	assert.Equal(t, 3120, places[0].UserRatingCount)
}

func TestSearchText_PaginatesUntilTokenExhausted(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body searchTextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		resp := searchResponse{Places: []Place{{ID: "p", DisplayName: DisplayName{Text: "Place"}}}}
		if calls == 1 {
			assert.Empty(t, body.PageToken)
			resp.NextPageToken = "page-2"
		} else {
			assert.Equal(t, "page-2", body.PageToken)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithPageInterval(time.Millisecond))
	places, err := client.SearchText(context.Background(), testParams())

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, places, 2)
}

func TestSearchText_PacesFirstContinuationFetch(t *testing.T) {
	var arrivals []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		arrivals = append(arrivals, time.Now())
		resp := searchResponse{Places: []Place{{ID: "p"}}}
		if len(arrivals) == 1 {
			resp.NextPageToken = "page-2"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	const interval = 150 * time.Millisecond
	client := NewClient("test-key", WithBaseURL(srv.URL), WithPageInterval(interval))
	_, err := client.SearchText(context.Background(), testParams())

	require.NoError(t, err)
	require.Len(t, arrivals, 2)
	// The API rejects unpaced continuation fetches, so the very first
	// pageToken request must already wait out the interval.
	assert.GreaterOrEqual(t, arrivals[1].Sub(arrivals[0]), 100*time.Millisecond)
}

func TestSearchText_StopsAtMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := searchResponse{NextPageToken: "more"}
		for i := 0; i < 20; i++ {
			resp.Places = append(resp.Places, Place{ID: "p"})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	params := testParams()
	params.MaxResults = 30

	client := NewClient("test-key", WithBaseURL(srv.URL), WithPageInterval(time.Millisecond))
	places, err := client.SearchText(context.Background(), params)

	require.NoError(t, err)
	assert.Len(t, places, 30)
}

func TestSearchNearby_SendsCategoryAndClampsRadius(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/places:searchNearby", r.URL.Path)

		var body searchNearbyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"park"}, body.IncludedTypes)
		assert.InDelta(t, float64(MaxRadiusM), body.LocationRestriction.Circle.Radius, 0.001)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.SearchNearby(context.Background(), SearchParams{
		Lat: 37.7749, Lng: -122.4194, RadiusM: 80000, Category: "park",
	})
	require.NoError(t, err)
}

func TestSearch_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.SearchText(context.Background(), testParams())

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSearch_AuthErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "invalid API key"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.SearchText(context.Background(), testParams())

	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "403")
}
