package yelp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/around-me/discovery/internal/resilience"
)

func testParams() SearchParams {
	return SearchParams{
		Lat:        37.7749,
		Lng:        -122.4194,
		RadiusM:    3000,
		Term:       "coffee",
		MaxResults: 60,
	}
}

func TestSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/businesses/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "coffee", r.URL.Query().Get("term"))
		assert.Equal(t, "3000", r.URL.Query().Get("radius"))
		assert.Equal(t, "best_match", r.URL.Query().Get("sort_by"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(searchResponse{
			Businesses: []Business{
				{
					ID:          "b1",
					Name:        "Blue Bottle Coffee",
					Coordinates: Coordinates{Latitude: 37.776, Longitude: -122.423},
					Rating:      4.5,
					ReviewCount: 903,
					Price:       "$$",
					Categories:  []Category{{Alias: "coffee", Title: "Coffee & Tea"}},
				},
			},
			Total: 1,
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	businesses, err := client.Search(context.Background(), testParams())

	require.NoError(t, err)
	require.Len(t, businesses, 1)
	assert.Equal(t, "Blue Bottle Coffee", businesses[0].Name)
	assert.Equal(t, "$$", businesses[0].Price)
}

func TestSearch_PaginatesWithOffset(t *testing.T) {
	var offsets []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
		require.NoError(t, err)
		offsets = append(offsets, offset)

		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		require.NoError(t, err)

		// First page is full, second page is short.
		count := limit
		if offset > 0 {
			count = 3
		}
		resp := searchResponse{Total: 53}
		for i := 0; i < count; i++ {
			resp.Businesses = append(resp.Businesses, Business{ID: "b"})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	params := testParams()
	params.MaxResults = 100

	client := NewClient("test-key", WithBaseURL(srv.URL))
	businesses, err := client.Search(context.Background(), params)

	require.NoError(t, err)
	assert.Equal(t, []int{0, 50}, offsets)
	assert.Len(t, businesses, 53)
}

func TestSearch_ClampsRadius(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "40000", r.URL.Query().Get("radius"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	params := testParams()
	params.RadiusM = 80000

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), params)
	require.NoError(t, err)
}

func TestSearch_EmptyFirstPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	businesses, err := client.Search(context.Background(), testParams())

	require.NoError(t, err)
	assert.Empty(t, businesses)
}

func TestSearch_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), testParams())

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSearch_AuthErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), testParams())

	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}
