package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/around-me/discovery/internal/features"
	"github.com/around-me/discovery/internal/geo"
	"github.com/around-me/discovery/internal/model"
	"github.com/around-me/discovery/pkg/yelp"
)

// yelpPriceLevels maps Yelp's dollar-sign strings onto the common 1–4 scale.
var yelpPriceLevels = map[string]int{
	"$":    1,
	"$$":   2,
	"$$$":  3,
	"$$$$": 4,
}

// YelpProvider adapts the Yelp Fusion client to the Provider interface.
type YelpProvider struct {
	client yelp.Client
}

// NewYelpProvider creates a YelpProvider over the given client.
func NewYelpProvider(client yelp.Client) *YelpProvider {
	return &YelpProvider{client: client}
}

// Name implements Provider.
func (p *YelpProvider) Name() string {
	return model.ProviderYelp
}

// Search implements Provider. Yelp has a single search endpoint; the query
// text becomes the term and the category maps directly.
func (p *YelpProvider) Search(ctx context.Context, q Query) ([]model.ProviderRecord, error) {
	businesses, err := p.client.Search(ctx, yelp.SearchParams{
		Lat:        q.Lat,
		Lng:        q.Lng,
		RadiusM:    q.RadiusM,
		Term:       q.Text,
		Category:   q.Category,
		MaxResults: q.MaxResults,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]model.ProviderRecord, 0, len(businesses))
	for _, business := range businesses {
		if record, ok := normalizeYelpBusiness(business, now); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

// normalizeYelpBusiness is a pure mapping from the Yelp wire shape to
// ProviderRecord. Businesses without a name or coordinates are dropped.
func normalizeYelpBusiness(business yelp.Business, fetchedAt time.Time) (model.ProviderRecord, bool) {
	name := strings.TrimSpace(business.Name)
	if name == "" || (business.Coordinates.Latitude == 0 && business.Coordinates.Longitude == 0) {
		return model.ProviderRecord{}, false
	}
	lat, lng := geo.Clamp(business.Coordinates.Latitude, business.Coordinates.Longitude)

	var category string
	types := make([]string, 0, len(business.Categories))
	for _, c := range business.Categories {
		types = append(types, c.Alias)
	}
	if len(types) > 0 {
		category = types[0]
	}

	record := model.ProviderRecord{
		Provider:    model.ProviderYelp,
		ProviderID:  business.ID,
		Name:        name,
		Category:    category,
		Lat:         lat,
		Lng:         lng,
		Rating:      business.Rating,
		ReviewCount: business.ReviewCount,
		Phone:       business.Phone,
		Website:     business.URL,
		MapsURL:     business.URL,
		Address:     yelpAddress(business.Location),
		Types:       types,
		FetchedAt:   fetchedAt,
	}

	if level, ok := yelpPriceLevels[business.Price]; ok {
		record.PriceLevel = &level
	}

	text := strings.Join(append([]string{name}, append(types, titlesOf(business.Categories)...)...), " ")
	if found := features.FromText(text); len(found) > 0 {
		record.Features = found
	}

	return record, true
}

func yelpAddress(loc yelp.Location) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{loc.Address1, loc.City, loc.State, loc.ZipCode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func titlesOf(categories []yelp.Category) []string {
	titles := make([]string, 0, len(categories))
	for _, c := range categories {
		titles = append(titles, c.Title)
	}
	return titles
}
