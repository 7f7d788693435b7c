package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/around-me/discovery/internal/features"
	"github.com/around-me/discovery/internal/geo"
	"github.com/around-me/discovery/internal/model"
	"github.com/around-me/discovery/pkg/googleplaces"
)

// googlePriceLevels maps the Places API price enum onto the common 1–4
// scale. PRICE_LEVEL_FREE has no Yelp equivalent and maps to 0.
var googlePriceLevels = map[string]int{
	"PRICE_LEVEL_FREE":           0,
	"PRICE_LEVEL_INEXPENSIVE":    1,
	"PRICE_LEVEL_MODERATE":       2,
	"PRICE_LEVEL_EXPENSIVE":      3,
	"PRICE_LEVEL_VERY_EXPENSIVE": 4,
}

// GoogleProvider adapts the Google Places client to the Provider interface.
type GoogleProvider struct {
	client googleplaces.Client
}

// NewGoogleProvider creates a GoogleProvider over the given client.
func NewGoogleProvider(client googleplaces.Client) *GoogleProvider {
	return &GoogleProvider{client: client}
}

// Name implements Provider.
func (p *GoogleProvider) Name() string {
	return model.ProviderGoogle
}

// Search implements Provider: a textQuery search when the query carries
// text, otherwise a nearby/category search.
func (p *GoogleProvider) Search(ctx context.Context, q Query) ([]model.ProviderRecord, error) {
	params := googleplaces.SearchParams{
		Lat:        q.Lat,
		Lng:        q.Lng,
		RadiusM:    q.RadiusM,
		Query:      q.Text,
		Category:   q.Category,
		MaxResults: q.MaxResults,
	}

	var places []googleplaces.Place
	var err error
	if q.Text != "" {
		places, err = p.client.SearchText(ctx, params)
	} else {
		places, err = p.client.SearchNearby(ctx, params)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]model.ProviderRecord, 0, len(places))
	for _, place := range places {
		if record, ok := normalizeGooglePlace(place, now); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

// normalizeGooglePlace is a pure mapping from the Google wire shape to
// ProviderRecord. Places without a name or location are dropped.
func normalizeGooglePlace(place googleplaces.Place, fetchedAt time.Time) (model.ProviderRecord, bool) {
	name := strings.TrimSpace(place.DisplayName.Text)
	if name == "" || (place.Location.Latitude == 0 && place.Location.Longitude == 0) {
		return model.ProviderRecord{}, false
	}
	lat, lng := geo.Clamp(place.Location.Latitude, place.Location.Longitude)

	record := model.ProviderRecord{
		Provider:    model.ProviderGoogle,
		ProviderID:  place.ID,
		Name:        name,
		Category:    place.PrimaryType,
		Lat:         lat,
		Lng:         lng,
		Rating:      place.Rating,
		ReviewCount: place.UserRatingCount,
		Phone:       place.InternationalPhoneNumber,
		Website:     place.WebsiteURI,
		MapsURL:     place.GoogleMapsURI,
		Address:     place.FormattedAddress,
		Types:       place.Types,
		Features:    googleFeatures(place),
		FetchedAt:   fetchedAt,
	}

	if level, ok := googlePriceLevels[place.PriceLevel]; ok {
		record.PriceLevel = &level
	}
	if place.CurrentOpeningHours != nil && place.CurrentOpeningHours.OpenNow != nil {
		open := *place.CurrentOpeningHours.OpenNow
		record.OpenNow = &open
	}

	return record, true
}

// googleFeatures seeds the feature map from structured amenity fields, which
// carry full confidence, then folds in weaker signals mined from the place's
// text.
func googleFeatures(place googleplaces.Place) map[string]float64 {
	structured := make(map[string]float64)
	for amenity, value := range map[string]*bool{
		"outdoor_seating":        place.OutdoorSeating,
		"good_for_children":      place.GoodForChildren,
		"good_for_groups":        place.GoodForGroups,
		"allows_dogs":            place.AllowsDogs,
		"reservable":             place.Reservable,
		"serves_vegetarian_food": place.ServesVegetarianFood,
		"takeout":                place.Takeout,
		"delivery":               place.Delivery,
	} {
		if value != nil && *value {
			structured[features.Key(amenity)] = 1.0
		}
	}

	text := strings.Join(append([]string{place.DisplayName.Text, place.PrimaryType}, place.Types...), " ")
	merged := features.Merge(structured, features.FromText(text))
	if len(merged) == 0 {
		return nil
	}
	return merged
}
