package model

import "github.com/around-me/discovery/internal/apperr"

// Validate rejects malformed or out-of-range requests before the pipeline
// runs. Defaults must already be applied.
func (r *SearchRequest) Validate() error {
	if r.Lat < -90 || r.Lat > 90 {
		return apperr.Validation("lat", "lat %v out of range [-90, 90]", r.Lat)
	}
	if r.Lng < -180 || r.Lng > 180 {
		return apperr.Validation("lng", "lng %v out of range [-180, 180]", r.Lng)
	}
	if r.RadiusM < MinRadiusM || r.RadiusM > MaxRadiusM {
		return apperr.Validation("radius_m", "radius_m %d out of range [%d, %d]", r.RadiusM, MinRadiusM, MaxRadiusM)
	}
	if r.TopK < MinTopK || r.TopK > MaxTopK {
		return apperr.Validation("top_k", "top_k %d out of range [%d, %d]", r.TopK, MinTopK, MaxTopK)
	}
	if err := r.Filters.validate("filters"); err != nil {
		return err
	}
	if r.MultiEntity != nil {
		if err := r.MultiEntity.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filters) validate(field string) error {
	if f == nil {
		return nil
	}
	if f.Price != nil {
		if len(f.Price) != 2 {
			return apperr.Validation(field+".price", "price range must be [lo, hi]")
		}
		lo, hi := f.Price[0], f.Price[1]
		if lo < 0 || hi > 4 || lo > hi {
			return apperr.Validation(field+".price", "invalid price range [%d, %d]", lo, hi)
		}
	}
	return nil
}

// validate checks the upstream intent structure. An unusable structure is a
// parse error, the one fatal condition of the pipeline.
func (m *MultiEntityIntent) validate() error {
	if len(m.Entities) == 0 {
		return apperr.Parse("multi_entity: no entities")
	}
	for i, e := range m.Entities {
		if e.Kind == "" {
			return apperr.Parse("multi_entity: entity %d has no kind", i)
		}
		if err := e.Filters.validate("multi_entity.entities.filters"); err != nil {
			return err
		}
	}
	for i, rel := range m.Relations {
		if rel.Kind != RelationNear && rel.Kind != RelationWithinDistance {
			return apperr.Parse("multi_entity: relation %d has unknown kind %q", i, rel.Kind)
		}
		if rel.Left < 0 || rel.Left >= len(m.Entities) || rel.Right < 0 || rel.Right >= len(m.Entities) {
			return apperr.Parse("multi_entity: relation %d references entity out of range", i)
		}
		if rel.DistanceM < 0 {
			return apperr.Parse("multi_entity: relation %d has negative distance_m", i)
		}
		if rel.Kind == RelationWithinDistance && rel.DistanceM == 0 {
			return apperr.Parse("multi_entity: relation %d requires distance_m", i)
		}
	}
	return nil
}
