package app

import (
	"context"
	"fmt"
	"time"

	"tourbook/internal/domain"
)

// TourCatalog serves tour reads through the cache. Tours are read-only from
// the booking flow's point of view, so a TTL is the only invalidation.
type TourCatalog struct {
	repo     domain.TourRepository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewTourCatalog(r domain.TourRepository, c domain.Cache, ttl time.Duration) *TourCatalog {
	return &TourCatalog{repo: r, cache: c, cacheTTL: ttl}
}

func tourKey(id string) string { return fmt.Sprintf("tour:%s", id) }

func (s *TourCatalog) GetTour(ctx context.Context, id string) (domain.Tour, error) {
	key := tourKey(id)
	var t domain.Tour
	if s.cache != nil {
		if ok, err := s.cache.Get(ctx, key, &t); err == nil && ok {
			return t, nil
		}
	}
	t, err := s.repo.GetTour(ctx, id)
	if err != nil {
		return domain.Tour{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, t, int(s.cacheTTL.Seconds()))
	}
	return t, nil
}
