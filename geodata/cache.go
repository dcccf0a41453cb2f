package geodata

import (
	"context"
	"strings"

	"listing-sync/models"
	"listing-sync/utils"
)

// Geocoder turns an address into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address, zip string) (models.Coords, error)
}

// CoordsCache stores geocoding answers between runs.
type CoordsCache interface {
	GetCoords(ctx context.Context, key string) (models.Coords, bool, error)
	PutCoords(ctx context.Context, key string, c models.Coords) error
}

// CachedGeocoder consults the cache before asking the wrapped Geocoder.
// Cache failures are logged and never fail the lookup.
type CachedGeocoder struct {
	next   Geocoder
	cache  CoordsCache
	logger *utils.Logger
}

func NewCachedGeocoder(next Geocoder, cache CoordsCache, logger *utils.Logger) *CachedGeocoder {
	return &CachedGeocoder{next: next, cache: cache, logger: logger}
}

func (g *CachedGeocoder) Geocode(ctx context.Context, address, zip string) (models.Coords, error) {
	key := cacheKey(address, zip)

	c, ok, err := g.cache.GetCoords(ctx, key)
	switch {
	case err != nil:
		g.logger.Warn("[geocache] read %q: %v", key, err)
	case ok:
		g.logger.Debug("[geocache] hit %q", key)
		return c, nil
	}

	c, err = g.next.Geocode(ctx, address, zip)
	if err != nil {
		return models.Coords{}, err
	}
	if err := g.cache.PutCoords(ctx, key, c); err != nil {
		g.logger.Warn("[geocache] write %q: %v", key, err)
	}
	return c, nil
}

func cacheKey(address, zip string) string {
	key := strings.ToUpper(strings.Join(strings.Fields(address), " "))
	if zip != "" {
		key += "|" + zip
	}
	return key
}
