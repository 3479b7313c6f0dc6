package weather

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"agrisense/internal/cache"
)

// CachedProvider memoizes seasonal averages in the result cache, keyed by
// rounded coordinates plus the season. Cache failures degrade to a direct
// fetch, never to a request failure.
type CachedProvider struct {
	inner Provider
	store *cache.Store
	ttl   time.Duration
}

func NewCachedProvider(inner Provider, store *cache.Store, ttl time.Duration) *CachedProvider {
	return &CachedProvider{inner: inner, store: store, ttl: ttl}
}

func (c *CachedProvider) SeasonalAverages(ctx context.Context, lat, lon float64, season string) (Averages, error) {
	key := cache.GeoFingerprint("weather", lat, lon, map[string]string{"season": season})

	if raw, ok, err := c.store.Get(key); err != nil {
		log.Warn().Err(err).Msg("failed to read weather cache")
	} else if ok {
		var cached Averages
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	avg, err := c.inner.SeasonalAverages(ctx, lat, lon, season)
	if err != nil {
		return Averages{}, err
	}

	if raw, err := json.Marshal(avg); err == nil {
		if err := c.store.Set(key, raw, c.ttl); err != nil {
			log.Warn().Err(err).Msg("failed to cache weather averages")
		}
	}
	return avg, nil
}
