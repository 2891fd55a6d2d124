package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Geo set keys.
const (
	mechanicCurrentKey = "geo:mechanics:current"
	mechanicGarageKey  = "geo:mechanics:garage"
	requestPickupKey   = "geo:requests:pickup"
)

// GeoSet selects which point of a mechanic is searched.
type GeoSet string

const (
	GeoCurrent GeoSet = "current"
	GeoGarage  GeoSet = "garage"
)

func (s GeoSet) key() string {
	if s == GeoGarage {
		return mechanicGarageKey
	}
	return mechanicCurrentKey
}

// GeoHit is a member found by a radius query.
type GeoHit struct {
	ID     string
	Lon    float64
	Lat    float64
	DistKm float64
}

// GeoIndex keeps mechanic and pickup coordinates in Redis GEO sets.
// Postgres holds the authoritative coordinates; these sets only answer
// radius queries.
type GeoIndex struct {
	client *redis.Client
}

// NewGeoIndex creates a new GeoIndex.
func NewGeoIndex(client *redis.Client) *GeoIndex {
	return &GeoIndex{client: client}
}

// SetMechanic stores a mechanic point in the given set using GEOADD.
func (g *GeoIndex) SetMechanic(ctx context.Context, set GeoSet, mechanicID string, lon, lat float64) error {
	return g.client.GeoAdd(ctx, set.key(), &redis.GeoLocation{
		Name:      mechanicID,
		Longitude: lon,
		Latitude:  lat,
	}).Err()
}

// RemoveMechanic drops a mechanic from one set.
func (g *GeoIndex) RemoveMechanic(ctx context.Context, set GeoSet, mechanicID string) error {
	return g.client.ZRem(ctx, set.key(), mechanicID).Err()
}

// NearMechanics returns mechanics in set within radiusKm, nearest first.
func (g *GeoIndex) NearMechanics(ctx context.Context, set GeoSet, lon, lat, radiusKm float64) ([]GeoHit, error) {
	return g.near(ctx, set.key(), lon, lat, radiusKm)
}

// SetRequest stores a request pickup point.
func (g *GeoIndex) SetRequest(ctx context.Context, requestID string, lon, lat float64) error {
	return g.client.GeoAdd(ctx, requestPickupKey, &redis.GeoLocation{
		Name:      requestID,
		Longitude: lon,
		Latitude:  lat,
	}).Err()
}

// RemoveRequest drops a request pickup point.
func (g *GeoIndex) RemoveRequest(ctx context.Context, requestID string) error {
	return g.client.ZRem(ctx, requestPickupKey, requestID).Err()
}

// NearRequests returns request pickups within radiusKm, nearest first.
func (g *GeoIndex) NearRequests(ctx context.Context, lon, lat, radiusKm float64) ([]GeoHit, error) {
	return g.near(ctx, requestPickupKey, lon, lat, radiusKm)
}

func (g *GeoIndex) near(ctx context.Context, key string, lon, lat, radiusKm float64) ([]GeoHit, error) {
	results, err := g.client.GeoRadius(ctx, key, lon, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	hits := make([]GeoHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, GeoHit{
			ID:     r.Name,
			Lon:    r.Longitude,
			Lat:    r.Latitude,
			DistKm: r.Dist,
		})
	}
	return hits, nil
}
