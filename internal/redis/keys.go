package redis

import "strings"

// Key families reported to tracing. Unknown keys map to FamilyOther.
const (
	FamilyGeoMechanics  = "geo_mechanics"
	FamilyGeoRequests   = "geo_requests"
	FamilyMechanicLock  = "mechanic_lock"
	FamilyMechanicCache = "mechanic_cache"
	FamilyIdempotency   = "idempotency"
	FamilyConnectLimit  = "ws_connect_limit"
	FamilyRealtimeBus   = "realtime_bus"
	FamilyOther         = "redis"
)

// ConnectLimitPrefix namespaces the websocket handshake counters.
const ConnectLimitPrefix = "ws:connect"

var keyFamilies = []struct {
	prefix string
	family string
}{
	{"geo:mechanics:", FamilyGeoMechanics},
	{"geo:requests:", FamilyGeoRequests},
	{"lock:mechanic:", FamilyMechanicLock},
	{mechanicCachePrefix, FamilyMechanicCache},
	{responsePrefix, FamilyIdempotency},
	{ConnectLimitPrefix + ":", FamilyConnectLimit},
	{busChannel, FamilyRealtimeBus},
}

// KeyFamily names the family a key or channel belongs to.
func KeyFamily(key string) string {
	for _, f := range keyFamilies {
		if strings.HasPrefix(key, f.prefix) {
			return f.family
		}
	}
	return FamilyOther
}
