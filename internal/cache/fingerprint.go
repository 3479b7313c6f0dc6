package cache

import (
	"fmt"
	"sort"
	"strings"
)

// GeoFingerprint derives a cache key from rounded coordinates plus the other
// request parameters. Coordinates round to 2 decimal places (~1km) so GPS
// jitter between requests does not multiply API calls.
func GeoFingerprint(prefix string, lat, lon float64, params map[string]string) string {
	return fmt.Sprintf("%s|lat=%.2f|lon=%.2f%s", prefix, lat, lon, serialize(params))
}

// Fingerprint derives a cache key from request parameters alone.
func Fingerprint(prefix string, params map[string]string) string {
	return prefix + serialize(params)
}

func serialize(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	return b.String()
}
