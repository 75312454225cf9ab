package patterns

import "strings"

// cacheKeyBase namespaces dataset records in the shared tier. The URL shape
// keys records per deployment surface without colliding with other tenants
// of the same cache.
const cacheKeyBase = "https://patterns.cache/v1/"

// CacheKey derives the shared-tier key for a credential. Only a short
// credential prefix goes into the key so full secrets never reach cache
// servers or their logs. Without a credential a fixed default key is shared.
func CacheKey(apiKey string) string {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return cacheKeyBase + "default"
	}
	if len(apiKey) > 8 {
		apiKey = apiKey[:8]
	}
	return cacheKeyBase + apiKey
}
