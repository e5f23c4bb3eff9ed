package config

import "os"

// CacheConfig defines settings for the mapping read cache.  When Enabled is
// false or Redis is unreachable, an in-process cache is used instead.
// Prefix namespaces keys when several deployments share one Redis.  Entry
// lifetime is Config.MappingCacheTTL.
type CacheConfig struct {
    Enabled bool
    Prefix  string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
func LoadCacheConfig() CacheConfig {
    return CacheConfig{
        Enabled: envBool("CACHE_ENABLED", true),
        Prefix:  os.Getenv("CACHE_PREFIX"),
    }
}
