package shown

import "time"

// DefaultInvalidationPeriod is the fallback freshness window applied to any
// cache category that does not set its own.
const DefaultInvalidationPeriod = time.Hour

// StoreConfig configures one category of cached data.
type StoreConfig struct {
	// Enabled turns caching for this category on or off. A disabled
	// category is bypassed entirely: accessors issue no store reads or
	// writes for it.
	Enabled bool

	// InvalidationPeriod is how long an entry in this category stays
	// fresh. Zero means use the config-wide default.
	InvalidationPeriod time.Duration
}

// CacheConfig carries the caching policy for every entity category. It is
// passed explicitly to the components that need it; there is no process-wide
// config singleton, so each test can construct its own.
type CacheConfig struct {
	// Enabled is the master switch. When false every category is
	// bypassed regardless of its own flag.
	Enabled bool

	// DefaultInvalidationPeriod applies to categories whose own period
	// is zero. Zero here falls back to DefaultInvalidationPeriod.
	DefaultInvalidationPeriod time.Duration

	Users     StoreConfig
	Photos    StoreConfig
	People    StoreConfig
	Groups    StoreConfig
	Presence  StoreConfig
	Files     StoreConfig
	FileLists StoreConfig
	Responses StoreConfig
}

// NewCacheConfig returns a config with every category enabled and the
// default invalidation period, except presence which expires quickly since
// availability data goes stale in minutes.
func NewCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:                   true,
		DefaultInvalidationPeriod: DefaultInvalidationPeriod,

		Users:     StoreConfig{Enabled: true},
		Photos:    StoreConfig{Enabled: true},
		People:    StoreConfig{Enabled: true},
		Groups:    StoreConfig{Enabled: true},
		Presence:  StoreConfig{Enabled: true, InvalidationPeriod: 5 * time.Minute},
		Files:     StoreConfig{Enabled: true},
		FileLists: StoreConfig{Enabled: true},
		Responses: StoreConfig{Enabled: true},
	}
}

// IsEnabled reports whether the category is effectively enabled, which
// requires both the master switch and the category flag.
func (c *CacheConfig) IsEnabled(category StoreConfig) bool {
	return c.Enabled && category.Enabled
}

// InvalidationPeriod resolves the effective freshness window for a category.
func (c *CacheConfig) InvalidationPeriod(category StoreConfig) time.Duration {
	if category.InvalidationPeriod > 0 {
		return category.InvalidationPeriod
	}
	if c.DefaultInvalidationPeriod > 0 {
		return c.DefaultInvalidationPeriod
	}
	return DefaultInvalidationPeriod
}

// IsFresh reports whether an entry written at timeCached is still fresh for
// the category at the instant now. An entry is fresh strictly less than one
// invalidation period after it was written; at exactly the period boundary
// it is stale.
func (c *CacheConfig) IsFresh(category StoreConfig, timeCached, now time.Time) bool {
	return now.Sub(timeCached) < c.InvalidationPeriod(category)
}
