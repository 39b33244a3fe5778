package shown

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Traegervector/shown/store"
)

// The schemas below namespace every store the accessors use. Bumping a
// schema's version string invalidates everything previously persisted under
// its name; the provider drops mismatched data when the schema is opened.
var (
	SchemaUsers = store.Schema{
		Name:    "users",
		Version: "2",
		Stores:  []string{StoreUsers, StoreUserQueries},
	}

	SchemaPhotos = store.Schema{
		Name:    "photos",
		Version: "2",
		Stores:  []string{StoreContacts, StoreUsers, StoreGroups, StoreTeams},
	}

	SchemaPresence = store.Schema{
		Name:    "presence",
		Version: "1",
		Stores:  []string{StorePresence},
	}

	SchemaGroups = store.Schema{
		Name:    "groups",
		Version: "1",
		Stores:  []string{StoreGroups, StoreGroupQueries},
	}

	SchemaFiles = store.Schema{
		Name:    "files",
		Version: "1",
		Stores:  []string{StoreDriveFiles, StoreInsightFiles},
	}

	SchemaFileLists = store.Schema{
		Name:    "file-lists",
		Version: "1",
		Stores:  []string{StoreFileLists},
	}

	SchemaResponses = store.Schema{
		Name:    "responses",
		Version: "1",
		Stores:  []string{StoreResponses},
	}
)

// Store names used by the schemas above. A name may appear in more than one
// schema; the schema namespaces it.
const (
	StoreUsers        = "users"
	StoreUserQueries  = "usersQuery"
	StoreContacts     = "contacts"
	StoreGroups       = "groups"
	StoreGroupQueries = "groupsQuery"
	StoreTeams        = "teams"
	StorePresence     = "presence"
	StoreDriveFiles   = "driveFiles"
	StoreInsightFiles = "insightFiles"
	StoreFileLists    = "fileLists"
	StoreResponses    = "responses"
)

// Caches binds a cache policy to a storage provider and hands out the stores
// the accessor layer reads and writes. It is shared between accessors;
// individual stores tolerate concurrent use.
type Caches struct {
	Config   *CacheConfig
	Provider store.Provider

	// Logger receives store-open and store-access failures. If nil the
	// default logger is used.
	Logger *logrus.Logger

	// Clock is replaceable in tests. If nil, time.Now is used.
	Clock func() time.Time
}

// NewCaches builds a registry over the given provider using the default
// cache policy.
func NewCaches(provider store.Provider) *Caches {
	return &Caches{
		Config:   NewCacheConfig(),
		Provider: provider,
	}
}

func (c *Caches) logger() *logrus.Logger {
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	return c.Logger
}

func (c *Caches) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

func (c *Caches) config() *CacheConfig {
	if c.Config == nil {
		c.Config = NewCacheConfig()
	}
	return c.Config
}

// open returns the named store, or nil if the provider cannot supply it.
// A nil store is treated as a cache miss by every caller.
func (c *Caches) open(schema store.Schema, storeName string) store.Store {
	s, err := c.Provider.Open(schema, storeName)
	if err != nil {
		c.logger().WithError(err).WithFields(logrus.Fields{
			"schema": schema.Name,
			"store":  storeName,
		}).Error("Unable to open cache store")
		return nil
	}
	return s
}

// getCached reads key from the store and decodes it into T. It returns the
// decoded value only when the entry exists and is still fresh for the given
// category. Every failure mode (open failure, read failure, stale entry,
// decode failure) converges to a miss.
func getCached[T any](ctx context.Context, c *Caches, schema store.Schema, storeName, key string, category StoreConfig) *T {
	s := c.open(schema, storeName)
	if s == nil {
		return nil
	}

	entry, err := s.Get(ctx, key)
	if err != nil {
		c.logger().WithError(err).WithFields(logrus.Fields{
			"schema": schema.Name,
			"store":  storeName,
			"key":    key,
		}).Warning("Cache read failed, treating as miss")
		return nil
	}
	if entry == nil {
		return nil
	}

	if !c.config().IsFresh(category, entry.TimeCached, c.now()) {
		return nil
	}

	var value T
	if err := json.Unmarshal(entry.Value, &value); err != nil {
		c.logger().WithError(err).WithFields(logrus.Fields{
			"schema": schema.Name,
			"store":  storeName,
			"key":    key,
		}).Warning("Cache entry is not decodable, treating as miss")
		return nil
	}

	return &value
}

// putCached encodes value and writes it under key. Write failures are logged
// and swallowed; a value that could not be cached is still a valid result
// for the caller.
func putCached[T any](ctx context.Context, c *Caches, schema store.Schema, storeName, key string, value T) {
	s := c.open(schema, storeName)
	if s == nil {
		return
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		c.logger().WithError(err).WithFields(logrus.Fields{
			"schema": schema.Name,
			"store":  storeName,
			"key":    key,
		}).Warning("Unable to encode value for caching")
		return
	}

	if err := s.Put(ctx, key, encoded); err != nil {
		c.logger().WithError(err).WithFields(logrus.Fields{
			"schema": schema.Name,
			"store":  storeName,
			"key":    key,
		}).Warning("Cache write failed")
	}
}
