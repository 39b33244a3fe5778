package shown

import (
	"github.com/sirupsen/logrus"
)

// Graph is the accessor layer: per-entity read helpers that wrap remote
// calls with a cache check in front and a cache write behind. Every cache
// failure degrades to a remote fetch; callers never see storage errors.
type Graph struct {
	Client Client
	Caches *Caches

	// Logger defaults to the standard logger on first use.
	Logger *logrus.Logger
}

// NewGraph binds the accessor layer to a client and cache registry.
func NewGraph(client Client, caches *Caches) *Graph {
	return &Graph{
		Client: client,
		Caches: caches,
	}
}

func (g *Graph) logger() *logrus.Logger {
	if g.Logger == nil {
		g.Logger = logrus.New()
	}
	return g.Logger
}

func (g *Graph) config() *CacheConfig {
	return g.Caches.config()
}
