package shown

import (
	"context"
	"encoding/json"
)

// cachedResponse stores an arbitrary GET response verbatim.
type cachedResponse struct {
	Response json.RawMessage `json:"response"`
}

// GetResponse performs a GET for an arbitrary resource, caching the raw
// response body keyed by the resource path. This is the escape hatch for
// resources that have no dedicated accessor.
func (g *Graph) GetResponse(ctx context.Context, resource string, scopes []string) (json.RawMessage, error) {
	cacheEnabled := g.config().IsEnabled(g.config().Responses)
	cacheKey := normalizeResource(resource)

	if cacheEnabled {
		if cached := getCached[cachedResponse](ctx, g.Caches, SchemaResponses, StoreResponses, cacheKey, g.config().Responses); cached != nil {
			return cached.Response, nil
		}
	}

	content, err := g.Client.API(resource).Scopes(scopes...).Get(ctx)
	if err != nil {
		return nil, err
	}

	if cacheEnabled {
		putCached(ctx, g.Caches, SchemaResponses, StoreResponses, cacheKey, cachedResponse{Response: content})
	}

	return content, nil
}
