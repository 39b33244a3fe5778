package shown

import (
	"context"
	"encoding/json"
	"strconv"
)

// Group is a directory group record.
type Group struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description,omitempty"`
	GroupTypes  []string `json:"groupTypes,omitempty"`
}

// cachedGroupQuery stores the raw results of one group search so repeated
// identical searches replay without a remote call.
type cachedGroupQuery struct {
	MaxResults int               `json:"maxResults"`
	Results    []json.RawMessage `json:"results"`
}

var groupScopes = []string{"group.read.all"}

// GetGroup returns one group by id, consulting the groups cache first.
func (g *Graph) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	cacheEnabled := g.config().IsEnabled(g.config().Groups)

	if cacheEnabled {
		if cached := getCached[Group](ctx, g.Caches, SchemaGroups, StoreGroups, groupID, g.config().Groups); cached != nil {
			return cached, nil
		}
	}

	content, err := g.Client.API("/groups/" + groupID).Scopes(groupScopes...).Get(ctx)
	if err != nil {
		return nil, err
	}

	var group Group
	if err := json.Unmarshal(content, &group); err != nil {
		return nil, err
	}

	if cacheEnabled {
		putCached(ctx, g.Caches, SchemaGroups, StoreGroups, groupID, group)
	}

	return &group, nil
}

// FindGroups searches groups whose display name or mail starts with query,
// returning at most top results. Query results are cached under the
// (query, top) pair.
func (g *Graph) FindGroups(ctx context.Context, query string, top int) ([]Group, error) {
	if top <= 0 {
		top = 10
	}

	cacheEnabled := g.config().IsEnabled(g.config().Groups)
	cacheKey := query + ":" + strconv.Itoa(top)

	if cacheEnabled {
		if cached := getCached[cachedGroupQuery](ctx, g.Caches, SchemaGroups, StoreGroupQueries, cacheKey, g.config().Groups); cached != nil {
			return decodeGroups(cached.Results)
		}
	}

	request := g.Client.API("/groups").
		Scopes(groupScopes...).
		Top(top)
	if query != "" {
		request = request.Filter("startswith(displayName,'" + query + "') or startswith(mail,'" + query + "')")
	}

	content, err := request.Get(ctx)
	if err != nil {
		return nil, err
	}

	var page collectionPage[json.RawMessage]
	if err := json.Unmarshal(content, &page); err != nil {
		return nil, err
	}

	if cacheEnabled {
		putCached(ctx, g.Caches, SchemaGroups, StoreGroupQueries, cacheKey, cachedGroupQuery{
			MaxResults: top,
			Results:    page.Value,
		})
	}

	return decodeGroups(page.Value)
}

func decodeGroups(raw []json.RawMessage) ([]Group, error) {
	groups := make([]Group, 0, len(raw))
	for _, item := range raw {
		var group Group
		if err := json.Unmarshal(item, &group); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}
