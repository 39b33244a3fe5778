package shown

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// Presence is one user's availability record.
type Presence struct {
	ID           string `json:"id"`
	Availability string `json:"availability"`
	Activity     string `json:"activity"`
}

var presenceScopes = []string{"presence.read.all"}

func presenceResource(userID string) string {
	return "/users/" + userID + "/presence"
}

// GetUserPresence returns one user's presence, consulting the presence
// cache first.
func (g *Graph) GetUserPresence(ctx context.Context, userID string) (*Presence, error) {
	cacheEnabled := g.config().IsEnabled(g.config().Presence)

	if cacheEnabled {
		if cached := getCached[Presence](ctx, g.Caches, SchemaPresence, StorePresence, userID, g.config().Presence); cached != nil {
			return cached, nil
		}
	}

	content, err := g.Client.API(presenceResource(userID)).Scopes(presenceScopes...).Get(ctx)
	if err != nil {
		return nil, err
	}

	var presence Presence
	if err := json.Unmarshal(content, &presence); err != nil {
		return nil, err
	}
	if presence.ID == "" {
		presence.ID = userID
	}

	if cacheEnabled {
		putCached(ctx, g.Caches, SchemaPresence, StorePresence, userID, presence)
	}

	return &presence, nil
}

// GetUsersPresence resolves presence for many users at once. Cache misses
// are coalesced into a single batch; if the batch transport itself fails the
// same requests are re-issued individually, since one failed composite call
// must not fail every contained lookup. Users whose presence could not be
// resolved are absent from the returned map.
func (g *Graph) GetUsersPresence(ctx context.Context, userIDs []string) (map[string]*Presence, error) {
	results := make(map[string]*Presence, len(userIDs))
	cacheEnabled := g.config().IsEnabled(g.config().Presence)

	var missing []string
	seen := make(map[string]bool, len(userIDs))
	for _, userID := range userIDs {
		if seen[userID] {
			continue
		}
		seen[userID] = true

		if cacheEnabled {
			if cached := getCached[Presence](ctx, g.Caches, SchemaPresence, StorePresence, userID, g.config().Presence); cached != nil {
				results[userID] = cached
				continue
			}
		}
		missing = append(missing, userID)
	}

	if len(missing) == 0 {
		return results, nil
	}

	batch := NewBatch(g.Client)
	batch.Logger = g.Logger
	for _, userID := range missing {
		batch.Get(userID, presenceResource(userID), presenceScopes, nil)
	}

	responses, err := batch.ExecuteAll(ctx)
	if err != nil {
		g.logger().WithError(err).WithField("count", len(missing)).Warning(
			"Presence batch failed, falling back to individual requests")
		return g.usersPresenceFallback(ctx, results, missing)
	}

	for _, userID := range missing {
		response, found := responses[userID]
		if !found {
			continue
		}

		var presence Presence
		if err := json.Unmarshal(response.Content, &presence); err != nil {
			g.logger().WithError(err).WithField("user", userID).Warning("Undecodable presence sub-response")
			continue
		}
		if presence.ID == "" {
			presence.ID = userID
		}

		results[userID] = &presence
		if cacheEnabled {
			putCached(ctx, g.Caches, SchemaPresence, StorePresence, userID, presence)
		}
	}

	return results, nil
}

// usersPresenceFallback issues one request per user after a failed batch.
// Individual failures are logged and skipped, preserving the best-effort
// contract of the map result.
func (g *Graph) usersPresenceFallback(ctx context.Context, results map[string]*Presence, userIDs []string) (map[string]*Presence, error) {
	for _, userID := range userIDs {
		presence, err := g.GetUserPresence(ctx, userID)
		if err != nil {
			g.logger().WithError(err).WithFields(logrus.Fields{
				"user": userID,
			}).Warning("Unable to fetch presence individually")
			continue
		}
		results[userID] = presence
	}

	return results, nil
}
