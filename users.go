package shown

import (
	"context"
	"encoding/json"
	"strconv"
)

// User is a directory user record.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
	JobTitle          string `json:"jobTitle,omitempty"`
}

type cachedUserQuery struct {
	MaxResults int               `json:"maxResults"`
	Results    []json.RawMessage `json:"results"`
}

var userScopes = []string{"user.read.all"}

// GetMe returns the signed-in user, cached under a fixed key since the
// resource has no id of its own.
func (g *Graph) GetMe(ctx context.Context) (*User, error) {
	return g.getUser(ctx, "me", "/me")
}

// GetUser returns one user by id or principal name.
func (g *Graph) GetUser(ctx context.Context, userID string) (*User, error) {
	return g.getUser(ctx, userID, "/users/"+userID)
}

func (g *Graph) getUser(ctx context.Context, key, resource string) (*User, error) {
	cacheEnabled := g.config().IsEnabled(g.config().Users)

	if cacheEnabled {
		if cached := getCached[User](ctx, g.Caches, SchemaUsers, StoreUsers, key, g.config().Users); cached != nil {
			return cached, nil
		}
	}

	content, err := g.Client.API(resource).Scopes(userScopes...).Get(ctx)
	if err != nil {
		return nil, err
	}

	var user User
	if err := json.Unmarshal(content, &user); err != nil {
		return nil, err
	}

	if cacheEnabled {
		putCached(ctx, g.Caches, SchemaUsers, StoreUsers, key, user)
	}

	return &user, nil
}

// FindUsers searches users whose display name starts with query, returning
// at most top results. Results are cached under the (query, top) pair.
func (g *Graph) FindUsers(ctx context.Context, query string, top int) ([]User, error) {
	if top <= 0 {
		top = 10
	}

	cacheEnabled := g.config().IsEnabled(g.config().Users)
	cacheKey := query + ":" + strconv.Itoa(top)

	if cacheEnabled {
		if cached := getCached[cachedUserQuery](ctx, g.Caches, SchemaUsers, StoreUserQueries, cacheKey, g.config().Users); cached != nil {
			return decodeUsers(cached.Results)
		}
	}

	request := g.Client.API("/users").
		Scopes(userScopes...).
		Top(top)
	if query != "" {
		request = request.Filter("startswith(displayName,'" + query + "')")
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
		putCached(ctx, g.Caches, SchemaUsers, StoreUserQueries, cacheKey, cachedUserQuery{
			MaxResults: top,
			Results:    page.Value,
		})
	}

	return decodeUsers(page.Value)
}

func decodeUsers(raw []json.RawMessage) ([]User, error) {
	users := make([]User, 0, len(raw))
	for _, item := range raw {
		var user User
		if err := json.Unmarshal(item, &user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}
