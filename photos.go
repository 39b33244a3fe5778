package shown

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// CachedPhoto is the cache record for one resource's photo.
type CachedPhoto struct {
	ETag string `json:"eTag,omitempty"`

	// Photo is a data URI holding the base64-encoded image.
	Photo string `json:"photo"`
}

// GetUserPhoto returns the user's photo as a data URI, or "" when the user
// has none.
func (g *Graph) GetUserPhoto(ctx context.Context, userID string) (string, error) {
	return g.getPhoto(ctx, StoreUsers, userID, "/users/"+userID, []string{"user.readbasic.all"})
}

// GetContactPhoto returns a contact's photo as a data URI, or "" when the
// contact has none.
func (g *Graph) GetContactPhoto(ctx context.Context, contactID string) (string, error) {
	return g.getPhoto(ctx, StoreContacts, contactID, "/me/contacts/"+contactID, []string{"contacts.read"})
}

// GetGroupPhoto returns a group's photo as a data URI, or "" when the group
// has none.
func (g *Graph) GetGroupPhoto(ctx context.Context, groupID string) (string, error) {
	return g.getPhoto(ctx, StoreGroups, groupID, "/groups/"+groupID, []string{"group.read.all"})
}

// GetTeamPhoto returns a team's photo as a data URI, or "" when the team
// has none.
func (g *Graph) GetTeamPhoto(ctx context.Context, teamID string) (string, error) {
	return g.getPhoto(ctx, StoreTeams, teamID, "/teams/"+teamID, []string{"team.readbasic.all"})
}

func (g *Graph) getPhoto(ctx context.Context, storeName, key, resource string, scopes []string) (string, error) {
	cacheEnabled := g.config().IsEnabled(g.config().Photos)

	if cacheEnabled {
		if cached := getCached[CachedPhoto](ctx, g.Caches, SchemaPhotos, storeName, key, g.config().Photos); cached != nil {
			return cached.Photo, nil
		}
	}

	photo, etag, err := g.fetchPhoto(ctx, resource, scopes)
	if err != nil {
		return "", err
	}

	if cacheEnabled {
		putCached(ctx, g.Caches, SchemaPhotos, storeName, key, CachedPhoto{ETag: etag, Photo: photo})
	}

	return photo, nil
}

// fetchPhoto downloads <resource>/photo/$value and re-encodes the binary
// body as a data URI. A 404 means the resource has no photo and yields "".
func (g *Graph) fetchPhoto(ctx context.Context, resource string, scopes []string) (photo, etag string, err error) {
	resp, err := g.Client.API(resource + "/photo/$value").Scopes(scopes...).GetRaw(ctx)
	if err != nil {
		var graphErr *GraphError
		if errors.As(err, &graphErr) && graphErr.StatusCode == http.StatusNotFound {
			return "", "", nil
		}
		return "", "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read photo for %q: %w", resource, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	photo = "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(raw)
	return photo, resp.Header.Get("ETag"), nil
}

// PhotoForResource enqueues <resource>/photo/$value into the caller's batch
// under id. The batch engine re-encodes the binary sub-response into a data
// URI, so the eventual map entry's content is the same shape fetchPhoto
// produces.
func (g *Graph) PhotoForResource(batch *Batch, id, resource string, scopes []string) {
	batch.Get(id, strings.TrimRight(resource, "/")+"/photo/$value", scopes, nil)
}
