package shown

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// DriveItem is a file or folder in a drive.
type DriveItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Size         int64     `json:"size,omitempty"`
	WebURL       string    `json:"webUrl,omitempty"`
	LastModified time.Time `json:"lastModifiedDateTime,omitempty"`
}

// CachedFileList is the persisted remainder of a partially consumed file
// listing: the items fetched so far plus the continuation link needed to
// resume where the listing left off.
type CachedFileList struct {
	Files    []DriveItem `json:"files"`
	NextLink string      `json:"nextLink,omitempty"`
}

var fileScopes = []string{"files.read"}

// GetDriveItem returns one drive item by id, consulting the files cache
// first.
func (g *Graph) GetDriveItem(ctx context.Context, itemID string) (*DriveItem, error) {
	cacheEnabled := g.config().IsEnabled(g.config().Files)

	if cacheEnabled {
		if cached := getCached[DriveItem](ctx, g.Caches, SchemaFiles, StoreDriveFiles, itemID, g.config().Files); cached != nil {
			return cached, nil
		}
	}

	content, err := g.Client.API("/me/drive/items/" + itemID).Scopes(fileScopes...).Get(ctx)
	if err != nil {
		return nil, err
	}

	var item DriveItem
	if err := json.Unmarshal(content, &item); err != nil {
		return nil, err
	}

	if cacheEnabled {
		putCached(ctx, g.Caches, SchemaFiles, StoreDriveFiles, itemID, item)
	}

	return &item, nil
}

// GetFilesByInsight returns the signed-in user's insight files of the given
// kind ("trending", "used" or "shared"), cached per kind.
func (g *Graph) GetFilesByInsight(ctx context.Context, insightType string) ([]DriveItem, error) {
	cacheEnabled := g.config().IsEnabled(g.config().Files)

	if cacheEnabled {
		if cached := getCached[CachedFileList](ctx, g.Caches, SchemaFiles, StoreInsightFiles, insightType, g.config().Files); cached != nil {
			return cached.Files, nil
		}
	}

	content, err := g.Client.API("/me/insights/" + insightType).Scopes("sites.read.all").Get(ctx)
	if err != nil {
		return nil, err
	}

	var page collectionPage[DriveItem]
	if err := json.Unmarshal(content, &page); err != nil {
		return nil, err
	}

	if cacheEnabled {
		putCached(ctx, g.Caches, SchemaFiles, StoreInsightFiles, insightType, CachedFileList{Files: page.Value})
	}

	return page.Value, nil
}

// GetFilesIterator returns a page iterator over the file collection at
// resource, fetching up to pageSize items per page.
//
// When the file-list cache holds a fresh entry for (resource, pageSize) the
// iterator is replayed from the cached items and continuation link without
// issuing the first page request. Otherwise the first page is fetched live
// and its state written back, so an interrupted listing resumes instead of
// restarting.
func (g *Graph) GetFilesIterator(ctx context.Context, resource string, pageSize int) (*PageIterator[DriveItem], error) {
	if pageSize <= 0 {
		pageSize = 10
	}

	cacheEnabled := g.config().IsEnabled(g.config().FileLists)
	cacheKey := fileListCacheKey(resource, pageSize)

	if cacheEnabled {
		if cached := getCached[CachedFileList](ctx, g.Caches, SchemaFileLists, StoreFileLists, cacheKey, g.config().FileLists); cached != nil {
			return PageIteratorFromValue(g.Client, cached.Files, cached.NextLink), nil
		}
	}

	request := g.Client.API(resource).Scopes(fileScopes...).Top(pageSize)
	iterator, err := NewPageIterator[DriveItem](ctx, g.Client, request)
	if err != nil {
		return nil, err
	}

	if cacheEnabled {
		g.CacheFileList(ctx, resource, pageSize, iterator)
	}

	return iterator, nil
}

// CacheFileList persists the iterator's accumulated items and continuation
// link so a later GetFilesIterator call can resume from them. Callers
// typically invoke it after draining as many pages as they intend to show.
func (g *Graph) CacheFileList(ctx context.Context, resource string, pageSize int, iterator *PageIterator[DriveItem]) {
	if !g.config().IsEnabled(g.config().FileLists) {
		return
	}

	putCached(ctx, g.Caches, SchemaFileLists, StoreFileLists, fileListCacheKey(resource, pageSize), CachedFileList{
		Files:    iterator.Value(),
		NextLink: iterator.NextLink(),
	})
}

func fileListCacheKey(resource string, pageSize int) string {
	return normalizeResource(resource) + ":" + strconv.Itoa(pageSize)
}
