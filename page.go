package shown

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// nextLinkProperty is the collection-response property carrying the opaque
// continuation URL for the next page.
const nextLinkProperty = "@odata.nextLink"

type collectionPage[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// PageIterator walks a paginated collection. It accumulates every item
// fetched so far and can resume from a serialized (items, continuation
// link) pair without replaying the first page.
//
// A PageIterator is owned by a single logical operation and is not safe for
// concurrent use.
type PageIterator[T any] struct {
	client   Client
	value    []T
	nextLink string
	version  string
}

// NewPageIterator issues the first page request and wraps the response.
func NewPageIterator[T any](ctx context.Context, client Client, request Request) (*PageIterator[T], error) {
	content, err := request.Get(ctx)
	if err != nil {
		return nil, err
	}

	var page collectionPage[T]
	if err := json.Unmarshal(content, &page); err != nil {
		return nil, fmt.Errorf("decode collection page: %w", err)
	}

	return &PageIterator[T]{
		client:   client,
		value:    page.Value,
		nextLink: page.NextLink,
		version:  client.Version(),
	}, nil
}

// PageIteratorFromValue replays a previously captured partial result. No
// request is issued; iteration resumes from nextLink on the next call to
// Next. An empty nextLink yields an already-exhausted iterator.
func PageIteratorFromValue[T any](client Client, value []T, nextLink string) *PageIterator[T] {
	return &PageIterator[T]{
		client:   client,
		value:    value,
		nextLink: nextLink,
		version:  client.Version(),
	}
}

// Value returns every item accumulated across all fetched pages. The slice
// only ever grows; callers must not mutate it.
func (it *PageIterator[T]) Value() []T {
	return it.value
}

// HasNext reports whether a continuation link is pending. Once the server
// omits the link, HasNext stays false permanently; the absence of a
// continuation token is authoritative.
func (it *PageIterator[T]) HasNext() bool {
	return it.nextLink != ""
}

// NextLink exposes the raw continuation link so a partially consumed
// collection can be serialized into a cache entry and later resumed with
// PageIteratorFromValue.
func (it *PageIterator[T]) NextLink() string {
	return it.nextLink
}

// Next fetches the next page and returns only the newly fetched increment,
// leaving Value to report the accumulated whole. It returns (nil, nil) when
// there is nothing further to fetch or the next page carried zero items;
// both terminate iteration without error.
func (it *PageIterator[T]) Next(ctx context.Context) ([]T, error) {
	if it.nextLink == "" {
		return nil, nil
	}

	content, err := it.client.API(it.nextResource()).Get(ctx)
	if err != nil {
		return nil, err
	}

	var page collectionPage[T]
	if err := json.Unmarshal(content, &page); err != nil {
		return nil, fmt.Errorf("decode collection page: %w", err)
	}

	if len(page.Value) == 0 {
		// A page with zero items terminates iteration the same way a
		// missing continuation link does.
		it.nextLink = ""
		return nil, nil
	}

	it.nextLink = page.NextLink
	it.value = append(it.value, page.Value...)
	return page.Value, nil
}

// nextResource derives a relative resource path from the stored
// continuation link by stripping everything up to and including the API
// version segment. Continuation links are otherwise opaque.
func (it *PageIterator[T]) nextResource() string {
	marker := "/" + it.version
	if _, after, found := strings.Cut(it.nextLink, marker); found {
		return after
	}
	return it.nextLink
}
