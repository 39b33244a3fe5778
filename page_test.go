package shown

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	Name string `json:"name"`
}

// newPagedServer serves a collection split into the given pages, linking
// each page to the next and counting item-page hits.
func newPagedServer(t *testing.T, pages [][]testItem) (*httptest.Server, *int) {
	t.Helper()

	hits := new(int)
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1.0/items", r.URL.Path)
		*hits++

		page := 0
		if skip := r.URL.Query().Get("$skiptoken"); skip != "" {
			fmt.Sscanf(skip, "page%d", &page)
		}
		require.Less(t, page, len(pages), "requested a page past the end")

		response := map[string]any{"value": pages[page]}
		if page+1 < len(pages) {
			response[nextLinkProperty] = fmt.Sprintf("%s/v1.0/items?$skiptoken=page%d", server.URL, page+1)
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	t.Cleanup(server.Close)

	return server, hits
}

func TestPageIterator_AccumulatesAndReturnsIncrements(t *testing.T) {
	server, _ := newPagedServer(t, [][]testItem{
		{{Name: "a"}, {Name: "b"}},
		{{Name: "c"}},
	})
	client := &HTTPClient{BaseURL: server.URL}

	iterator, err := NewPageIterator[testItem](context.Background(), client, client.API("/items"))
	require.NoError(t, err)

	assert.Equal(t, []testItem{{Name: "a"}, {Name: "b"}}, iterator.Value())
	require.True(t, iterator.HasNext())

	increment, err := iterator.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []testItem{{Name: "c"}}, increment, "Next returns only the new page")
	assert.Equal(t, []testItem{{Name: "a"}, {Name: "b"}, {Name: "c"}}, iterator.Value())

	assert.False(t, iterator.HasNext(), "a page without a continuation link ends iteration")

	increment, err = iterator.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, increment, "Next past the end resolves to nil without erroring")
}

func TestPageIterator_ReplayMatchesLiveIteration(t *testing.T) {
	pages := [][]testItem{
		{{Name: "a"}, {Name: "b"}},
		{{Name: "c"}, {Name: "d"}},
	}

	liveServer, _ := newPagedServer(t, pages)
	liveClient := &HTTPClient{BaseURL: liveServer.URL}

	live, err := NewPageIterator[testItem](context.Background(), liveClient, liveClient.API("/items"))
	require.NoError(t, err)

	// Replay from the live iterator's captured state, as if it had been
	// serialized into a cache entry and restored.
	replayServer, replayHits := newPagedServer(t, pages)
	replayClient := &HTTPClient{BaseURL: replayServer.URL}
	replayLink := fmt.Sprintf("%s/v1.0/items?$skiptoken=page1", replayServer.URL)

	replay := PageIteratorFromValue(replayClient, live.Value(), replayLink)
	assert.Equal(t, 0, *replayHits, "replay construction must not touch the network")
	require.True(t, replay.HasNext())

	liveIncrement, err := live.Next(context.Background())
	require.NoError(t, err)

	replayIncrement, err := replay.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, liveIncrement, replayIncrement)
	assert.Equal(t, live.Value(), replay.Value())
	assert.Equal(t, live.HasNext(), replay.HasNext())
}

func TestPageIterator_EmptyNextPageTerminates(t *testing.T) {
	server, _ := newPagedServer(t, [][]testItem{
		{{Name: "a"}},
		{},
	})
	client := &HTTPClient{BaseURL: server.URL}

	iterator, err := NewPageIterator[testItem](context.Background(), client, client.API("/items"))
	require.NoError(t, err)
	require.True(t, iterator.HasNext())

	increment, err := iterator.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, increment)
	assert.False(t, iterator.HasNext())
	assert.Equal(t, []testItem{{Name: "a"}}, iterator.Value(), "an empty page adds nothing")
}

func TestPageIterator_FromValueWithoutLinkIsExhausted(t *testing.T) {
	client := &HTTPClient{BaseURL: "http://unused.invalid"}

	iterator := PageIteratorFromValue(client, []testItem{{Name: "a"}}, "")
	assert.False(t, iterator.HasNext())

	increment, err := iterator.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, increment)
}

func TestPageIterator_NextResourceStripsVersionPrefix(t *testing.T) {
	client := &HTTPClient{BaseURL: "http://unused.invalid"}

	iterator := PageIteratorFromValue[testItem](client, nil,
		"https://graph.example.com/v1.0/me/items?$skiptoken=abc")

	assert.Equal(t, "/me/items?$skiptoken=abc", iterator.nextResource())
}
