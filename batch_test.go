package shown

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchHandler produces the composite response for one transport call.
type batchHandler func(call int, payload batchPayload) batchResponseEnvelope

// newBatchServer serves the composite endpoint, delegating each call to
// handler and counting transport calls.
func newBatchServer(t *testing.T, handler batchHandler) (*httptest.Server, *int) {
	t.Helper()

	calls := new(int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1.0/$batch", r.URL.Path)

		var payload batchPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.LessOrEqual(t, len(payload.Requests), maxBatchSize,
			"a composite call must never carry more than %d sub-requests", maxBatchSize)

		*calls++
		envelope := handler(*calls, payload)

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(envelope))
	}))
	t.Cleanup(server.Close)

	return server, calls
}

func newTestBatch(server *httptest.Server) (*Batch, *[]time.Duration) {
	client := &HTTPClient{BaseURL: server.URL}
	batch := NewBatch(client)

	slept := new([]time.Duration)
	batch.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}

	return batch, slept
}

func okJSON(id string, body string) batchResponsePayload {
	return batchResponsePayload{
		ID:      id,
		Status:  http.StatusOK,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    json.RawMessage(body),
	}
}

func TestBatchExecuteAll_SplitsIntoBoundedCalls(t *testing.T) {
	server, calls := newBatchServer(t, func(call int, payload batchPayload) batchResponseEnvelope {
		var envelope batchResponseEnvelope
		for _, request := range payload.Requests {
			envelope.Responses = append(envelope.Responses,
				okJSON(request.ID, fmt.Sprintf(`{"url":%q}`, request.URL)))
		}
		return envelope
	})

	batch, _ := newTestBatch(server)
	for i := 0; i < 25; i++ {
		batch.Get(fmt.Sprintf("req-%d", i), fmt.Sprintf("/users/%d", i), nil, nil)
	}

	results, err := batch.ExecuteAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, *calls, "25 requests should take exactly two composite calls")
	assert.Len(t, results, 25)

	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("req-%d", i)
		response, found := results[id]
		require.True(t, found, "id %s missing from result map", id)
		assert.Equal(t, id, response.ID)
		assert.JSONEq(t, fmt.Sprintf(`{"url":"/users/%d"}`, i), string(response.Content))
	}

	assert.False(t, batch.HasNext())
}

func TestBatchExecuteNext_ThrottledRequestRetriesFirst(t *testing.T) {
	server, calls := newBatchServer(t, func(call int, payload batchPayload) batchResponseEnvelope {
		var envelope batchResponseEnvelope

		if call == 1 {
			require.Len(t, payload.Requests, 3)
			envelope.Responses = append(envelope.Responses, batchResponsePayload{
				ID:      payload.Requests[0].ID,
				Status:  http.StatusTooManyRequests,
				Headers: map[string]string{"Retry-After": "2"},
			})
			for _, request := range payload.Requests[1:] {
				envelope.Responses = append(envelope.Responses, okJSON(request.ID, `{"ok":true}`))
			}
			return envelope
		}

		// The throttled request must come back ahead of everything else.
		require.Equal(t, "0", payload.Requests[0].ID)
		for _, request := range payload.Requests {
			envelope.Responses = append(envelope.Responses, okJSON(request.ID, `{"ok":true}`))
		}
		return envelope
	})

	batch, slept := newTestBatch(server)
	batch.Get("a", "/users/a/presence", nil, nil)
	batch.Get("b", "/users/b/presence", nil, nil)
	batch.Get("c", "/users/c/presence", nil, nil)

	results, err := batch.ExecuteAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, *calls)
	assert.Len(t, results, 3)
	for _, id := range []string{"a", "b", "c"} {
		assert.Contains(t, results, id)
	}

	require.Len(t, *slept, 1, "exactly one throttling delay expected")
	assert.GreaterOrEqual(t, (*slept)[0], 2*time.Second)
}

func TestBatchExecuteNext_ThrottledBeforeNewerRequests(t *testing.T) {
	server, _ := newBatchServer(t, func(call int, payload batchPayload) batchResponseEnvelope {
		var envelope batchResponseEnvelope
		if call == 1 {
			envelope.Responses = append(envelope.Responses, batchResponsePayload{
				ID:     payload.Requests[0].ID,
				Status: http.StatusTooManyRequests,
			})
			return envelope
		}
		for _, request := range payload.Requests {
			envelope.Responses = append(envelope.Responses, okJSON(request.ID, `{}`))
		}
		return envelope
	})

	batch, slept := newTestBatch(server)
	batch.Get("old", "/users/old", nil, nil)

	_, err := batch.ExecuteNext(context.Background())
	require.NoError(t, err)

	// A request added after the throttling round queues behind the retry.
	batch.Get("new", "/users/new", nil, nil)
	require.Equal(t, []int{0, 1}, batch.queue)

	// Missing Retry-After falls back to a one second delay.
	_, err = batch.ExecuteNext(context.Background())
	require.NoError(t, err)
	require.Len(t, *slept, 1)
	assert.Equal(t, time.Second, (*slept)[0])

	assert.False(t, batch.HasNext())
}

func TestBatchExecuteNext_DropsFailedSubResponses(t *testing.T) {
	server, calls := newBatchServer(t, func(call int, payload batchPayload) batchResponseEnvelope {
		var envelope batchResponseEnvelope
		for i, request := range payload.Requests {
			if i == 1 {
				envelope.Responses = append(envelope.Responses, batchResponsePayload{
					ID:     request.ID,
					Status: http.StatusNotFound,
				})
				continue
			}
			envelope.Responses = append(envelope.Responses, okJSON(request.ID, `{"ok":true}`))
		}
		return envelope
	})

	batch, _ := newTestBatch(server)
	batch.Get("a", "/users/a", nil, nil)
	batch.Get("b", "/users/b", nil, nil)
	batch.Get("c", "/users/c", nil, nil)

	results, err := batch.ExecuteAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, *calls, "dropped sub-responses must not be retried")
	assert.Len(t, results, 2)
	assert.Contains(t, results, "a")
	assert.NotContains(t, results, "b")
	assert.Contains(t, results, "c")
}

func TestBatchExecuteNext_ImageBodyBecomesDataURI(t *testing.T) {
	server, _ := newBatchServer(t, func(call int, payload batchPayload) batchResponseEnvelope {
		return batchResponseEnvelope{Responses: []batchResponsePayload{{
			ID:      payload.Requests[0].ID,
			Status:  http.StatusOK,
			Headers: map[string]string{"Content-Type": "image/jpeg"},
			Body:    json.RawMessage(`"QUJD"`),
		}}}
	})

	batch, _ := newTestBatch(server)
	batch.Get("photo", "/users/a/photo/$value", nil, nil)

	results, err := batch.ExecuteAll(context.Background())
	require.NoError(t, err)
	require.Contains(t, results, "photo")

	uri, ok := results["photo"].ContentString()
	require.True(t, ok)
	assert.Equal(t, "data:image/jpeg;base64,QUJD", uri)
}

func TestBatchExecuteAll_TransportFailurePropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	batch, _ := newTestBatch(server)
	batch.Get("a", "/users/a", nil, nil)

	_, err := batch.ExecuteAll(context.Background())
	require.Error(t, err)

	var graphErr *GraphError
	require.ErrorAs(t, err, &graphErr)
	assert.Equal(t, http.StatusInternalServerError, graphErr.StatusCode)
}

func TestBatchExecuteNext_EmptyQueueIsANoop(t *testing.T) {
	server, calls := newBatchServer(t, func(call int, payload batchPayload) batchResponseEnvelope {
		return batchResponseEnvelope{}
	})

	batch, _ := newTestBatch(server)

	results, err := batch.ExecuteNext(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, *calls)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		headers map[string]string
		want    time.Duration
	}{
		{map[string]string{"Retry-After": "5"}, 5 * time.Second},
		{map[string]string{"retry-after": "3"}, 3 * time.Second},
		{map[string]string{"Retry-After": "0"}, time.Second},
		{map[string]string{"Retry-After": "nonsense"}, time.Second},
		{map[string]string{}, time.Second},
		{nil, time.Second},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, retryDelay(test.headers), "headers: %v", test.headers)
	}
}
