package shown

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// batchEndpoint is the composite endpoint every batch call is posted to.
const batchEndpoint = "/$batch"

// maxBatchSize is the hard upper bound on sub-requests per batch call,
// imposed by the remote API.
const maxBatchSize = 20

// BatchRequest is one GET coalesced into a Batch. Index is its position in
// the batch's append-only request list; ID is the caller's correlation key.
// A request is consumed exactly once and never reused.
type BatchRequest struct {
	Index    int
	ID       string
	Resource string
	Method   string
	Headers  map[string]string
}

// BatchResponse is the demultiplexed outcome of one sub-request.
type BatchResponse struct {
	ID      string
	Index   int
	Headers map[string]string

	// Content is the decoded sub-response body. Binary image payloads
	// are re-encoded as a JSON string holding a data URI; everything
	// else is passed through as the structured content the server sent.
	Content json.RawMessage
}

// ContentString unquotes Content when it holds a JSON string, which is the
// shape image payloads take after data-URI re-encoding.
func (r *BatchResponse) ContentString() (string, bool) {
	var s string
	if err := json.Unmarshal(r.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// BatchResponseMap holds demultiplexed responses keyed by caller ID. An
// absent ID means the sub-request never produced a 200; callers treat that
// as "no data", not as an error.
type BatchResponseMap map[string]*BatchResponse

type batchState int

const (
	batchIdle batchState = iota
	batchDelaying
	batchExecuting
)

// Batch coalesces GET requests into composite calls against the batch
// endpoint. A Batch is one-shot and owned by a single logical operation; it
// is not safe for concurrent use.
type Batch struct {
	client Client

	// allRequests is append-only; queue holds indices into it. Completed
	// and permanently dropped requests leave the queue and never return.
	// Throttled requests re-enter at the front so they are retried ahead
	// of anything enqueued after them.
	allRequests []BatchRequest
	queue       []int

	// scopes is the accumulated union of every sub-request's required
	// scopes. Duplicates are kept; consent computation tolerates them.
	scopes []string

	// retryAfter is the delay demanded by the most recent throttling
	// response. It is honored once, at the start of the next execution.
	retryAfter time.Duration

	state batchState

	// sleep is replaceable so throttling behavior can be tested without
	// real timers.
	sleep func(ctx context.Context, d time.Duration) error

	// Logger defaults to the standard logger on first use.
	Logger *logrus.Logger
}

// NewBatch returns an empty batch that will execute against client.
func NewBatch(client Client) *Batch {
	return &Batch{
		client: client,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batch) logger() *logrus.Logger {
	if b.Logger == nil {
		b.Logger = logrus.New()
	}
	return b.Logger
}

// Get enqueues a GET for resource under the caller-supplied id. Nothing is
// executed until ExecuteNext or ExecuteAll is called. Callers must use
// unique ids for the lifetime of the batch; a duplicate id overwrites the
// earlier id's entry in the response map.
func (b *Batch) Get(id, resource string, scopes []string, headers map[string]string) {
	index := len(b.allRequests)
	b.allRequests = append(b.allRequests, BatchRequest{
		Index:    index,
		ID:       id,
		Resource: normalizeResource(resource),
		Method:   http.MethodGet,
		Headers:  headers,
	})
	b.queue = append(b.queue, index)
	b.scopes = append(b.scopes, scopes...)
}

// HasNext reports whether any requests are still pending.
func (b *Batch) HasNext() bool {
	return len(b.queue) > 0
}

// Len is the total number of requests ever added to the batch.
func (b *Batch) Len() int {
	return len(b.allRequests)
}

type batchRequestPayload struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type batchPayload struct {
	Requests []batchRequestPayload `json:"requests"`
}

type batchResponsePayload struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

type batchResponseEnvelope struct {
	Responses []batchResponsePayload `json:"responses"`
}

// ExecuteNext issues one composite call carrying up to 20 pending requests,
// oldest first, and demultiplexes the responses.
//
// If the previous round was throttled, ExecuteNext first sleeps for the
// recorded retry delay; this is the subsystem's only suspension point and it
// aborts early if ctx expires. Sub-responses are handled per status: 200
// lands in the returned map under the caller's id, 429 re-enters the queue
// at the front and raises the retry delay, anything else is dropped.
//
// A transport-level failure of the composite call itself is returned as an
// error; the dequeued requests are not re-queued, matching the one-shot
// contract (the caller's recovery is to re-issue individually).
func (b *Batch) ExecuteNext(ctx context.Context) (BatchResponseMap, error) {
	if len(b.queue) == 0 {
		return BatchResponseMap{}, nil
	}

	if b.retryAfter > 0 {
		b.state = batchDelaying
		delay := b.retryAfter
		b.retryAfter = 0

		b.logger().WithField("delay", delay).Debug("Batch throttled, delaying before next execution")

		if err := b.sleep(ctx, delay); err != nil {
			b.state = batchIdle
			return nil, err
		}
	}

	b.state = batchExecuting
	defer func() { b.state = batchIdle }()

	take := len(b.queue)
	if take > maxBatchSize {
		take = maxBatchSize
	}
	indices := b.queue[:take]
	b.queue = b.queue[take:]

	payload := batchPayload{Requests: make([]batchRequestPayload, 0, take)}
	for _, index := range indices {
		request := b.allRequests[index]
		payload.Requests = append(payload.Requests, batchRequestPayload{
			// Sub-request ids on the wire are indices, so caller ids
			// never need to be valid in the composite protocol.
			ID:      strconv.Itoa(index),
			Method:  request.Method,
			URL:     request.Resource,
			Headers: request.Headers,
		})
	}

	content, err := b.client.API(batchEndpoint).Scopes(b.scopes...).Post(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("execute batch: %w", err)
	}

	var envelope batchResponseEnvelope
	if err := json.Unmarshal(content, &envelope); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	results := make(BatchResponseMap)
	var throttled []int

	for _, sub := range envelope.Responses {
		index, err := strconv.Atoi(sub.ID)
		if err != nil || index < 0 || index >= len(b.allRequests) {
			b.logger().WithField("id", sub.ID).Warning("Batch response with unknown id, ignoring")
			continue
		}
		request := b.allRequests[index]

		switch {
		case sub.Status == http.StatusOK:
			results[request.ID] = &BatchResponse{
				ID:      request.ID,
				Index:   index,
				Headers: sub.Headers,
				Content: decodeBatchContent(sub),
			}

		case sub.Status == http.StatusTooManyRequests:
			throttled = append(throttled, index)

			delay := retryDelay(sub.Headers)
			if delay > b.retryAfter {
				b.retryAfter = delay
			}

		default:
			// The id is simply absent from the result map and the
			// request is not retried.
			b.logger().WithFields(logrus.Fields{
				"id":       request.ID,
				"resource": request.Resource,
				"status":   sub.Status,
			}).Debug("Dropping failed batch sub-response")
		}
	}

	if len(throttled) > 0 {
		b.queue = append(throttled, b.queue...)
	}

	return results, nil
}

// ExecuteAll drains the batch, merging the result maps of successive
// ExecuteNext rounds. It returns once every request has either produced a
// response or been permanently dropped; throttled requests keep the loop
// alive until they resolve.
func (b *Batch) ExecuteAll(ctx context.Context) (BatchResponseMap, error) {
	results := make(BatchResponseMap)

	for b.HasNext() {
		partial, err := b.ExecuteNext(ctx)
		if err != nil {
			return nil, err
		}
		for id, response := range partial {
			results[id] = response
		}
	}

	return results, nil
}

// imageContentTypes are the binary payload types that get re-encoded into a
// data URI instead of being passed through as structured content.
var imageContentTypes = []string{"image/jpeg", "image/pjpeg", "image/png"}

func decodeBatchContent(sub batchResponsePayload) json.RawMessage {
	contentType := sub.Headers["Content-Type"]
	if contentType == "" {
		contentType = sub.Headers["content-type"]
	}

	for _, imageType := range imageContentTypes {
		if !strings.HasPrefix(contentType, imageType) {
			continue
		}

		// Binary bodies arrive base64-encoded as a JSON string; wrap
		// the encoded payload into a data URI without re-decoding it.
		var encoded string
		if err := json.Unmarshal(sub.Body, &encoded); err != nil {
			break
		}

		uri := "data:" + imageType + ";base64," + encoded
		quoted, err := json.Marshal(uri)
		if err != nil {
			break
		}
		return quoted
	}

	return sub.Body
}

// retryDelay reads the Retry-After header of a throttled sub-response,
// defaulting to one second when it is missing or malformed.
func retryDelay(headers map[string]string) time.Duration {
	value := headers["Retry-After"]
	if value == "" {
		value = headers["retry-after"]
	}

	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 1 {
		return time.Second
	}
	return time.Duration(seconds) * time.Second
}
