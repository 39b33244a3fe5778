package shown

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultVersion is the API version requests are issued against unless a
// request overrides it.
const DefaultVersion = "v1.0"

// A Client issues calls against the remote graph API. API returns a fresh
// request builder rooted at the given resource path.
type Client interface {
	API(path string) Request

	// Version is the API version the client issues requests against by
	// default, used by page iterators to translate continuation links
	// back into relative resource paths.
	Version() string
}

// Request is a fluent, single-use builder for one call. Configuration calls
// return the same Request; terminal calls issue the request. Requests are
// not safe for concurrent use.
type Request interface {
	Header(name, value string) Request
	Version(v string) Request
	Top(n int) Request
	Filter(expr string) Request
	Select(fields ...string) Request
	OrderBy(field string) Request
	Expand(field string) Request
	Count(enable bool) Request

	// Scopes records the permission scopes this call requires so consent
	// can be pre-computed before the call is issued. Token acquisition
	// itself is owned by the transport layer.
	Scopes(scopes ...string) Request

	Get(ctx context.Context) (json.RawMessage, error)
	GetRaw(ctx context.Context) (*http.Response, error)
	Post(ctx context.Context, body any) (json.RawMessage, error)
	Patch(ctx context.Context, body any) (json.RawMessage, error)
	Delete(ctx context.Context) error
}

// ScopeAuthorizer is invoked with the accumulated scopes of a request before
// it is sent, giving the auth collaborator a chance to acquire consent. A
// returned error fails the request without contacting the server.
type ScopeAuthorizer func(ctx context.Context, scopes []string) error

// GraphError is a non-2xx response from the API.
type GraphError struct {
	StatusCode int
	Resource   string
	Body       string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph request for %q failed with status %d", e.Resource, e.StatusCode)
}

// HTTPClient is the standard Client implementation over net/http.
type HTTPClient struct {
	// BaseURL is the API root without a version segment, for example
	// "https://graph.example.com".
	BaseURL string

	// DefaultVersion is prepended to relative resource paths. If empty,
	// DefaultVersion (the package constant) is used.
	DefaultVersion string

	// HTTP is the underlying client. If nil, http.DefaultClient is used.
	// Timeouts are its responsibility, not this package's.
	HTTP *http.Client

	// Authorizer, when set, is called with each request's accumulated
	// scopes before the call goes out.
	Authorizer ScopeAuthorizer

	// Logger, if nil, defaults to the standard logger on first use.
	Logger *logrus.Logger
}

func (c *HTTPClient) API(path string) Request {
	return &httpRequest{
		client:   c,
		resource: normalizeResource(path),
		version:  c.Version(),
		query:    url.Values{},
		headers:  http.Header{},
	}
}

func (c *HTTPClient) Version() string {
	if c.DefaultVersion == "" {
		return DefaultVersion
	}
	return c.DefaultVersion
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *HTTPClient) logger() *logrus.Logger {
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	return c.Logger
}

// normalizeResource ensures a resource path has a single leading slash so
// the same logical resource always produces the same URL and cache key.
func normalizeResource(path string) string {
	return "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
}

type httpRequest struct {
	client   *HTTPClient
	resource string
	version  string
	query    url.Values
	headers  http.Header
	scopes   []string
}

func (r *httpRequest) Header(name, value string) Request {
	r.headers.Set(name, value)
	return r
}

func (r *httpRequest) Version(v string) Request {
	r.version = v
	return r
}

func (r *httpRequest) Top(n int) Request {
	r.query.Set("$top", strconv.Itoa(n))
	return r
}

func (r *httpRequest) Filter(expr string) Request {
	r.query.Set("$filter", expr)
	return r
}

func (r *httpRequest) Select(fields ...string) Request {
	r.query.Set("$select", strings.Join(fields, ","))
	return r
}

func (r *httpRequest) OrderBy(field string) Request {
	r.query.Set("$orderby", field)
	return r
}

func (r *httpRequest) Expand(field string) Request {
	r.query.Set("$expand", field)
	return r
}

func (r *httpRequest) Count(enable bool) Request {
	r.query.Set("$count", strconv.FormatBool(enable))
	return r
}

func (r *httpRequest) Scopes(scopes ...string) Request {
	r.scopes = append(r.scopes, scopes...)
	return r
}

func (r *httpRequest) Get(ctx context.Context) (json.RawMessage, error) {
	resp, err := r.issue(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	return decodeBody(resp, r.resource)
}

func (r *httpRequest) GetRaw(ctx context.Context) (*http.Response, error) {
	return r.issue(ctx, http.MethodGet, nil)
}

func (r *httpRequest) Post(ctx context.Context, body any) (json.RawMessage, error) {
	resp, err := r.issue(ctx, http.MethodPost, body)
	if err != nil {
		return nil, err
	}
	return decodeBody(resp, r.resource)
}

func (r *httpRequest) Patch(ctx context.Context, body any) (json.RawMessage, error) {
	resp, err := r.issue(ctx, http.MethodPatch, body)
	if err != nil {
		return nil, err
	}
	return decodeBody(resp, r.resource)
}

func (r *httpRequest) Delete(ctx context.Context) error {
	resp, err := r.issue(ctx, http.MethodDelete, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (r *httpRequest) issue(ctx context.Context, method string, body any) (*http.Response, error) {
	if r.client.Authorizer != nil && len(r.scopes) > 0 {
		if err := r.client.Authorizer(ctx, r.scopes); err != nil {
			return nil, fmt.Errorf("authorize scopes: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.url(), reader)
	if err != nil {
		return nil, err
	}
	for name, values := range r.headers {
		req.Header[name] = values
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.httpClient().Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()

		graphErr := &GraphError{
			StatusCode: resp.StatusCode,
			Resource:   r.resource,
			Body:       string(snippet),
		}

		r.client.logger().WithFields(logrus.Fields{
			"resource": r.resource,
			"status":   resp.StatusCode,
		}).Debug("Graph request failed")

		return nil, graphErr
	}

	return resp, nil
}

func (r *httpRequest) url() string {
	base := strings.TrimRight(r.client.BaseURL, "/")
	u := base + "/" + r.version + r.resource
	if len(r.query) > 0 {
		// Encode sorts keys, so the same configuration always yields
		// the same URL.
		u += "?" + r.query.Encode()
	}
	return u
}

func decodeBody(resp *http.Response, resource string) (json.RawMessage, error) {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response for %q: %w", resource, err)
	}
	if len(content) == 0 {
		return nil, nil
	}

	return json.RawMessage(content), nil
}
