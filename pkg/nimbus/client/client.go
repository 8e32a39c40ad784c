// Package client is a Go client for the Nimbus API server.
//
// It covers the instance REST endpoints and the websocket stream of
// instance dispatch messages, and is what the console commands use to
// feed their local store.
//
//	c := client.New("http://localhost:8080", client.WithToken(token))
//	page, err := c.ListInstances(ctx, client.Query{PageCount: 20})
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"evalgo.org/nimbus/models"
)

const (
	apiPrefix = "/api/v1"

	// HeaderAPIKey carries a static API key.
	HeaderAPIKey = "X-API-Key"

	defaultTimeout = 30 * time.Second
)

// ErrNotFound is matched by errors for 404 responses.
var ErrNotFound = errors.New("not found")

// Error is a non 2xx response of the API server.
type Error struct {
	StatusCode  int               `json:"code"`
	Message     string            `json:"message"`
	Details     string            `json:"details,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// Is reports 404 errors as ErrNotFound.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Query selects a page of the instance list.
type Query struct {
	Page      int
	PageCount int
	Name      string
}

// Client talks to a Nimbus API server. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	apiKey  string
	rest    *resty.Client
	dialer  *websocket.Dialer
	log     logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithAPIKey authenticates with a static API key. A token takes precedence.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout sets the timeout of REST requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.rest.SetTimeout(d) }
}

// WithRetries retries failed requests n times.
func WithRetries(n int) Option {
	return func(c *Client) {
		c.rest.SetRetryCount(n).
			SetRetryWaitTime(250 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second)
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.log = logger }
}

// New creates a client for the server at baseURL (e.g. http://localhost:8080).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		rest:    resty.New(),
		dialer:  websocket.DefaultDialer,
		log:     logrus.StandardLogger(),
	}
	c.rest.SetTimeout(defaultTimeout)

	for _, opt := range opts {
		opt(c)
	}

	c.rest.SetBaseURL(c.baseURL+apiPrefix).
		SetHeader("Accept", "application/json").
		SetLogger(c.log)

	switch {
	case c.token != "":
		c.rest.SetAuthToken(c.token)
	case c.apiKey != "":
		c.rest.SetHeader(HeaderAPIKey, c.apiKey)
	}

	return c
}

// ListInstances returns one page of instances with the total count.
func (c *Client) ListInstances(ctx context.Context, q Query) (*models.DispatchData, error) {
	req := c.rest.R().SetContext(ctx)
	if q.Page > 0 {
		req.SetQueryParam("page", strconv.Itoa(q.Page))
	}
	if q.PageCount > 0 {
		req.SetQueryParam("pageCount", strconv.Itoa(q.PageCount))
	}
	if q.Name != "" {
		req.SetQueryParam("name", q.Name)
	}

	var data models.DispatchData
	if err := c.do(req.SetResult(&data), resty.MethodGet, "/instances"); err != nil {
		return nil, err
	}
	return &data, nil
}

// Page returns one page of the instance list matching filter.
func (c *Client) Page(ctx context.Context, page, pageCount int, filter models.Filter) (*models.DispatchData, error) {
	q := Query{Page: page, PageCount: pageCount}
	if filter.Name != nil {
		q.Name = *filter.Name
	}
	return c.ListInstances(ctx, q)
}

// GetInstance returns a single instance.
func (c *Client) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	var inst models.Instance
	req := c.rest.R().SetContext(ctx).SetPathParam("id", id).SetResult(&inst)
	if err := c.do(req, resty.MethodGet, "/instances/{id}"); err != nil {
		return nil, err
	}
	return &inst, nil
}

// CreateInstance stores a new instance. The server generates a missing id.
func (c *Client) CreateInstance(ctx context.Context, inst models.Instance) (*models.Instance, error) {
	var created models.Instance
	req := c.rest.R().SetContext(ctx).SetBody(inst).SetResult(&created)
	if err := c.do(req, resty.MethodPost, "/instances"); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateInstance merges the present fields of update into an instance.
func (c *Client) UpdateInstance(ctx context.Context, id string, update models.Instance) (*models.Instance, error) {
	var updated models.Instance
	req := c.rest.R().SetContext(ctx).SetPathParam("id", id).SetBody(update).SetResult(&updated)
	if err := c.do(req, resty.MethodPut, "/instances/{id}"); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteInstance removes an instance.
func (c *Client) DeleteInstance(ctx context.Context, id string) error {
	req := c.rest.R().SetContext(ctx).SetPathParam("id", id)
	return c.do(req, resty.MethodDelete, "/instances/{id}")
}

// GetInfo returns the auxiliary info of an instance.
func (c *Client) GetInfo(ctx context.Context, id string) (*models.Info, error) {
	var info models.Info
	req := c.rest.R().SetContext(ctx).SetPathParam("id", id).SetResult(&info)
	if err := c.do(req, resty.MethodGet, "/instances/{id}/info"); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListNodes returns every instance grouped by node.
func (c *Client) ListNodes(ctx context.Context) (models.InstancesNode, error) {
	nodes := models.InstancesNode{}
	req := c.rest.R().SetContext(ctx).SetResult(&nodes)
	if err := c.do(req, resty.MethodGet, "/nodes"); err != nil {
		return nil, err
	}
	return nodes, nil
}

// ListNodeInstances returns the instances of a node.
func (c *Client) ListNodeInstances(ctx context.Context, node string) (models.Instances, error) {
	var data models.DispatchData
	req := c.rest.R().SetContext(ctx).SetPathParam("node", node).SetResult(&data)
	if err := c.do(req, resty.MethodGet, "/nodes/{node}/instances"); err != nil {
		return nil, err
	}
	if data.Instances == nil {
		return models.Instances{}, nil
	}
	return data.Instances, nil
}

// Events connects to the dispatch stream. The channel is closed when the
// connection ends or ctx is done.
func (c *Client) Events(ctx context.Context) (<-chan models.InstanceDispatch, error) {
	u, err := c.eventsURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	switch {
	case c.token != "":
		header.Set("Authorization", "Bearer "+c.token)
	case c.apiKey != "":
		header.Set(HeaderAPIKey, c.apiKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, &Error{StatusCode: resp.StatusCode, Message: "websocket handshake failed", Details: err.Error()}
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", u, err)
	}

	out := make(chan models.InstanceDispatch)
	go func() {
		defer close(out)
		defer conn.Close()

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		for {
			var d models.InstanceDispatch
			if err := conn.ReadJSON(&d); err != nil {
				if ctx.Err() == nil {
					c.log.WithError(err).Debug("event stream closed")
				}
				return
			}

			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + apiPrefix + "/ws/events"

	return u.String(), nil
}

func (c *Client) do(req *resty.Request, method, path string) error {
	apiErr := &Error{}
	resp, err := req.SetError(apiErr).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return apiErr
	}
	return nil
}
