// Package backend talks to the canvas REST API
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"canvassync/application/ports"
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
	"canvassync/pkg/common"
	"canvassync/pkg/errors"
	"canvassync/pkg/observability"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 64 << 10
	apiPrefix       = "/api/" + common.APIVersion
	contentTypeJSON = "application/json"
)

// BreakerConfig tunes the circuit breaker in front of the backend
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the breaker settings used unless overridden
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Client implements ports.Backend over the REST API. Every call goes through a
// circuit breaker; only transport failures and 5xx responses count against it.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *observability.Collector
}

var _ ports.Backend = (*Client)(nil)

// ClientOption customises a Client
type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	timeout    time.Duration
	breaker    BreakerConfig
	logger     *zap.Logger
	metrics    *observability.Collector
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithTimeout bounds every non-streaming call
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithBreaker replaces the circuit breaker settings
func WithBreaker(cfg BreakerConfig) ClientOption {
	return func(o *clientOptions) { o.breaker = cfg }
}

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithMetrics records call latency per operation
func WithMetrics(m *observability.Collector) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

// NewClient creates a client for the API served at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	o := clientOptions{
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		breaker:    DefaultBreakerConfig(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    o.httpClient,
		timeout: o.timeout,
		logger:  o.logger,
		metrics: o.metrics,
	}
	cfg := o.breaker
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "canvas-backend",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: isBackendHealthy,
	})
	return c
}

// isBackendHealthy treats client errors as healthy responses
func isBackendHealthy(err error) bool {
	if err == nil {
		return true
	}
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr.HTTPStatus > 0 && appErr.HTTPStatus < 500
	}
	return stderrors.Is(err, context.Canceled)
}

// call sends one request through the breaker. A non-2xx response becomes an
// *errors.AppError rebuilt from the server's error body; out receives the data
// of a successful envelope.
func (c *Client) call(ctx context.Context, op, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.send(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNoContent {
			return nil, nil
		}
		return nil, common.DecodeData(resp.Body, out)
	})
	err = c.translate(op, err)
	c.metrics.RecordBackend(op, err, time.Since(start))
	return err
}

// send performs the request and returns the response when its status is 2xx
func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.FromResponse(resp.StatusCode, raw)
	}
	return resp, nil
}

func (c *Client) translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
		return errors.NewUnavailableError("backend").WithCause(err)
	case errors.IsAppError(err):
		return err
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError(op).WithCause(err)
	case stderrors.Is(err, context.Canceled):
		return err
	default:
		return errors.NewNetworkError(op+" failed", err)
	}
}

// FetchWorkspaceData loads a workspace graph; a workspace the backend never saw yields nil
func (c *Client) FetchWorkspaceData(ctx context.Context, workspaceID string) (*ports.WorkspaceData, error) {
	var data ports.WorkspaceData
	err := c.call(ctx, "fetch_workspace", http.MethodGet, "/workspaces/"+url.PathEscape(workspaceID)+"/graph", nil, &data)
	if appErr := errors.GetAppError(err); appErr != nil && appErr.Code == common.WorkspaceNotFoundCode {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// CreateNode creates a node and returns it with its server id
func (c *Client) CreateNode(ctx context.Context, spec ports.NodeSpec) (entities.Node, error) {
	var node entities.Node
	if err := c.call(ctx, "create_node", http.MethodPost, "/nodes", spec, &node); err != nil {
		return entities.Node{}, err
	}
	return node, nil
}

// UpdateNode applies patch; a node the backend no longer has yields nil
func (c *Client) UpdateNode(ctx context.Context, id valueobjects.NodeID, patch ports.NodePatch) (*entities.Node, error) {
	var node entities.Node
	err := c.call(ctx, "update_node", http.MethodPatch, "/nodes/"+url.PathEscape(id.String()), patch, &node)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// DeleteNode removes a node
func (c *Client) DeleteNode(ctx context.Context, id valueobjects.NodeID) error {
	return c.call(ctx, "delete_node", http.MethodDelete, "/nodes/"+url.PathEscape(id.String()), nil, nil)
}

// CreateEdge creates an edge, or returns the existing one for a repeated connection
func (c *Client) CreateEdge(ctx context.Context, spec ports.EdgeSpec) (entities.Edge, error) {
	var edge entities.Edge
	if err := c.call(ctx, "create_edge", http.MethodPost, "/edges", spec, &edge); err != nil {
		return entities.Edge{}, err
	}
	return edge, nil
}

// DeleteEdge removes one edge
func (c *Client) DeleteEdge(ctx context.Context, id valueobjects.EdgeID) error {
	return c.call(ctx, "delete_edge", http.MethodDelete, "/edges/"+url.PathEscape(id.String()), nil, nil)
}

// DeleteEdgesByNode removes every edge touching the node
func (c *Client) DeleteEdgesByNode(ctx context.Context, nodeID valueobjects.NodeID) error {
	return c.call(ctx, "delete_node_edges", http.MethodDelete, "/nodes/"+url.PathEscape(nodeID.String())+"/edges", nil, nil)
}

// UpdateWorkspaceSettings saves the canvas settings of a workspace
func (c *Client) UpdateWorkspaceSettings(ctx context.Context, workspaceID string, settings ports.WorkspaceSettings) error {
	return c.call(ctx, "update_settings", http.MethodPut, "/workspaces/"+url.PathEscape(workspaceID)+"/settings", settings, nil)
}

// GetMessages loads a chat transcript
func (c *Client) GetMessages(ctx context.Context, chatID string) ([]entities.Message, error) {
	var msgs []entities.Message
	if err := c.call(ctx, "get_messages", http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListChats loads one page of a user's chats
func (c *Client) ListChats(ctx context.Context, query ports.ListChatsQuery) (entities.ChatPage, error) {
	params := common.CursorParams{
		Limit:         query.Limit,
		StartingAfter: query.StartingAfter,
		EndingBefore:  query.EndingBefore,
	}
	path := "/users/" + url.PathEscape(query.UserID) + "/chats"
	if v := params.Values(); len(v) > 0 {
		path += "?" + v.Encode()
	}

	var page entities.ChatPage
	if err := c.call(ctx, "list_chats", http.MethodGet, path, nil, &page); err != nil {
		return entities.ChatPage{}, err
	}
	return page, nil
}
