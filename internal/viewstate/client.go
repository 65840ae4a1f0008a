package viewstate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/apexlabs-backend/internal/broadcast"
	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	"github.com/angelmondragon/apexlabs-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/types"
)

const (
	errorBodyReadLimit int64 = 1024
	maxStreamFrame           = 1 << 20

	defaultStreamConnectTimeout = 10 * time.Second
	// two missed 25s heartbeats plus slack
	defaultStreamIdleTimeout = 60 * time.Second
)

// Client talks to the admin order endpoints of the API.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	token        string

	connectTimeout time.Duration
	idleTimeout    time.Duration
}

// ClientOption configures optional client behavior.
type ClientOption func(*Client)

// WithHTTPClient overrides the client used for plain requests. The stream
// keeps its own client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithStreamTimeouts bounds how long the stream may take to answer with
// headers (connect) and how long it may stay silent between frames or
// heartbeats (idle). Non-positive values keep the defaults.
func WithStreamTimeouts(connect, idle time.Duration) ClientOption {
	return func(c *Client) {
		if connect > 0 {
			c.connectTimeout = connect
		}
		if idle > 0 {
			c.idleTimeout = idle
		}
	}
}

// NewClient builds an admin API client. token is sent as a bearer credential.
func NewClient(baseURL, token string, opts ...ClientOption) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("base url required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("admin token required")
	}

	c := &Client{
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		baseURL:        trimmed,
		token:          strings.TrimSpace(token),
		connectTimeout: defaultStreamConnectTimeout,
		idleTimeout:    defaultStreamIdleTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.streamClient = newStreamClient(c.connectTimeout)
	return c, nil
}

// newStreamClient has no overall timeout, since the stream is long-lived, but
// every step up to the response headers is bounded.
func newStreamClient(connect time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	return &http.Client{Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: connect,
		ForceAttemptHTTP2:     true,
	}}
}

type ordersPayload struct {
	Orders []models.Order `json:"orders"`
}

// ListOrders fetches the most recent orders.
func (c *Client) ListOrders(ctx context.Context) ([]models.Order, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/admin/orders", nil)
	if err != nil {
		return nil, err
	}
	var out types.Envelope[ordersPayload]
	if err := c.do(c.httpClient, req, &out); err != nil {
		return nil, err
	}
	return out.Data.Orders, nil
}

type statusResponse struct {
	Success bool          `json:"success"`
	Status  string        `json:"status"`
	Order   *models.Order `json:"order"`
}

// UpdateStatus changes an order's status and returns the stored row.
func (c *Client) UpdateStatus(ctx context.Context, orderNumber string, status enums.OrderStatus) (*models.Order, error) {
	body, err := json.Marshal(map[string]string{"status": status.String()})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal status update")
	}
	path := "/api/admin/orders/" + url.PathEscape(orderNumber) + "/status"
	req, err := c.newRequest(ctx, http.MethodPatch, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out statusResponse
	if err := c.do(c.httpClient, req, &out); err != nil {
		return nil, err
	}
	if out.Order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "status update returned no order")
	}
	return out.Order, nil
}

// Stream reads the admin order stream, calling fn for every frame until ctx is
// done, the server closes the stream, or fn returns an error. A stream that
// sends nothing, not even a heartbeat, for the idle timeout is abandoned.
func (c *Client) Stream(ctx context.Context, fn func(broadcast.Message) error) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := c.newRequest(streamCtx, http.MethodGet, "/api/admin/orders/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open order stream")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var idle atomic.Bool
	watchdog := time.AfterFunc(c.idleTimeout, func() {
		idle.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamFrame)
	for scanner.Scan() {
		watchdog.Reset(c.idleTimeout)
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var msg broadcast.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode stream frame")
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	if idle.Load() && ctx.Err() == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("order stream idle for %s", c.idleTimeout))
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read order stream")
	}
	return ctx.Err()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode response")
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return pkgerrors.New(codeForStatus(resp.StatusCode), envelope.Error.Message)
	}
	return pkgerrors.New(codeForStatus(resp.StatusCode), fmt.Sprintf("admin api returned %d", resp.StatusCode))
}

func codeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}
