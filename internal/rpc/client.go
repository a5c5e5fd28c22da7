package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/blocknest/sweeperd/pkg/ratelimiter"
)

// AuthConfig holds authentication configuration. NowNodes-style hosted
// services expect the key in an "api-key" header; Headers allows arbitrary
// extra headers.
type AuthConfig struct {
	APIKey  string            `json:"api_key"`
	Headers map[string]string `json:"headers"`
}

// Client is a generic HTTP client speaking either REST or JSON-RPC against
// a single base URL. Safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	auth        *AuthConfig
	clientType  string
	rateLimiter *ratelimiter.PooledRateLimiter

	rpcID int64
	mutex sync.Mutex
}

func NewClient(baseURL, clientType string, auth *AuthConfig, timeout time.Duration, rateLimiter *ratelimiter.PooledRateLimiter) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		auth:        auth,
		clientType:  clientType,
		rateLimiter: rateLimiter,
		rpcID:       1,
	}
}

// CallRPC issues a JSON-RPC call and surfaces error-shaped responses as
// *RPCError.
func (c *Client) CallRPC(ctx context.Context, method string, params any) (*RPCResponse, error) {
	if c.clientType != ClientTypeRPC {
		return nil, fmt.Errorf("client is %s, not RPC", c.clientType)
	}
	c.mutex.Lock()
	reqID := c.rpcID
	c.rpcID++
	c.mutex.Unlock()

	req := &RPCRequest{ID: reqID, JSONRPC: "2.0", Method: method, Params: params}
	raw, err := c.Do(ctx, http.MethodPost, "", req, nil)
	if err != nil {
		return nil, err
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return &rpcResp, rpcResp.Error
	}
	return &rpcResp, nil
}

// Do issues one HTTP request against baseURL+endpoint and returns the raw
// body. Non-2xx responses return the body alongside an error.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any, params map[string]string) ([]byte, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, c.baseURL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		reqURL += "?" + q.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	slog.Debug("HTTP request completed", "url", reqURL, "elapsed", time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, reqURL, string(data))
	}
	return data, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.auth == nil {
		return
	}
	if c.auth.APIKey != "" {
		req.Header.Set("api-key", c.auth.APIKey)
	}
	for k, v := range c.auth.Headers {
		req.Header.Set(k, v)
	}
}

func (c *Client) GetURL() string        { return c.baseURL }
func (c *Client) GetClientType() string { return c.clientType }
func (c *Client) Close() error          { return nil }
