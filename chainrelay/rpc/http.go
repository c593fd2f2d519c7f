package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/whiteflag/relay/chainrelay/chainerr"
)

// HTTPClient implements Client over HTTP JSON-RPC with round-robin,
// health-aware endpoint selection and automatic failover.
type HTTPClient struct {
	endpoints     []string
	currentIndex  int
	healthTracker HealthTracker
	httpClient    *http.Client
	requestID     atomic.Int64
	log           *zap.Logger
	mu            sync.RWMutex
}

// NewHTTPClient builds a failover HTTP JSON-RPC client. healthTracker and
// log may be nil; a SimpleHealthTracker and a no-op logger are used.
func NewHTTPClient(endpoints []string, timeout time.Duration, healthTracker HealthTracker, log *zap.Logger) (*HTTPClient, error) {
	if len(endpoints) == 0 {
		return nil, chainerr.NewFatal(chainerr.ErrCodeRPCUnavailable, "at least one RPC endpoint is required", nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if healthTracker == nil {
		healthTracker = NewSimpleHealthTracker(log)
	}
	return &HTTPClient{
		endpoints:     endpoints,
		healthTracker: healthTracker,
		httpClient:    &http.Client{Timeout: timeout},
		log:           log,
	}, nil
}

func (c *HTTPClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	req := Request{Method: method, Params: params}

	var lastErr error
	attempted := make(map[string]bool, len(c.endpoints))

	for len(attempted) < len(c.endpoints) {
		endpoint := c.nextHealthyEndpoint(attempted)
		if endpoint == "" {
			break
		}
		attempted[endpoint] = true

		result, err := c.callEndpoint(ctx, endpoint, req)
		if err == nil {
			return result, nil
		}
		c.log.Debug("rpc call failed, trying next endpoint", zap.String("endpoint", endpoint), zap.String("method", method), zap.Error(err))
		lastErr = err
	}

	return nil, chainerr.NewRetryable(chainerr.ErrCodeRPCUnavailable,
		fmt.Sprintf("all RPC endpoints failed for method %s", method), lastErr)
}

func (c *HTTPClient) CallBatch(ctx context.Context, requests []Request) ([]json.RawMessage, error) {
	if len(requests) == 0 {
		return []json.RawMessage{}, nil
	}

	var lastErr error
	attempted := make(map[string]bool, len(c.endpoints))

	for len(attempted) < len(c.endpoints) {
		endpoint := c.nextHealthyEndpoint(attempted)
		if endpoint == "" {
			break
		}
		attempted[endpoint] = true

		results, err := c.callBatchEndpoint(ctx, endpoint, requests)
		if err == nil {
			return results, nil
		}
		lastErr = err
	}

	return nil, chainerr.NewRetryable(chainerr.ErrCodeRPCUnavailable, "all RPC endpoints failed for batch request", lastErr)
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) callEndpoint(ctx context.Context, endpoint string, req Request) (json.RawMessage, error) {
	start := time.Now()

	id := c.requestID.Add(1)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  req.Method,
		"params":  req.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	result, err := c.post(ctx, endpoint, body, start)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(result, &resp); err != nil {
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("rpc: parse response: %w", err)
	}
	if resp.Error != nil {
		c.healthTracker.RecordFailure(endpoint, resp.Error)
		return nil, fmt.Errorf("rpc: node returned error: %s", resp.Error.Message)
	}

	c.healthTracker.RecordSuccess(endpoint, time.Since(start).Milliseconds())
	return resp.Result, nil
}

func (c *HTTPClient) callBatchEndpoint(ctx context.Context, endpoint string, requests []Request) ([]json.RawMessage, error) {
	start := time.Now()

	batch := make([]map[string]interface{}, len(requests))
	positions := make(map[int64]int, len(requests))
	for i, req := range requests {
		id := c.requestID.Add(1)
		positions[id] = i
		batch[i] = map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      id,
			"method":  req.Method,
			"params":  req.Params,
		}
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal batch request: %w", err)
	}

	result, err := c.post(ctx, endpoint, body, start)
	if err != nil {
		return nil, err
	}

	var batchResp []Response
	if err := json.Unmarshal(result, &batchResp); err != nil {
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("rpc: parse batch response: %w", err)
	}

	results := make([]json.RawMessage, len(requests))
	for _, r := range batchResp {
		if i, ok := positions[r.ID]; ok && r.Error == nil {
			results[i] = r.Result
		}
	}

	c.healthTracker.RecordSuccess(endpoint, time.Since(start).Milliseconds())
	return results, nil
}

// post issues the raw HTTP POST shared by Call and CallBatch, recording
// health failures along every error path before returning.
func (c *HTTPClient) post(ctx context.Context, endpoint string, body []byte, start time.Time) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("rpc: transport error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("rpc: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.healthTracker.RecordFailure(endpoint, fmt.Errorf("http %d", resp.StatusCode))
		return nil, fmt.Errorf("rpc: http status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (c *HTTPClient) nextHealthyEndpoint(attempted map[string]bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < len(c.endpoints); i++ {
		idx := (c.currentIndex + i) % len(c.endpoints)
		endpoint := c.endpoints[idx]
		if attempted[endpoint] {
			continue
		}
		if c.healthTracker.IsHealthy(endpoint) {
			c.currentIndex = (idx + 1) % len(c.endpoints)
			return endpoint
		}
	}

	for _, endpoint := range c.endpoints {
		if !attempted[endpoint] {
			return endpoint
		}
	}
	return ""
}
