package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSClient implements Client over a persistent WebSocket connection, with
// automatic reconnection and exponential backoff. The block listener does
// not use it; it polls through NodeClient on its own timer.
type WSClient struct {
	url    string
	log    *zap.Logger
	connMu sync.RWMutex
	conn   *websocket.Conn

	requestID atomic.Int64

	pendingMu    sync.Mutex
	pendingCalls map[int64]chan Response

	subsMu        sync.Mutex
	subscriptions map[string]chan json.RawMessage

	reconnecting atomic.Bool
	closed       atomic.Bool
	closeChan    chan struct{}

	maxReconnectInterval time.Duration
	reconnectBackoff     time.Duration
}

// NewWSClient dials url and starts the background read loop. log may be nil.
func NewWSClient(url string, log *zap.Logger) (*WSClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &WSClient{
		url:                  url,
		log:                  log,
		pendingCalls:         make(map[int64]chan Response),
		subscriptions:        make(map[string]chan json.RawMessage),
		closeChan:            make(chan struct{}),
		maxReconnectInterval: 60 * time.Second,
		reconnectBackoff:     time.Second,
	}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("rpc: websocket dial %s: %w", url, err)
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("rpc: websocket client closed")
	}

	id := c.requestID.Add(1)
	respCh := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pendingCalls[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pendingCalls, id)
		c.pendingMu.Unlock()
	}()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("rpc: websocket not connected")
	}

	req := map[string]interface{}{"jsonrpc": "2.0", "id": id, "method": method, "params": params}
	if err := conn.WriteJSON(req); err != nil {
		go c.reconnect()
		return nil, fmt.Errorf("rpc: websocket write: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc: node returned error: %s", resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeChan:
		return nil, fmt.Errorf("rpc: websocket client closed")
	}
}

// CallBatch has no websocket-native batch form, so requests are issued
// sequentially over the same connection.
func (c *WSClient) CallBatch(ctx context.Context, requests []Request) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(requests))
	for i, req := range requests {
		result, err := c.Call(ctx, req.Method, req.Params)
		if err != nil {
			continue
		}
		results[i] = result
	}
	return results, nil
}

func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.closeChan)
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SubscribeNewHeads issues an eth_subscribe("newHeads") call and returns a
// channel of raw head notifications. Nothing in this module subscribes;
// the block listener polls on its timer and does not consume these
// notifications.
func (c *WSClient) SubscribeNewHeads(ctx context.Context) (<-chan json.RawMessage, error) {
	result, err := c.Call(ctx, "eth_subscribe", []interface{}{"newHeads"})
	if err != nil {
		return nil, fmt.Errorf("rpc: subscribe newHeads: %w", err)
	}
	var subID string
	if err := json.Unmarshal(result, &subID); err != nil {
		return nil, fmt.Errorf("rpc: parse subscription id: %w", err)
	}

	ch := make(chan json.RawMessage, 16)
	c.subsMu.Lock()
	c.subscriptions[subID] = ch
	c.subsMu.Unlock()
	return ch, nil
}

func (c *WSClient) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

func (c *WSClient) reconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	backoff := c.reconnectBackoff
	for {
		select {
		case <-c.closeChan:
			return
		case <-time.After(backoff):
			if err := c.connect(); err != nil {
				c.log.Warn("rpc: websocket reconnect failed", zap.Error(err))
				backoff *= 2
				if backoff > c.maxReconnectInterval {
					backoff = c.maxReconnectInterval
				}
				continue
			}
			go c.readLoop()
			return
		}
	}
}

func (c *WSClient) readLoop() {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-c.closeChan:
			return
		default:
		}

		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !c.closed.Load() {
				go c.reconnect()
			}
			return
		}

		var partial struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(msg, &partial); err != nil {
			continue
		}

		if partial.ID != nil {
			var resp Response
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			c.pendingMu.Lock()
			ch, ok := c.pendingCalls[*partial.ID]
			c.pendingMu.Unlock()
			if ok {
				ch <- resp
			}
			continue
		}

		if partial.Method == "eth_subscription" {
			var notif struct {
				Params struct {
					Subscription string          `json:"subscription"`
					Result       json.RawMessage `json:"result"`
				} `json:"params"`
			}
			if err := json.Unmarshal(msg, &notif); err != nil {
				continue
			}
			c.subsMu.Lock()
			ch, ok := c.subscriptions[notif.Params.Subscription]
			c.subsMu.Unlock()
			if ok {
				select {
				case ch <- notif.Params.Result:
				default:
				}
			}
		}
	}
}
