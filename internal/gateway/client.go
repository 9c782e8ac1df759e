// Package gateway is the websocket RPC client for the OpenClaw gateway.
// The core consumes a single call surface: callGateway({method, params}).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// request is the wire envelope for one RPC call.
type request struct {
	Type   string      `json:"type"` // "req"
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// response is the wire envelope for one RPC reply or a gateway-pushed
// event frame (Type "event", identified by Name).
type response struct {
	Type    string          `json:"type"` // "res" | "event"
	ID      string          `json:"id"`
	Name    string          `json:"name,omitempty"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *respError      `json:"error,omitempty"`
}

// EventHandler receives gateway-pushed event frames.
type EventHandler func(name string, payload json.RawMessage)

type respError struct {
	Message string `json:"message"`
}

// RPCError is a gateway-side call failure.
type RPCError struct {
	Method  string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway %s: %s", e.Method, e.Message)
}

// Options configures a Client.
type Options struct {
	URL         string
	Token       string
	CallsPerSec int
	CallBurst   int
	DialTimeout time.Duration
}

// Client is a lazily-connecting, auto-reconnecting gateway RPC client.
// Safe for concurrent use; outbound calls are rate limited.
type Client struct {
	opts    Options
	limiter *rate.Limiter

	mu   sync.Mutex // guards conn establishment and writes
	conn *websocket.Conn

	pmu     sync.Mutex
	pending map[string]chan response

	emu     sync.RWMutex
	onEvent EventHandler
}

// OnEvent registers the handler for gateway-pushed event frames, replacing
// any previous one. The handler runs on its own goroutine per frame.
func (c *Client) OnEvent(fn EventHandler) {
	c.emu.Lock()
	c.onEvent = fn
	c.emu.Unlock()
}

// NewClient creates a client. No connection is made until the first call.
func NewClient(opts Options) *Client {
	if opts.CallsPerSec <= 0 {
		opts.CallsPerSec = 10
	}
	if opts.CallBurst <= 0 {
		opts.CallBurst = opts.CallsPerSec * 2
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &Client{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.CallsPerSec), opts.CallBurst),
		pending: make(map[string]chan response),
	}
}

// Call performs one RPC and returns the raw payload.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ch := make(chan response, 1)
	c.pmu.Lock()
	c.pending[id] = ch
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, id)
		c.pmu.Unlock()
	}()

	if err := c.send(ctx, request{Type: "req", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-ch:
		if !ok {
			return nil, errors.New("gateway connection closed")
		}
		if !res.OK {
			msg := "call failed"
			if res.Error != nil {
				msg = res.Error.Message
			}
			return nil, &RPCError{Method: method, Message: msg}
		}
		return res.Payload, nil
	}
}

// CallInto performs one RPC and unmarshals the payload into out.
func (c *Client) CallInto(ctx context.Context, method string, params, out interface{}) error {
	payload, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

// Close tears down the connection, failing in-flight calls.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) send(ctx context.Context, req request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			return err
		}
	}
	if err := c.conn.WriteJSON(req); err != nil {
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("gateway write: %w", err)
	}
	return nil
}

func (c *Client) dialLocked(ctx context.Context) error {
	hdr := http.Header{}
	if c.opts.Token != "" {
		hdr.Set("Authorization", "Bearer "+c.opts.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, hdr)
	if err != nil {
		return fmt.Errorf("gateway dial %s: %w", c.opts.URL, err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

// readLoop dispatches responses to pending calls until the connection
// drops, then fails everything in flight.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var res response
		if err := conn.ReadJSON(&res); err != nil {
			break
		}
		if res.Type == "event" {
			c.emu.RLock()
			fn := c.onEvent
			c.emu.RUnlock()
			if fn != nil {
				go fn(res.Name, res.Payload)
			}
			continue
		}
		if res.Type != "res" {
			continue
		}
		c.pmu.Lock()
		ch, ok := c.pending[res.ID]
		if ok {
			delete(c.pending, res.ID)
		}
		c.pmu.Unlock()
		if ok {
			ch <- res
		}
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	c.pmu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pmu.Unlock()
}
