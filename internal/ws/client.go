package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tagstream/internal/jsonrpc"
	"tagstream/internal/subscription"
	"tagstream/internal/tag"
)

// Client represents a WebSocket client connection. Every subscription it
// creates lives as long as the connection does.
type Client struct {
	id      string
	conn    *websocket.Conn
	manager *subscription.Manager
	opts    Options
	caller  tag.Caller
	logger  zerolog.Logger

	mu   sync.Mutex
	subs map[string]*subscription.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	pumps  sync.WaitGroup

	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
	onClose   func(*Client)
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, manager *subscription.Manager, opts Options, remoteAddr string, logger zerolog.Logger) *Client {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteWait
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:      id,
		conn:    conn,
		manager: manager,
		opts:    opts,
		caller:  tag.Caller{ID: id, Name: remoteAddr},
		logger: logger.With().
			Str("client", id).
			Str("remoteAddr", remoteAddr).
			Logger(),
		subs:      make(map[string]*subscription.Subscription),
		ctx:       ctx,
		cancel:    cancel,
		sendChan:  make(chan []byte, sendBufferSize),
		closeChan: make(chan struct{}),
	}
}

// ID returns the connection ID
func (c *Client) ID() string {
	return c.id
}

// Run starts the client read and write loops and blocks until the
// connection is closed
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	go c.writePump()

	c.readPump()
}

// readPump reads messages from the WebSocket connection
func (c *Client) readPump() {
	defer c.Close()

	for {
		select {
		case <-c.closeChan:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		c.handleMessage(data)
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closeChan:
			return
		case data := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming message
func (c *Client) handleMessage(data []byte) {
	requests, isBatch, err := jsonrpc.ParseBatchRequest(data)
	if err != nil {
		c.sendError(jsonrpc.NewIDNull(), jsonrpc.ErrParse)
		return
	}

	if !isBatch {
		if resp := c.handleRequest(requests[0]); resp != nil {
			c.sendResponse(resp)
		}
		return
	}

	responses := make([]*jsonrpc.Response, 0, len(requests))
	for _, req := range requests {
		if resp := c.handleRequest(req); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) > 0 {
		c.sendBatchResponse(responses)
	}
}

// handleRequest handles a single JSON-RPC request. Notifications get no response.
func (c *Client) handleRequest(req *jsonrpc.Request) *jsonrpc.Response {
	if err := req.Validate(); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
	}

	var (
		result interface{}
		rpcErr *jsonrpc.Error
	)
	switch req.Method {
	case jsonrpc.MethodSubscribe:
		result, rpcErr = c.handleSubscribe(req)
	case jsonrpc.MethodAdd:
		result, rpcErr = c.handleChange(req, c.manager.AddTags)
	case jsonrpc.MethodRemove:
		result, rpcErr = c.handleChange(req, c.manager.RemoveTags)
	case jsonrpc.MethodUnsubscribe:
		result, rpcErr = c.handleUnsubscribe(req)
	case jsonrpc.MethodList:
		result, rpcErr = c.handleList(req)
	default:
		rpcErr = jsonrpc.ErrMethodNotFound
	}

	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}
	resp, err := jsonrpc.NewResponse(req.ID, result)
	if err != nil {
		c.logger.Error().Err(err).Str("method", req.Method).Msg("failed to marshal result")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal)
	}
	return resp
}

// handleSubscribe handles tags_subscribe
func (c *Client) handleSubscribe(req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	names, err := req.GetSubscribeTags()
	if err != nil {
		return nil, jsonrpc.InvalidParams(err)
	}

	c.mu.Lock()
	select {
	case <-c.closeChan:
		c.mu.Unlock()
		return nil, jsonrpc.NewError(jsonrpc.CodeServerError, "connection closed")
	default:
	}
	if limit := c.opts.MaxSubscriptionsPerClient; limit > 0 && len(c.subs) >= limit {
		c.mu.Unlock()
		return nil, jsonrpc.NewError(jsonrpc.CodeTooManySubscriptions,
			fmt.Sprintf("subscription limit of %d reached", limit))
	}
	sub, err := c.manager.Subscribe(c.ctx, &c.caller)
	if err != nil {
		c.mu.Unlock()
		return nil, toRPCError(err)
	}
	c.subs[sub.ID()] = sub
	c.pumps.Add(1)
	c.mu.Unlock()

	go c.pump(sub)

	if len(names) > 0 {
		if _, err := c.manager.AddTags(c.ctx, sub, names); err != nil {
			c.dropSubscription(sub.ID())
			return nil, toRPCError(err)
		}
	}

	c.logger.Debug().
		Str("subscription", sub.ID()).
		Int("tags", len(names)).
		Msg("subscription created")

	return sub.ID(), nil
}

type changeFunc func(ctx context.Context, sub *subscription.Subscription, namesOrIDs []string) (int, error)

// handleChange handles tags_add and tags_remove
func (c *Client) handleChange(req *jsonrpc.Request, change changeFunc) (interface{}, *jsonrpc.Error) {
	subID, names, err := req.GetTagChange()
	if err != nil {
		return nil, jsonrpc.InvalidParams(err)
	}

	sub, ok := c.lookup(subID)
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.CodeSubscriptionNotFound, "subscription not found")
	}

	n, err := change(c.ctx, sub, names)
	if err != nil {
		return nil, toRPCError(err)
	}
	return n, nil
}

// handleUnsubscribe handles tags_unsubscribe
func (c *Client) handleUnsubscribe(req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	subID, err := req.GetUnsubscribeID()
	if err != nil {
		return nil, jsonrpc.InvalidParams(err)
	}

	success := c.dropSubscription(subID)

	c.logger.Debug().
		Str("subscription", subID).
		Bool("success", success).
		Msg("unsubscribe requested")

	return success, nil
}

// handleList handles tags_list: params are [] or [query] or [query, limit]
func (c *Client) handleList(req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	if c.opts.Lister == nil {
		return nil, jsonrpc.ErrMethodNotFound
	}

	var (
		query string
		limit = defaultListLimit
	)
	if len(req.Params) > 0 {
		var params []json.RawMessage
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, jsonrpc.InvalidParams(err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params[0], &query); err != nil {
				return nil, jsonrpc.InvalidParams(errors.New("query must be a string"))
			}
		}
		if len(params) > 1 {
			if err := json.Unmarshal(params[1], &limit); err != nil || limit < 0 {
				return nil, jsonrpc.InvalidParams(errors.New("limit must be a non-negative integer"))
			}
		}
	}

	tags := c.opts.Lister.Search(query, limit)
	if tags == nil {
		tags = []tag.Identifier{}
	}
	return tags, nil
}

// pump forwards values from a subscription's output queue to the connection
func (c *Client) pump(sub *subscription.Subscription) {
	defer c.pumps.Done()

	for {
		v, err := sub.Receive(c.ctx)
		if err != nil {
			if !errors.Is(err, subscription.ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				c.logger.Warn().Err(err).Str("subscription", sub.ID()).Msg("receive failed")
			}
			return
		}

		n, err := jsonrpc.NewNotification(sub.ID(), v)
		if err != nil {
			c.logger.Error().Err(err).Str("tag", v.Tag.ID).Msg("failed to marshal value")
			continue
		}
		data, err := json.Marshal(n)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to marshal notification")
			continue
		}
		if !c.send(data) {
			return
		}
	}
}

func (c *Client) lookup(subID string) (*subscription.Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[subID]
	return sub, ok
}

// dropSubscription disposes one of the client's subscriptions
func (c *Client) dropSubscription(subID string) bool {
	c.mu.Lock()
	sub, ok := c.subs[subID]
	delete(c.subs, subID)
	c.mu.Unlock()

	if !ok {
		return false
	}
	sub.Dispose()
	return true
}

// SubscriptionCount returns the number of live subscriptions of the client
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// toRPCError maps engine errors to JSON-RPC errors
func toRPCError(err error) *jsonrpc.Error {
	switch {
	case errors.Is(err, subscription.ErrInvalidArgument), errors.Is(err, subscription.ErrInvalidCaller):
		return jsonrpc.InvalidParams(err)
	case errors.Is(err, subscription.ErrDisposed):
		return jsonrpc.NewError(jsonrpc.CodeSubscriptionNotFound, err.Error())
	default:
		return jsonrpc.NewError(jsonrpc.CodeServerError, err.Error())
	}
}

// sendResponse sends a JSON-RPC response
func (c *Client) sendResponse(resp *jsonrpc.Response) {
	data, err := resp.Bytes()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal response")
		return
	}
	c.send(data)
}

// sendBatchResponse sends a batch of JSON-RPC responses
func (c *Client) sendBatchResponse(responses []*jsonrpc.Response) {
	data, err := jsonrpc.MarshalBatchResponse(responses)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal batch response")
		return
	}
	c.send(data)
}

// sendError sends a JSON-RPC error response
func (c *Client) sendError(id jsonrpc.ID, rpcErr *jsonrpc.Error) {
	c.sendResponse(jsonrpc.NewErrorResponse(id, rpcErr))
}

// send hands data to the write pump, waiting while the pump is busy. Values
// are only ever dropped by the subscription queues feeding the pumps.
func (c *Client) send(data []byte) bool {
	select {
	case c.sendChan <- data:
		return true
	case <-c.closeChan:
		return false
	case <-c.ctx.Done():
		return false
	}
}

// Close closes the client connection and disposes its subscriptions
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.closeChan)

		c.mu.Lock()
		subs := make([]*subscription.Subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			subs = append(subs, sub)
		}
		c.subs = make(map[string]*subscription.Subscription)
		c.mu.Unlock()

		for _, sub := range subs {
			sub.Dispose()
		}
		c.pumps.Wait()

		c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
		c.logger.Debug().Int("subscriptions", len(subs)).Msg("client closed")
	})
}
