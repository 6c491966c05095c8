package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"multisend/internal/config"
	"multisend/internal/events"
	"multisend/internal/jsonrpc"
	"multisend/internal/rpc"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 10 * 1024 * 1024 // 10MB
)

// Client represents a WebSocket client connection
type Client struct {
	id             string
	conn           *websocket.Conn
	service        *rpc.Service
	subManager     *events.Manager
	requestTimeout time.Duration
	logger         zerolog.Logger

	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, service *rpc.Service, subManager *events.Manager, cfg *config.Config, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:             id,
		conn:           conn,
		service:        service,
		subManager:     subManager,
		requestTimeout: cfg.GetRequestTimeoutDuration(),
		logger:         logger.With().Str("conn", id).Logger(),
		sendChan:       make(chan []byte, 256),
		closeChan:      make(chan struct{}),
	}
}

// ID returns the connection identifier
func (c *Client) ID() string {
	return c.id
}

// Run starts the client read and write loops
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump(ctx)

	c.readPump(ctx)
}

// readPump reads messages from the WebSocket connection
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
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

		c.handleMessage(ctx, data)
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case data := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming message
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	requests, isBatch, err := jsonrpc.ParseBatchRequest(data)
	if err != nil {
		c.sendError(jsonrpc.NewIDNull(), jsonrpc.ParseFailure(err))
		return
	}

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	if !isBatch {
		c.sendResponse(c.dispatch(ctx, requests[0]))
		return
	}

	responses := make([]*jsonrpc.Response, len(requests))
	for i, req := range requests {
		responses[i] = c.dispatch(ctx, req)
	}
	c.sendBatchResponse(responses)
}

// dispatch routes subscription methods to the manager and everything else to the service
func (c *Client) dispatch(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	if req == nil {
		return jsonrpc.NewErrorResponse(jsonrpc.NewIDNull(), jsonrpc.ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
	}

	switch {
	case req.IsSubscribeMethod():
		return c.handleSubscribe(req)
	case req.IsUnsubscribeMethod():
		return c.handleUnsubscribe(req)
	default:
		return c.service.Handle(ctx, req)
	}
}

// handleSubscribe handles eth_subscribe request
func (c *Client) handleSubscribe(req *jsonrpc.Request) *jsonrpc.Response {
	rawType, rawFilter, err := req.GetSubscriptionType()
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams(err.Error()))
	}
	subType, err := events.ParseSubscriptionType(rawType)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams(err.Error()))
	}
	filter, err := events.ParseFilter(rawFilter)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams(err.Error()))
	}

	subID, err := c.subManager.Subscribe(c.id, c.send, subType, filter)
	if err != nil {
		code := jsonrpc.CodeInternalError
		if errors.Is(err, events.ErrTooManySubscriptions) {
			code = jsonrpc.CodeLimitExceeded
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(code, err.Error()))
	}

	c.logger.Debug().
		Str("subID", subID).
		Str("type", string(subType)).
		Msg("subscription created")

	resp, _ := jsonrpc.NewResponse(req.ID, subID)
	return resp
}

// handleUnsubscribe handles eth_unsubscribe request
func (c *Client) handleUnsubscribe(req *jsonrpc.Request) *jsonrpc.Response {
	subID, err := req.GetUnsubscribeID()
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams(err.Error()))
	}

	success := c.subManager.Unsubscribe(c.id, subID)

	c.logger.Debug().
		Str("subID", subID).
		Bool("success", success).
		Msg("unsubscribe requested")

	resp, _ := jsonrpc.NewResponse(req.ID, success)
	return resp
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
	data, err := json.Marshal(responses)
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

// send queues data for the write pump
func (c *Client) send(data []byte) {
	select {
	case c.sendChan <- data:
	case <-c.closeChan:
	default:
		c.logger.Warn().Msg("send channel full, dropping message")
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.subManager.RemoveSession(c.id)
		c.conn.Close()
		c.logger.Debug().Msg("client closed")
	})
}
