package rpc

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"multisend/internal/config"
	"multisend/internal/jsonrpc"
)

// Handler handles HTTP JSON-RPC requests
type Handler struct {
	service        *Service
	limiter        *rate.Limiter
	maxBodySize    int64
	requestTimeout time.Duration
	logger         zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(service *Service, cfg *config.Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		service:        service,
		maxBodySize:    cfg.MaxBodySize,
		requestTimeout: cfg.GetRequestTimeoutDuration(),
		logger:         logger.With().Str("component", "http").Logger(),
	}
	if cfg.IsRateLimitEnabled() {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}
	return h
}

// ServeHTTP handles HTTP requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := h.readBody(r)
	if err != nil {
		h.writeJSONRPCError(w, jsonrpc.NewIDNull(), err)
		return
	}

	requests, isBatch, parseErr := jsonrpc.ParseBatchRequest(body)
	if parseErr != nil {
		h.writeJSONRPCError(w, jsonrpc.NewIDNull(), jsonrpc.ParseFailure(parseErr))
		return
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	if isBatch {
		responses := make([]*jsonrpc.Response, len(requests))
		for i, req := range requests {
			responses[i] = h.execute(ctx, req)
		}
		h.writeBatchResponse(w, responses)
		return
	}

	h.writeResponse(w, h.execute(ctx, requests[0]))
}

// allow charges one token per request, so a batch is limited entry by entry
func (h *Handler) allow() bool {
	return h.limiter == nil || h.limiter.Allow()
}

func (h *Handler) execute(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	if !h.allow() {
		h.logger.Debug().Str("method", req.Method).Msg("rate limited")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrRateLimited)
	}

	start := time.Now()
	resp := h.service.Handle(ctx, req)

	event := h.logger.Debug().
		Str("method", req.Method).
		Dur("duration", time.Since(start))
	if resp.HasError() {
		event = event.Int("code", resp.Error.Code).Str("error", resp.Error.Message)
	}
	event.Msg("request handled")

	return resp
}

// readBody reads the request body, enforcing the configured size limit
func (h *Handler) readBody(r *http.Request) ([]byte, *jsonrpc.Error) {
	if h.maxBodySize <= 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeParseError, "failed to read request body")
		}
		return body, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeParseError, "failed to read request body")
	}
	if int64(len(body)) > h.maxBodySize {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "request body too large")
	}
	return body, nil
}

// writeResponse writes a JSON-RPC response
func (h *Handler) writeResponse(w http.ResponseWriter, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	data, err := resp.Bytes()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal response")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Write(data)
}

// writeBatchResponse writes a batch of JSON-RPC responses
func (h *Handler) writeBatchResponse(w http.ResponseWriter, responses []*jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	data, err := jsonrpc.MarshalBatchResponse(responses)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal batch response")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Write(data)
}

// writeJSONRPCError writes a JSON-RPC error response
func (h *Handler) writeJSONRPCError(w http.ResponseWriter, id jsonrpc.ID, rpcErr *jsonrpc.Error) {
	h.writeResponse(w, jsonrpc.NewErrorResponse(id, rpcErr))
}

// writeError writes a plain HTTP error
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}
