package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request represents a JSON-RPC request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

// Validate checks if the request is valid
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("request must be an object")
	}
	if r.JSONRPC != Version {
		return fmt.Errorf("invalid jsonrpc version: %s", r.JSONRPC)
	}
	if r.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// IsNotification returns true if this is a notification (no ID)
func (r *Request) IsNotification() bool {
	return r.ID.IsNull()
}

// ParseRequest parses a single JSON-RPC request from bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// ParseBatchRequest parses a batch of JSON-RPC requests
// Returns a slice of requests, or a single request if not a batch
func ParseBatchRequest(data []byte) ([]*Request, bool, error) {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return nil, false, ErrInvalidRequest
	}

	if data[0] == '[' {
		var requests []*Request
		if err := json.Unmarshal(data, &requests); err != nil {
			return nil, true, fmt.Errorf("failed to parse batch request: %w", err)
		}
		if len(requests) == 0 {
			return nil, true, ErrInvalidRequest
		}
		for _, req := range requests {
			if req == nil {
				return nil, true, ErrInvalidRequest
			}
		}
		return requests, true, nil
	}

	req, err := ParseRequest(data)
	if err != nil {
		return nil, false, err
	}
	return []*Request{req}, false, nil
}

// DecodeParams unmarshals positional params into out, in order.
// Missing trailing params leave their targets untouched; extra params are an error.
func (r *Request) DecodeParams(out ...interface{}) error {
	if len(bytes.TrimSpace(r.Params)) == 0 {
		return nil
	}

	var params []json.RawMessage
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return fmt.Errorf("params must be an array: %w", err)
	}
	if len(params) > len(out) {
		return fmt.Errorf("too many params: got %d, want at most %d", len(params), len(out))
	}

	for i, raw := range params {
		if err := json.Unmarshal(raw, out[i]); err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
	}
	return nil
}

// ParamCount returns the number of positional params
func (r *Request) ParamCount() int {
	if len(bytes.TrimSpace(r.Params)) == 0 {
		return 0
	}
	var params []json.RawMessage
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return 0
	}
	return len(params)
}

// IsSubscribeMethod returns true if the method is eth_subscribe
func (r *Request) IsSubscribeMethod() bool {
	return r.Method == "eth_subscribe"
}

// IsUnsubscribeMethod returns true if the method is eth_unsubscribe
func (r *Request) IsUnsubscribeMethod() bool {
	return r.Method == "eth_unsubscribe"
}

// GetSubscriptionType extracts the subscription type from params
// Returns the subscription type (e.g., "transfers", "approvals") and any additional params
func (r *Request) GetSubscriptionType() (string, json.RawMessage, error) {
	if !r.IsSubscribeMethod() {
		return "", nil, fmt.Errorf("not a subscribe request")
	}

	var params []json.RawMessage
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return "", nil, fmt.Errorf("invalid params format: %w", err)
	}

	if len(params) == 0 {
		return "", nil, fmt.Errorf("subscription type is required")
	}

	var subType string
	if err := json.Unmarshal(params[0], &subType); err != nil {
		return "", nil, fmt.Errorf("invalid subscription type: %w", err)
	}

	var additionalParams json.RawMessage
	if len(params) > 1 {
		additionalParams = params[1]
	}

	return subType, additionalParams, nil
}

// GetUnsubscribeID extracts the subscription ID from unsubscribe params
func (r *Request) GetUnsubscribeID() (string, error) {
	if !r.IsUnsubscribeMethod() {
		return "", fmt.Errorf("not an unsubscribe request")
	}

	var params []string
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return "", fmt.Errorf("invalid params format: %w", err)
	}

	if len(params) == 0 {
		return "", fmt.Errorf("subscription ID is required")
	}

	return params[0], nil
}
