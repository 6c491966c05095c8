package jsonrpc

import (
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"multisend/internal/ledger"
)

// Version is the JSON-RPC version
const Version = "2.0"

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Server error codes range: -32000 to -32099
	CodeServerError   = -32000
	CodeLimitExceeded = -32005

	// CodeExecutionReverted is what Ethereum nodes return for a reverted call
	CodeExecutionReverted = 3
)

// ID represents a JSON-RPC request/response ID
// It can be a string, number, or null
type ID struct {
	value interface{}
}

// NewIDString creates an ID from a string
func NewIDString(s string) ID {
	return ID{value: s}
}

// NewIDInt creates an ID from an integer
func NewIDInt(n int64) ID {
	return ID{value: n}
}

// NewIDNull creates a null ID
func NewIDNull() ID {
	return ID{value: nil}
}

// IsNull returns true if the ID is null
func (id ID) IsNull() bool {
	return id.value == nil
}

// Value returns the underlying value
func (id ID) Value() interface{} {
	return id.value
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &id.value)
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// ErrorCode returns the JSON-RPC error code
func (e *Error) ErrorCode() int {
	return e.Code
}

// NewError creates a new JSON-RPC error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithData creates a new JSON-RPC error with data
func NewErrorWithData(code int, message string, data interface{}) *Error {
	e := &Error{
		Code:    code,
		Message: message,
	}
	if data != nil {
		if rawData, err := json.Marshal(data); err == nil {
			e.Data = rawData
		}
	}
	return e
}

// NewRevertError reports a rejected state change with a short reason
func NewRevertError(reason string) *Error {
	return NewErrorWithData(CodeExecutionReverted, "execution reverted: "+reason, reason)
}

// ParseFailure maps a ParseBatchRequest error to its response error:
// malformed JSON is a parse error, well-formed but unusable input is an invalid request
func ParseFailure(err error) *Error {
	if errors.Is(err, ErrInvalidRequest) {
		return ErrInvalidRequest
	}
	return ErrParse
}

// InvalidParams returns an invalid params error carrying detail as data
func InvalidParams(detail string) *Error {
	return NewErrorWithData(CodeInvalidParams, ErrInvalidParams.Message, detail)
}

// Common errors
var (
	ErrParse          = NewError(CodeParseError, "Parse error")
	ErrInvalidRequest = NewError(CodeInvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewError(CodeMethodNotFound, "Method not found")
	ErrInvalidParams  = NewError(CodeInvalidParams, "Invalid params")
	ErrInternal       = NewError(CodeInternalError, "Internal error")
	ErrRateLimited    = NewError(CodeLimitExceeded, "Request rate limit exceeded")
)

// SubscriptionNotification represents a subscription event notification
type SubscriptionNotification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  SubscriptionParams `json:"params"`
}

// SubscriptionParams contains the subscription notification parameters
type SubscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// NewSubscriptionNotification wraps result for delivery to subscription subID
func NewSubscriptionNotification(subID string, result json.RawMessage) *SubscriptionNotification {
	return &SubscriptionNotification{
		JSONRPC: Version,
		Method:  "eth_subscription",
		Params: SubscriptionParams{
			Subscription: subID,
			Result:       result,
		},
	}
}

// Log represents a token event as delivered to clients
type Log struct {
	Address         common.Address `json:"address"`
	Event           string         `json:"event"`
	From            common.Address `json:"from"`
	To              common.Address `json:"to"`
	Amount          *hexutil.Big   `json:"amount"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	TransactionHash common.Hash    `json:"transactionHash"`
	LogIndex        hexutil.Uint   `json:"logIndex"`
}

// NewLog converts a ledger event to its wire form
func NewLog(ev ledger.Event) *Log {
	l := &Log{
		Address:         ev.Token,
		Event:           string(ev.Kind),
		From:            ev.From,
		To:              ev.To,
		Amount:          new(hexutil.Big),
		BlockNumber:     hexutil.Uint64(ev.BlockNumber),
		TransactionHash: ev.TxHash,
		LogIndex:        hexutil.Uint(ev.LogIndex),
	}
	if ev.Amount != nil {
		l.Amount = (*hexutil.Big)(ev.Amount.ToBig())
	}
	return l
}

// NewLogs converts a list of ledger events
func NewLogs(events []ledger.Event) []*Log {
	out := make([]*Log, len(events))
	for i, ev := range events {
		out[i] = NewLog(ev)
	}
	return out
}
