// Package events fans ledger commits out to WebSocket subscribers.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"multisend/internal/jsonrpc"
	"multisend/internal/ledger"
)

// SendFunc is a callback function for sending data to the client
type SendFunc func(data []byte)

// SubscriptionType represents the type of subscription
type SubscriptionType string

const (
	SubTypeTransfers SubscriptionType = "transfers"
	SubTypeApprovals SubscriptionType = "approvals"
)

// ParseSubscriptionType validates a client supplied subscription type
func ParseSubscriptionType(s string) (SubscriptionType, error) {
	switch t := SubscriptionType(s); t {
	case SubTypeTransfers, SubTypeApprovals:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported subscription type: %q", s)
	}
}

// subTypeOf returns the subscription type that carries events of kind k
func subTypeOf(k ledger.EventKind) SubscriptionType {
	if k == ledger.EventApproval {
		return SubTypeApprovals
	}
	return SubTypeTransfers
}

// Filter narrows a subscription down to matching events. Nil fields match anything.
type Filter struct {
	Token *common.Address `json:"token,omitempty"`
	From  *common.Address `json:"from,omitempty"`
	To    *common.Address `json:"to,omitempty"`
}

// ParseFilter decodes the optional second eth_subscribe param
func ParseFilter(raw json.RawMessage) (Filter, error) {
	var f Filter
	if len(raw) == 0 || string(raw) == "null" {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("invalid filter: %w", err)
	}
	return f, nil
}

// Matches reports whether ev passes the filter
func (f Filter) Matches(ev ledger.Event) bool {
	if f.Token != nil && *f.Token != ev.Token {
		return false
	}
	if f.From != nil && *f.From != ev.From {
		return false
	}
	if f.To != nil && *f.To != ev.To {
		return false
	}
	return true
}

// key returns a stable identifier for the filter
func (f Filter) key() string {
	part := func(a *common.Address) string {
		if a == nil {
			return "*"
		}
		return a.Hex()
	}
	return part(f.Token) + ":" + part(f.From) + ":" + part(f.To)
}

// Event is a single ledger event ready for delivery
type Event struct {
	SubType SubscriptionType
	Log     *jsonrpc.Log
	Result  json.RawMessage
}

// Subscriber is the interface for event consumers
type Subscriber interface {
	// OnEvent is called for every matching event
	OnEvent(event Event)
	// ID returns a unique identifier for this subscriber
	ID() string
}
