package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind identifies the kind of ledger notification
type EventKind string

const (
	EventTransfer EventKind = "Transfer"
	EventApproval EventKind = "Approval"
)

// TokenInfo describes a deployed token
type TokenInfo struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply *uint256.Int   `json:"totalSupply"`
}

// Clone creates a deep copy of the token info
func (t *TokenInfo) Clone() *TokenInfo {
	clone := *t
	if t.TotalSupply != nil {
		clone.TotalSupply = t.TotalSupply.Clone()
	} else {
		clone.TotalSupply = new(uint256.Int)
	}
	return &clone
}

// Event is a notification emitted by a ledger mutation.
// For approvals From is the owner and To the spender.
type Event struct {
	Kind        EventKind
	Token       common.Address
	From        common.Address
	To          common.Address
	Amount      *uint256.Int
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Commit is the outcome of one successful Update
type Commit struct {
	BlockNumber uint64
	TxHash      common.Hash
	Events      []Event
}

// Transfers returns the transfer events of the commit in emission order
func (c *Commit) Transfers() []Event {
	out := make([]Event, 0, len(c.Events))
	for _, e := range c.Events {
		if e.Kind == EventTransfer {
			out = append(out, e)
		}
	}
	return out
}

// Reader exposes read-only ledger queries
type Reader interface {
	// BlockNumber returns the number of the last committed block
	BlockNumber() uint64
	Token(token common.Address) (*TokenInfo, error)
	BalanceOf(token, account common.Address) (*uint256.Int, error)
	Allowance(token, owner, spender common.Address) (*uint256.Int, error)
}

// Tx is the mutable view handed to an Update callback.
// Rule violations are reported before anything is written, and the whole
// callback is discarded when it returns an error.
type Tx interface {
	Reader

	// Deploy registers a token and mints info.TotalSupply to holder
	Deploy(info TokenInfo, holder common.Address) error
	Transfer(token, from, to common.Address, amount *uint256.Int) error
	Approve(token, owner, spender common.Address, amount *uint256.Int) error
	// TransferFrom moves amount from owner to recipient, consuming the allowance
	// owner granted to spender
	TransferFrom(token, spender, owner, recipient common.Address, amount *uint256.Int) error
}

// Ledger is a fungible token ledger with atomic, serialized updates
type Ledger interface {
	View(ctx context.Context, fn func(Reader) error) error
	// Update runs fn as one indivisible unit of work. When fn returns an error
	// nothing it did is retained and the error is returned unchanged.
	Update(ctx context.Context, fn func(Tx) error) (*Commit, error)
	Close() error
}
