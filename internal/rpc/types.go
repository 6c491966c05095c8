package rpc

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"multisend/internal/jsonrpc"
	"multisend/internal/ledger"
	"multisend/internal/multisend"
)

// DistributeArgs are the params of multisend_pushDistribute
type DistributeArgs struct {
	From       common.Address   `json:"from"`
	Token      common.Address   `json:"token"`
	Amount     *hexutil.Big     `json:"amount"`
	Recipients []common.Address `json:"recipients"`
}

// ApproveArgs are the params of token_approve
type ApproveArgs struct {
	From    common.Address `json:"from"`
	Token   common.Address `json:"token"`
	Spender common.Address `json:"spender"`
	Amount  *hexutil.Big   `json:"amount"`
}

// TransferArgs are the params of token_transfer
type TransferArgs struct {
	From   common.Address `json:"from"`
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *hexutil.Big   `json:"amount"`
}

// TransferFromArgs are the params of token_transferFrom. From is the spender.
type TransferFromArgs struct {
	From   common.Address `json:"from"`
	Token  common.Address `json:"token"`
	Owner  common.Address `json:"owner"`
	To     common.Address `json:"to"`
	Amount *hexutil.Big   `json:"amount"`
}

// Receipt is the wire form of a distribution receipt
type Receipt struct {
	TransactionHash    common.Hash      `json:"transactionHash"`
	BlockNumber        hexutil.Uint64   `json:"blockNumber"`
	Token              common.Address   `json:"token"`
	From               common.Address   `json:"from"`
	AmountPerRecipient *hexutil.Big     `json:"amountPerRecipient"`
	Total              *hexutil.Big     `json:"total"`
	Recipients         []common.Address `json:"recipients"`
	Logs               []*jsonrpc.Log   `json:"logs"`
}

// Commit is the wire form of a single token operation result
type Commit struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	Logs            []*jsonrpc.Log `json:"logs"`
}

// TokenInfo is the wire form of token metadata
type TokenInfo struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    hexutil.Uint   `json:"decimals"`
	TotalSupply *hexutil.Big   `json:"totalSupply"`
}

// NewReceipt converts an engine receipt to its wire form
func NewReceipt(r *multisend.Receipt) *Receipt {
	return &Receipt{
		TransactionHash:    r.TxHash,
		BlockNumber:        hexutil.Uint64(r.BlockNumber),
		Token:              r.Token,
		From:               r.Sender,
		AmountPerRecipient: toHexBig(r.AmountPerRecipient),
		Total:              toHexBig(r.Total),
		Recipients:         r.Recipients,
		Logs:               jsonrpc.NewLogs(r.Transfers),
	}
}

// NewCommit converts a ledger commit to its wire form
func NewCommit(c *ledger.Commit) *Commit {
	return &Commit{
		TransactionHash: c.TxHash,
		BlockNumber:     hexutil.Uint64(c.BlockNumber),
		Logs:            jsonrpc.NewLogs(c.Events),
	}
}

// NewTokenInfo converts token metadata to its wire form
func NewTokenInfo(t *ledger.TokenInfo) *TokenInfo {
	return &TokenInfo{
		Address:     t.Address,
		Name:        t.Name,
		Symbol:      t.Symbol,
		Decimals:    hexutil.Uint(t.Decimals),
		TotalSupply: toHexBig(t.TotalSupply),
	}
}

func toHexBig(v *uint256.Int) *hexutil.Big {
	if v == nil {
		return new(hexutil.Big)
	}
	return (*hexutil.Big)(v.ToBig())
}

// toUint256 converts a wire amount. A missing amount converts to nil.
func toUint256(v *hexutil.Big) (*uint256.Int, error) {
	if v == nil {
		return nil, nil
	}
	b := v.ToInt()
	if b.Sign() < 0 {
		return nil, fmt.Errorf("negative amount")
	}
	out, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("amount exceeds 256 bits")
	}
	return out, nil
}
