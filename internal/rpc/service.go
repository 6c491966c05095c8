// Package rpc serves the token ledger and the distributor over JSON-RPC.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"multisend/internal/jsonrpc"
	"multisend/internal/ledger"
	"multisend/internal/multisend"
	"multisend/internal/receipts"
)

type methodFunc func(ctx context.Context, req *jsonrpc.Request) (interface{}, error)

// Service dispatches JSON-RPC calls to the ledger and the distributor.
// Write methods act on behalf of the "from" address without signatures, like
// the unlocked accounts of a development node.
type Service struct {
	ledger      ledger.Ledger
	distributor *multisend.Distributor
	receipts    receipts.Store
	methods     map[string]methodFunc
	logger      zerolog.Logger
}

// NewService creates a Service
func NewService(l ledger.Ledger, d *multisend.Distributor, store receipts.Store, logger zerolog.Logger) *Service {
	s := &Service{
		ledger:      l,
		distributor: d,
		receipts:    store,
		logger:      logger.With().Str("component", "rpc").Logger(),
	}
	s.methods = map[string]methodFunc{
		"multisend_maxCount":       s.maxCount,
		"multisend_address":        s.address,
		"multisend_pushDistribute": s.pushDistribute,
		"multisend_getReceipt":     s.getReceipt,
		"token_info":               s.tokenInfo,
		"token_balanceOf":          s.balanceOf,
		"token_allowance":          s.allowance,
		"token_approve":            s.approve,
		"token_transfer":           s.transfer,
		"token_transferFrom":       s.transferFrom,
		"eth_blockNumber":          s.blockNumber,
	}
	return s
}

// HasMethod reports whether method is served
func (s *Service) HasMethod(method string) bool {
	_, ok := s.methods[method]
	return ok
}

// Handle executes a single request and builds its response
func (s *Service) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	if req == nil {
		return jsonrpc.NewErrorResponse(jsonrpc.NewIDNull(), jsonrpc.ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
	}

	method, ok := s.methods[req.Method]
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrMethodNotFound)
	}

	result, err := method(ctx, req)
	if err != nil {
		rpcErr := s.toRPCError(req.Method, err)
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := jsonrpc.NewResponse(req.ID, result)
	if err != nil {
		s.logger.Error().Err(err).Str("method", req.Method).Msg("failed to marshal result")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal)
	}
	return resp
}

// toRPCError maps a method failure to its JSON-RPC error
func (s *Service) toRPCError(method string, err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, multisend.ErrInvalidTokenAddress),
		errors.Is(err, multisend.ErrZeroAmount),
		errors.Is(err, multisend.ErrInvalidRecipientCount),
		ledger.IsRuleViolation(err):
		return jsonrpc.NewRevertError(multisend.RevertReason(err))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return jsonrpc.NewError(jsonrpc.CodeServerError, "request timeout")
	default:
		s.logger.Error().Err(err).Str("method", method).Msg("request failed")
		return jsonrpc.ErrInternal
	}
}

var errDistributorSpender = jsonrpc.InvalidParams("from: the distributor spends allowances only through multisend_pushDistribute")

func invalidParams(format string, args ...interface{}) error {
	return jsonrpc.InvalidParams(fmt.Sprintf(format, args...))
}

// decode unmarshals positional params, requiring at least min of them
func decode(req *jsonrpc.Request, min int, out ...interface{}) error {
	if n := req.ParamCount(); n < min {
		return invalidParams("missing params: got %d, want %d", n, min)
	}
	if err := req.DecodeParams(out...); err != nil {
		return jsonrpc.InvalidParams(err.Error())
	}
	return nil
}

func requireAmount(v *hexutil.Big) (*uint256.Int, error) {
	if v == nil {
		return nil, invalidParams("amount is required")
	}
	amount, err := toUint256(v)
	if err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	return amount, nil
}

func (s *Service) maxCount(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	if err := decode(req, 0); err != nil {
		return nil, err
	}
	return s.distributor.MaxCount(), nil
}

func (s *Service) address(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	if err := decode(req, 0); err != nil {
		return nil, err
	}
	return s.distributor.Address(), nil
}

func (s *Service) blockNumber(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	if err := decode(req, 0); err != nil {
		return nil, err
	}
	var n uint64
	err := s.ledger.View(ctx, func(r ledger.Reader) error {
		n = r.BlockNumber()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hexutil.Uint64(n), nil
}

// pushDistribute rejects a zero token before anything else, including
// params that fail to decode
func (s *Service) pushDistribute(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	var args DistributeArgs
	if err := decode(req, 1, &args); err != nil {
		if namesZeroToken(req) {
			return nil, multisend.ErrInvalidTokenAddress
		}
		return nil, err
	}
	if args.Token == (common.Address{}) {
		return nil, multisend.ErrInvalidTokenAddress
	}
	amount, err := toUint256(args.Amount)
	if err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}

	receipt, err := s.distributor.PushDistribute(ctx, args.From, multisend.Request{
		Token:              args.Token,
		AmountPerRecipient: amount,
		Recipients:         args.Recipients,
	})
	if err != nil {
		return nil, err
	}

	s.receipts.Put(receipt)
	return NewReceipt(receipt), nil
}

// namesZeroToken reports whether the first param is an object whose token is
// absent or the zero address, whatever its other fields hold
func namesZeroToken(req *jsonrpc.Request) bool {
	var params []json.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) == 0 {
		return false
	}
	var head struct {
		Token *common.Address `json:"token"`
	}
	if err := json.Unmarshal(params[0], &head); err != nil {
		return false
	}
	return head.Token == nil || *head.Token == (common.Address{})
}

func (s *Service) getReceipt(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	var txHash common.Hash
	if err := decode(req, 1, &txHash); err != nil {
		return nil, err
	}
	receipt, ok := s.receipts.Get(txHash)
	if !ok {
		return nil, nil
	}
	return NewReceipt(receipt), nil
}

func (s *Service) tokenInfo(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	var token common.Address
	if err := decode(req, 1, &token); err != nil {
		return nil, err
	}

	var info *ledger.TokenInfo
	err := s.ledger.View(ctx, func(r ledger.Reader) error {
		var err error
		info, err = r.Token(token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return NewTokenInfo(info), nil
}

func (s *Service) balanceOf(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	var token, account common.Address
	if err := decode(req, 2, &token, &account); err != nil {
		return nil, err
	}

	var balance *uint256.Int
	err := s.ledger.View(ctx, func(r ledger.Reader) error {
		var err error
		balance, err = r.BalanceOf(token, account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toHexBig(balance), nil
}

func (s *Service) allowance(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	var token, owner, spender common.Address
	if err := decode(req, 3, &token, &owner, &spender); err != nil {
		return nil, err
	}

	var allowance *uint256.Int
	err := s.ledger.View(ctx, func(r ledger.Reader) error {
		var err error
		allowance, err = r.Allowance(token, owner, spender)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toHexBig(allowance), nil
}

func (s *Service) approve(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	var args ApproveArgs
	if err := decode(req, 1, &args); err != nil {
		return nil, err
	}
	amount, err := requireAmount(args.Amount)
	if err != nil {
		return nil, err
	}

	return s.update(ctx, func(tx ledger.Tx) error {
		return tx.Approve(args.Token, args.From, args.Spender, amount)
	})
}

func (s *Service) transfer(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	var args TransferArgs
	if err := decode(req, 1, &args); err != nil {
		return nil, err
	}
	amount, err := requireAmount(args.Amount)
	if err != nil {
		return nil, err
	}

	return s.update(ctx, func(tx ledger.Tx) error {
		return tx.Transfer(args.Token, args.From, args.To, amount)
	})
}

// transferFrom refuses the distributor as spender: allowances granted to it
// are spent only by multisend_pushDistribute
func (s *Service) transferFrom(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	var args TransferFromArgs
	if err := decode(req, 1, &args); err != nil {
		return nil, err
	}
	if args.From == s.distributor.Address() {
		return nil, errDistributorSpender
	}
	amount, err := requireAmount(args.Amount)
	if err != nil {
		return nil, err
	}

	return s.update(ctx, func(tx ledger.Tx) error {
		return tx.TransferFrom(args.Token, args.From, args.Owner, args.To, amount)
	})
}

func (s *Service) update(ctx context.Context, fn func(ledger.Tx) error) (interface{}, error) {
	commit, err := s.ledger.Update(ctx, fn)
	if err != nil {
		return nil, err
	}
	return NewCommit(commit), nil
}
