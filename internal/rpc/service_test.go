package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multisend/internal/jsonrpc"
	"multisend/internal/ledger"
	"multisend/internal/ledger/memory"
	"multisend/internal/multisend"
	"multisend/internal/receipts"
)

var (
	token       = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	holder      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	distributor = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	alice       = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	l := memory.New()
	_, err := l.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.Deploy(ledger.TokenInfo{
			Address:     token,
			Name:        "Test",
			Symbol:      "TST",
			Decimals:    18,
			TotalSupply: uint256.NewInt(1_000_000),
		}, holder)
	})
	require.NoError(t, err)

	store, err := receipts.NewMemoryStore(16, time.Minute)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return NewService(l, multisend.New(l, distributor, zerolog.Nop()), store, zerolog.Nop())
}

var nextID int64

func call(t *testing.T, s *Service, method string, params ...interface{}) *jsonrpc.Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	nextID++
	return s.Handle(context.Background(), &jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		Method:  method,
		Params:  raw,
		ID:      jsonrpc.NewIDInt(nextID),
	})
}

func result(t *testing.T, resp *jsonrpc.Response, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	require.NoError(t, resp.GetResultAs(out))
}

func hexAmount(n int64) *hexutil.Big {
	return (*hexutil.Big)(uint256.NewInt(uint64(n)).ToBig())
}

func balance(t *testing.T, s *Service, account common.Address) int64 {
	t.Helper()
	var out hexutil.Big
	result(t, call(t, s, "token_balanceOf", token, account), &out)
	return out.ToInt().Int64()
}

func TestService_Constants(t *testing.T) {
	s := newTestService(t)

	var max int
	result(t, call(t, s, "multisend_maxCount"), &max)
	assert.Equal(t, 64, max)

	var addr common.Address
	result(t, call(t, s, "multisend_address"), &addr)
	assert.Equal(t, distributor, addr)

	var block hexutil.Uint64
	result(t, call(t, s, "eth_blockNumber"), &block)
	assert.Equal(t, hexutil.Uint64(1), block)

	assert.True(t, s.HasMethod("token_info"))
	assert.False(t, s.HasMethod("eth_subscribe"))
}

func TestService_TokenInfo(t *testing.T) {
	s := newTestService(t)

	var info TokenInfo
	result(t, call(t, s, "token_info", token), &info)
	assert.Equal(t, "TST", info.Symbol)
	assert.Equal(t, hexutil.Uint(18), info.Decimals)
	assert.Equal(t, int64(1_000_000), info.TotalSupply.ToInt().Int64())

	resp := call(t, s, "token_info", common.HexToAddress("0xdead"))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeExecutionReverted, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "execution reverted: unknown token")
}

func TestService_PushDistribute(t *testing.T) {
	s := newTestService(t)

	var commit Commit
	result(t, call(t, s, "token_approve", ApproveArgs{From: holder, Token: token, Spender: distributor, Amount: hexAmount(1000)}), &commit)
	require.Len(t, commit.Logs, 1)
	assert.Equal(t, "Approval", commit.Logs[0].Event)

	var receipt Receipt
	result(t, call(t, s, "multisend_pushDistribute", DistributeArgs{
		From:       holder,
		Token:      token,
		Amount:     hexAmount(100),
		Recipients: []common.Address{alice, bob, alice},
	}), &receipt)

	assert.Equal(t, holder, receipt.From)
	assert.Equal(t, int64(300), receipt.Total.ToInt().Int64())
	require.Len(t, receipt.Logs, 3)
	for i, log := range receipt.Logs {
		assert.Equal(t, hexutil.Uint(i), log.LogIndex)
		assert.Equal(t, receipt.TransactionHash, log.TransactionHash)
	}
	assert.Equal(t, int64(200), balance(t, s, alice))
	assert.Equal(t, int64(100), balance(t, s, bob))
	assert.Equal(t, int64(1_000_000-300), balance(t, s, holder))

	var allowance hexutil.Big
	result(t, call(t, s, "token_allowance", token, holder, distributor), &allowance)
	assert.Equal(t, int64(700), allowance.ToInt().Int64())

	var stored Receipt
	result(t, call(t, s, "multisend_getReceipt", receipt.TransactionHash), &stored)
	assert.Equal(t, receipt.TransactionHash, stored.TransactionHash)
	assert.Equal(t, receipt.Recipients, stored.Recipients)

	resp := call(t, s, "multisend_getReceipt", common.Hash{1})
	require.Nil(t, resp.Error)
	assert.True(t, resp.ResultIsNull())
}

func TestService_PushDistributeReverts(t *testing.T) {
	s := newTestService(t)
	recipients := []common.Address{alice, bob}

	tests := []struct {
		name   string
		args   DistributeArgs
		reason string
	}{
		{"zero token", DistributeArgs{From: holder, Amount: hexAmount(1), Recipients: recipients}, multisend.ReasonInvalidTokenAddress},
		{"missing amount", DistributeArgs{From: holder, Token: token, Recipients: recipients}, multisend.ReasonZeroAmount},
		{"zero amount", DistributeArgs{From: holder, Token: token, Amount: hexAmount(0), Recipients: recipients}, multisend.ReasonZeroAmount},
		{"one recipient", DistributeArgs{From: holder, Token: token, Amount: hexAmount(1), Recipients: recipients[:1]}, multisend.ReasonInvalidRecipientCount},
		{"no allowance", DistributeArgs{From: holder, Token: token, Amount: hexAmount(1), Recipients: recipients}, multisend.ReasonInsufficientAllowance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, s, "multisend_pushDistribute", tt.args)
			require.NotNil(t, resp.Error)
			assert.Equal(t, jsonrpc.CodeExecutionReverted, resp.Error.Code)
			assert.Equal(t, "execution reverted: "+tt.reason, resp.Error.Message)
			assert.JSONEq(t, fmt.Sprintf("%q", tt.reason), string(resp.Error.Data))
		})
	}

	assert.Equal(t, int64(1_000_000), balance(t, s, holder))
}

func TestService_PushDistributeZeroTokenBeforeDecoding(t *testing.T) {
	s := newTestService(t)
	oversized := "0x1" + strings.Repeat("0", 64)

	tests := []struct {
		name   string
		params map[string]interface{}
		code   int
	}{
		{"zero token, oversized amount", map[string]interface{}{"token": common.Address{}, "amount": oversized, "recipients": []common.Address{alice, bob}}, jsonrpc.CodeExecutionReverted},
		{"no token, malformed recipients", map[string]interface{}{"amount": "0x1", "recipients": "nope"}, jsonrpc.CodeExecutionReverted},
		{"real token, oversized amount", map[string]interface{}{"token": token, "amount": oversized, "recipients": []common.Address{alice, bob}}, jsonrpc.CodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, s, "multisend_pushDistribute", tt.params)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			if tt.code == jsonrpc.CodeExecutionReverted {
				assert.Equal(t, "execution reverted: "+multisend.ReasonInvalidTokenAddress, resp.Error.Message)
			}
		})
	}
}

func TestService_TransferFromRefusesDistributor(t *testing.T) {
	s := newTestService(t)

	var commit Commit
	result(t, call(t, s, "token_approve", ApproveArgs{From: holder, Token: token, Spender: distributor, Amount: hexAmount(100)}), &commit)

	resp := call(t, s, "token_transferFrom", TransferFromArgs{From: distributor, Token: token, Owner: holder, To: bob, Amount: hexAmount(100)})
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)
	assert.Equal(t, int64(0), balance(t, s, bob))

	var allowance hexutil.Big
	result(t, call(t, s, "token_allowance", token, holder, distributor), &allowance)
	assert.Equal(t, int64(100), allowance.ToInt().Int64())

	var receipt Receipt
	result(t, call(t, s, "multisend_pushDistribute", DistributeArgs{From: holder, Token: token, Amount: hexAmount(50), Recipients: []common.Address{alice, bob}}), &receipt)
	assert.Equal(t, int64(50), balance(t, s, bob))
}

func TestService_TransferAndTransferFrom(t *testing.T) {
	s := newTestService(t)

	var commit Commit
	result(t, call(t, s, "token_transfer", TransferArgs{From: holder, Token: token, To: alice, Amount: hexAmount(50)}), &commit)
	assert.Equal(t, hexutil.Uint64(2), commit.BlockNumber)
	assert.Equal(t, int64(50), balance(t, s, alice))

	result(t, call(t, s, "token_approve", ApproveArgs{From: alice, Token: token, Spender: bob, Amount: hexAmount(20)}), &commit)
	result(t, call(t, s, "token_transferFrom", TransferFromArgs{From: bob, Token: token, Owner: alice, To: bob, Amount: hexAmount(20)}), &commit)
	assert.Equal(t, int64(20), balance(t, s, bob))

	resp := call(t, s, "token_transferFrom", TransferFromArgs{From: bob, Token: token, Owner: alice, To: bob, Amount: hexAmount(1)})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "execution reverted: InsufficientAllowance", resp.Error.Message)

	resp = call(t, s, "token_transfer", TransferArgs{From: alice, Token: token, To: common.Address{}, Amount: hexAmount(1)})
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeExecutionReverted, resp.Error.Code)
}

func TestService_InvalidParams(t *testing.T) {
	s := newTestService(t)

	tests := []struct {
		name   string
		method string
		params []interface{}
	}{
		{"missing account", "token_balanceOf", []interface{}{token}},
		{"bad address", "token_balanceOf", []interface{}{token, "nope"}},
		{"too many", "eth_blockNumber", []interface{}{1}},
		{"approve without amount", "token_approve", []interface{}{ApproveArgs{From: holder, Token: token, Spender: bob}}},
		{"no receipt hash", "multisend_getReceipt", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, s, tt.method, tt.params...)
			require.NotNil(t, resp.Error)
			assert.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)
		})
	}
}

func TestService_NilRequest(t *testing.T) {
	resp := newTestService(t).Handle(context.Background(), nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, resp.Error.Code)
	assert.True(t, resp.ID.IsNull())
}

func TestService_UnknownMethod(t *testing.T) {
	s := newTestService(t)

	resp := call(t, s, "eth_sendRawTransaction")
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, resp.Error.Code)

	resp = s.Handle(context.Background(), &jsonrpc.Request{JSONRPC: "1.0", Method: "eth_blockNumber"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, resp.Error.Code)
}

func TestService_ClosedLedger(t *testing.T) {
	l := memory.New()
	s := NewService(l, multisend.New(l, distributor, zerolog.Nop()), receipts.NewNoopStore(), zerolog.Nop())
	require.NoError(t, l.Close())

	resp := call(t, s, "eth_blockNumber")
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInternalError, resp.Error.Code)
}
