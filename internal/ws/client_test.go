package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multisend/internal/config"
	"multisend/internal/events"
	"multisend/internal/jsonrpc"
	"multisend/internal/ledger"
	"multisend/internal/ledger/memory"
	"multisend/internal/multisend"
	"multisend/internal/receipts"
	"multisend/internal/rpc"
)

var (
	token       = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	holder      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	distributor = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

type fixture struct {
	conn     *websocket.Conn
	registry *events.Registry
	manager  *events.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := events.NewRegistry(100, zerolog.Nop())
	t.Cleanup(registry.Close)

	l := ledger.Observe(memory.New(), registry.Publish)
	_, err := l.Update(context.Background(), func(tx ledger.Tx) error {
		if err := tx.Deploy(ledger.TokenInfo{Address: token, Symbol: "TST", Decimals: 18, TotalSupply: uint256.NewInt(1000)}, holder); err != nil {
			return err
		}
		return tx.Approve(token, holder, distributor, uint256.NewInt(1000))
	})
	require.NoError(t, err)

	cfg := config.Default()
	manager := events.NewManager(registry, 2, zerolog.Nop())
	t.Cleanup(manager.CloseAll)

	service := rpc.NewService(l, multisend.New(l, distributor, zerolog.Nop()), receipts.NewNoopStore(), zerolog.Nop())
	srv := httptest.NewServer(NewHandler(service, manager, cfg, zerolog.Nop()))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &fixture{conn: conn, registry: registry, manager: manager}
}

func (f *fixture) write(t *testing.T, msg string) {
	t.Helper()
	require.NoError(t, f.conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func (f *fixture) read(t *testing.T) []byte {
	t.Helper()
	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := f.conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func (f *fixture) response(t *testing.T) *jsonrpc.Response {
	t.Helper()
	resp, err := jsonrpc.ParseResponse(f.read(t))
	require.NoError(t, err)
	return resp
}

func TestClient_Call(t *testing.T) {
	f := newFixture(t)

	f.write(t, `{"jsonrpc":"2.0","method":"multisend_maxCount","id":1}`)
	resp := f.response(t)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `64`, string(resp.Result))

	f.write(t, `{nope`)
	resp = f.response(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeParseError, resp.Error.Code)

	f.write(t, `[null]`)
	resp = f.response(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, resp.Error.Code)

	// The connection survives a malformed batch
	f.write(t, `{"jsonrpc":"2.0","method":"multisend_maxCount","id":2}`)
	resp = f.response(t)
	require.Nil(t, resp.Error)
}

func TestClient_Batch(t *testing.T) {
	f := newFixture(t)

	f.write(t, `[
		{"jsonrpc":"2.0","method":"eth_blockNumber","id":1},
		{"jsonrpc":"2.0","method":"eth_subscribe","params":["approvals"],"id":2}
	]`)
	responses, isBatch, err := jsonrpc.ParseBatchResponse(f.read(t))
	require.NoError(t, err)
	require.True(t, isBatch)
	require.Len(t, responses, 2)
	assert.JSONEq(t, `"0x1"`, string(responses[0].Result))

	var subID string
	require.NoError(t, responses[1].GetResultAs(&subID))
	assert.True(t, strings.HasPrefix(subID, "0x"))
}

func TestClient_SubscribeReceivesTransfers(t *testing.T) {
	f := newFixture(t)

	f.write(t, `{"jsonrpc":"2.0","method":"eth_subscribe","params":["transfers",{"from":"0x0000000000000000000000000000000000000001"}],"id":1}`)
	var subID string
	require.NoError(t, f.response(t).GetResultAs(&subID))

	f.write(t, `{"jsonrpc":"2.0","method":"multisend_pushDistribute","params":[{
		"from":"0x0000000000000000000000000000000000000001",
		"token":"0x00000000000000000000000000000000000000aa",
		"amount":"0xa",
		"recipients":["0x0000000000000000000000000000000000000003","0x0000000000000000000000000000000000000004"]
	}],"id":2}`)

	var (
		logs     []jsonrpc.Log
		receipt  *jsonrpc.Response
		deadline = time.Now().Add(2 * time.Second)
	)
	for (receipt == nil || len(logs) < 2) && time.Now().Before(deadline) {
		data := f.read(t)
		var probe struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.Unmarshal(data, &probe))
		if probe.Method == "eth_subscription" {
			var n jsonrpc.SubscriptionNotification
			require.NoError(t, json.Unmarshal(data, &n))
			assert.Equal(t, subID, n.Params.Subscription)
			var log jsonrpc.Log
			require.NoError(t, json.Unmarshal(n.Params.Result, &log))
			logs = append(logs, log)
			continue
		}
		resp, err := jsonrpc.ParseResponse(data)
		require.NoError(t, err)
		receipt = resp
	}

	require.NotNil(t, receipt)
	require.Nil(t, receipt.Error)
	require.Len(t, logs, 2)
	assert.Equal(t, common.HexToAddress("0x03"), logs[0].To)
	assert.Equal(t, common.HexToAddress("0x04"), logs[1].To)
	assert.Equal(t, int64(10), logs[0].Amount.ToInt().Int64())
}

func TestClient_SubscribeErrors(t *testing.T) {
	f := newFixture(t)

	f.write(t, `{"jsonrpc":"2.0","method":"eth_subscribe","params":["newHeads"],"id":1}`)
	resp := f.response(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)

	f.write(t, `{"jsonrpc":"2.0","method":"eth_subscribe","params":["transfers",{"token":7}],"id":2}`)
	resp = f.response(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)

	for i := 0; i < 2; i++ {
		f.write(t, `{"jsonrpc":"2.0","method":"eth_subscribe","params":["transfers"],"id":3}`)
		require.Nil(t, f.response(t).Error)
	}
	f.write(t, `{"jsonrpc":"2.0","method":"eth_subscribe","params":["transfers"],"id":4}`)
	resp = f.response(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeLimitExceeded, resp.Error.Code)
}

func TestClient_Unsubscribe(t *testing.T) {
	f := newFixture(t)

	f.write(t, `{"jsonrpc":"2.0","method":"eth_subscribe","params":["transfers"],"id":1}`)
	var subID string
	require.NoError(t, f.response(t).GetResultAs(&subID))

	f.write(t, `{"jsonrpc":"2.0","method":"eth_unsubscribe","params":["`+subID+`"],"id":2}`)
	var ok bool
	require.NoError(t, f.response(t).GetResultAs(&ok))
	assert.True(t, ok)

	f.write(t, `{"jsonrpc":"2.0","method":"eth_unsubscribe","params":["`+subID+`"],"id":3}`)
	require.NoError(t, f.response(t).GetResultAs(&ok))
	assert.False(t, ok)
	assert.Equal(t, 0, f.registry.SubscriptionCount())
}

func TestClient_CloseRemovesSession(t *testing.T) {
	f := newFixture(t)

	f.write(t, `{"jsonrpc":"2.0","method":"eth_subscribe","params":["transfers"],"id":1}`)
	require.Nil(t, f.response(t).Error)
	assert.Equal(t, 1, f.manager.GetSessionCount())

	require.NoError(t, f.conn.Close())
	assert.Eventually(t, func() bool { return f.manager.GetSessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
